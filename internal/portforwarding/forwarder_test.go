package portforwarding

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubelink/internal/config"
	"kubelink/internal/stream/streamtest"
)

// testPortForwardUpdate struct for collecting update parameters in tests.
type testPortForwardUpdate struct {
	Label        string
	StatusDetail PortForwardStatusDetail
	IsOpReady    bool
	OperationErr error
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []testPortForwardUpdate
}

func (r *updateRecorder) fn(label string, detail PortForwardStatusDetail, isReady bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, testPortForwardUpdate{Label: label, StatusDetail: detail, IsOpReady: isReady, OperationErr: err})
}

func (r *updateRecorder) Details() []PortForwardStatusDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PortForwardStatusDetail
	for _, u := range r.updates {
		out = append(out, u.StatusDetail)
	}
	return out
}

// echoHandler sends the port prefixes and echoes every data frame.
func echoHandler(ws *websocket.Conn) {
	_ = streamtest.Send(ws, []byte{0, 0x50, 0x00})
	_ = streamtest.Send(ws, []byte{1, 0x50, 0x00})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if len(data) > 1 && data[0] == 0 {
			_ = streamtest.Send(ws, data)
		}
	}
}

func TestStartAndManageIndividualPortForward_Success(t *testing.T) {
	fwd, srv := newTestForwarder(t, echoHandler)

	cfg := config.PortForwardDefinition{
		Name:       "test-echo",
		Namespace:  "test-ns",
		Pod:        "echo-0",
		LocalPort:  0,
		RemotePort: 80,
		Enabled:    true,
	}
	var rec updateRecorder
	info, err := fwd.StartAndManageIndividualPortForward(cfg, rec.fn)
	require.NoError(t, err)
	require.NotEmpty(t, info.LocalAddr)
	assert.Equal(t, []PortForwardStatusDetail{StatusDetailInitializing, StatusDetailForwardingActive}, rec.Details())

	client, err := net.Dial("tcp", info.LocalAddr)
	require.NoError(t, err)
	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	require.NoError(t, client.Close())

	req := srv.Requests()[0]
	assert.Equal(t, "/api/v1/namespaces/test-ns/pods/echo-0/portforward", req.URL.Path)
	assert.Equal(t, "80", req.URL.Query().Get("ports"))

	close(info.StopChan)
	require.Eventually(t, func() bool {
		d := rec.Details()
		return len(d) == 3 && d[2] == StatusDetailStopped
	}, 5*time.Second, 10*time.Millisecond)

	_, err = net.DialTimeout("tcp", info.LocalAddr, time.Second)
	assert.Error(t, err, "listener is closed after stop")
}

func TestStartAndManageIndividualPortForward_ListenError(t *testing.T) {
	originalListen := netListen
	defer func() { netListen = originalListen }()

	expectedErr := errors.New("address already in use")
	netListen = func(network, address string) (net.Listener, error) {
		return nil, expectedErr
	}

	fwd, _ := newTestForwarder(t, echoHandler)
	var rec updateRecorder
	info, err := fwd.StartAndManageIndividualPortForward(config.PortForwardDefinition{
		Name:       "error-label",
		Namespace:  "err-ns",
		Pod:        "p",
		LocalPort:  123,
		RemotePort: 456,
	}, rec.fn)

	require.ErrorIs(t, err, expectedErr)
	assert.ErrorIs(t, info.InitialError, expectedErr)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.updates, 2)
	assert.Equal(t, StatusDetailInitializing, rec.updates[0].StatusDetail)
	assert.Equal(t, StatusDetailFailed, rec.updates[1].StatusDetail)
	assert.False(t, rec.updates[1].IsOpReady)
	assert.ErrorIs(t, rec.updates[1].OperationErr, expectedErr)
}

func TestReporter_Debounces(t *testing.T) {
	var rec updateRecorder
	report := reporter("test", rec.fn)

	report("debounce", StatusDetailInitializing, false, nil)
	report("debounce", StatusDetailInitializing, false, nil)
	report("debounce", StatusDetailForwardingActive, true, nil)
	report("debounce", StatusDetailForwardingActive, true, nil)
	report("debounce", StatusDetailForwardingActive, true, errors.New("x"))
	report("debounce", StatusDetailStopped, false, nil)
	// Terminal states clear the memory, so a restart is reported again.
	report("debounce", StatusDetailInitializing, false, nil)

	assert.Equal(t, []PortForwardStatusDetail{
		StatusDetailInitializing,
		StatusDetailForwardingActive,
		StatusDetailForwardingActive,
		StatusDetailStopped,
		StatusDetailInitializing,
	}, rec.Details())
}
