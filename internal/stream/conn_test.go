package stream

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubelink/internal/kubeconfig"
	"kubelink/internal/stream/streamtest"
)

type frame struct {
	ch      ChannelID
	payload string
}

type collector struct {
	mu     sync.Mutex
	frames []frame
}

func (c *collector) handle(ch ChannelID, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame{ch, string(payload)})
}

func (c *collector) Frames() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not close")
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		server string
		path   string
		want   string
		err    bool
	}{
		{"https://foo.company.com", "/api/v1/namespaces/ns/pods/p/exec?command=ls", "wss://foo.company.com/api/v1/namespaces/ns/pods/p/exec?command=ls", false},
		{"http://localhost:8080", "/api/v1/namespaces/ns/pods/p/attach", "ws://localhost:8080/api/v1/namespaces/ns/pods/p/attach", false},
		{"https://proxy.example.com/k8s/", "/api/v1/x", "wss://proxy.example.com/k8s/api/v1/x", false},
		{"ftp://nope", "/api", "", true},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.server, tt.path)
		if tt.err {
			assert.Error(t, err, tt.server)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestConnect_DispatchesFramesInOrder(t *testing.T) {
	srv := streamtest.NewServer(t, func(ws *websocket.Conn) {
		_ = streamtest.Send(ws, streamtest.Frame(1, "one"))
		_ = streamtest.Send(ws, streamtest.Frame(2, "two"))
		_ = streamtest.Send(ws, streamtest.Frame(1, ""))
		_ = streamtest.Send(ws, streamtest.Frame(7, "seven"))
		streamtest.CloseNormally(ws)
	})

	var got collector
	tr := NewTransport(srv.Resolver(t, kubeconfig.User{Token: "abc"}))
	conn, err := tr.Connect(context.Background(), "/api/v1/namespaces/default/pods/p/exec?command=ls", ConnectOptions{}, got.handle)
	require.NoError(t, err)
	waitDone(t, conn)

	assert.NoError(t, conn.Err())
	assert.Equal(t, ProtocolV4, conn.Protocol())
	assert.Equal(t, []frame{{1, "one"}, {2, "two"}, {1, ""}, {7, "seven"}}, got.Frames())

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/v1/namespaces/default/pods/p/exec", reqs[0].URL.Path)
	assert.Equal(t, "ls", reqs[0].URL.Query().Get("command"))
	assert.Equal(t, "Bearer abc", reqs[0].Header.Get("Authorization"))
}

func TestConnect_BasicAuthAndExtraHeaders(t *testing.T) {
	srv := streamtest.NewServer(t, streamtest.CloseNormally)

	tr := NewTransport(srv.Resolver(t, kubeconfig.User{Username: "foo", Password: "bar"}))
	conn, err := tr.Connect(context.Background(), "/x", ConnectOptions{
		Header:    map[string][]string{"X-Trace": {"1"}},
		Protocols: []string{ProtocolV1},
	}, nil)
	require.NoError(t, err)
	waitDone(t, conn)

	assert.Equal(t, ProtocolV1, conn.Protocol())
	req := srv.Requests()[0]
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "foo", user)
	assert.Equal(t, "bar", pass)
	assert.Equal(t, "1", req.Header.Get("X-Trace"))
}

func TestConnect_HandshakeRejected(t *testing.T) {
	srv := streamtest.NewServer(t, streamtest.CloseNormally)

	tr := NewTransport(srv.Resolver(t, kubeconfig.User{}))
	_, err := tr.Connect(context.Background(), "/x", ConnectOptions{
		Header: map[string][]string{"X-Reject": {"yes"}},
	}, nil)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 403, te.StatusCode)
	assert.Contains(t, te.Body, "forbidden")
}

func TestConnect_Unreachable(t *testing.T) {
	srv := streamtest.NewServer(t, streamtest.CloseNormally)
	resolver := srv.Resolver(t, kubeconfig.User{})
	srv.Close()

	_, err := NewTransport(resolver, WithDialTimeout(time.Second)).Connect(context.Background(), "/x", ConnectOptions{}, nil)
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

func TestConn_EmptyFrameIsProtocolError(t *testing.T) {
	srv := streamtest.NewServer(t, func(ws *websocket.Conn) {
		_ = streamtest.Send(ws, streamtest.Frame(1, "before"))
		_ = streamtest.Send(ws, []byte{})
		_ = streamtest.Send(ws, streamtest.Frame(1, "after"))
		streamtest.CloseNormally(ws)
	})

	var got collector
	conn, err := NewTransport(srv.Resolver(t, kubeconfig.User{})).Connect(context.Background(), "/x", ConnectOptions{}, got.handle)
	require.NoError(t, err)
	waitDone(t, conn)

	assert.ErrorIs(t, conn.Err(), ErrEmptyFrame)
	assert.Equal(t, []frame{{1, "before"}}, got.Frames())
}

func TestConn_WriteFrame(t *testing.T) {
	received := make(chan []byte, 16)
	srv := streamtest.NewServer(t, func(ws *websocket.Conn) {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				close(received)
				return
			}
			received <- data
		}
	})

	conn, err := NewTransport(srv.Resolver(t, kubeconfig.User{})).Connect(context.Background(), "/x", ConnectOptions{}, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteFrame(0, []byte("hello")))
	n, err := conn.Writer(4).Write([]byte(`{"Width":80,"Height":24}`))
	require.NoError(t, err)
	assert.Equal(t, 24, n)

	assert.Equal(t, streamtest.Frame(0, "hello"), <-received)
	assert.Equal(t, streamtest.Frame(4, `{"Width":80,"Height":24}`), <-received)

	require.NoError(t, conn.Close())
	waitDone(t, conn)
	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.WriteFrame(0, []byte("late")), ErrClosed)
	assert.NoError(t, conn.Close(), "closing twice is harmless")
}

func TestConn_NoDispatchAfterClose(t *testing.T) {
	release := make(chan struct{})
	srv := streamtest.NewServer(t, func(ws *websocket.Conn) {
		_ = streamtest.Send(ws, streamtest.Frame(1, "first"))
		<-release
		_ = streamtest.Send(ws, streamtest.Frame(1, "second"))
		streamtest.CloseNormally(ws)
	})

	var got collector
	conn, err := NewTransport(srv.Resolver(t, kubeconfig.User{})).Connect(context.Background(), "/x", ConnectOptions{}, got.handle)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(got.Frames()) == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	close(release)
	waitDone(t, conn)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []frame{{1, "first"}}, got.Frames())
}

func TestForwardInput(t *testing.T) {
	var mu sync.Mutex
	var payload bytes.Buffer
	srv := streamtest.NewServer(t, func(ws *websocket.Conn) {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			if len(data) > 0 && data[0] == 0 {
				payload.Write(data[1:])
			}
			mu.Unlock()
		}
	})

	conn, err := NewTransport(srv.Resolver(t, kubeconfig.User{})).Connect(context.Background(), "/x", ConnectOptions{}, nil)
	require.NoError(t, err)
	defer conn.Close()

	input := strings.Repeat("abc", 20000)
	require.NoError(t, ForwardInput(context.Background(), conn, strings.NewReader(input), 0))

	select {
	case <-conn.Done():
		t.Fatal("local EOF must not close the connection")
	default:
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return payload.Len() == len(input)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.NoError(t, ForwardInput(context.Background(), conn, strings.NewReader("more"), 0), "forwarding stops quietly once closed")
}

func TestForwardInput_InterruptsPendingRead(t *testing.T) {
	tests := []struct {
		name     string
		stop     func(cancel context.CancelFunc, conn *Conn)
		expected error
	}{
		{
			name:     "connection closed",
			stop:     func(_ context.CancelFunc, conn *Conn) { _ = conn.Close() },
			expected: nil,
		},
		{
			name:     "context cancelled",
			stop:     func(cancel context.CancelFunc, _ *Conn) { cancel() },
			expected: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := streamtest.NewServer(t, func(ws *websocket.Conn) {
				for {
					if _, _, err := ws.ReadMessage(); err != nil {
						return
					}
				}
			})
			conn, err := NewTransport(srv.Resolver(t, kubeconfig.User{})).Connect(context.Background(), "/x", ConnectOptions{}, nil)
			require.NoError(t, err)
			defer conn.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pr, pw := io.Pipe()
			result := make(chan error, 1)
			go func() { result <- ForwardInput(ctx, conn, pr, 0) }()

			tt.stop(cancel, conn)
			select {
			case err := <-result:
				assert.Equal(t, tt.expected, err)
			case <-time.After(5 * time.Second):
				t.Fatal("forwarder stayed blocked in Read")
			}

			// The source is released rather than drained by a dead forwarder.
			_, err = pw.Write([]byte("next"))
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}
