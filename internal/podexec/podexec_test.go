package podexec

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/tools/remotecommand"

	"kubelink/internal/kubeconfig"
	"kubelink/internal/stream"
	"kubelink/internal/stream/streamtest"
)

// syncBuffer is safe to write from the dispatch goroutine and read from the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type sizeQueue chan remotecommand.TerminalSize

func (q sizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q
	if !ok {
		return nil
	}
	return &size
}

const (
	successStatus = `{"metadata":{},"status":"Success"}`
	exitStatus    = `{"metadata":{},"status":"Failure","message":"command terminated with non-zero exit code: error executing command [false], exit code 3","reason":"NonZeroExitCode","details":{"causes":[{"reason":"ExitCode","message":"3"}]},"code":500}`
	failureStatus = `{"metadata":{},"status":"Failure","message":"container not found (\"nope\")","reason":"BadRequest","code":400}`
)

func newClient(t *testing.T, handler streamtest.Handler) (*Client, *streamtest.Server) {
	t.Helper()
	srv := streamtest.NewServer(t, handler)
	return New(stream.NewTransport(srv.Resolver(t, kubeconfig.User{Token: "abc"}))), srv
}

func TestExec_PathAndOutput(t *testing.T) {
	client, srv := newClient(t, func(ws *websocket.Conn) {
		_ = streamtest.Send(ws, streamtest.Frame(1, "out"))
		_ = streamtest.Send(ws, streamtest.Frame(2, "err"))
		_ = streamtest.Send(ws, streamtest.Frame(9, "ignored"))
		_ = streamtest.Send(ws, streamtest.Frame(1, "put"))
		_ = streamtest.Send(ws, streamtest.Frame(3, successStatus))
		streamtest.CloseNormally(ws)
	})

	var stdout, stderr syncBuffer
	session, err := client.Exec(context.Background(), "default", "nginx-4217019353-9gl4s", "nginx", []string{"ls", "-l"}, StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.NoError(t, err)
	require.NoError(t, session.Wait())

	assert.Equal(t, "output", stdout.String())
	assert.Equal(t, "err", stderr.String())

	req := srv.Requests()[0]
	assert.Equal(t, "/api/v1/namespaces/default/pods/nginx-4217019353-9gl4s/exec", req.URL.Path)
	q := req.URL.Query()
	assert.Equal(t, []string{"ls", "-l"}, q["command"])
	assert.Equal(t, "nginx", q.Get("container"))
	assert.Equal(t, "true", q.Get("stdout"))
	assert.Equal(t, "true", q.Get("stderr"))
	assert.NotEqual(t, "true", q.Get("stdin"))
	assert.NotEqual(t, "true", q.Get("tty"))
}

func TestExec_RequiresCommand(t *testing.T) {
	client, _ := newClient(t, streamtest.CloseNormally)
	_, err := client.Exec(context.Background(), "default", "p", "c", nil, StreamOptions{})
	assert.Error(t, err)
}

func TestExec_Status(t *testing.T) {
	tests := []struct {
		name   string
		status string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "success",
			status: successStatus,
			check:  func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:   "non-zero exit",
			status: exitStatus,
			check: func(t *testing.T, err error) {
				var exitErr *ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, 3, exitErr.ExitStatus())
			},
		},
		{
			name:   "failure",
			status: failureStatus,
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.True(t, apierrors.IsBadRequest(err))
				assert.Contains(t, err.Error(), "container not found")
			},
		},
		{
			name:   "garbage",
			status: "{",
			check:  func(t *testing.T, err error) { assert.ErrorContains(t, err, "malformed status frame") },
		},
		{
			name:   "plain text error",
			status: "error executing command in container: no such file or directory\n",
			check: func(t *testing.T, err error) {
				assert.EqualError(t, err, "error executing command in container: no such file or directory")
			},
		},
		{
			name:   "empty status",
			status: "",
			check:  func(t *testing.T, err error) { assert.NoError(t, err) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newClient(t, func(ws *websocket.Conn) {
				_ = streamtest.Send(ws, streamtest.Frame(3, tt.status))
				streamtest.CloseNormally(ws)
			})
			session, err := client.Exec(context.Background(), "ns", "p", "", []string{"false"}, StreamOptions{})
			require.NoError(t, err)
			tt.check(t, session.Wait())
			tt.check(t, session.Wait())
		})
	}
}

func TestExec_ClosedWithoutStatus(t *testing.T) {
	client, _ := newClient(t, func(ws *websocket.Conn) {
		_ = streamtest.Send(ws, []byte{})
	})
	session, err := client.Exec(context.Background(), "ns", "p", "", []string{"true"}, StreamOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, session.Wait(), stream.ErrEmptyFrame)
}

func TestAttach_TTYSuppressesStderrAndForwardsInput(t *testing.T) {
	received := make(chan []byte, 16)
	client, srv := newClient(t, func(ws *websocket.Conn) {
		_ = streamtest.Send(ws, streamtest.Frame(2, "hidden"))
		_ = streamtest.Send(ws, streamtest.Frame(1, "$ "))
		var sawExit, sawResize bool
		for !sawExit || !sawResize {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- data
			switch data[0] {
			case 0:
				sawExit = sawExit || strings.Contains(string(data[1:]), "exit")
			case 4:
				sawResize = true
			}
		}
		_ = streamtest.Send(ws, streamtest.Frame(3, successStatus))
		streamtest.CloseNormally(ws)
	})

	sizes := make(sizeQueue, 1)
	sizes <- remotecommand.TerminalSize{Width: 80, Height: 24}
	var stdout, stderr syncBuffer
	session, err := client.Attach(context.Background(), "default", "shell", "main", StreamOptions{
		Stdin:             strings.NewReader("exit\n"),
		Stdout:            &stdout,
		Stderr:            &stderr,
		TTY:               true,
		TerminalSizeQueue: sizes,
	})
	require.NoError(t, err)
	defer close(sizes)

	require.NoError(t, session.Wait())
	assert.Equal(t, "$ ", stdout.String())
	assert.Empty(t, stderr.String())

	var frames []string
	timeout := time.After(5 * time.Second)
	for len(frames) < 2 {
		select {
		case f := <-received:
			frames = append(frames, string(f))
		case <-timeout:
			t.Fatalf("expected stdin and resize frames, got %q", frames)
		}
	}
	assert.ElementsMatch(t, []string{"\x00exit\n", "\x04" + `{"Width":80,"Height":24}`}, frames)

	req := srv.Requests()[0]
	assert.Equal(t, "/api/v1/namespaces/default/pods/shell/attach", req.URL.Path)
	q := req.URL.Query()
	assert.Equal(t, "true", q.Get("tty"))
	assert.Equal(t, "true", q.Get("stdin"))
	assert.Equal(t, "main", q.Get("container"))
	assert.Empty(t, q["command"])
}

// closeTracker records whether the session closed its stdin.
type closeTracker struct {
	*io.PipeReader
	closed atomic.Bool
}

func (c *closeTracker) Close() error {
	c.closed.Store(true)
	return c.PipeReader.Close()
}

func TestAttach_ClosingReleasesStdin(t *testing.T) {
	client, _ := newClient(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	pr, pw := io.Pipe()
	stdin := &closeTracker{PipeReader: pr}
	session, err := client.Attach(context.Background(), "default", "shell", "", StreamOptions{
		Stdin:  stdin,
		Stdout: io.Discard,
	})
	require.NoError(t, err)

	require.NoError(t, session.Close())
	select {
	case <-session.Conn().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	require.Eventually(t, stdin.closed.Load, 5*time.Second, 5*time.Millisecond)

	// Later writes fail instead of being swallowed by the closed session.
	_, err = pw.Write([]byte("next"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestExitError(t *testing.T) {
	assert.Equal(t, "command terminated with exit code 2", (&ExitError{Code: 2}).Error())
	assert.Equal(t, "boom", (&ExitError{Code: 2, Message: "boom"}).Error())
}
