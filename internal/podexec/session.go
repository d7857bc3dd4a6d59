package podexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	"k8s.io/client-go/tools/remotecommand"

	"kubelink/internal/stream"
	"kubelink/pkg/logging"
)

const subsystem = "PodExec"

// Channel roles of the exec and attach subresources.
const (
	StdinChannel  stream.ChannelID = 0
	StdoutChannel stream.ChannelID = 1
	StderrChannel stream.ChannelID = 2
	StatusChannel stream.ChannelID = 3
	ResizeChannel stream.ChannelID = 4
)

// StreamOptions wires local streams to a remote process. Nil streams are
// not requested from the server.
type StreamOptions struct {
	// Stdin is interrupted when the session ends: it gets a read deadline
	// if it supports one, otherwise it is closed if it is an io.Closer.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	TTY    bool

	// TerminalSizeQueue feeds resize events when TTY is set.
	TerminalSizeQueue remotecommand.TerminalSizeQueue
}

// ExitError is returned by Session.Wait when the remote process exited
// with a non-zero code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("command terminated with exit code %d", e.Code)
}

// ExitStatus returns the remote exit code.
func (e *ExitError) ExitStatus() int { return e.Code }

// Session is a running exec or attach connection.
type Session struct {
	conn   *stream.Conn
	opts   StreamOptions
	roles  map[stream.ChannelID]func([]byte)
	status chan error

	waitOnce sync.Once
	result   error
}

func newSession(opts StreamOptions) *Session {
	s := &Session{
		opts:   opts,
		status: make(chan error, 1),
	}
	s.roles = map[stream.ChannelID]func([]byte){
		StdoutChannel: s.writeTo(opts.Stdout),
		StatusChannel: s.handleStatus,
	}
	// A tty merges stderr into stdout; anything on channel 2 is dropped.
	if opts.TTY {
		s.roles[StderrChannel] = func([]byte) {}
	} else {
		s.roles[StderrChannel] = s.writeTo(opts.Stderr)
	}
	return s
}

func (s *Session) writeTo(w io.Writer) func([]byte) {
	if w == nil {
		return func([]byte) {}
	}
	return func(p []byte) {
		if _, err := w.Write(p); err != nil {
			logging.Warn(subsystem, "Dropping output: %v", err)
		}
	}
}

func (s *Session) dispatch(ch stream.ChannelID, payload []byte) {
	handler, ok := s.roles[ch]
	if !ok {
		logging.Warn(subsystem, "%v", &stream.UnexpectedChannelError{Channel: ch})
		return
	}
	handler(payload)
}

func (s *Session) handleStatus(payload []byte) {
	err := decodeStatus(payload)
	select {
	case s.status <- err:
	default:
		logging.Debug(subsystem, "Ignoring repeated status frame")
	}
}

// decodeStatus turns a status frame into the error Wait reports. Protocols
// before v4 carry the error as plain text instead of a Status object.
func decodeStatus(payload []byte) error {
	text := bytes.TrimSpace(payload)
	if len(text) == 0 {
		return nil
	}
	if text[0] != '{' {
		return errors.New(string(text))
	}
	var status metav1.Status
	if err := utiljson.Unmarshal(payload, &status); err != nil {
		return fmt.Errorf("malformed status frame: %w", err)
	}
	if status.Status == metav1.StatusSuccess {
		return nil
	}
	if status.Reason == "NonZeroExitCode" && status.Details != nil {
		for _, cause := range status.Details.Causes {
			if cause.Type != "ExitCode" {
				continue
			}
			code, err := strconv.Atoi(cause.Message)
			if err != nil {
				return fmt.Errorf("malformed exit code %q: %w", cause.Message, err)
			}
			return &ExitError{Code: code, Message: status.Message}
		}
	}
	return apierrors.FromObject(&status)
}

func (s *Session) start(ctx context.Context, conn *stream.Conn) {
	s.conn = conn
	if s.opts.Stdin != nil {
		go func() {
			if err := stream.ForwardInput(ctx, conn, s.opts.Stdin, StdinChannel); err != nil {
				logging.Debug(subsystem, "Stdin forwarding stopped: %v", err)
			}
		}()
	}
	if s.opts.TTY && s.opts.TerminalSizeQueue != nil {
		go s.forwardResizes(s.opts.TerminalSizeQueue)
	}
}

func (s *Session) forwardResizes(queue remotecommand.TerminalSizeQueue) {
	for {
		size := queue.Next()
		if size == nil {
			return
		}
		data, err := json.Marshal(size)
		if err != nil {
			logging.Warn(subsystem, "Encoding terminal size: %v", err)
			continue
		}
		if err := s.conn.WriteFrame(ResizeChannel, data); err != nil {
			return
		}
	}
}

// Conn returns the underlying connection.
func (s *Session) Conn() *stream.Conn { return s.conn }

// Close terminates the session.
func (s *Session) Close() error { return s.conn.Close() }

// Wait blocks until the server reports a status or the connection ends. It
// returns nil on success, an *ExitError for a non-zero exit and the status
// or transport error otherwise.
func (s *Session) Wait() error {
	s.waitOnce.Do(func() {
		select {
		case s.result = <-s.status:
		case <-s.conn.Done():
			select {
			case s.result = <-s.status:
			default:
				s.result = s.conn.Err()
			}
		}
	})
	return s.result
}
