package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kubelink/pkg/logging"
)

const closeGracePeriod = time.Second

// Conn is an open multiplexed connection.
type Conn struct {
	ws      *websocket.Conn
	onFrame FrameHandler

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

func newConn(ws *websocket.Conn, onFrame FrameHandler) *Conn {
	if onFrame == nil {
		onFrame = func(ChannelID, []byte) {}
	}
	return &Conn{
		ws:      ws,
		onFrame: onFrame,
		done:    make(chan struct{}),
	}
}

// Protocol returns the negotiated subprotocol.
func (c *Conn) Protocol() string { return c.ws.Subprotocol() }

// Done is closed once the connection has terminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the terminal error after Done is closed. A clean close by
// either side yields nil.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(c.readError(err))
			return
		}
		if len(data) == 0 {
			logging.Warn(subsystem, "Closing connection after empty frame")
			c.finish(ErrEmptyFrame)
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		c.onFrame(ChannelID(data[0]), data[1:])
	}
}

func (c *Conn) readError(err error) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return &TransportError{Err: err}
}

func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.ws.Close()
		if err != nil {
			logging.Debug(subsystem, "Connection closed: %v", err)
		} else {
			logging.Debug(subsystem, "Connection closed")
		}
	})
}

// Close sends a close frame and tears down the connection. Dispatch stops
// immediately; calling Close more than once is harmless.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	c.finish(nil)
	return nil
}

// WriteFrame sends p on channel ch as a single binary message.
func (c *Conn) WriteFrame(ch ChannelID, p []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	frame := make([]byte, len(p)+1)
	frame[0] = byte(ch)
	copy(frame[1:], p)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		select {
		case <-c.done:
			return ErrClosed
		default:
		}
		return &TransportError{Err: err}
	}
	return nil
}

// Writer returns an io.Writer that sends each write as one frame on ch.
func (c *Conn) Writer(ch ChannelID) io.Writer {
	return &channelWriter{conn: c, ch: ch}
}

type channelWriter struct {
	conn *Conn
	ch   ChannelID
}

func (w *channelWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteFrame(w.ch, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ForwardInput copies r onto channel ch until r is exhausted, the context is
// cancelled or the connection closes. Reaching EOF on r does not close the
// remote channel.
//
// Once the context is cancelled or the connection closes, r is interrupted
// so a pending read returns: it gets a read deadline if it supports one,
// otherwise it is closed if it is an io.Closer. A reader that supports
// neither keeps the forwarder blocked until its next read returns, and that
// chunk is discarded.
func ForwardInput(ctx context.Context, conn *Conn, r io.Reader, ch ChannelID) error {
	var interrupt sync.Once
	finished := make(chan struct{})
	defer func() {
		close(finished)
		if done, _ := inputDone(ctx, conn); done {
			interrupt.Do(func() { interruptRead(r) })
		}
	}()
	go func() {
		select {
		case <-finished:
		case <-ctx.Done():
			interrupt.Do(func() { interruptRead(r) })
		case <-conn.Done():
			interrupt.Do(func() { interruptRead(r) })
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		if done, err := inputDone(ctx, conn); done {
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if done, err := inputDone(ctx, conn); done {
				return err
			}
			if err := conn.WriteFrame(ch, buf[:n]); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				return err
			}
		}
		if rerr != nil {
			if done, err := inputDone(ctx, conn); done {
				return err
			}
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

// inputDone reports whether forwarding must stop. The error is non-nil only
// when the context was cancelled.
func inputDone(ctx context.Context, conn *Conn) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-conn.Done():
		return true, nil
	default:
		return false, nil
	}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// interruptRead unblocks a pending Read on r.
func interruptRead(r io.Reader) {
	if d, ok := r.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Now()); err == nil {
			return
		}
	}
	switch c := r.(type) {
	case *io.PipeReader:
		_ = c.CloseWithError(ErrClosed)
	case io.Closer:
		_ = c.Close()
	}
}
