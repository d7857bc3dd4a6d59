package cmd

import (
	"io"
	"sync"

	"github.com/moby/term"
	"k8s.io/client-go/tools/remotecommand"

	"kubelink/pkg/logging"
)

// rawTerminal puts the terminal behind in into raw mode and reports its size
// changes. ok is false when in is not a terminal.
type rawTerminal struct {
	fd    uintptr
	state *term.State
	sizes *sizeQueue
}

func setupRawTerminal(in io.Reader) (*rawTerminal, bool, error) {
	fd, isTerminal := term.GetFdInfo(in)
	if !isTerminal {
		return nil, false, nil
	}
	state, err := term.SetRawTerminal(fd)
	if err != nil {
		return nil, false, err
	}
	return &rawTerminal{fd: fd, state: state, sizes: newSizeQueue(fd)}, true, nil
}

// Restore leaves raw mode and stops size reporting.
func (t *rawTerminal) Restore() {
	t.sizes.Stop()
	if err := term.RestoreTerminal(t.fd, t.state); err != nil {
		logging.Warn("CLI", "Failed to restore terminal: %v", err)
	}
}

// sizeQueue implements remotecommand.TerminalSizeQueue for a local terminal.
// The first Next returns the current size.
type sizeQueue struct {
	fd       uintptr
	sizes    chan remotecommand.TerminalSize
	stop     chan struct{}
	stopOnce sync.Once
}

func newSizeQueue(fd uintptr) *sizeQueue {
	q := &sizeQueue{
		fd:    fd,
		sizes: make(chan remotecommand.TerminalSize, 1),
		stop:  make(chan struct{}),
	}
	go q.monitor()
	return q
}

func (q *sizeQueue) current() (remotecommand.TerminalSize, bool) {
	ws, err := term.GetWinsize(q.fd)
	if err != nil || ws.Width == 0 || ws.Height == 0 {
		return remotecommand.TerminalSize{}, false
	}
	return remotecommand.TerminalSize{Width: ws.Width, Height: ws.Height}, true
}

func (q *sizeQueue) monitor() {
	var last remotecommand.TerminalSize
	push := func() {
		size, ok := q.current()
		if !ok || size == last {
			return
		}
		last = size
		// Drop a stale pending size in favor of the newest one.
		select {
		case <-q.sizes:
		default:
		}
		q.sizes <- size
	}

	push()
	resized := notifyResize(q.stop)
	for {
		select {
		case <-q.stop:
			return
		case <-resized:
			push()
		}
	}
}

// Next blocks until the terminal size changes or the queue is stopped.
func (q *sizeQueue) Next() *remotecommand.TerminalSize {
	select {
	case size := <-q.sizes:
		return &size
	case <-q.stop:
		return nil
	}
}

// Stop ends Next with nil.
func (q *sizeQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
}
