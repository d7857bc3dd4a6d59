package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when writing to a connection that has closed.
	ErrClosed = errors.New("stream connection is closed")

	// ErrEmptyFrame is the terminal error of a connection that received a
	// message too short to carry a channel id.
	ErrEmptyFrame = errors.New("received frame without a channel id")
)

// TransportError wraps a failure to open or use the websocket connection.
type TransportError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	msg := "stream transport"
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: handshake failed with status %d", msg, e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnexpectedChannelError reports a frame on a channel the session does not
// use. Sessions log it and drop the frame.
type UnexpectedChannelError struct {
	Channel ChannelID
}

func (e *UnexpectedChannelError) Error() string {
	return fmt.Sprintf("unexpected frame on channel %d", e.Channel)
}
