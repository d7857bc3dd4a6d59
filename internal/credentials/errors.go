package credentials

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTokenExpired is returned when an auth-provider token has expired and no
// cmd-path is configured to refresh it. It is never retried.
var ErrTokenExpired = errors.New("token is expired")

// RefreshError reports a failed exec-plugin refresh: the command could not
// run, exited non-zero, or printed output the token could not be read from.
type RefreshError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *RefreshError) Error() string {
	var b strings.Builder
	b.WriteString("failed to refresh token")
	if e.Command != "" {
		fmt.Fprintf(&b, " with %q", e.Command)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *RefreshError) Unwrap() error { return e.Err }
