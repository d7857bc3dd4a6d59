// Package streamtest provides an in-process websocket API server for tests of
// channel-multiplexed sessions.
package streamtest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"kubelink/internal/credentials"
	"kubelink/internal/kubeconfig"
)

// Handler drives the server side of one accepted connection. The connection
// is closed when it returns.
type Handler func(ws *websocket.Conn)

// Server is an httptest server that upgrades every request to a websocket
// speaking the channel subprotocols.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	requests []*http.Request
}

// NewServer starts a server handing each connection to handler. It is closed
// when the test ends.
func NewServer(t *testing.T, handler Handler) *Server {
	t.Helper()
	s := &Server{}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"v4.channel.k8s.io", "v3.channel.k8s.io", "v2.channel.k8s.io", "channel.k8s.io"},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Clone(r.Context()))
		s.mu.Unlock()

		if r.Header.Get("X-Reject") != "" {
			http.Error(w, "pods \"nope\" is forbidden", http.StatusForbidden)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(s.Close)
	return s
}

// Requests returns the handshake requests seen so far.
func (s *Server) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// Resolver returns a credentials resolver whose active cluster is s.
func (s *Server) Resolver(t *testing.T, user kubeconfig.User) *credentials.Resolver {
	t.Helper()
	if user.Name == "" {
		user.Name = "test-user"
	}
	kc, err := kubeconfig.LoadFromClusterAndUser(kubeconfig.Cluster{Name: "test-cluster", Server: s.URL}, user)
	require.NoError(t, err)
	return credentials.NewResolver(kc)
}

// Frame builds a wire frame for channel ch.
func Frame(ch byte, payload string) []byte {
	return append([]byte{ch}, payload...)
}

// Send writes frame as one binary message.
func Send(ws *websocket.Conn, frame []byte) error {
	return ws.WriteMessage(websocket.BinaryMessage, frame)
}

// CloseNormally sends a normal closure and waits briefly for the peer to
// acknowledge it.
func CloseNormally(ws *websocket.Conn) {
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
