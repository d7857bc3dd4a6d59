package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"kubelink/internal/credentials"
	"kubelink/pkg/logging"
)

const subsystem = "Stream"

// Channel subprotocols offered during the handshake, newest first.
const (
	ProtocolV4 = "v4.channel.k8s.io"
	ProtocolV3 = "v3.channel.k8s.io"
	ProtocolV2 = "v2.channel.k8s.io"
	ProtocolV1 = "channel.k8s.io"
)

// DefaultProtocols is offered when ConnectOptions.Protocols is empty.
var DefaultProtocols = []string{ProtocolV4, ProtocolV3, ProtocolV2, ProtocolV1}

// DefaultDialTimeout bounds the websocket handshake.
const DefaultDialTimeout = 30 * time.Second

// ChannelID is the first byte of every frame.
type ChannelID byte

// FrameHandler receives inbound frames in arrival order, from a single
// goroutine. payload is owned by the handler.
type FrameHandler func(ch ChannelID, payload []byte)

// ConnectOptions customizes a single Connect call.
type ConnectOptions struct {
	Header    http.Header
	Protocols []string
}

// Transport opens channel-multiplexed websocket connections against the
// active cluster of a credentials resolver.
type Transport struct {
	resolver    *credentials.Resolver
	dialTimeout time.Duration
}

// TransportOption customizes a Transport.
type TransportOption func(*Transport)

// WithDialTimeout bounds the handshake. Zero disables the bound.
func WithDialTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.dialTimeout = d }
}

// NewTransport returns a transport authenticating through resolver.
func NewTransport(resolver *credentials.Resolver, opts ...TransportOption) *Transport {
	t := &Transport{resolver: resolver, dialTimeout: DefaultDialTimeout}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect opens a websocket to path on the active cluster and starts
// dispatching inbound frames to onFrame.
func (t *Transport) Connect(ctx context.Context, path string, opts ConnectOptions, onFrame FrameHandler) (*Conn, error) {
	server, err := t.resolver.Server()
	if err != nil {
		return nil, err
	}
	target, err := websocketURL(server, path)
	if err != nil {
		return nil, &TransportError{URL: server, Err: err}
	}

	auth := &credentials.TransportOptions{}
	if err := t.resolver.ApplyToRequest(ctx, auth); err != nil {
		return nil, err
	}
	tlsConfig, err := auth.TLSConfig()
	if err != nil {
		return nil, &TransportError{URL: target, Err: fmt.Errorf("building TLS config: %w", err)}
	}

	header := auth.Headers()
	for k, vs := range opts.Header {
		header[k] = append([]string(nil), vs...)
	}
	protocols := opts.Protocols
	if len(protocols) == 0 {
		protocols = DefaultProtocols
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.dialTimeout,
		TLSClientConfig:  tlsConfig,
		Subprotocols:     protocols,
	}

	logging.Debug(subsystem, "Dialing %s", target)
	ws, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		te := &TransportError{URL: target, Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			te.Body = strings.TrimSpace(string(body))
		}
		return nil, te
	}
	logging.Debug(subsystem, "Connected to %s using protocol %q", target, ws.Subprotocol())

	c := newConn(ws, onFrame)
	go c.readLoop()
	return c, nil
}

// websocketURL joins path (which may carry a query) onto server and switches
// the scheme to ws or wss.
func websocketURL(server, path string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}
