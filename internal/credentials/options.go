package credentials

import (
	"crypto/tls"
	"net/http"

	"k8s.io/client-go/transport"
)

// BasicAuth is the HTTP basic-auth slot of TransportOptions.
type BasicAuth struct {
	Username string
	Password string
}

// TransportOptions is the transport-level projection of the active identity.
// HTTP and stream clients consume it; the resolver fills it in.
type TransportOptions struct {
	// PEM material. Nil when not configured.
	CA   []byte
	Cert []byte
	Key  []byte

	// StrictSSL is nil unless the cluster asked to skip verification, in
	// which case it points at false.
	StrictSSL *bool

	// Header carries the Authorization header, if any.
	Header http.Header

	// BasicAuth is set from username/password by ApplyToRequest.
	BasicAuth *BasicAuth

	// Auth is the "username:password" form set by ApplyToHTTPSOptions.
	Auth string
}

// Authorization returns the resolved Authorization header value.
func (o *TransportOptions) Authorization() string {
	if o.Header == nil {
		return ""
	}
	return o.Header.Get("Authorization")
}

// InsecureSkipVerify reports whether certificate validation is disabled.
func (o *TransportOptions) InsecureSkipVerify() bool {
	return o.StrictSSL != nil && !*o.StrictSSL
}

// TLSConfig builds a client TLS configuration. It returns nil when no TLS
// customization applies, meaning the system defaults should be used.
func (o *TransportOptions) TLSConfig() (*tls.Config, error) {
	cfg := &transport.Config{
		TLS: transport.TLSConfig{
			Insecure: o.InsecureSkipVerify(),
			CertData: o.Cert,
			KeyData:  o.Key,
		},
	}
	// A custom CA is meaningless once verification is off, and client-go
	// rejects the combination.
	if !cfg.TLS.Insecure {
		cfg.TLS.CAData = o.CA
	}
	return transport.TLSConfigFor(cfg)
}

// Headers returns the auth headers as they should appear on a request.
// Basic auth is only used when no Authorization header was resolved.
func (o *TransportOptions) Headers() http.Header {
	h := o.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if o.BasicAuth != nil && h.Get("Authorization") == "" {
		req := &http.Request{Header: h}
		req.SetBasicAuth(o.BasicAuth.Username, o.BasicAuth.Password)
	}
	return h
}

// ApplyToHTTPRequest copies the auth headers onto req.
func (o *TransportOptions) ApplyToHTTPRequest(req *http.Request) {
	for k, vs := range o.Headers() {
		if req.Header.Get(k) == "" {
			req.Header[k] = vs
		}
	}
}
