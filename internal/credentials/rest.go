package credentials

import (
	"context"
	"fmt"
	"net/http"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

const userAgent = "kubelink"

// RESTConfig builds a client-go configuration for the active context. Every
// request made through it re-resolves the bearer token, so expired
// auth-provider tokens are refreshed transparently. Basic auth is applied by
// the same wrapper and only when no token resolves.
func (r *Resolver) RESTConfig(ctx context.Context) (*rest.Config, error) {
	server, err := r.Server()
	if err != nil {
		return nil, err
	}
	opts := &TransportOptions{}
	if err := r.ApplyToRequest(ctx, opts); err != nil {
		return nil, err
	}

	cfg := &rest.Config{
		Host:      server,
		UserAgent: userAgent,
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: opts.InsecureSkipVerify(),
			CertData: opts.Cert,
			KeyData:  opts.Key,
		},
	}
	if !cfg.TLSClientConfig.Insecure {
		cfg.TLSClientConfig.CAData = opts.CA
	}
	cfg.WrapTransport = func(rt http.RoundTripper) http.RoundTripper {
		return &tokenRoundTripper{resolver: r, next: rt}
	}
	return cfg, nil
}

// MakeAPIClient returns a typed Kubernetes client for the active context.
func (r *Resolver) MakeAPIClient(ctx context.Context) (kubernetes.Interface, error) {
	cfg, err := r.RESTConfig(ctx)
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return client, nil
}

// tokenRoundTripper sets the resolved Authorization header on requests that
// do not already carry one. The bearer token wins over username/password.
type tokenRoundTripper struct {
	resolver *Resolver
	next     http.RoundTripper
}

func (t *tokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.next.RoundTrip(req)
	}
	user, err := t.resolver.store.GetCurrentUser()
	if err != nil {
		return nil, err
	}
	token, err := t.resolver.resolveUserToken(req.Context(), user)
	if err != nil {
		return nil, err
	}
	switch {
	case token != "":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", token)
	case user.Username != "":
		req = req.Clone(req.Context())
		req.SetBasicAuth(user.Username, user.Password)
	}
	return t.next.RoundTrip(req)
}

func (t *tokenRoundTripper) WrappedRoundTripper() http.RoundTripper { return t.next }
