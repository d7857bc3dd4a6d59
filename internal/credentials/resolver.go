package credentials

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"kubelink/internal/kubeconfig"
)

const subsystem = "Credentials"

var osReadFile = os.ReadFile

// Resolver turns the active context of a Store into transport options,
// refreshing exec-plugin tokens when they expire.
type Resolver struct {
	store     *kubeconfig.Store
	runner    CommandRunner
	now       func() time.Time
	refreshes singleflight.Group
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithCommandRunner replaces the runner used for token refresh commands.
func WithCommandRunner(runner CommandRunner) Option {
	return func(r *Resolver) { r.runner = runner }
}

// WithClock replaces the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver returns a resolver reading from store.
func NewResolver(store *kubeconfig.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		runner: execRunner{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying credential store.
func (r *Resolver) Store() *kubeconfig.Store { return r.store }

// Server returns the API server URL of the active cluster.
func (r *Resolver) Server() (string, error) {
	cluster, err := r.store.GetCurrentCluster()
	if err != nil {
		return "", err
	}
	return cluster.Server, nil
}

// ResolveToken returns the Authorization header value for the active user,
// "Bearer <token>", or "" when the user has no token.
func (r *Resolver) ResolveToken(ctx context.Context) (string, error) {
	user, err := r.store.GetCurrentUser()
	if err != nil {
		return "", err
	}
	return r.resolveUserToken(ctx, user)
}

func (r *Resolver) resolveUserToken(ctx context.Context, user kubeconfig.User) (string, error) {
	// A directly configured token always wins.
	if user.Token != "" {
		return bearer(user.Token), nil
	}

	cfg := user.AuthProvider.Config()
	if cfg == nil {
		return "", nil
	}
	if !expired(cfg, r.now()) {
		return bearer(cfg[kubeconfig.KeyAccessToken]), nil
	}

	token, err := r.refresh(ctx, user)
	if err != nil {
		return "", err
	}
	return bearer(token), nil
}

func bearer(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer " + token
}

// ApplyOptions fills in TLS material and the Authorization header.
func (r *Resolver) ApplyOptions(ctx context.Context, opts *TransportOptions) error {
	cluster, err := r.store.GetCurrentCluster()
	if err != nil {
		return err
	}
	user, err := r.store.GetCurrentUser()
	if err != nil {
		return err
	}

	if opts.CA, err = bufferFromFileOrString(cluster.CAFile, cluster.CAData); err != nil {
		return fmt.Errorf("cluster %s certificate authority: %w", cluster.Name, err)
	}
	if opts.Cert, err = bufferFromFileOrString(user.CertFile, user.CertData); err != nil {
		return fmt.Errorf("user %s client certificate: %w", user.Name, err)
	}
	if opts.Key, err = bufferFromFileOrString(user.KeyFile, user.KeyData); err != nil {
		return fmt.Errorf("user %s client key: %w", user.Name, err)
	}

	token, err := r.resolveUserToken(ctx, user)
	if err != nil {
		return err
	}
	if token != "" {
		if opts.Header == nil {
			opts.Header = http.Header{}
		}
		opts.Header.Set("Authorization", token)
	}
	return nil
}

// ApplyToRequest is ApplyOptions plus the skip-verify flag and basic auth.
func (r *Resolver) ApplyToRequest(ctx context.Context, opts *TransportOptions) error {
	if err := r.ApplyOptions(ctx, opts); err != nil {
		return err
	}
	cluster, err := r.store.GetCurrentCluster()
	if err != nil {
		return err
	}
	if cluster.SkipTLSVerify {
		strict := false
		opts.StrictSSL = &strict
	}
	user, err := r.store.GetCurrentUser()
	if err != nil {
		return err
	}
	if user.Username != "" {
		opts.BasicAuth = &BasicAuth{Username: user.Username, Password: user.Password}
	}
	return nil
}

// ApplyToHTTPSOptions is ApplyOptions plus the "username:password" auth slot.
func (r *Resolver) ApplyToHTTPSOptions(ctx context.Context, opts *TransportOptions) error {
	if err := r.ApplyOptions(ctx, opts); err != nil {
		return err
	}
	user, err := r.store.GetCurrentUser()
	if err != nil {
		return err
	}
	if user.Username != "" {
		opts.Auth = user.Username + ":" + user.Password
	}
	return nil
}

// ApplyToHTTPRequest resolves options for the active context and sets the
// auth headers on req.
func (r *Resolver) ApplyToHTTPRequest(req *http.Request) error {
	opts := &TransportOptions{}
	if err := r.ApplyToRequest(req.Context(), opts); err != nil {
		return err
	}
	opts.ApplyToHTTPRequest(req)
	return nil
}

// bufferFromFileOrString prefers the file over inline base64 data.
func bufferFromFileOrString(file, data string) ([]byte, error) {
	if file != "" {
		b, err := osReadFile(file)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	if data != "" {
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 data: %w", err)
		}
		return b, nil
	}
	return nil, nil
}
