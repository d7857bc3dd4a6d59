package kubeconfig

import (
	"maps"
	"sync"
)

// Cluster is a named API endpoint plus its TLS trust material.
// When both CAFile and CAData are set, CAFile wins.
type Cluster struct {
	Name          string
	Server        string
	CAFile        string
	CAData        string // base64 encoded
	SkipTLSVerify bool
}

// RecordName implements Record.
func (c Cluster) RecordName() string { return c.Name }

// User is a named credential bundle. Any combination of the credential
// fields may be set; a direct Token always takes precedence over a token
// obtained from the AuthProvider.
type User struct {
	Name         string
	Token        string
	AuthProvider *AuthProvider
	CertFile     string
	CertData     string // base64 encoded
	KeyFile      string
	KeyData      string // base64 encoded
	Username     string
	Password     string
}

// RecordName implements Record.
func (u User) RecordName() string { return u.Name }

// Context binds one Cluster to one User by name.
type Context struct {
	Name      string
	Cluster   string
	User      string
	Namespace string
}

// RecordName implements Record.
func (c Context) RecordName() string { return c.Name }

// Well-known auth provider configuration keys.
const (
	KeyAccessToken = "access-token"
	KeyExpiry      = "expiry"
	KeyCmdPath     = "cmd-path"
	KeyCmdArgs     = "cmd-args"
	KeyTokenKey    = "token-key"
	KeyExpiryKey   = "expiry-key"
)

// AuthProviderConfig is an immutable snapshot of an auth provider's
// configuration map. Callers must not modify a snapshot they did not create.
type AuthProviderConfig map[string]string

// With returns a new snapshot with key set to value.
func (c AuthProviderConfig) With(key, value string) AuthProviderConfig {
	next := make(AuthProviderConfig, len(c)+1)
	maps.Copy(next, c)
	next[key] = value
	return next
}

// AuthProvider holds the refreshable credential state of a User. The config
// snapshot is replaced wholesale on refresh, never edited in place, so
// readers holding an older snapshot are unaffected.
type AuthProvider struct {
	Name string

	mu     sync.RWMutex
	config AuthProviderConfig
}

// NewAuthProvider creates an AuthProvider owning a copy of config. A nil
// config means the provider carries no token configuration at all.
func NewAuthProvider(name string, config map[string]string) *AuthProvider {
	ap := &AuthProvider{Name: name}
	if config != nil {
		ap.config = maps.Clone(AuthProviderConfig(config))
	}
	return ap
}

// Config returns the current snapshot, or nil when none is configured.
func (a *AuthProvider) Config() AuthProviderConfig {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// Replace swaps in a new snapshot.
func (a *AuthProvider) Replace(next AuthProviderConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = next
}
