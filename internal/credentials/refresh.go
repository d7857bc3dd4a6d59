package credentials

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	"k8s.io/client-go/util/jsonpath"

	"kubelink/internal/kubeconfig"
	"kubelink/pkg/logging"
)

// CommandRunner runs an exec-plugin command and captures its output.
type CommandRunner interface {
	Run(ctx context.Context, path string, args []string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, path string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Layouts tried in order when parsing an auth-provider expiry.
var expiryLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.UnixDate,
	time.RubyDate,
	time.ANSIC,
	"Jan _2 15:04:05 MST 2006",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseExpiry(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// expired reports whether cfg carries an expiry at or before now. A missing
// expiry never expires; an unparsable one is logged and treated the same.
func expired(cfg kubeconfig.AuthProviderConfig, now time.Time) bool {
	raw := cfg[kubeconfig.KeyExpiry]
	if raw == "" {
		return false
	}
	t, ok := parseExpiry(raw)
	if !ok {
		logging.Warn(subsystem, "Ignoring unparsable auth-provider expiry %q", raw)
		return false
	}
	return !t.After(now)
}

// TokenQueryPath converts a token-key such as "{.token.accessToken}" into the
// query path "$.token.accessToken".
func TokenQueryPath(key string) string {
	k := strings.TrimSpace(key)
	if strings.HasPrefix(k, "{") && strings.HasSuffix(k, "}") {
		k = k[1 : len(k)-1]
	}
	k = strings.TrimPrefix(k, "$")
	if k != "" && !strings.HasPrefix(k, ".") && !strings.HasPrefix(k, "[") {
		k = "." + k
	}
	return "$" + k
}

// extractValue evaluates key against the decoded plugin output and returns
// the first match as a string.
func extractValue(output interface{}, key string) (string, error) {
	query := TokenQueryPath(key)
	jp := jsonpath.New("token-key").AllowMissingKeys(false)
	if err := jp.Parse("{" + strings.TrimPrefix(query, "$") + "}"); err != nil {
		return "", fmt.Errorf("invalid query %q: %w", query, err)
	}
	results, err := jp.FindResults(output)
	if err != nil {
		return "", fmt.Errorf("query %q: %w", query, err)
	}
	if len(results) == 0 || len(results[0]) == 0 {
		return "", fmt.Errorf("query %q matched nothing", query)
	}
	v := results[0][0]
	if !v.IsValid() || !v.CanInterface() {
		return "", fmt.Errorf("query %q matched nothing", query)
	}
	switch val := v.Interface().(type) {
	case string:
		return val, nil
	case nil:
		return "", fmt.Errorf("query %q matched null", query)
	default:
		return fmt.Sprint(val), nil
	}
}

// runRefresh executes the configured command and returns the next config
// snapshot. cfg itself is left untouched.
func (r *Resolver) runRefresh(ctx context.Context, userName string, cfg kubeconfig.AuthProviderConfig) (kubeconfig.AuthProviderConfig, error) {
	cmdPath := cfg[kubeconfig.KeyCmdPath]
	if cmdPath == "" {
		return nil, ErrTokenExpired
	}

	args, err := shellwords.Parse(cfg[kubeconfig.KeyCmdArgs])
	if err != nil {
		return nil, &RefreshError{Command: cmdPath, Err: fmt.Errorf("parsing cmd-args: %w", err)}
	}

	logging.Debug(subsystem, "Refreshing token for user %s via %s", userName, cmdPath)
	stdout, stderr, err := r.runner.Run(ctx, cmdPath, args)
	if err != nil {
		return nil, &RefreshError{Command: cmdPath, Stderr: string(stderr), Err: err}
	}

	var output interface{}
	if err := utiljson.Unmarshal(stdout, &output); err != nil {
		return nil, &RefreshError{Command: cmdPath, Stderr: string(stderr), Err: fmt.Errorf("malformed plugin output: %w", err)}
	}

	tokenKey := cfg[kubeconfig.KeyTokenKey]
	if tokenKey == "" {
		return nil, &RefreshError{Command: cmdPath, Err: errors.New("token-key is not configured")}
	}
	token, err := extractValue(output, tokenKey)
	if err != nil {
		return nil, &RefreshError{Command: cmdPath, Err: err}
	}

	next := cfg.With(kubeconfig.KeyAccessToken, token)
	if expiryKey := cfg[kubeconfig.KeyExpiryKey]; expiryKey != "" {
		if expiry, err := extractValue(output, expiryKey); err == nil {
			next = next.With(kubeconfig.KeyExpiry, expiry)
		} else {
			logging.Warn(subsystem, "Refresh for user %s returned no expiry: %v", userName, err)
		}
	}
	logging.Info(subsystem, "Refreshed token for user %s", userName)
	return next, nil
}

// refresh runs at most one refresh per user at a time. Concurrent callers
// for the same user share the in-flight result.
func (r *Resolver) refresh(ctx context.Context, user kubeconfig.User) (string, error) {
	v, err, shared := r.refreshes.Do(user.Name, func() (interface{}, error) {
		// Another caller may have swapped in a fresh token since ours was read.
		cfg := user.AuthProvider.Config()
		if !expired(cfg, r.now()) {
			return cfg[kubeconfig.KeyAccessToken], nil
		}
		next, err := r.runRefresh(ctx, user.Name, cfg)
		if err != nil {
			return "", err
		}
		user.AuthProvider.Replace(next)
		return next[kubeconfig.KeyAccessToken], nil
	})
	if shared {
		logging.Debug(subsystem, "Joined in-flight token refresh for user %s", user.Name)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
