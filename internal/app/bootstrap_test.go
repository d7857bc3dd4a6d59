package app

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubelink/internal/config"
	"kubelink/internal/kubeconfig"
)

const kcFileName = "../kubeconfig/testdata/kubeconfig.yaml"

func withSettings(t *testing.T, settings config.KubelinkConfig, err error) *bytes.Buffer {
	t.Helper()
	originalLoad := loadSettings
	originalOutput := logOutput
	t.Cleanup(func() {
		loadSettings = originalLoad
		logOutput = originalOutput
	})
	loadSettings = func() (config.KubelinkConfig, error) { return settings, err }
	var out bytes.Buffer
	logOutput = &out
	return &out
}

func TestNewApplication_FlagsWinOverSettings(t *testing.T) {
	settings := config.GetDefaultConfig()
	settings.GlobalSettings.Kubeconfig = "/does/not/exist"
	settings.GlobalSettings.Context = "context1"
	settings.GlobalSettings.DialTimeout = 5 * time.Second
	withSettings(t, settings, nil)

	a, err := NewApplication(NewConfig(kcFileName, "", "", "debug", ""))
	require.NoError(t, err)

	assert.Equal(t, kcFileName, a.Config().Kubeconfig)
	assert.Equal(t, "context1", a.Store().CurrentContext(), "settings fill the empty context flag")
	assert.Equal(t, 5*time.Second, a.Config().DialTimeout)
	assert.Equal(t, "debug", a.Config().LogLevel)

	server, err := a.Resolver().Server()
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", server)
	assert.NotNil(t, a.Transport())
	assert.NotNil(t, a.PodExec())
}

func TestNewApplication_Errors(t *testing.T) {
	t.Run("settings", func(t *testing.T) {
		withSettings(t, config.KubelinkConfig{}, errors.New("bad yaml"))
		_, err := NewApplication(NewConfig(kcFileName, "", "", "", ""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad yaml")
	})

	t.Run("unknown context", func(t *testing.T) {
		withSettings(t, config.GetDefaultConfig(), nil)
		_, err := NewApplication(NewConfig(kcFileName, "nope", "", "", ""))
		assert.ErrorIs(t, err, kubeconfig.ErrContextNotFound)
	})

	t.Run("missing kubeconfig", func(t *testing.T) {
		withSettings(t, config.GetDefaultConfig(), nil)
		_, err := NewApplication(NewConfig(t.TempDir()+"/missing", "", "", "", ""))
		assert.Error(t, err)
	})
}

func TestNamespace(t *testing.T) {
	settings := config.GetDefaultConfig()
	settings.GlobalSettings.Namespace = "from-settings"

	tests := []struct {
		name      string
		context   string
		namespace string
		settings  config.KubelinkConfig
		expected  string
	}{
		{name: "flag", context: "context2", namespace: "flag-ns", settings: settings, expected: "flag-ns"},
		{name: "context", context: "context2", settings: settings, expected: "tools"},
		{name: "settings", context: "context1", settings: settings, expected: "from-settings"},
		{name: "default", context: "context1", settings: config.GetDefaultConfig(), expected: DefaultNamespace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withSettings(t, tt.settings, nil)
			a, err := NewApplication(NewConfig(kcFileName, tt.context, tt.namespace, "", ""))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, a.Namespace())
		})
	}
}

func TestPortForwardDefinitions(t *testing.T) {
	settings := config.GetDefaultConfig()
	settings.PortForwards = []config.PortForwardDefinition{
		{Name: "active", Enabled: true, Pod: "a", RemotePort: 1},
		{Name: "other", Enabled: true, Context: "context2", Pod: "b", RemotePort: 2},
		{Name: "explicit", Enabled: true, Context: "context2", Namespace: "ns", Pod: "c", RemotePort: 3},
		{Name: "disabled", Enabled: false, Pod: "d", RemotePort: 4},
	}
	withSettings(t, settings, nil)

	a, err := NewApplication(NewConfig(kcFileName, "context1", "", "", ""))
	require.NoError(t, err)

	defs := a.PortForwardDefinitions()
	require.Len(t, defs, 3)
	assert.Equal(t, DefaultNamespace, defs[0].Namespace)
	assert.Equal(t, "tools", defs[1].Namespace)
	assert.Equal(t, "ns", defs[2].Namespace)
}

func TestForwarderFor(t *testing.T) {
	withSettings(t, config.GetDefaultConfig(), nil)
	a, err := NewApplication(NewConfig(kcFileName, "context1", "", "", ""))
	require.NoError(t, err)

	active, err := a.ForwarderFor(config.PortForwardDefinition{Name: "a"})
	require.NoError(t, err)
	same, err := a.ForwarderFor(config.PortForwardDefinition{Name: "b", Context: "context1"})
	require.NoError(t, err)
	assert.Same(t, active, same, "the active context shares one forwarder")

	other, err := a.ForwarderFor(config.PortForwardDefinition{Name: "c", Context: "context2"})
	require.NoError(t, err)
	assert.NotSame(t, active, other)
	assert.Equal(t, "context1", a.Store().CurrentContext(), "the active session is untouched")

	_, err = a.ForwarderFor(config.PortForwardDefinition{Name: "d", Context: "missing"})
	assert.ErrorIs(t, err, kubeconfig.ErrContextNotFound)
}

func TestInitLogging_File(t *testing.T) {
	path := t.TempDir() + "/kubelink.log"
	withSettings(t, config.GetDefaultConfig(), nil)
	a, err := NewApplication(NewConfig(kcFileName, "", "", "info", path))
	require.NoError(t, err)
	a.Shutdown()
	assert.FileExists(t, path)
}
