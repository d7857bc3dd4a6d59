package config

import (
	"time"
)

// KubelinkConfig is the top-level configuration structure for kubelink.
type KubelinkConfig struct {
	GlobalSettings GlobalSettings          `yaml:"globalSettings"`
	PortForwards   []PortForwardDefinition `yaml:"portForwards,omitempty"`
}

// GlobalSettings holds defaults for flags that are not given on the command line.
type GlobalSettings struct {
	Kubeconfig  string        `yaml:"kubeconfig,omitempty"`  // Path to a kubeconfig file, overrides $KUBECONFIG
	Context     string        `yaml:"context,omitempty"`     // Context to activate after loading
	Namespace   string        `yaml:"namespace,omitempty"`   // Namespace when the context has none
	LogLevel    string        `yaml:"logLevel,omitempty"`    // debug, info, warn or error
	LogFile     string        `yaml:"logFile,omitempty"`     // Rotated log file; empty logs to stderr
	DialTimeout time.Duration `yaml:"dialTimeout,omitempty"` // Websocket handshake timeout, e.g. "30s"
}

// PortForwardDefinition describes a named, long-running forward from a local
// port to a pod port.
type PortForwardDefinition struct {
	Name        string `yaml:"name"`
	Enabled     bool   `yaml:"enabled"`
	Context     string `yaml:"context,omitempty"` // Empty uses the active context
	Namespace   string `yaml:"namespace,omitempty"`
	Pod         string `yaml:"pod"`
	LocalPort   int    `yaml:"localPort"` // 0 picks a free port
	RemotePort  int    `yaml:"remotePort"`
	BindAddress string `yaml:"bindAddress,omitempty"`
}
