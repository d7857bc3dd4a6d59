package app

import (
	"time"

	"kubelink/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Connection selection
	Kubeconfig string
	Context    string
	Namespace  string

	// Logging
	LogLevel string
	LogFile  string

	DialTimeout time.Duration

	// Layered settings, filled in by NewApplication
	Settings *config.KubelinkConfig
}

// NewConfig creates a new application configuration from command line flags.
// Empty values fall back to the layered settings.
func NewConfig(kubeconfigPath, contextName, namespace, logLevel, logFile string) *Config {
	return &Config{
		Kubeconfig: kubeconfigPath,
		Context:    contextName,
		Namespace:  namespace,
		LogLevel:   logLevel,
		LogFile:    logFile,
	}
}

// applySettings fills every field the command line left empty.
func (c *Config) applySettings(s config.KubelinkConfig) {
	c.Settings = &s
	g := s.GlobalSettings
	if c.Kubeconfig == "" {
		c.Kubeconfig = g.Kubeconfig
	}
	if c.Context == "" {
		c.Context = g.Context
	}
	if c.LogLevel == "" {
		c.LogLevel = g.LogLevel
	}
	if c.LogFile == "" {
		c.LogFile = g.LogFile
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = g.DialTimeout
	}
}
