package config

import "time"

const (
	DefaultLogLevel    = "info"
	DefaultDialTimeout = 30 * time.Second
	DefaultBindAddress = "127.0.0.1"
)

// GetDefaultConfig returns minimal default configuration.
// By default: kubeconfig from the environment, no port forwards.
func GetDefaultConfig() KubelinkConfig {
	return KubelinkConfig{
		GlobalSettings: GlobalSettings{
			LogLevel:    DefaultLogLevel,
			DialTimeout: DefaultDialTimeout,
		},
		PortForwards: []PortForwardDefinition{},
	}
}
