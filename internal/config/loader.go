package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"kubelink/pkg/logging"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/kubelink"
	projectConfigDir = ".kubelink"
	configFileName   = "config.yaml"
)

// LoadConfig loads the kubelink configuration by layering default, user, and project settings.
func LoadConfig() (KubelinkConfig, error) {
	// 1. Start with the default configuration
	config := GetDefaultConfig()

	// 2. User-specific configuration
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else if config, err = overlayFile(config, userConfigPath); err != nil {
		return KubelinkConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
	}

	// 3. Project-specific configuration
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else if config, err = overlayFile(config, projectConfigPath); err != nil {
		return KubelinkConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
	}

	if err := config.Validate(); err != nil {
		return KubelinkConfig{}, err
	}
	return config, nil
}

func overlayFile(base KubelinkConfig, path string) (KubelinkConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	overlay, err := loadConfigFromFile(path)
	if err != nil {
		return base, err
	}
	logging.Debug("Config", "Merged settings from %s", path)
	return mergeConfigs(base, overlay), nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a KubelinkConfig from a YAML file.
func loadConfigFromFile(filePath string) (KubelinkConfig, error) {
	var config KubelinkConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return KubelinkConfig{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return KubelinkConfig{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config.
func mergeConfigs(base, overlay KubelinkConfig) KubelinkConfig {
	merged := base

	// GlobalSettings: set fields in overlay win
	o := overlay.GlobalSettings
	if o.Kubeconfig != "" {
		merged.GlobalSettings.Kubeconfig = o.Kubeconfig
	}
	if o.Context != "" {
		merged.GlobalSettings.Context = o.Context
	}
	if o.Namespace != "" {
		merged.GlobalSettings.Namespace = o.Namespace
	}
	if o.LogLevel != "" {
		merged.GlobalSettings.LogLevel = o.LogLevel
	}
	if o.LogFile != "" {
		merged.GlobalSettings.LogFile = o.LogFile
	}
	if o.DialTimeout != 0 {
		merged.GlobalSettings.DialTimeout = o.DialTimeout
	}

	// PortForwards: replaced by name, new names appended in order
	merged.PortForwards = append([]PortForwardDefinition(nil), base.PortForwards...)
	index := make(map[string]int, len(merged.PortForwards))
	for i, pf := range merged.PortForwards {
		index[pf.Name] = i
	}
	for _, pf := range overlay.PortForwards {
		if i, ok := index[pf.Name]; ok {
			merged.PortForwards[i] = pf
			continue
		}
		index[pf.Name] = len(merged.PortForwards)
		merged.PortForwards = append(merged.PortForwards, pf)
	}

	return merged
}

// Validate checks the port-forward definitions.
func (c KubelinkConfig) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, pf := range c.PortForwards {
		switch {
		case pf.Name == "":
			errs = append(errs, fmt.Errorf("portForwards[%d]: name is required", i))
		case seen[pf.Name]:
			errs = append(errs, fmt.Errorf("portForwards[%d]: duplicate name %q", i, pf.Name))
		}
		seen[pf.Name] = true
		if pf.Pod == "" {
			errs = append(errs, fmt.Errorf("portForwards[%d]: pod is required", i))
		}
		if pf.RemotePort < 1 || pf.RemotePort > 65535 {
			errs = append(errs, fmt.Errorf("portForwards[%d]: remotePort %d out of range", i, pf.RemotePort))
		}
		if pf.LocalPort < 0 || pf.LocalPort > 65535 {
			errs = append(errs, fmt.Errorf("portForwards[%d]: localPort %d out of range", i, pf.LocalPort))
		}
	}
	return errors.Join(errs...)
}

// EnabledPortForwards returns the port forwards marked as enabled.
func (c KubelinkConfig) EnabledPortForwards() []PortForwardDefinition {
	var out []PortForwardDefinition
	for _, pf := range c.PortForwards {
		if pf.Enabled {
			out = append(out, pf)
		}
	}
	return out
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// SetUserContext records name as the default context in the user config
// file, leaving its other settings untouched.
func SetUserContext(name string) (string, error) {
	path, err := getUserConfigPath()
	if err != nil {
		return "", err
	}
	config := KubelinkConfig{}
	if _, statErr := os.Stat(path); statErr == nil {
		if config, err = loadConfigFromFile(path); err != nil {
			return "", fmt.Errorf("error loading user config from %s: %w", path, err)
		}
	}
	config.GlobalSettings.Context = name

	data, err := yaml.Marshal(&config)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
