// Package config provides configuration management for kubelink.
//
// This package implements a layered configuration system. Configuration is
// loaded from multiple sources and merged in a specific order, with later
// sources overriding earlier ones.
//
// # Configuration Layers
//
//  1. Default Configuration (compiled in)
//  2. User Configuration (~/.config/kubelink/config.yaml)
//  3. Project Configuration (./.kubelink/config.yaml)
//
// Command-line flags take precedence over all three.
//
// # Configuration Structure
//
//	globalSettings:
//	  kubeconfig: ~/.kube/staging.yaml
//	  context: staging
//	  namespace: tools
//	  logLevel: debug
//	  logFile: /tmp/kubelink.log
//	  dialTimeout: 10s
//
//	portForwards:
//	  - name: grafana
//	    enabled: true
//	    namespace: monitoring
//	    pod: grafana-0
//	    localPort: 3000
//	    remotePort: 3000
//
// Port forwards are merged by name: a project entry replaces a user entry
// with the same name.
package config
