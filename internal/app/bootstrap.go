package app

import (
	"fmt"
	"io"
	"os"
	"sync"

	"kubelink/internal/config"
	"kubelink/internal/credentials"
	"kubelink/internal/kubeconfig"
	"kubelink/internal/podexec"
	"kubelink/internal/portforwarding"
	"kubelink/internal/stream"
	"kubelink/pkg/logging"
)

const subsystem = "Bootstrap"

// DefaultNamespace is used when neither flags, context nor settings name one.
const DefaultNamespace = "default"

// For mocking in tests
var (
	loadSettings           = config.LoadConfig
	logOutput    io.Writer = os.Stderr
)

// Application is the wired session: settings, the kubeconfig store and the
// credential resolver and transport built on top of it.
type Application struct {
	config    *Config
	store     *kubeconfig.Store
	resolver  *credentials.Resolver
	transport *stream.Transport

	mu         sync.Mutex
	forwarders map[string]*portforwarding.Forwarder
}

// NewApplication loads settings, initializes logging and loads the kubeconfig
// selected by cfg.
func NewApplication(cfg *Config) (*Application, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubelink configuration: %w", err)
	}
	cfg.applySettings(settings)

	if err := initLogging(cfg); err != nil {
		return nil, err
	}
	logging.Debug(subsystem, "Loaded settings (kubeconfig=%q, context=%q)", cfg.Kubeconfig, cfg.Context)

	store, err := loadStore(cfg.Kubeconfig, cfg.Context)
	if err != nil {
		logging.Error(subsystem, err, "Failed to load kubeconfig")
		return nil, err
	}
	logging.Info(subsystem, "Using context %q", store.CurrentContext())

	resolver := credentials.NewResolver(store)
	return &Application{
		config:     cfg,
		store:      store,
		resolver:   resolver,
		transport:  stream.NewTransport(resolver, stream.WithDialTimeout(cfg.DialTimeout)),
		forwarders: make(map[string]*portforwarding.Forwarder),
	}, nil
}

func initLogging(cfg *Config) error {
	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.LogFile == "" {
		logging.InitForCLI(level, logOutput)
		return nil
	}
	if err := logging.InitForFile(level, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
	}); err != nil {
		return fmt.Errorf("failed to initialize log file %s: %w", cfg.LogFile, err)
	}
	return nil
}

// loadStore reads path, or the default locations when path is empty, and
// activates contextName if given.
func loadStore(path, contextName string) (*kubeconfig.Store, error) {
	var (
		store *kubeconfig.Store
		err   error
	)
	if path != "" {
		store, err = kubeconfig.LoadFromFile(path)
	} else {
		store, err = kubeconfig.LoadFromDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	if contextName != "" {
		if _, ok := store.GetContextObject(contextName); !ok {
			return nil, fmt.Errorf("%w: %q", kubeconfig.ErrContextNotFound, contextName)
		}
		store.SetCurrentContext(contextName)
	}
	return store, nil
}

// Config returns the effective configuration.
func (a *Application) Config() *Config { return a.config }

// Store returns the loaded kubeconfig.
func (a *Application) Store() *kubeconfig.Store { return a.store }

// Resolver returns the credential resolver of the active context.
func (a *Application) Resolver() *credentials.Resolver { return a.resolver }

// Transport returns the stream transport of the active context.
func (a *Application) Transport() *stream.Transport { return a.transport }

// PodExec returns an exec/attach client for the active context.
func (a *Application) PodExec() *podexec.Client { return podexec.New(a.transport) }

// Namespace picks the namespace for commands: the flag, then the active
// context, then the settings file, then "default".
func (a *Application) Namespace() string {
	if a.config.Namespace != "" {
		return a.config.Namespace
	}
	if ctx, err := a.store.GetCurrentContextObject(); err == nil && ctx.Namespace != "" {
		return ctx.Namespace
	}
	if a.config.Settings != nil && a.config.Settings.GlobalSettings.Namespace != "" {
		return a.config.Settings.GlobalSettings.Namespace
	}
	return DefaultNamespace
}

// PortForwardDefinitions returns the enabled forwards from the settings with
// their namespace filled in from their context when left empty.
func (a *Application) PortForwardDefinitions() []config.PortForwardDefinition {
	if a.config.Settings == nil {
		return nil
	}
	defs := a.config.Settings.EnabledPortForwards()
	for i := range defs {
		if defs[i].Namespace != "" {
			continue
		}
		if defs[i].Context == "" {
			defs[i].Namespace = a.Namespace()
			continue
		}
		defs[i].Namespace = DefaultNamespace
		if ctx, ok := a.store.GetContextObject(defs[i].Context); ok && ctx.Namespace != "" {
			defs[i].Namespace = ctx.Namespace
		}
	}
	return defs
}

// ForwarderFor returns the forwarder for the context named by def, loading
// a separate kubeconfig session for contexts other than the active one.
// It is safe for concurrent use.
func (a *Application) ForwarderFor(def config.PortForwardDefinition) (*portforwarding.Forwarder, error) {
	name := def.Context
	if name == "" {
		name = a.store.CurrentContext()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.forwarders[name]; ok {
		return f, nil
	}

	transport := a.transport
	if name != a.store.CurrentContext() {
		store, err := loadStore(a.config.Kubeconfig, name)
		if err != nil {
			return nil, err
		}
		transport = stream.NewTransport(credentials.NewResolver(store), stream.WithDialTimeout(a.config.DialTimeout))
	}
	f := portforwarding.NewForwarder(transport)
	a.forwarders[name] = f
	return f, nil
}

// Shutdown flushes and closes log output.
func (a *Application) Shutdown() {
	if err := logging.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log output: %v\n", err)
	}
}
