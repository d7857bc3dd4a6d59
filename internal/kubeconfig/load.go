package kubeconfig

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"

	"kubelink/pkg/logging"
)

const subsystem = "KubeConfig"

// Environment variables and paths consulted by the loaders.
const (
	EnvKubeconfig  = "KUBECONFIG"
	EnvHome        = "HOME"
	EnvServiceHost = "KUBERNETES_SERVICE_HOST"
	EnvServicePort = "KUBERNETES_SERVICE_PORT"

	DefaultServiceAccountRoot = "/var/run/secrets/kubernetes.io/serviceaccount"

	LoadedContextName    = "loaded-context"
	InClusterClusterName = "inCluster"
	InClusterUserName    = "inClusterUser"
	InClusterContextName = "inClusterContext"

	localhostServer = "http://localhost:8080"
)

// For mocking in tests
var (
	serviceAccountRoot = DefaultServiceAccountRoot
	osGetenv           = os.Getenv
	osStat             = os.Stat
)

// ServiceAccountCAPath returns the in-cluster CA certificate path.
func ServiceAccountCAPath() string { return filepath.Join(serviceAccountRoot, "ca.crt") }

// ServiceAccountTokenPath returns the in-cluster token path.
func ServiceAccountTokenPath() string { return filepath.Join(serviceAccountRoot, "token") }

// Source selects how a Store is constructed. Exactly one source is used per
// store; the set of implementations is closed.
type Source interface {
	load() (*Store, error)
}

// FileSource reads a kubeconfig document from Path.
type FileSource struct{ Path string }

// StringSource parses a kubeconfig document held in memory.
type StringSource struct{ Text string }

// OptionsSource builds a store from already typed records.
type OptionsSource struct{ Options Options }

// ClusterAndUserSource builds a single-context store.
type ClusterAndUserSource struct {
	Cluster Cluster
	User    User
}

// InClusterSource builds the service-account identity of a pod.
type InClusterSource struct{}

// DefaultSource walks the default search chain.
type DefaultSource struct{}

// Options are the typed records accepted by LoadFromOptions.
type Options struct {
	Clusters       []Cluster
	Users          []User
	Contexts       []Context
	CurrentContext string
}

// Load builds a Store from src.
func Load(src Source) (*Store, error) {
	if src == nil {
		return nil, errors.New("kubeconfig source is nil")
	}
	return src.load()
}

// LoadFromFile reads and parses the kubeconfig file at path.
func LoadFromFile(path string) (*Store, error) { return Load(FileSource{Path: path}) }

// LoadFromString parses a kubeconfig document.
func LoadFromString(text string) (*Store, error) { return Load(StringSource{Text: text}) }

// LoadFromOptions builds a store from typed records.
func LoadFromOptions(opts Options) (*Store, error) { return Load(OptionsSource{Options: opts}) }

// LoadFromClusterAndUser builds a store with one context, "loaded-context",
// binding cluster to user.
func LoadFromClusterAndUser(cluster Cluster, user User) (*Store, error) {
	return Load(ClusterAndUserSource{Cluster: cluster, User: user})
}

// LoadFromCluster builds the in-cluster service-account identity.
func LoadFromCluster() (*Store, error) { return Load(InClusterSource{}) }

// LoadFromDefault tries $KUBECONFIG, then $HOME/.kube/config, then the
// in-cluster service account, and finally falls back to an unauthenticated
// http://localhost:8080.
func LoadFromDefault() (*Store, error) { return Load(DefaultSource{}) }

func (s FileSource) load() (*Store, error) {
	data, err := osReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read kubeconfig %s: %w", s.Path, err)
	}
	store, err := parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %s: %w", s.Path, err)
	}
	logging.Debug(subsystem, "Loaded kubeconfig from %s (current context %q)", s.Path, store.currentContext)
	return store, nil
}

func (s StringSource) load() (*Store, error) {
	return parse(s.Text)
}

func (s OptionsSource) load() (*Store, error) {
	return &Store{
		clusters:       slices.Clone(s.Options.Clusters),
		users:          slices.Clone(s.Options.Users),
		contexts:       slices.Clone(s.Options.Contexts),
		currentContext: s.Options.CurrentContext,
	}, nil
}

func (s ClusterAndUserSource) load() (*Store, error) {
	return &Store{
		clusters: []Cluster{s.Cluster},
		users:    []User{s.User},
		contexts: []Context{{
			Name:    LoadedContextName,
			Cluster: s.Cluster.Name,
			User:    s.User.Name,
		}},
		currentContext: LoadedContextName,
	}, nil
}

// inClusterScheme picks http only for the well-known plaintext API ports.
func inClusterScheme(port string) string {
	switch port {
	case "80", "8080", "8001":
		return "http"
	default:
		return "https"
	}
}

func (InClusterSource) load() (*Store, error) {
	host, port := osGetenv(EnvServiceHost), osGetenv(EnvServicePort)
	if host == "" || port == "" {
		return nil, ErrNotInCluster
	}

	token, err := osReadFile(ServiceAccountTokenPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read service account token: %w", err)
	}

	server := fmt.Sprintf("%s://%s", inClusterScheme(port), net.JoinHostPort(host, port))
	logging.Debug(subsystem, "Using in-cluster configuration for %s", server)

	return &Store{
		clusters: []Cluster{{
			Name:   InClusterClusterName,
			Server: server,
			CAFile: ServiceAccountCAPath(),
		}},
		users: []User{{
			Name:  InClusterUserName,
			Token: string(token),
		}},
		contexts: []Context{{
			Name:    InClusterContextName,
			Cluster: InClusterClusterName,
			User:    InClusterUserName,
		}},
		currentContext: InClusterContextName,
	}, nil
}

func fileExists(path string) bool {
	_, err := osStat(path)
	return err == nil
}

func (DefaultSource) load() (*Store, error) {
	if path := osGetenv(EnvKubeconfig); path != "" {
		return FileSource{Path: path}.load()
	}

	if home := osGetenv(EnvHome); home != "" {
		path := filepath.Join(home, ".kube", "config")
		if fileExists(path) {
			return FileSource{Path: path}.load()
		}
	}

	if fileExists(ServiceAccountTokenPath()) {
		return InClusterSource{}.load()
	}

	logging.Debug(subsystem, "No kubeconfig found, falling back to %s", localhostServer)
	return ClusterAndUserSource{
		Cluster: Cluster{Name: "cluster", Server: localhostServer},
		User:    User{Name: "user"},
	}.load()
}
