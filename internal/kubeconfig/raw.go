package kubeconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// rawConfig mirrors the on-disk kubeconfig document. Field names must stay
// compatible with kubectl and other config producers.
type rawConfig struct {
	APIVersion     string            `yaml:"apiVersion"`
	Kind           string            `yaml:"kind,omitempty"`
	Clusters       []rawNamedCluster `yaml:"clusters"`
	Users          []rawNamedUser    `yaml:"users"`
	Contexts       []rawNamedContext `yaml:"contexts"`
	CurrentContext string            `yaml:"current-context"`
}

type rawNamedCluster struct {
	Name    string      `yaml:"name"`
	Cluster *rawCluster `yaml:"cluster"`
}

type rawCluster struct {
	Server                   string `yaml:"server"`
	CertificateAuthority     string `yaml:"certificate-authority,omitempty"`
	CertificateAuthorityData string `yaml:"certificate-authority-data,omitempty"`
	// Only a literal boolean true enables it; "true" as a string does not.
	InsecureSkipTLSVerify interface{} `yaml:"insecure-skip-tls-verify,omitempty"`
}

type rawNamedUser struct {
	Name string   `yaml:"name"`
	User *rawUser `yaml:"user,omitempty"`
}

type rawUser struct {
	Token                 string           `yaml:"token,omitempty"`
	TokenFile             string           `yaml:"token-file,omitempty"`
	ClientCertificate     string           `yaml:"client-certificate,omitempty"`
	ClientCertificateData string           `yaml:"client-certificate-data,omitempty"`
	ClientKey             string           `yaml:"client-key,omitempty"`
	ClientKeyData         string           `yaml:"client-key-data,omitempty"`
	AuthProvider          *rawAuthProvider `yaml:"auth-provider,omitempty"`
	Username              string           `yaml:"username,omitempty"`
	Password              string           `yaml:"password,omitempty"`
}

type rawAuthProvider struct {
	Name   string            `yaml:"name,omitempty"`
	Config map[string]string `yaml:"config,omitempty"`
}

type rawNamedContext struct {
	Name    string      `yaml:"name"`
	Context *rawContext `yaml:"context"`
}

type rawContext struct {
	Cluster   string `yaml:"cluster"`
	User      string `yaml:"user"`
	Namespace string `yaml:"namespace,omitempty"`
}

// For mocking in tests
var osReadFile = os.ReadFile

// newClusters validates raw cluster entries in order and stops at the first
// invalid one.
func newClusters(items []rawNamedCluster) ([]Cluster, error) {
	clusters := make([]Cluster, 0, len(items))
	for i, elt := range items {
		if elt.Name == "" {
			return nil, &FieldMissingError{List: "clusters", Index: i, Field: "name"}
		}
		if elt.Cluster == nil {
			return nil, &FieldMissingError{List: "clusters", Index: i, Field: "cluster"}
		}
		if elt.Cluster.Server == "" {
			return nil, &FieldMissingError{List: "clusters", Index: i, Field: "cluster.server"}
		}
		skip, _ := elt.Cluster.InsecureSkipTLSVerify.(bool)
		clusters = append(clusters, Cluster{
			Name:          elt.Name,
			Server:        elt.Cluster.Server,
			CAFile:        elt.Cluster.CertificateAuthority,
			CAData:        elt.Cluster.CertificateAuthorityData,
			SkipTLSVerify: skip,
		})
	}
	return clusters, nil
}

// newUsers validates raw user entries. Only the name is required; a
// token-file is read eagerly and overrides an inline token.
func newUsers(items []rawNamedUser) ([]User, error) {
	users := make([]User, 0, len(items))
	for i, elt := range items {
		if elt.Name == "" {
			return nil, &FieldMissingError{List: "users", Index: i, Field: "name"}
		}
		user := User{Name: elt.Name}
		if u := elt.User; u != nil {
			user.Token = u.Token
			if u.TokenFile != "" {
				data, err := osReadFile(u.TokenFile)
				if err != nil {
					return nil, fmt.Errorf("users[%d].user.token-file: %w", i, err)
				}
				user.Token = string(data)
			}
			user.CertFile = u.ClientCertificate
			user.CertData = u.ClientCertificateData
			user.KeyFile = u.ClientKey
			user.KeyData = u.ClientKeyData
			user.Username = u.Username
			user.Password = u.Password
			if u.AuthProvider != nil {
				user.AuthProvider = NewAuthProvider(u.AuthProvider.Name, u.AuthProvider.Config)
			}
		}
		users = append(users, user)
	}
	return users, nil
}

func newContexts(items []rawNamedContext) ([]Context, error) {
	contexts := make([]Context, 0, len(items))
	for i, elt := range items {
		if elt.Name == "" {
			return nil, &FieldMissingError{List: "contexts", Index: i, Field: "name"}
		}
		if elt.Context == nil {
			return nil, &FieldMissingError{List: "contexts", Index: i, Field: "context"}
		}
		if elt.Context.Cluster == "" {
			return nil, &FieldMissingError{List: "contexts", Index: i, Field: "context.cluster"}
		}
		if elt.Context.User == "" {
			return nil, &FieldMissingError{List: "contexts", Index: i, Field: "context.user"}
		}
		contexts = append(contexts, Context{
			Name:      elt.Name,
			Cluster:   elt.Context.Cluster,
			User:      elt.Context.User,
			Namespace: elt.Context.Namespace,
		})
	}
	return contexts, nil
}

// parse decodes and validates a kubeconfig document.
func parse(text string) (*Store, error) {
	var raw rawConfig
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode kubeconfig: %w", err)
	}
	if raw.APIVersion != "v1" {
		return nil, &VersionError{Version: raw.APIVersion}
	}

	clusters, err := newClusters(raw.Clusters)
	if err != nil {
		return nil, err
	}
	contexts, err := newContexts(raw.Contexts)
	if err != nil {
		return nil, err
	}
	users, err := newUsers(raw.Users)
	if err != nil {
		return nil, err
	}

	return &Store{
		clusters:       clusters,
		users:          users,
		contexts:       contexts,
		currentContext: raw.CurrentContext,
	}, nil
}

const redacted = "REDACTED"

// Marshal renders the store back into kubeconfig YAML. With redact set,
// tokens, passwords, private keys and auth-provider access tokens are masked.
func (s *Store) Marshal(redact bool) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mask := func(v string) string {
		if redact && v != "" {
			return redacted
		}
		return v
	}

	raw := rawConfig{
		APIVersion:     "v1",
		Kind:           "Config",
		CurrentContext: s.currentContext,
	}
	for _, c := range s.clusters {
		rc := &rawCluster{
			Server:                   c.Server,
			CertificateAuthority:     c.CAFile,
			CertificateAuthorityData: c.CAData,
		}
		if c.SkipTLSVerify {
			rc.InsecureSkipTLSVerify = true
		}
		raw.Clusters = append(raw.Clusters, rawNamedCluster{Name: c.Name, Cluster: rc})
	}
	for _, u := range s.users {
		ru := &rawUser{
			Token:                 mask(u.Token),
			ClientCertificate:     u.CertFile,
			ClientCertificateData: u.CertData,
			ClientKey:             u.KeyFile,
			ClientKeyData:         mask(u.KeyData),
			Username:              u.Username,
			Password:              mask(u.Password),
		}
		if u.AuthProvider != nil {
			rap := &rawAuthProvider{Name: u.AuthProvider.Name}
			if cfg := u.AuthProvider.Config(); cfg != nil {
				rap.Config = make(map[string]string, len(cfg))
				for k, v := range cfg {
					if k == KeyAccessToken || strings.Contains(k, "secret") {
						v = mask(v)
					}
					rap.Config[k] = v
				}
			}
			ru.AuthProvider = rap
		}
		raw.Users = append(raw.Users, rawNamedUser{Name: u.Name, User: ru})
	}
	for _, c := range s.contexts {
		raw.Contexts = append(raw.Contexts, rawNamedContext{
			Name:    c.Name,
			Context: &rawContext{Cluster: c.Cluster, User: c.User, Namespace: c.Namespace},
		})
	}

	return yaml.Marshal(&raw)
}
