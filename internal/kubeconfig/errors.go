package kubeconfig

import (
	"errors"
	"fmt"
)

var (
	// ErrContextNotFound is returned when the current context name does not
	// match any context record.
	ErrContextNotFound = errors.New("context not found")
	// ErrClusterNotFound is returned when a context references an unknown cluster.
	ErrClusterNotFound = errors.New("cluster not found")
	// ErrUserNotFound is returned when a context references an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotInCluster is returned by the in-cluster loader when the service
	// host/port environment is missing.
	ErrNotInCluster = errors.New("not running in a cluster: KUBERNETES_SERVICE_HOST and KUBERNETES_SERVICE_PORT must be set")
)

// VersionError reports a config document whose apiVersion is not "v1".
type VersionError struct {
	Version string
}

func (e *VersionError) Error() string {
	return "unknown version: " + e.Version
}

// FieldMissingError reports the first required field missing from a config
// list item, e.g. "clusters[1].cluster.server is missing".
type FieldMissingError struct {
	List  string
	Index int
	Field string
}

func (e *FieldMissingError) Error() string {
	return fmt.Sprintf("%s[%d].%s is missing", e.List, e.Index, e.Field)
}
