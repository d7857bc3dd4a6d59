package kubeconfig

import (
	"fmt"
	"slices"
	"sync"
)

// Store holds the cluster, user and context records of one session plus the
// name of the active context. It is built once by Load and afterwards only
// changed through SetCurrentContext.
type Store struct {
	mu sync.RWMutex

	clusters       []Cluster
	users          []User
	contexts       []Context
	currentContext string
}

// Clusters returns a copy of the cluster list.
func (s *Store) Clusters() []Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.clusters)
}

// Users returns a copy of the user list. AuthProvider pointers are shared
// with the store.
func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.users)
}

// Contexts returns a copy of the context list.
func (s *Store) Contexts() []Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.contexts)
}

// CurrentContext returns the name of the active context.
func (s *Store) CurrentContext() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentContext
}

// SetCurrentContext changes the active context. The name is not validated
// here; a dangling name surfaces when the context is resolved.
func (s *Store) SetCurrentContext(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentContext = name
}

// GetContextObject looks up a context by name.
func (s *Store) GetContextObject(name string) (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := FindObject(s.contexts, name, "context")
	return l.Item, l.Found
}

// GetCluster looks up a cluster by name.
func (s *Store) GetCluster(name string) (Cluster, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := FindObject(s.clusters, name, "cluster")
	return l.Item, l.Found
}

// GetUser looks up a user by name.
func (s *Store) GetUser(name string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := FindObject(s.users, name, "user")
	return l.Item, l.Found
}

// GetCurrentContextObject resolves the active context record.
func (s *Store) GetCurrentContextObject() (Context, error) {
	name := s.CurrentContext()
	ctx, ok := s.GetContextObject(name)
	if !ok {
		return Context{}, fmt.Errorf("%w: %q", ErrContextNotFound, name)
	}
	return ctx, nil
}

// GetCurrentCluster resolves the cluster referenced by the active context.
func (s *Store) GetCurrentCluster() (Cluster, error) {
	ctx, err := s.GetCurrentContextObject()
	if err != nil {
		return Cluster{}, err
	}
	cluster, ok := s.GetCluster(ctx.Cluster)
	if !ok {
		return Cluster{}, fmt.Errorf("%w: %q (referenced by context %q)", ErrClusterNotFound, ctx.Cluster, ctx.Name)
	}
	return cluster, nil
}

// GetCurrentUser resolves the user referenced by the active context.
func (s *Store) GetCurrentUser() (User, error) {
	ctx, err := s.GetCurrentContextObject()
	if err != nil {
		return User{}, err
	}
	user, ok := s.GetUser(ctx.User)
	if !ok {
		return User{}, fmt.Errorf("%w: %q (referenced by context %q)", ErrUserNotFound, ctx.User, ctx.Name)
	}
	return user, nil
}
