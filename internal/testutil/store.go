package testutil

import (
	"fmt"
	"sync"

	"appkeep/internal/keep"
)

// MemoryStore is an in-memory keep.PackageStore.
type MemoryStore struct {
	mu   sync.Mutex
	apps map[string]keep.Application
}

// NewMemoryStore creates a store holding apps.
func NewMemoryStore(apps ...*keep.Application) *MemoryStore {
	s := &MemoryStore{apps: make(map[string]keep.Application)}
	for _, a := range apps {
		s.Put(a)
	}
	return s
}

// Put stores a copy of app.
func (s *MemoryStore) Put(app *keep.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.PackageID] = *app
}

// Delete forgets packageID.
func (s *MemoryStore) Delete(packageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.apps, packageID)
}

func (s *MemoryStore) GetApplication(packageID string) (*keep.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[packageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", keep.ErrApplicationNotFound, packageID)
	}
	return &app, nil
}

var _ keep.PackageStore = (*MemoryStore)(nil)
