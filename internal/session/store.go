package session

import (
	"sync"

	"github.com/vdavid/updateagent/internal/models"
)

// Credentials is the record persisted for the current tab: the short-lived
// access token and the identity it belongs to. They are saved and cleared together.
type Credentials struct {
	AccessToken string
	Identity    models.Identity
}

// CredentialStore persists Credentials for the lifetime of one client.
// Only the Manager writes to it.
type CredentialStore interface {
	Load() (Credentials, bool)
	Save(Credentials) error
	Clear() error
}

// MemoryStore keeps credentials in memory. It is the default store.
type MemoryStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

func (s *MemoryStore) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}
