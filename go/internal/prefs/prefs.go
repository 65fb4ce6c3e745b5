// Package prefs persists the two per-device session preferences: the
// selected team and the chosen username.
package prefs

import (
	"sync"

	"github.com/mcdev12/teamclicker/go/internal/models"
)

const (
	KeySelectedTeam = "selectedTeam"
	KeyUsername     = "username"
)

// Store is a string-keyed key-value store that survives restarts
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// SelectedTeam reads the stored team. Values other than blue or red count
// as no selection.
func SelectedTeam(s Store) (models.Team, error) {
	v, ok, err := s.Get(KeySelectedTeam)
	if err != nil || !ok {
		return "", err
	}
	team, err := models.ParseTeam(v)
	if err != nil {
		return "", nil
	}
	return team, nil
}

// Username reads the stored username, empty when unset
func Username(s Store) (string, error) {
	v, _, err := s.Get(KeyUsername)
	return v, err
}

// MemoryStore keeps preferences in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
