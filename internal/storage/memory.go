package storage

import (
	"context"
	"sync"

	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
)

// MemoryStore keeps the snapshot in process. Useful for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	snap    status.Snapshot
	saves   int
	SaveErr error
}

// NewMemoryStore returns a store seeded with snap (nil for a first run).
func NewMemoryStore(snap status.Snapshot) *MemoryStore {
	return &MemoryStore{snap: snap.Clone()}
}

func (m *MemoryStore) Load(_ context.Context) (status.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, snap status.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.snap = snap.Clone()
	m.saves++
	return nil
}

// Saves reports how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
