package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Ensure MockLegacyIDStore implements LegacyIDStore
var _ driven.LegacyIDStore = (*MockLegacyIDStore)(nil)

// MockLegacyIDStore returns a fixed legacy id and counts reads.
type MockLegacyIDStore struct {
	mu    sync.Mutex
	id    string
	err   error
	reads int
}

// NewMockLegacyIDStore creates a store returning id.
func NewMockLegacyIDStore(id string) *MockLegacyIDStore {
	return &MockLegacyIDStore{id: id}
}

// SetError makes subsequent reads fail.
func (m *MockLegacyIDStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockLegacyIDStore) ReadLegacyID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return "", m.err
	}
	return m.id, nil
}

// Reads returns how many times the legacy id was read.
func (m *MockLegacyIDStore) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
