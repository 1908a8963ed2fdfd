package mocks

import (
	"sync"

	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Ensure MockFIDGenerator implements FIDGenerator
var _ driven.FIDGenerator = (*MockFIDGenerator)(nil)

// MockFIDGenerator hands out the configured ids in order and repeats the last one.
type MockFIDGenerator struct {
	mu    sync.Mutex
	fids  []string
	calls int
}

// NewMockFIDGenerator creates a generator returning fids in order.
func NewMockFIDGenerator(fids ...string) *MockFIDGenerator {
	return &MockFIDGenerator{fids: fids}
}

func (m *MockFIDGenerator) CreateRandomFID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if len(m.fids) == 0 {
		return ""
	}
	if i >= len(m.fids) {
		i = len(m.fids) - 1
	}
	return m.fids[i]
}

// Calls returns how many ids were generated.
func (m *MockFIDGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
