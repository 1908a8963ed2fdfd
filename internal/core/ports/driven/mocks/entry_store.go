package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Ensure MockEntryStore implements EntryStore
var _ driven.EntryStore = (*MockEntryStore)(nil)

// MockEntryStore is an in-memory EntryStore for testing.
// It supports custom behavior injection and records every committed write.
type MockEntryStore struct {
	mu      sync.Mutex
	entry   domain.InstallationEntry
	present bool
	writes  []domain.InstallationEntry

	// Custom behavior hooks (optional)
	ReadFn  func() (domain.InstallationEntry, error)
	WriteFn func(entry domain.InstallationEntry) error
}

// NewMockEntryStore creates an empty MockEntryStore.
func NewMockEntryStore() *MockEntryStore {
	return &MockEntryStore{}
}

// NewMockEntryStoreWith creates a MockEntryStore already holding entry.
func NewMockEntryStoreWith(entry domain.InstallationEntry) *MockEntryStore {
	return &MockEntryStore{entry: entry.Normalize(), present: true}
}

func (m *MockEntryStore) Read(ctx context.Context) (domain.InstallationEntry, error) {
	if m.ReadFn != nil {
		return m.ReadFn()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(), nil
}

func (m *MockEntryStore) Write(ctx context.Context, entry domain.InstallationEntry) error {
	if m.WriteFn != nil {
		if err := m.WriteFn(entry); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(entry)
	return nil
}

func (m *MockEntryStore) CompareAndSwap(ctx context.Context, expected, next domain.InstallationEntry) (bool, error) {
	if m.WriteFn != nil {
		if err := m.WriteFn(next); err != nil {
			return false, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current() != expected.Normalize() {
		return false, nil
	}
	m.set(next)
	return true, nil
}

func (m *MockEntryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry = domain.InstallationEntry{}
	m.present = false
	return nil
}

func (m *MockEntryStore) current() domain.InstallationEntry {
	if !m.present {
		return domain.NotGeneratedEntry()
	}
	return m.entry
}

func (m *MockEntryStore) set(entry domain.InstallationEntry) {
	m.entry = entry.Normalize()
	m.present = true
	m.writes = append(m.writes, m.entry)
}

// Helper methods for testing

// Entry returns the persisted entry without going through hooks.
func (m *MockEntryStore) Entry() domain.InstallationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

// Writes returns every entry committed so far, oldest first.
func (m *MockEntryStore) Writes() []domain.InstallationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.InstallationEntry(nil), m.writes...)
}
