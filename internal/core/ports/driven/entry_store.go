package driven

import (
	"context"

	"github.com/custodia-labs/installations/internal/core/domain"
)

// EntryStore is the durable single slot holding this app's InstallationEntry.
type EntryStore interface {
	// Read returns the persisted entry.
	// An empty store yields domain.NotGeneratedEntry(), never an error.
	Read(ctx context.Context) (domain.InstallationEntry, error)

	// Write overwrites the persisted entry unconditionally.
	Write(ctx context.Context, entry domain.InstallationEntry) error

	// CompareAndSwap replaces the persisted entry with next only if it still equals expected.
	// An absent entry equals domain.NotGeneratedEntry().
	// Returns false (and no error) when the persisted entry changed in the meantime.
	CompareAndSwap(ctx context.Context, expected, next domain.InstallationEntry) (bool, error)

	// Clear removes the persisted entry.
	Clear(ctx context.Context) error
}
