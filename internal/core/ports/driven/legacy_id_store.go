package driven

import "context"

// LegacyIDStore reads an identifier issued by the legacy instance-id scheme.
type LegacyIDStore interface {
	// ReadLegacyID returns the legacy id, or "" when there is none.
	ReadLegacyID(ctx context.Context) (string, error)
}
