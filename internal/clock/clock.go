package clock

import (
	"time"

	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

var _ driven.Clock = Real{}

// Real implements driven.Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}
