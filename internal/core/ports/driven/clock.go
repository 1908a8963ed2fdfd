package driven

import "time"

// Clock supplies the current time. Token expiry is always evaluated against it.
type Clock interface {
	Now() time.Time
}
