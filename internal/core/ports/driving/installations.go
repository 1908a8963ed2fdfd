package driving

import (
	"context"

	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/future"
)

// FIDListener is notified when the persisted FID changes to a new value.
type FIDListener func(fid string)

// InstallationsService manages the FID of this app instance and its auth token.
// Every operation returns a future; only the identifier lookup-or-generate step runs
// on the caller's goroutine.
type InstallationsService interface {
	// GetID returns the FID, generating and persisting one if none exists.
	// Registration with the backend happens in the background afterwards.
	// Network problems never fail the returned future.
	GetID(ctx context.Context) *future.Future[string]

	// GetToken returns a valid auth token, registering the FID first when needed.
	// forceRefresh always asks the backend for a new token.
	GetToken(ctx context.Context, forceRefresh bool) *future.Future[domain.InstallationToken]

	// Delete removes the installation from the backend and clears the local entry.
	Delete(ctx context.Context) *future.Future[struct{}]

	// RegisterFIDListener adds fn to the FID change listeners and returns a function removing it.
	RegisterFIDListener(fn FIDListener) (unregister func())

	// Close stops background work, waiting for operations already started.
	Close()
}

// IDResponse is the API response for the installation id.
// @Description Installation identifier of this app instance
type IDResponse struct {
	FID string `json:"fid"`
}

// TokenResponse is the API response for an auth token.
// @Description Installation auth token and its validity window
type TokenResponse struct {
	Token             string `json:"token"`
	ExpiresInSecs     int64  `json:"expires_in_secs"`
	CreatedAtEpochSec int64  `json:"created_at_epoch_secs"`
	ExpiresAtEpochSec int64  `json:"expires_at_epoch_secs"`
}

// NewTokenResponse converts a token to its API representation.
func NewTokenResponse(t domain.InstallationToken) TokenResponse {
	return TokenResponse{
		Token:             t.Token,
		ExpiresInSecs:     t.ExpiresInSecs,
		CreatedAtEpochSec: t.TokenCreationEpochSecs,
		ExpiresAtEpochSec: t.ExpiresAtEpochSecs(),
	}
}
