package driven

import (
	"context"

	"github.com/custodia-labs/installations/internal/core/domain"
)

// ServiceClient talks to the remote registration backend.
//
// A returned error is a transport failure (*domain.TransportError) or a structured
// rejection the client could not express as a response code (*domain.Error).
// Rejections with a known response code come back as a response, not as an error.
type ServiceClient interface {
	// CreateInstallation registers fid. The response FID is authoritative.
	CreateInstallation(ctx context.Context, apiKey, fid, projectID, appID string) (*domain.InstallationResponse, error)

	// GenerateAuthToken issues a fresh auth token for a registered fid.
	GenerateAuthToken(ctx context.Context, apiKey, fid, projectID, refreshToken string) (*domain.TokenResult, error)

	// DeleteInstallation removes a registered fid from the backend.
	DeleteInstallation(ctx context.Context, apiKey, fid, projectID, refreshToken string) error
}
