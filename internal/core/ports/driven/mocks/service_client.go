package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Ensure MockServiceClient implements ServiceClient
var _ driven.ServiceClient = (*MockServiceClient)(nil)

// MockServiceClient is a testify mock of the registration backend.
type MockServiceClient struct {
	mock.Mock
}

// NewMockServiceClient creates a new MockServiceClient
func NewMockServiceClient() *MockServiceClient {
	return &MockServiceClient{}
}

func (m *MockServiceClient) CreateInstallation(ctx context.Context, apiKey, fid, projectID, appID string) (*domain.InstallationResponse, error) {
	args := m.Called(apiKey, fid, projectID, appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InstallationResponse), args.Error(1)
}

func (m *MockServiceClient) GenerateAuthToken(ctx context.Context, apiKey, fid, projectID, refreshToken string) (*domain.TokenResult, error) {
	args := m.Called(apiKey, fid, projectID, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TokenResult), args.Error(1)
}

func (m *MockServiceClient) DeleteInstallation(ctx context.Context, apiKey, fid, projectID, refreshToken string) error {
	args := m.Called(apiKey, fid, projectID, refreshToken)
	return args.Error(0)
}
