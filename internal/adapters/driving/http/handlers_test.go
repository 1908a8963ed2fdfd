package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driving"
	"github.com/custodia-labs/installations/internal/future"
)

// Mock services for testing

type mockInstallationsService struct {
	getIDFn    func(ctx context.Context) *future.Future[string]
	getTokenFn func(ctx context.Context, force bool) *future.Future[domain.InstallationToken]
	deleteFn   func(ctx context.Context) *future.Future[struct{}]
}

var _ driving.InstallationsService = (*mockInstallationsService)(nil)

func (m *mockInstallationsService) GetID(ctx context.Context) *future.Future[string] {
	if m.getIDFn != nil {
		return m.getIDFn(ctx)
	}
	return future.Failed[string](errors.New("not implemented"))
}

func (m *mockInstallationsService) GetToken(ctx context.Context, force bool) *future.Future[domain.InstallationToken] {
	if m.getTokenFn != nil {
		return m.getTokenFn(ctx, force)
	}
	return future.Failed[domain.InstallationToken](errors.New("not implemented"))
}

func (m *mockInstallationsService) Delete(ctx context.Context) *future.Future[struct{}] {
	if m.deleteFn != nil {
		return m.deleteFn(ctx)
	}
	return future.Failed[struct{}](errors.New("not implemented"))
}

func (m *mockInstallationsService) RegisterFIDListener(fn driving.FIDListener) func() {
	return func() {}
}

func (m *mockInstallationsService) Close() {}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

func newTestServer(svc driving.InstallationsService, store Pinger) *Server {
	cfg := DefaultConfig()
	cfg.Logger = discardLogger()
	return NewServer(cfg, svc, store)
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(&mockInstallationsService{}, nil)

	rr := serve(s, "GET", "/health")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name     string
		store    Pinger
		expected int
	}{
		{"no store", nil, http.StatusOK},
		{"healthy store", &mockPinger{}, http.StatusOK},
		{"unhealthy store", &mockPinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockInstallationsService{}, tt.store)
			rr := serve(s, "GET", "/ready")
			if rr.Code != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, rr.Code)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = "1.2.3"
	cfg.Logger = discardLogger()
	s := NewServer(cfg, &mockInstallationsService{}, nil)

	rr := serve(s, "GET", "/version")

	var resp VersionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %q", resp.Version)
	}
}

func TestHandleGetID_Success(t *testing.T) {
	svc := &mockInstallationsService{
		getIDFn: func(ctx context.Context) *future.Future[string] {
			return future.Resolved("cJ8YfC7VZ0ixUuT6pn3DfK")
		},
	}
	s := newTestServer(svc, nil)

	rr := serve(s, "GET", "/v1/id")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp driving.IDResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.FID != "cJ8YfC7VZ0ixUuT6pn3DfK" {
		t.Errorf("unexpected fid %q", resp.FID)
	}
}

func TestHandleGetID_StoreFailure(t *testing.T) {
	svc := &mockInstallationsService{
		getIDFn: func(ctx context.Context) *future.Future[string] {
			return future.Failed[string](errors.New("disk full"))
		},
	}
	s := newTestServer(svc, nil)

	rr := serve(s, "GET", "/v1/id")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}
}

func TestHandleGetToken_Success(t *testing.T) {
	var gotForce bool
	svc := &mockInstallationsService{
		getTokenFn: func(ctx context.Context, force bool) *future.Future[domain.InstallationToken] {
			gotForce = force
			return future.Resolved(domain.InstallationToken{Token: "jwt", ExpiresInSecs: 3600, TokenCreationEpochSecs: 1000})
		},
	}
	s := newTestServer(svc, nil)

	rr := serve(s, "GET", "/v1/token?force=true")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !gotForce {
		t.Error("expected force to be passed through")
	}

	var resp driving.TokenResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token != "jwt" || resp.ExpiresAtEpochSec != 4600 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleGetToken_InvalidForce(t *testing.T) {
	s := newTestServer(&mockInstallationsService{}, nil)

	rr := serve(s, "GET", "/v1/token?force=maybe")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleGetToken_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus string
	}{
		{"bad config", domain.NewError(domain.StatusBadConfig, "", domain.ErrRegistrationRejected), http.StatusBadGateway, "BAD_CONFIG"},
		{"unavailable", domain.NewError(domain.StatusUnavailable, "", domain.ErrNotRegistered), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"throttled", domain.NewError(domain.StatusTooManyRequests, "", nil), http.StatusTooManyRequests, "TOO_MANY_REQUESTS"},
		{"transport", domain.NewTransportError("generate auth token", io.ErrUnexpectedEOF), http.StatusServiceUnavailable, ""},
		{"closed", domain.ErrClosed, http.StatusServiceUnavailable, ""},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockInstallationsService{
				getTokenFn: func(ctx context.Context, force bool) *future.Future[domain.InstallationToken] {
					return future.Failed[domain.InstallationToken](tt.err)
				},
			}
			s := newTestServer(svc, nil)

			rr := serve(s, "GET", "/v1/token")
			if rr.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, rr.Code)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, resp.Status)
			}
			if resp.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestHandleDeleteInstallation(t *testing.T) {
	deleted := false
	svc := &mockInstallationsService{
		deleteFn: func(ctx context.Context) *future.Future[struct{}] {
			deleted = true
			return future.Resolved(struct{}{})
		},
	}
	s := newTestServer(svc, nil)

	rr := serve(s, "DELETE", "/v1/installation")
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if !deleted {
		t.Error("expected delete to be called")
	}
}

func TestHandleDeleteInstallation_Rejected(t *testing.T) {
	svc := &mockInstallationsService{
		deleteFn: func(ctx context.Context) *future.Future[struct{}] {
			return future.Failed[struct{}](domain.NewError(domain.StatusBadConfig, "", nil))
		},
	}
	s := newTestServer(svc, nil)

	rr := serve(s, "DELETE", "/v1/installation")
	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", rr.Code)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&mockInstallationsService{}, nil)

	rr := serve(s, "POST", "/v1/id")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}

func TestRoutes_RequireToken(t *testing.T) {
	svc := &mockInstallationsService{
		getIDFn: func(ctx context.Context) *future.Future[string] {
			return future.Resolved("cJ8YfC7VZ0ixUuT6pn3DfK")
		},
	}
	cfg := DefaultConfig()
	cfg.APIToken = "sidecar-secret"
	cfg.Logger = discardLogger()
	s := NewServer(cfg, svc, nil)

	rr := serve(s, "GET", "/v1/id")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest("GET", "/v1/id", nil)
	req.Header.Set("Authorization", "Bearer sidecar-secret")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 with token, got %d", rr.Code)
	}

	// Health stays public.
	rr = serve(s, "GET", "/health")
	if rr.Code != http.StatusOK {
		t.Errorf("expected public health endpoint, got %d", rr.Code)
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]string{"key": "value"})

	if rr.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, http.StatusBadRequest, "test error")

	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != "test error" {
		t.Errorf("expected error 'test error', got %q", resp.Error)
	}
}

func TestServer_AllowedOrigins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = discardLogger()
	cfg.AllowedOrigins = ParseOrigins("http://localhost:3000")
	s := NewServer(cfg, &mockInstallationsService{}, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected CORS header for configured origin, got %q", got)
	}

	// Without configured origins the middleware is not installed.
	s = newTestServer(&mockInstallationsService{}, nil)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS header, got %q", got)
	}
}
