// Package emulator is a local stand-in for the installations REST API.
// It keeps registrations in memory, issues HS256 auth tokens and stores only
// bcrypt hashes of refresh tokens.
package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/installations/internal/adapters/driven/fid"
	"github.com/custodia-labs/installations/internal/clock"
	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

const (
	// DefaultTokenTTL matches the validity of production auth tokens.
	DefaultTokenTTL = 7 * 24 * time.Hour

	authVersion = "FIS_v2"
)

// Config holds emulator configuration.
type Config struct {
	// SigningSecret is the HS256 key of issued auth tokens. Required.
	SigningSecret string

	// APIKeys lists accepted API keys. Empty accepts any non-empty key.
	APIKeys []string

	// TokenTTL defaults to DefaultTokenTTL.
	TokenTTL time.Duration

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int

	Clock  driven.Clock
	FIDs   driven.FIDGenerator
	Logger *slog.Logger
}

type installation struct {
	projectID   string
	appID       string
	fid         string
	refreshHash string
	createdAt   time.Time
}

// Emulator serves create, generate-token and delete calls.
type Emulator struct {
	tokens   *tokenIssuer
	apiKeys  map[string]bool
	tokenTTL time.Duration
	clock    driven.Clock
	fids     driven.FIDGenerator
	logger   *slog.Logger
	mux      *http.ServeMux

	mu            sync.Mutex
	installations map[string]*installation
	injected      []int
}

// New creates an emulator.
func New(cfg Config) (*Emulator, error) {
	tokens, err := newTokenIssuer(cfg.SigningSecret, cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	e := &Emulator{
		tokens:        tokens,
		apiKeys:       make(map[string]bool, len(cfg.APIKeys)),
		tokenTTL:      cfg.TokenTTL,
		clock:         cfg.Clock,
		fids:          cfg.FIDs,
		logger:        cfg.Logger,
		mux:           http.NewServeMux(),
		installations: make(map[string]*installation),
	}
	for _, k := range cfg.APIKeys {
		e.apiKeys[k] = true
	}
	if e.tokenTTL <= 0 {
		e.tokenTTL = DefaultTokenTTL
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.fids == nil {
		e.fids = fid.NewGenerator()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.mux.HandleFunc("POST /v1/projects/{project}/installations", e.handleCreate)
	e.mux.HandleFunc("POST /v1/projects/{project}/installations/{fid}/authTokens:generate", e.handleGenerate)
	e.mux.HandleFunc("DELETE /v1/projects/{project}/installations/{fid}", e.handleDelete)
	return e, nil
}

// ServeHTTP implements http.Handler. Clients use "<host>/v1" as base URL.
func (e *Emulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if status, ok := e.popInjected(); ok {
		writeFault(w, status, "injected failure")
		return
	}
	e.mux.ServeHTTP(w, r)
}

// InjectStatus makes the next n requests fail with status.
func (e *Emulator) InjectStatus(status, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < n; i++ {
		e.injected = append(e.injected, status)
	}
}

func (e *Emulator) popInjected() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.injected) == 0 {
		return 0, false
	}
	status := e.injected[0]
	e.injected = e.injected[1:]
	return status, true
}

// Registered reports whether fid is registered in projectID.
func (e *Emulator) Registered(projectID, fid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.installations[key(projectID, fid)]
	return ok
}

// Count returns the number of registered installations.
func (e *Emulator) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.installations)
}

// VerifyAuthToken validates a token issued by this emulator.
func (e *Emulator) VerifyAuthToken(token string) (*AuthClaims, error) {
	return e.tokens.parse(token, e.clock.Now())
}

// ListenAndServe serves on addr until ctx is cancelled.
func (e *Emulator) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("starting installations emulator", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type createRequest struct {
	FID         string `json:"fid"`
	AppID       string `json:"appId"`
	AuthVersion string `json:"authVersion"`
	SDKVersion  string `json:"sdkVersion"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn string `json:"expiresIn"`
}

type createResponse struct {
	Name         string        `json:"name"`
	FID          string        `json:"fid"`
	RefreshToken string        `json:"refreshToken"`
	AuthToken    tokenResponse `json:"authToken"`
}

func (e *Emulator) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !e.checkAPIKey(w, r) {
		return
	}
	projectID := r.PathValue("project")

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AppID == "" || !strings.Contains(req.AppID, ":") {
		writeFault(w, http.StatusBadRequest, "invalid app id")
		return
	}
	if req.AuthVersion != authVersion {
		writeFault(w, http.StatusBadRequest, "unsupported auth version")
		return
	}

	fid := req.FID
	if !domain.IsValidFID(fid) {
		replacement := e.fids.CreateRandomFID()
		e.logger.Info("replacing invalid fid", "fid", fid, "replacement", replacement)
		fid = replacement
	}

	refreshToken := newRefreshToken()
	hash, err := e.tokens.hashRefreshToken(refreshToken)
	if err != nil {
		writeFault(w, http.StatusInternalServerError, "failed to hash refresh token")
		return
	}

	now := e.clock.Now()
	authToken, err := e.tokens.issue(projectID, req.AppID, fid, now, e.tokenTTL)
	if err != nil {
		writeFault(w, http.StatusInternalServerError, "failed to sign auth token")
		return
	}

	e.mu.Lock()
	e.installations[key(projectID, fid)] = &installation{
		projectID:   projectID,
		appID:       req.AppID,
		fid:         fid,
		refreshHash: hash,
		createdAt:   now,
	}
	e.mu.Unlock()

	e.logger.Debug("installation registered", "project", projectID, "fid", fid)

	writeJSON(w, http.StatusOK, createResponse{
		Name:         fmt.Sprintf("projects/%s/installations/%s", projectID, fid),
		FID:          fid,
		RefreshToken: refreshToken,
		AuthToken:    tokenResponse{Token: authToken, ExpiresIn: e.expiresIn()},
	})
}

func (e *Emulator) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !e.checkAPIKey(w, r) {
		return
	}
	inst, ok := e.authenticate(w, r)
	if !ok {
		return
	}

	authToken, err := e.tokens.issue(inst.projectID, inst.appID, inst.fid, e.clock.Now(), e.tokenTTL)
	if err != nil {
		writeFault(w, http.StatusInternalServerError, "failed to sign auth token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: authToken, ExpiresIn: e.expiresIn()})
}

func (e *Emulator) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !e.checkAPIKey(w, r) {
		return
	}
	inst, ok := e.authenticate(w, r)
	if !ok {
		return
	}

	e.mu.Lock()
	delete(e.installations, key(inst.projectID, inst.fid))
	e.mu.Unlock()

	e.logger.Debug("installation deleted", "project", inst.projectID, "fid", inst.fid)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (e *Emulator) checkAPIKey(w http.ResponseWriter, r *http.Request) bool {
	apiKey := r.Header.Get("x-goog-api-key")
	if apiKey == "" || (len(e.apiKeys) > 0 && !e.apiKeys[apiKey]) {
		writeFault(w, http.StatusForbidden, "API key not valid")
		return false
	}
	return true
}

// authenticate resolves the installation addressed by the path and checks its refresh token.
func (e *Emulator) authenticate(w http.ResponseWriter, r *http.Request) (*installation, bool) {
	projectID, fid := r.PathValue("project"), r.PathValue("fid")

	e.mu.Lock()
	inst, ok := e.installations[key(projectID, fid)]
	e.mu.Unlock()
	if !ok {
		writeFault(w, http.StatusNotFound, "installation not found")
		return nil, false
	}

	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || scheme != authVersion || !e.tokens.verifyRefreshToken(strings.TrimSpace(token), inst.refreshHash) {
		writeFault(w, http.StatusUnauthorized, "invalid refresh token")
		return nil, false
	}
	return inst, true
}

func (e *Emulator) expiresIn() string {
	return fmt.Sprintf("%ds", int64(e.tokenTTL/time.Second))
}

func key(projectID, fid string) string {
	return projectID + "/" + fid
}

type fault struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func writeFault(w http.ResponseWriter, status int, message string) {
	var f fault
	f.Error.Code = status
	f.Error.Message = message
	f.Error.Status = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	writeJSON(w, status, f)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
