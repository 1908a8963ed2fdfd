package fis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Ensure Client implements ServiceClient
var _ driven.ServiceClient = (*Client)(nil)

const (
	// DefaultBaseURL is the production endpoint of the installations REST API.
	DefaultBaseURL = "https://firebaseinstallations.googleapis.com/v1"

	// AuthVersion is the auth scheme announced on create and used in Authorization headers.
	AuthVersion = "FIS_v2"

	defaultSDKVersion = "go:installations/1.0.0"

	apiKeyHeader = "x-goog-api-key"
)

// Config holds configuration for the client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	SDKVersion string
	// MaxRetries is how often a 5xx answer is retried. Defaults to 1.
	MaxRetries int
	Logger     *slog.Logger
}

// Client talks to the installations REST API over HTTP+JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sdkVersion string
	maxRetries int
	logger     *slog.Logger
}

// NewClient creates a new installations API client.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	sdkVersion := cfg.SDKVersion
	if sdkVersion == "" {
		sdkVersion = defaultSDKVersion
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		sdkVersion: sdkVersion,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

type createRequest struct {
	FID         string `json:"fid"`
	AppID       string `json:"appId"`
	AuthVersion string `json:"authVersion"`
	SDKVersion  string `json:"sdkVersion"`
}

type createResponse struct {
	Name         string        `json:"name"`
	FID          string        `json:"fid"`
	RefreshToken string        `json:"refreshToken"`
	AuthToken    tokenResponse `json:"authToken"`
}

type generateRequest struct {
	Installation struct {
		SDKVersion string `json:"sdkVersion"`
	} `json:"installation"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn string `json:"expiresIn"`
}

// CreateInstallation registers fid.
// 2xx is OK; 429 fails with TOO_MANY_REQUESTS; 5xx is retried; any other answer is BAD_CONFIG.
func (c *Client) CreateInstallation(ctx context.Context, apiKey, fid, projectID, appID string) (*domain.InstallationResponse, error) {
	const op = "create installation"

	body, err := json.Marshal(createRequest{
		FID:         fid,
		AppID:       appID,
		AuthVersion: AuthVersion,
		SDKVersion:  c.sdkVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}

	path := fmt.Sprintf("/projects/%s/installations", url.PathEscape(projectID))
	resp, err := c.doRequest(ctx, op, http.MethodPost, path, apiKey, "", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case isSuccess(resp.StatusCode):
		var out createResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, domain.NewTransportError(op, fmt.Errorf("decode response: %w", err))
		}
		expiresIn, err := parseExpiresIn(out.AuthToken.ExpiresIn)
		if err != nil {
			return nil, domain.NewTransportError(op, err)
		}
		return &domain.InstallationResponse{
			ResponseCode: domain.ResponseOK,
			URIName:      out.Name,
			FID:          out.FID,
			RefreshToken: out.RefreshToken,
			AuthToken: domain.TokenResult{
				ResponseCode:  domain.ResponseOK,
				Token:         out.AuthToken.Token,
				ExpiresInSecs: expiresIn,
			},
		}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewError(domain.StatusTooManyRequests, "too many create requests", nil)

	default:
		c.logBadConfig(op, resp)
		return &domain.InstallationResponse{ResponseCode: domain.ResponseBadConfig}, nil
	}
}

// GenerateAuthToken asks for a new auth token of a registered fid.
// 401 and 404 mean the backend no longer knows the installation (AUTH_ERROR).
func (c *Client) GenerateAuthToken(ctx context.Context, apiKey, fid, projectID, refreshToken string) (*domain.TokenResult, error) {
	const op = "generate auth token"

	var req generateRequest
	req.Installation.SDKVersion = c.sdkVersion
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	path := fmt.Sprintf("/projects/%s/installations/%s/authTokens:generate", url.PathEscape(projectID), url.PathEscape(fid))
	resp, err := c.doRequest(ctx, op, http.MethodPost, path, apiKey, refreshToken, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case isSuccess(resp.StatusCode):
		var out tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, domain.NewTransportError(op, fmt.Errorf("decode response: %w", err))
		}
		expiresIn, err := parseExpiresIn(out.ExpiresIn)
		if err != nil {
			return nil, domain.NewTransportError(op, err)
		}
		return &domain.TokenResult{ResponseCode: domain.ResponseOK, Token: out.Token, ExpiresInSecs: expiresIn}, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
		return &domain.TokenResult{ResponseCode: domain.ResponseAuthError}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewError(domain.StatusTooManyRequests, "too many token requests", nil)

	default:
		c.logBadConfig(op, resp)
		return &domain.TokenResult{ResponseCode: domain.ResponseBadConfig}, nil
	}
}

// DeleteInstallation removes fid. An installation the backend does not know counts as deleted.
func (c *Client) DeleteInstallation(ctx context.Context, apiKey, fid, projectID, refreshToken string) error {
	const op = "delete installation"

	path := fmt.Sprintf("/projects/%s/installations/%s", url.PathEscape(projectID), url.PathEscape(fid))
	resp, err := c.doRequest(ctx, op, http.MethodDelete, path, apiKey, refreshToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case isSuccess(resp.StatusCode), resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewError(domain.StatusTooManyRequests, "too many delete requests", nil)
	default:
		c.logBadConfig(op, resp)
		return domain.NewError(domain.StatusBadConfig, fmt.Sprintf("delete rejected with status %d", resp.StatusCode), nil)
	}
}

// doRequest sends the request, retrying 5xx answers. The caller closes the returned body.
func (c *Client) doRequest(ctx context.Context, op, method, path, apiKey, refreshToken string, body []byte) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set(apiKeyHeader, apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if refreshToken != "" {
			req.Header.Set("Authorization", AuthVersion+" "+refreshToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, domain.NewTransportError(op, err)
		}

		if resp.StatusCode < 500 {
			return resp, nil
		}

		c.logger.Warn("installations backend returned a server error",
			"op", op,
			"status", resp.StatusCode,
			"attempt", attempt+1,
		)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	return nil, domain.NewError(domain.StatusUnavailable, "installations backend is unavailable, try again later", nil)
}

func (c *Client) logBadConfig(op string, resp *http.Response) {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.Error("installations backend rejected the request, check the api key, project id and app id",
		"op", op,
		"status", resp.StatusCode,
		"body", string(msg),
	)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// parseExpiresIn parses durations such as "604800s" into whole seconds.
func parseExpiresIn(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing expiresIn")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse expiresIn %q: %w", s, err)
	}
	return int64(d / time.Second), nil
}
