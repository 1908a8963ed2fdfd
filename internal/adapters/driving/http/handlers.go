package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error  string `json:"error" example:"installation registration was rejected"`
	Status string `json:"status,omitempty" example:"BAD_CONFIG"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the sidecar
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Returns the readiness status of the sidecar (checks the entry store)
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse  "Entry store unreachable"
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("entry store not ready", "error", err)
			writeError(w, http.StatusServiceUnavailable, "entry store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current sidecar version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Installation endpoints

// handleGetID godoc
// @Summary      Get installation id
// @Description  Returns the FID of this app instance, generating one if needed
// @Tags         Installations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  driving.IDResponse
// @Failure      401  {object}  ErrorResponse  "Missing or invalid token"
// @Failure      500  {object}  ErrorResponse  "Entry store failure"
// @Router       /v1/id [get]
func (s *Server) handleGetID(w http.ResponseWriter, r *http.Request) {
	fid, err := s.installations.GetID(r.Context()).Await(r.Context())
	if err != nil {
		s.writeServiceError(w, "get id", err)
		return
	}
	writeJSON(w, http.StatusOK, driving.IDResponse{FID: fid})
}

// handleGetToken godoc
// @Summary      Get auth token
// @Description  Returns a valid auth token, registering the installation first when needed
// @Tags         Installations
// @Produce      json
// @Security     BearerAuth
// @Param        force  query     bool  false  "Always fetch a new token"
// @Success      200    {object}  driving.TokenResponse
// @Failure      400    {object}  ErrorResponse  "Invalid force parameter"
// @Failure      401    {object}  ErrorResponse  "Missing or invalid token"
// @Failure      429    {object}  ErrorResponse  "Backend throttled the request"
// @Failure      502    {object}  ErrorResponse  "Backend rejected the configuration"
// @Failure      503    {object}  ErrorResponse  "Backend unavailable or unreachable"
// @Router       /v1/token [get]
func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force parameter")
			return
		}
		force = parsed
	}

	token, err := s.installations.GetToken(r.Context(), force).Await(r.Context())
	if err != nil {
		s.writeServiceError(w, "get token", err)
		return
	}
	writeJSON(w, http.StatusOK, driving.NewTokenResponse(token))
}

// handleDeleteInstallation godoc
// @Summary      Delete installation
// @Description  Deletes the installation from the backend and clears the local entry
// @Tags         Installations
// @Security     BearerAuth
// @Success      204  "Deleted"
// @Failure      401  {object}  ErrorResponse  "Missing or invalid token"
// @Failure      502  {object}  ErrorResponse  "Backend rejected the request"
// @Failure      503  {object}  ErrorResponse  "Backend unreachable"
// @Router       /v1/installation [delete]
func (s *Server) handleDeleteInstallation(w http.ResponseWriter, r *http.Request) {
	if _, err := s.installations.Delete(r.Context()).Await(r.Context()); err != nil {
		s.writeServiceError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps a lifecycle failure onto an HTTP status.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	if status, ok := domain.StatusOf(err); ok {
		code := http.StatusServiceUnavailable
		switch status {
		case domain.StatusBadConfig:
			code = http.StatusBadGateway
		case domain.StatusTooManyRequests:
			code = http.StatusTooManyRequests
		}
		s.logger.Warn("installations request rejected", "op", op, "status", status, "error", err)
		writeJSON(w, code, ErrorResponse{Error: err.Error(), Status: string(status)})
		return
	}

	switch {
	case domain.IsTransport(err):
		s.logger.Warn("backend unreachable", "op", op, "error", err)
		writeError(w, http.StatusServiceUnavailable, "registration backend unreachable")
	case errors.Is(err, domain.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "installations service closed")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		s.logger.Error("installations request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
