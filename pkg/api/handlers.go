package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/appforge/sandboxd/pkg/sandbox"
)

// errorResponse is the JSON body for every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// acquireRequest is the body of POST /api/v1/sandboxes/acquire.
type acquireRequest struct {
	UserID    string            `json:"user_id"`
	ProjectID string            `json:"project_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// defaultPreviewPort is the port the returned host proxies to.
const defaultPreviewPort = 3000

// acquireResponse describes the sandbox a tenant got back.
type acquireResponse struct {
	SandboxID string `json:"sandbox_id"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	Host      string `json:"host"`
}

type toolRequest struct {
	Params map[string]interface{} `json:"params"`
}

type toolResponse struct {
	Text     string                 `json:"text"`
	IsError  bool                   `json:"is_error"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type toolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"schema"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps the lifecycle error taxonomy onto HTTP statuses:
// invalid tenant 400, quota 429, transient 503, everything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var invalid *sandbox.InvalidTenantError
	var exhausted *sandbox.ResourceExhaustedError
	var transient *sandbox.TransientSandboxError

	switch {
	case errors.As(err, &invalid):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_tenant"})
	case errors.As(err, &exhausted):
		s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error(), Code: "resource_exhausted"})
	case errors.As(err, &transient):
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: "transient"})
	default:
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "internal"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// A dead cache degrades the service but does not take it down, so
	// the endpoint stays 200 for load balancer checks.
	status := "ok"
	if err := s.manager.Healthy(r.Context()); err != nil {
		status = "degraded"
		s.logger.Warn().Err(err).Msg("Health check degraded")
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "bad_request"})
		return
	}

	var opts []sandbox.AcquireOption
	if len(req.Metadata) > 0 {
		opts = append(opts, sandbox.WithMetadata(req.Metadata))
	}
	if len(req.Env) > 0 {
		opts = append(opts, sandbox.WithEnv(req.Env))
	}

	h, err := s.manager.Acquire(r.Context(), req.UserID, req.ProjectID, opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, acquireResponse{
		SandboxID: h.SandboxID(),
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Host:      h.Host(defaultPreviewPort),
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.manager.Release(r.Context(), vars["user_id"], vars["project_id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 1000", Code: "bad_request"})
			return
		}
		limit = n
	}

	journal := s.manager.Journal()
	if journal == nil {
		s.writeJSON(w, http.StatusOK, []sandbox.Event{})
		return
	}
	events, err := journal.Recent(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []sandbox.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	list := s.registry.ListTools()
	infos := make([]toolInfo, 0, len(list))
	for _, t := range list {
		infos = append(infos, toolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.registry.HasTool(name) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown tool: " + name, Code: "not_found"})
		return
	}

	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "bad_request"})
		return
	}

	result, err := s.registry.Execute(r.Context(), name, req.Params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toolResponse{
		Text:     result.Text,
		IsError:  result.IsError,
		Metadata: result.Metadata,
	})
}
