package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/user/crawl-orchestrator/internal/delivery/http/response"
	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/internal/usecase"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	targets usecase.TargetStatusQuery
	checks  map[string]HealthCheck
	logger  *zap.Logger
}

func NewHandler(targets usecase.TargetStatusQuery, checks map[string]HealthCheck, logger *zap.Logger) *Handler {
	return &Handler{
		targets: targets,
		checks:  checks,
		logger:  logger,
	}
}

func (h *Handler) HandleListTargets(w http.ResponseWriter, r *http.Request) {
	state := entity.TargetState(r.URL.Query().Get("state"))
	switch state {
	case "", entity.StateIdle, entity.StateDue, entity.StateRunning:
	default:
		h.writeJSONError(w, "Unknown state filter", http.StatusBadRequest)
		return
	}

	statuses, err := h.targets.List(r.Context(), state)
	if err != nil {
		h.logger.Error("Failed to list targets", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, response.NewTargetListResponse(statuses))
}

func (h *Handler) HandleGetTargetStatus(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		h.writeJSONError(w, "URL query parameter is required", http.StatusBadRequest)
		return
	}

	if _, err := url.ParseRequestURI(rawURL); err != nil {
		h.writeJSONError(w, "Invalid URL format in query parameter", http.StatusBadRequest)
		return
	}

	status, err := h.targets.GetStatus(r.Context(), rawURL)
	if err != nil {
		if errors.Is(err, usecase.ErrTargetNotFound) {
			h.writeJSONError(w, "Target not found in the active schedule", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get target status", zap.String("url", rawURL), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, response.NewTargetStatusResponse(*status))
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := response.HealthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Error("Health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = "unhealthy"
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "healthy"
	}

	h.writeJSON(w, code, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
