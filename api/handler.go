// Package api exposes the coordination operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openjournal/peerflow/coordination"
	"github.com/openjournal/peerflow/matcher"
	"github.com/openjournal/peerflow/metrics"
)

// maxBodySize limits request bodies to prevent DoS.
const maxBodySize = 1 << 20 // 1 MB

// Coordinator is the surface the handler needs from the scheduler.
type Coordinator interface {
	Initiate(ctx context.Context, ms coordination.ManuscriptProfile, k int, weights *matcher.Weights) (string, error)
	GetStatus(ctx context.Context, manuscriptID string) (*coordination.Context, error)
	SubmitReviewerResponse(ctx context.Context, manuscriptID, reviewerID string, accepted bool) error
	SubmitReview(ctx context.Context, manuscriptID, reviewerID string) error
	Decide(ctx context.Context, manuscriptID string) error
	Cancel(ctx context.Context, manuscriptID, reason string) error
	Metrics() metrics.Snapshot
}

// Handler provides the coordination REST endpoints.
type Handler struct {
	coord  Coordinator
	gather prometheus.Gatherer
	logger *slog.Logger
}

// NewHandler creates the HTTP handler. gatherer may be nil to skip the
// prometheus endpoint.
func NewHandler(coord Coordinator, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{coord: coord, gather: gatherer, logger: logger}
}

// RegisterHTTPHandlers registers the coordination API endpoints.
// The prefix should be "/coordinations" (without trailing slash).
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimSuffix(prefix, "/")

	// POST /coordinations - Start coordinating a manuscript
	mux.HandleFunc("POST "+prefix, h.handleInitiate)

	// GET /coordinations/{id} - Read one coordination, archive included
	mux.HandleFunc("GET "+prefix+"/{id}", h.handleStatus)

	// POST /coordinations/{id}/response - Reviewer accepts or declines
	mux.HandleFunc("POST "+prefix+"/{id}/response", h.handleResponse)

	// POST /coordinations/{id}/review - Reviewer submits their review
	mux.HandleFunc("POST "+prefix+"/{id}/review", h.handleReview)

	// POST /coordinations/{id}/decision - Editorial decision recorded
	mux.HandleFunc("POST "+prefix+"/{id}/decision", h.handleDecision)

	// DELETE /coordinations/{id} - Cancel a coordination
	mux.HandleFunc("DELETE "+prefix+"/{id}", h.handleCancel)

	// GET /metrics/coordination - Aggregate coordination metrics
	mux.HandleFunc("GET /metrics/coordination", h.handleMetrics)

	if h.gather != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gather, promhttp.HandlerOpts{}))
	}
}

// InitiateRequest is the request body for POST /coordinations.
type InitiateRequest struct {
	Manuscript coordination.ManuscriptProfile `json:"manuscript"`
	Reviewers  int                            `json:"reviewers"`
	Weights    *matcher.Weights               `json:"weights,omitempty"`
}

// InitiateResponse is the response for POST /coordinations.
type InitiateResponse struct {
	CoordinationID string `json:"coordination_id"`
}

// ReviewerResponseRequest is the body for the invitation response
// endpoint.
type ReviewerResponseRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Response   string `json:"response"`
}

// ReviewRequest is the body for the review submission endpoint.
type ReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

// CancelRequest is the optional body for DELETE.
type CancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	id, err := h.coord.Initiate(r.Context(), req.Manuscript, req.Reviewers, req.Weights)
	if err != nil {
		h.writeCoordinationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, InitiateResponse{CoordinationID: id})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.coord.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeCoordinationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleResponse(w http.ResponseWriter, r *http.Request) {
	var req ReviewerResponseRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	var accepted bool
	switch req.Response {
	case "accept":
		accepted = true
	case "decline":
		accepted = false
	default:
		h.writeError(w, http.StatusBadRequest, "response must be accept or decline")
		return
	}

	if err := h.coord.SubmitReviewerResponse(r.Context(), r.PathValue("id"), req.ReviewerID, accepted); err != nil {
		h.writeCoordinationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.coord.SubmitReview(r.Context(), r.PathValue("id"), req.ReviewerID); err != nil {
		h.writeCoordinationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Decide(r.Context(), r.PathValue("id")); err != nil {
		h.writeCoordinationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength > 0 {
		if !h.decodeBody(w, r, &req) {
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled via API"
	}

	if err := h.coord.Cancel(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		h.writeCoordinationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.coord.Metrics())
}

// decodeBody reads a bounded JSON body, reporting false after writing
// the error response.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeCoordinationError maps domain errors onto HTTP statuses.
func (h *Handler) writeCoordinationError(w http.ResponseWriter, err error) {
	status := coordination.HTTPStatus(err)
	if status == http.StatusServiceUnavailable {
		// ConcurrencyConflictError is retryable.
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		var dispatch *coordination.ExternalDispatchError
		if errors.As(err, &dispatch) || status == http.StatusInternalServerError {
			h.logger.Error("coordination operation failed", "error", err)
		}
	}
	h.writeError(w, status, err.Error())
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to write JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
