package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/pkg/logger"
)

// LeadDependencies defines the interface for lead operations.
type LeadDependencies interface {
	RegisterLead(ctx context.Context, name, email, status string) (model.Lead, error)
	GetLead(ctx context.Context, id string) (model.Lead, error)
	ListLeads(ctx context.Context, limit int) ([]model.Lead, error)
	History(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error)
	RecalculateScore(ctx context.Context, leadID string) (int64, error)
}

// LeadsHandler handles lead requests.
type LeadsHandler struct {
	deps LeadDependencies
	log  logger.Logger
}

// NewLeadsHandler creates a new leads handler.
func NewLeadsHandler(deps LeadDependencies) *LeadsHandler {
	return &LeadsHandler{deps: deps, log: logger.NewNop()}
}

type createLeadRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

type recalculateResponse struct {
	LeadID string `json:"leadId"`
	Score  int64  `json:"score"`
}

// HandleList handles GET /api/leads.
func (h *LeadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, "limit", 0, 0)
	if err != nil {
		writeFailure(r.Context(), h.log, w, "api.list_leads", err)
		return
	}
	leads, err := h.deps.ListLeads(r.Context(), limit)
	if err != nil {
		writeFailure(r.Context(), h.log, w, "api.list_leads", err)
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	writeJSON(w, http.StatusOK, leads)
}

// HandleCreate handles POST /api/leads.
func (h *LeadsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_lead"
	var req createLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(r.Context(), h.log, w, op, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	lead, err := h.deps.RegisterLead(r.Context(), req.Name, req.Email, req.Status)
	if err != nil {
		writeFailure(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

// HandleGet handles GET /api/leads/{id}.
func (h *LeadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	lead, err := h.deps.GetLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(r.Context(), h.log, w, "api.get_lead", err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// HandleHistory handles GET /api/leads/{id}/history.
func (h *LeadsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.lead_history"
	id := chi.URLParam(r, "id")
	limit, err := queryLimit(r, "limit", 0, 0)
	if err != nil {
		writeFailure(r.Context(), h.log, w, op, err)
		return
	}
	if _, err := h.deps.GetLead(r.Context(), id); err != nil {
		writeFailure(r.Context(), h.log, w, op, err)
		return
	}
	history, err := h.deps.History(r.Context(), id, limit)
	if err != nil {
		writeFailure(r.Context(), h.log, w, op, err)
		return
	}
	if history == nil {
		history = []model.ScoreHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

// HandleRecalculate handles POST /api/leads/{id}/recalculate.
func (h *LeadsHandler) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	score, err := h.deps.RecalculateScore(r.Context(), id)
	if err != nil {
		writeFailure(r.Context(), h.log, w, "api.recalculate_lead", err)
		return
	}
	writeJSON(w, http.StatusOK, recalculateResponse{LeadID: id, Score: score})
}
