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

// RuleDependencies defines the interface for scoring rule operations.
type RuleDependencies interface {
	ListRules(ctx context.Context) ([]model.ScoringRule, error)
	UpsertRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error)
	// RecalculateAll enqueues a recalculation for every lead and returns
	// the number of jobs enqueued.
	RecalculateAll(ctx context.Context) (int, error)
}

// RulesHandler handles scoring rule requests.
type RulesHandler struct {
	deps RuleDependencies
	log  logger.Logger
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(deps RuleDependencies) *RulesHandler {
	return &RulesHandler{deps: deps, log: logger.NewNop()}
}

type upsertRuleRequest struct {
	Points   *int64 `json:"points"`
	IsActive *bool  `json:"isActive"`
}

type recalculateAllResponse struct {
	Enqueued int `json:"enqueued"`
}

// HandleList handles GET /api/rules.
func (h *RulesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	rules, err := h.deps.ListRules(r.Context())
	if err != nil {
		writeFailure(r.Context(), h.log, w, "api.list_rules", err)
		return
	}
	if rules == nil {
		rules = []model.ScoringRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

// HandleUpsert handles PUT /api/rules/{type}. isActive defaults to true.
func (h *RulesHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	const op = "api.upsert_rule"
	var req upsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(r.Context(), h.log, w, op, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if req.Points == nil {
		writeFailure(r.Context(), h.log, w, op, fmt.Errorf("%w: points is required", ErrBadRequest))
		return
	}
	rule := model.ScoringRule{EventType: chi.URLParam(r, "type"), Points: *req.Points, IsActive: true}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	saved, err := h.deps.UpsertRule(r.Context(), rule)
	if err != nil {
		writeFailure(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleRecalculateAll handles POST /api/rules/recalculate.
func (h *RulesHandler) HandleRecalculateAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.RecalculateAll(r.Context())
	if err != nil {
		writeFailure(r.Context(), h.log, w, "api.recalculate_all", err)
		return
	}
	writeJSON(w, http.StatusAccepted, recalculateAllResponse{Enqueued: n})
}
