package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/leadflow/pkg/logger"
)

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	Rank(ctx context.Context, leadID string) (Entry, error)
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps RankDependencies
	log  logger.Logger
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies) *RankHandler {
	return &RankHandler{deps: deps, log: logger.NewNop()}
}

// HandleGetRank handles GET /api/leaderboard/{id}.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.Rank(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(r.Context(), h.log, w, "api.get_rank", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
