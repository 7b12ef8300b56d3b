// Package api wires the HTTP surface of the lead scoring service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/okian/leadflow/internal/domain/types"
	"github.com/okian/leadflow/pkg/logger"
)

const (
	defaultMaxLeaderboardLimit = 100
	defaultMaxUploadBytes      = 10 << 20
	defaultEventsLimit         = 100
	maxEventsLimit             = 1000
)

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Dependencies bundles everything the handlers call. Each handler only
// sees the narrow interface it needs.
type Dependencies interface {
	LeadDependencies
	EventDependencies
	RuleDependencies
	LeaderboardDependencies
	RankDependencies
}

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) map[string]any
}

// Server wires HTTP routes for the business API.
type Server struct {
	leads       *LeadsHandler
	events      *EventsHandler
	rules       *RulesHandler
	leaderboard *LeaderboardHandler
	rank        *RankHandler
	health      *HealthHandler
	stats       *StatsHandler

	notifications http.Handler
	docs          http.Handler

	ingestLimiter  *rate.Limiter
	maxLimit       int
	maxUploadBytes int64
	corsOrigins    []string
	log            logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, stats StatsProvider, opts ...Option) *Server {
	s := &Server{
		maxLimit:       defaultMaxLeaderboardLimit,
		maxUploadBytes: defaultMaxUploadBytes,
		corsOrigins:    []string{"*"},
		log:            logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.leads = NewLeadsHandler(deps)
	s.events = NewEventsHandler(deps, s.maxUploadBytes)
	s.rules = NewRulesHandler(deps)
	s.leaderboard = NewLeaderboardHandler(deps, s.maxLimit)
	s.rank = NewRankHandler(deps)
	s.health = NewHealthHandler()
	s.stats = NewStatsHandler(stats)

	s.leads.log = s.log
	s.events.log = s.log
	s.rules.log = s.log
	s.leaderboard.log = s.log
	s.rank.log = s.log
	return s
}

// Routes returns the router serving every endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.health.HandleHealth)
	r.Get("/metrics", s.health.HandleHealth)
	r.Get("/stats", s.stats.HandleStats)
	if s.notifications != nil {
		r.Handle("/ws", s.notifications)
	}
	if s.docs != nil {
		r.Handle("/api-docs", s.docs)
		r.Handle("/openapi.yaml", s.docs)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/leads", func(r chi.Router) {
			r.Get("/", s.leads.HandleList)
			r.Post("/", s.leads.HandleCreate)
			r.Get("/{id}", s.leads.HandleGet)
			r.Get("/{id}/history", s.leads.HandleHistory)
			r.Post("/{id}/recalculate", s.leads.HandleRecalculate)
		})

		r.Get("/leaderboard", s.leaderboard.HandleGetLeaderboard)
		r.Get("/leaderboard/{id}", s.rank.HandleGetRank)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.events.HandleList)
			r.With(s.limitIngest).Post("/", s.events.HandlePostEvent)
			r.With(s.limitIngest).Post("/batch", s.events.HandleBatch)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.rules.HandleList)
			r.Put("/{type}", s.rules.HandleUpsert)
			r.Post("/recalculate", s.rules.HandleRecalculateAll)
		})
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure logs unexpected errors and writes the mapped status.
func writeFailure(ctx context.Context, log logger.Logger, w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
	}
	writeError(w, status, code, err)
}

// queryLimit parses an optional positive integer query parameter.
func queryLimit(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrBadRequest, name)
	}
	if max > 0 && n > max {
		return 0, fmt.Errorf("%w: %s must be at most %d", ErrBadRequest, name, max)
	}
	return n, nil
}
