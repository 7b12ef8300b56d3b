package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/leadflow/internal/adapters/csvrows"
	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/pkg/logger"
	"github.com/okian/leadflow/pkg/metrics"
)

// EventDependencies defines the interface for event processing dependencies.
type EventDependencies interface {
	ProcessEvent(ctx context.Context, in model.EventInput) (model.ProcessResult, error)
	ProcessBatch(ctx context.Context, rows []model.Row) model.BatchResult
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps           EventDependencies
	maxUploadBytes int64
	log            logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, maxUploadBytes int64) *EventsHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &EventsHandler{deps: deps, maxUploadBytes: maxUploadBytes, log: logger.NewNop()}
}

// eventRequest mirrors the OpenAPI schema for POST /api/events.
type eventRequest struct {
	EventID   string         `json:"eventId"`
	LeadID    string         `json:"leadId"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp string         `json:"timestamp"`
}

func (e eventRequest) toInput() (model.EventInput, error) {
	in := model.EventInput{
		EventID:  strings.TrimSpace(e.EventID),
		LeadID:   strings.TrimSpace(e.LeadID),
		Type:     strings.TrimSpace(e.Type),
		Metadata: e.Metadata,
	}
	if in.LeadID == "" || in.Type == "" {
		return model.EventInput{}, fmt.Errorf("%w: leadId and type are required", ErrBadRequest)
	}
	if ts := strings.TrimSpace(e.Timestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return model.EventInput{}, fmt.Errorf("%w: invalid timestamp; must be RFC3339", ErrBadRequest)
		}
		in.Timestamp = parsed
	}
	return in, nil
}

// HandlePostEvent handles POST /api/events.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordEventRejected("bad_request")
		writeFailure(r.Context(), h.log, w, op, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	in, err := req.toInput()
	if err != nil {
		metrics.RecordEventRejected("bad_request")
		writeFailure(r.Context(), h.log, w, op, err)
		return
	}

	res, err := h.deps.ProcessEvent(r.Context(), in)
	if err != nil {
		writeFailure(r.Context(), h.log, w, op, err)
		return
	}
	status := http.StatusCreated
	if res.Status == model.StatusSkipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// HandleList handles GET /api/events.
func (h *EventsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_events"
	limit, err := queryLimit(r, "limit", defaultEventsLimit, maxEventsLimit)
	if err != nil {
		writeFailure(r.Context(), h.log, w, op, err)
		return
	}
	events, err := h.deps.ListEvents(r.Context(), model.EventFilter{
		LeadID: strings.TrimSpace(r.URL.Query().Get("leadId")),
		Limit:  limit,
	})
	if err != nil {
		writeFailure(r.Context(), h.log, w, op, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleBatch handles POST /api/events/batch with a multipart "file" CSV.
func (h *EventsHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.batch_events"
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeFailure(r.Context(), h.log, w, op, fmt.Errorf("%w: file is required", ErrBadRequest))
		return
	}
	defer file.Close()

	rows, err := csvrows.Parse(file)
	if err != nil {
		writeFailure(r.Context(), h.log, w, op, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	result := h.deps.ProcessBatch(r.Context(), rows)
	h.log.Info(r.Context(), "batch processed",
		logger.Int("total", result.Total),
		logger.Int("processed", result.Processed),
		logger.Int("skipped", result.Skipped),
		logger.Int("errors", len(result.Errors)),
	)
	writeJSON(w, http.StatusOK, result)
}
