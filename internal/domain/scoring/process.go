package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/pkg/logger"
	"github.com/okian/leadflow/pkg/metrics"
)

// Batch row columns.
const (
	ColumnLeadID    = "leadId"
	ColumnType      = "type"
	ColumnEventID   = "eventId"
	ColumnTimestamp = "timestamp"
	ColumnSource    = "source"

	batchSource = "batch_upload"
	// rowSourceKey holds a row's own source column, since "source" marks
	// the ingestion path.
	rowSourceKey = "row_source"
)

// timestampLayouts are tried in order for the batch timestamp column.
var timestampLayouts = []string{time.RFC3339, time.DateTime, time.DateOnly}

const msgDuplicate = "Duplicate event"

// ProcessEvent ingests one event. A duplicate event id is not an error: it
// returns StatusSkipped without side effects. An unknown lead returns
// ErrLeadNotFound before anything is written.
//
// If recalculation fails after the append, the event stays in the log with
// Processed=false and the error is returned; a later replay repairs it.
func (e *Engine) ProcessEvent(ctx context.Context, in model.EventInput) (model.ProcessResult, error) {
	return e.processEvent(ctx, in, "api")
}

func (e *Engine) processEvent(ctx context.Context, in model.EventInput, source string) (model.ProcessResult, error) {
	in.LeadID, in.Type = strings.TrimSpace(in.LeadID), strings.TrimSpace(in.Type)
	if in.LeadID == "" || in.Type == "" {
		metrics.RecordEventRejected("validation")
		return model.ProcessResult{}, fmt.Errorf("%w: leadId and type are required", ErrValidation)
	}
	if in.EventID = strings.TrimSpace(in.EventID); in.EventID == "" {
		in.EventID = e.newEventID()
	}

	dup, err := e.isDuplicate(ctx, in.EventID)
	if err != nil {
		return model.ProcessResult{}, err
	}
	if dup {
		return e.skipped(ctx, in.EventID), nil
	}

	if _, err := e.store.GetLead(ctx, in.LeadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.RecordEventRejected("lead_not_found")
			return model.ProcessResult{}, fmt.Errorf("%w: %s", ErrLeadNotFound, in.LeadID)
		}
		return model.ProcessResult{}, fmt.Errorf("load lead %s: %w", in.LeadID, err)
	}

	now := e.now().UTC()
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}
	ev := model.Event{
		EventID:    in.EventID,
		LeadID:     in.LeadID,
		Type:       in.Type,
		Metadata:   in.Metadata,
		Timestamp:  ts.UTC(),
		ReceivedAt: now,
	}
	if _, err := e.store.AppendEvent(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			// Lost a race with a concurrent submission of the same id.
			e.dedupe.SeenAndRecord(ctx, in.EventID)
			return e.skipped(ctx, in.EventID), nil
		}
		return model.ProcessResult{}, fmt.Errorf("append event %s: %w", in.EventID, err)
	}
	e.dedupe.SeenAndRecord(ctx, in.EventID)
	metrics.RecordEventProcessed(source)

	if _, err := e.recalculate(ctx, in.LeadID, ReasonEvent, in.EventID); err != nil {
		e.log.Warn(ctx, "event logged but score not recalculated",
			logger.String("eventId", in.EventID), logger.String("leadId", in.LeadID), logger.Error(err))
		return model.ProcessResult{}, fmt.Errorf("recalculate after event %s: %w", in.EventID, err)
	}
	if err := e.store.MarkProcessed(ctx, in.EventID); err != nil {
		return model.ProcessResult{}, fmt.Errorf("mark event %s processed: %w", in.EventID, err)
	}

	return model.ProcessResult{Status: model.StatusProcessed, EventID: in.EventID}, nil
}

func (e *Engine) skipped(ctx context.Context, eventID string) model.ProcessResult {
	metrics.RecordEventDuplicate()
	e.log.Debug(ctx, "duplicate event skipped", logger.String("eventId", eventID))
	return model.ProcessResult{Status: model.StatusSkipped, EventID: eventID, Message: msgDuplicate}
}

// ProcessBatch ingests rows one by one. A failing row is recorded in the
// result and never aborts the batch; there is no atomicity across rows.
func (e *Engine) ProcessBatch(ctx context.Context, rows []model.Row) model.BatchResult {
	res := model.BatchResult{Total: len(rows), Errors: []model.RowError{}}

	for i, row := range rows {
		fail := func(msg string) {
			metrics.RecordBatchRow("failed")
			res.Errors = append(res.Errors, model.RowError{Index: i, Row: row, Error: msg})
		}

		if err := ctx.Err(); err != nil {
			fail(err.Error())
			continue
		}

		in, err := rowToInput(row)
		if err != nil {
			fail(err.Error())
			continue
		}

		out, err := e.processEvent(ctx, in, "batch")
		switch {
		case err != nil:
			fail(err.Error())
		case out.Status == model.StatusSkipped:
			metrics.RecordBatchRow("skipped")
			res.Skipped++
		default:
			metrics.RecordBatchRow("processed")
			res.Processed++
		}
	}

	e.log.Info(ctx, "batch processed",
		logger.Int("total", res.Total), logger.Int("processed", res.Processed),
		logger.Int("skipped", res.Skipped), logger.Int("failed", len(res.Errors)))
	return res
}

// rowToInput maps a row onto an event. Columns other than the known ones
// are kept as metadata, a "source" column under row_source.
func rowToInput(row model.Row) (model.EventInput, error) {
	leadID := strings.TrimSpace(row[ColumnLeadID])
	typ := strings.TrimSpace(row[ColumnType])
	if leadID == "" || typ == "" {
		return model.EventInput{}, errors.New("Missing leadId or type") //nolint:staticcheck // user-facing row message
	}

	in := model.EventInput{
		EventID:  strings.TrimSpace(row[ColumnEventID]),
		LeadID:   leadID,
		Type:     typ,
		Metadata: map[string]any{"source": batchSource},
	}
	if raw := strings.TrimSpace(row[ColumnTimestamp]); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return model.EventInput{}, err
		}
		in.Timestamp = ts
	}

	for k, v := range row {
		switch k {
		case "", ColumnLeadID, ColumnType, ColumnEventID, ColumnTimestamp:
			continue
		case ColumnSource:
			if v != "" {
				in.Metadata[rowSourceKey] = v
			}
			continue
		}
		in.Metadata[k] = v
	}
	return in, nil
}

// parseTimestamp accepts RFC3339 and plain dates or date-times, the latter
// read as UTC.
func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: want RFC3339 or YYYY-MM-DD", raw)
}
