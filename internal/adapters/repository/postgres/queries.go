package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/model"
)

const (
	leadColumns    = `id, name, email, score, status, created_at, version`
	eventColumns   = `seq, event_id, lead_id, type, metadata, ts, received_at, processed`
	historyColumns = `id, lead_id, score_change, new_score, reason, ts, event_id, rules`

	uniqueViolation = "23505"
	emailConstraint = "leads_email_key"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// limitArg maps limit <= 0 to NULL, which postgres reads as no limit.
func limitArg(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}

func queryCreateLead(ctx context.Context, db executor, l model.Lead) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO leads (id, name, email, score, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.Name, l.Email, l.Score, string(l.Status), l.CreatedAt,
	)
	if isUniqueViolation(err, emailConstraint) {
		return repository.ErrDuplicateEmail
	}
	return err
}

func queryGetLead(ctx context.Context, db executor, id string) (model.Lead, error) {
	row := db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lead{}, fmt.Errorf("lead %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return model.Lead{}, fmt.Errorf("get lead %s: %w", id, err)
	}
	return l, nil
}

func queryListLeads(ctx context.Context, db executor, limit int) ([]model.Lead, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads ORDER BY score DESC, id ASC LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func queryLeadIDs(ctx context.Context, db executor) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM leads ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list lead ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func queryAppendEvent(ctx context.Context, db executor, ev model.Event) (model.Event, error) {
	meta, err := jsonbText(ev.Metadata)
	if err != nil {
		return model.Event{}, fmt.Errorf("encode metadata: %w", err)
	}
	err = db.QueryRowContext(ctx, `
		INSERT INTO events (event_id, lead_id, type, metadata, ts, received_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`,
		ev.EventID, ev.LeadID, ev.Type, meta, ev.Timestamp, ev.ReceivedAt, ev.Processed,
	).Scan(&ev.Seq)
	if isUniqueViolation(err, "") {
		return model.Event{}, fmt.Errorf("append event %s: %w", ev.EventID, repository.ErrDuplicateEvent)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("append event %s: %w", ev.EventID, err)
	}
	return ev, nil
}

func queryFindEvent(ctx context.Context, db executor, eventID string) (model.Event, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = $1`, eventID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("event %s: %w", eventID, repository.ErrNotFound)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("find event %s: %w", eventID, err)
	}
	return ev, nil
}

func queryEvents(ctx context.Context, db executor, query string, args ...any) ([]model.Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func queryLeadEvents(ctx context.Context, db executor, leadID string) ([]model.Event, error) {
	out, err := queryEvents(ctx, db,
		`SELECT `+eventColumns+` FROM events WHERE lead_id = $1 ORDER BY ts ASC, seq ASC`, leadID)
	if err != nil {
		return nil, fmt.Errorf("lead events %s: %w", leadID, err)
	}
	return out, nil
}

func queryListEvents(ctx context.Context, db executor, f model.EventFilter) ([]model.Event, error) {
	out, err := queryEvents(ctx, db, `
		SELECT `+eventColumns+` FROM events
		WHERE ($1 = '' OR lead_id = $1)
		ORDER BY seq DESC
		LIMIT $2`, f.LeadID, limitArg(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func queryUnprocessedEvents(ctx context.Context, db executor, cutoff time.Time, limit int) ([]model.Event, error) {
	out, err := queryEvents(ctx, db, `
		SELECT `+eventColumns+` FROM events
		WHERE NOT processed AND received_at < $1
		ORDER BY seq ASC
		LIMIT $2`, cutoff, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("unprocessed events: %w", err)
	}
	return out, nil
}

func queryMarkProcessed(ctx context.Context, db executor, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx,
		`UPDATE events SET processed = TRUE WHERE event_id = ANY($1)`, pq.Array(eventIDs))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func queryListRules(ctx context.Context, db executor) ([]model.ScoringRule, error) {
	rows, err := db.QueryContext(ctx, `SELECT event_type, points, is_active FROM scoring_rules ORDER BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []model.ScoringRule
	for rows.Next() {
		var r model.ScoringRule
		if err := rows.Scan(&r.EventType, &r.Points, &r.IsActive); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryActiveRules(ctx context.Context, db executor) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT event_type, points FROM scoring_rules WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("active rules: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			eventType string
			points    int64
		)
		if err := rows.Scan(&eventType, &points); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out[eventType] = points
	}
	return out, rows.Err()
}

func queryUpsertRule(ctx context.Context, db executor, r model.ScoringRule) (model.ScoringRule, error) {
	var out model.ScoringRule
	err := db.QueryRowContext(ctx, `
		INSERT INTO scoring_rules (event_type, points, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_type) DO UPDATE SET points = EXCLUDED.points, is_active = EXCLUDED.is_active
		RETURNING event_type, points, is_active`,
		r.EventType, r.Points, r.IsActive,
	).Scan(&out.EventType, &out.Points, &out.IsActive)
	if err != nil {
		return model.ScoringRule{}, fmt.Errorf("upsert rule %s: %w", r.EventType, err)
	}
	return out, nil
}

func queryInsertRuleIfAbsent(ctx context.Context, db executor, r model.ScoringRule) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO scoring_rules (event_type, points, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_type) DO NOTHING`,
		r.EventType, r.Points, r.IsActive,
	)
	if err != nil {
		return false, fmt.Errorf("insert rule %s: %w", r.EventType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func queryCompareAndSetScore(ctx context.Context, db executor, leadID string, version, score int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE leads SET score = $1, version = version + 1 WHERE id = $2 AND version = $3`, score, leadID, version)
	if err != nil {
		return fmt.Errorf("update score %s: %w", leadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, leadID).Scan(&exists); err != nil {
		return fmt.Errorf("check lead %s: %w", leadID, err)
	}
	if !exists {
		return fmt.Errorf("lead %s: %w", leadID, repository.ErrNotFound)
	}
	return fmt.Errorf("lead %s: version %d: %w", leadID, version, repository.ErrScoreConflict)
}

func queryInsertHistory(ctx context.Context, db executor, h model.ScoreHistoryEntry) (model.ScoreHistoryEntry, error) {
	rules, err := jsonbText(h.Rules)
	if err != nil {
		return model.ScoreHistoryEntry{}, fmt.Errorf("encode rules: %w", err)
	}
	err = db.QueryRowContext(ctx, `
		INSERT INTO score_history (lead_id, score_change, new_score, reason, ts, event_id, rules)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		h.LeadID, h.ScoreChange, h.NewScore, h.Reason, h.Timestamp, h.EventID, rules,
	).Scan(&h.ID)
	if err != nil {
		return model.ScoreHistoryEntry{}, fmt.Errorf("insert history for %s: %w", h.LeadID, err)
	}
	return h, nil
}

func queryHistory(ctx context.Context, db executor, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM score_history
		WHERE lead_id = $1
		ORDER BY id DESC
		LIMIT $2`, leadID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", leadID, err)
	}
	defer rows.Close()

	var out []model.ScoreHistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
