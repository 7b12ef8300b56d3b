package postgres

import (
	"encoding/json"

	"github.com/okian/leadflow/internal/domain/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (model.Lead, error) {
	var (
		l      model.Lead
		status string
	)
	if err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Score, &status, &l.CreatedAt, &l.Version); err != nil {
		return model.Lead{}, err
	}
	l.Status = model.LeadStatus(status)
	l.CreatedAt = l.CreatedAt.UTC()
	return l, nil
}

func scanEvent(row scannable) (model.Event, error) {
	var (
		ev   model.Event
		meta []byte
	)
	err := row.Scan(&ev.Seq, &ev.EventID, &ev.LeadID, &ev.Type, &meta, &ev.Timestamp, &ev.ReceivedAt, &ev.Processed)
	if err != nil {
		return model.Event{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return model.Event{}, err
		}
	}
	ev.Timestamp, ev.ReceivedAt = ev.Timestamp.UTC(), ev.ReceivedAt.UTC()
	return ev, nil
}

func scanHistory(row scannable) (model.ScoreHistoryEntry, error) {
	var (
		h     model.ScoreHistoryEntry
		rules []byte
	)
	err := row.Scan(&h.ID, &h.LeadID, &h.ScoreChange, &h.NewScore, &h.Reason, &h.Timestamp, &h.EventID, &rules)
	if err != nil {
		return model.ScoreHistoryEntry{}, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &h.Rules); err != nil {
			return model.ScoreHistoryEntry{}, err
		}
	}
	h.Timestamp = h.Timestamp.UTC()
	return h, nil
}

// jsonbText encodes v for a JSONB parameter. It is sent as text because
// lib/pq would encode []byte as bytea. A nil map is stored as '{}'.
func jsonbText[M ~map[string]V, V any](v M) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}
