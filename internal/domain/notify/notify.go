// Package notify defines the best-effort broadcast used to announce score
// changes. Notifications are a side channel: a lost message never means a
// lost state change, the score history ledger is the record.
package notify

import (
	"context"
	"errors"
)

// TopicScoreUpdate carries ScoreUpdate payloads.
const TopicScoreUpdate = "score_update"

// ScoreUpdate is published after a lead's score changed.
type ScoreUpdate struct {
	LeadID      string `json:"leadId"`
	NewScore    int64  `json:"newScore"`
	ScoreChange int64  `json:"scoreChange"`
}

// Publisher fans a payload out to the current subscribers of topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Noop discards every message.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, any) error { return nil }

// Fanout publishes to several publishers. Every publisher is tried; the
// returned error joins all failures.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
