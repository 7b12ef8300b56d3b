package model

import (
	"fmt"
	"strings"
	"time"
)

// LeadStatus is the sales stage of a lead.
type LeadStatus string

// Known lead statuses.
const (
	LeadNew       LeadStatus = "New"
	LeadEngaged   LeadStatus = "Engaged"
	LeadQualified LeadStatus = "Qualified"
	LeadCustomer  LeadStatus = "Customer"
)

// ParseLeadStatus returns the canonical status for s. An empty string
// maps to LeadNew.
func ParseLeadStatus(s string) (LeadStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "new":
		return LeadNew, nil
	case "engaged":
		return LeadEngaged, nil
	case "qualified":
		return LeadQualified, nil
	case "customer":
		return LeadCustomer, nil
	}
	return "", fmt.Errorf("unknown lead status %q", s)
}

// Lead is a tracked prospect. Score is derived from the event log and is
// only written by the scoring engine.
type Lead struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Score     int64      `json:"score"`
	Status    LeadStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	// Version counts score writes and guards them against stale replays.
	Version int64 `json:"-"`
}

// ScoreHistoryEntry is one immutable score transition.
type ScoreHistoryEntry struct {
	ID          int64            `json:"id"`
	LeadID      string           `json:"leadId"`
	ScoreChange int64            `json:"scoreChange"`
	NewScore    int64            `json:"newScore"`
	Reason      string           `json:"reason"`
	Timestamp   time.Time        `json:"timestamp"`
	EventID     string           `json:"eventId,omitempty"`
	Rules       map[string]int64 `json:"rules,omitempty"` // active weights used for NewScore
}

// ScoringRule maps an event type to a point weight.
type ScoringRule struct {
	EventType string `json:"eventType"`
	Points    int64  `json:"points"`
	IsActive  bool   `json:"isActive"`
}
