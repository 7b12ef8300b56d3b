package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Lead is the subset of the lead resource the simulator reads.
type Lead struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Score int64  `json:"score"`
}

// Rule is the subset of the scoring rule resource the simulator reads.
type Rule struct {
	EventType string `json:"eventType"`
	Points    int64  `json:"points"`
	IsActive  bool   `json:"isActive"`
}

// Entry is a leaderboard row.
type Entry struct {
	Rank   int    `json:"rank"`
	LeadID string `json:"leadId"`
	Score  int64  `json:"score"`
}

// Event is a submission body.
type Event struct {
	EventID  string         `json:"eventId"`
	LeadID   string         `json:"leadId"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Outcome classifies one submission.
type Outcome int

// Submission outcomes.
const (
	OutcomeFailed Outcome = iota
	OutcomeProcessed
	OutcomeSkipped
)

// Client talks to the service's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// Health checks /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK)
}

// CreateLead registers a lead.
func (c *Client) CreateLead(ctx context.Context, name, email string) (Lead, error) {
	var lead Lead
	body := map[string]string{"name": name, "email": email}
	err := c.do(ctx, http.MethodPost, "/api/leads", body, &lead, http.StatusCreated)
	return lead, err
}

// GetLead fetches a lead.
func (c *Client) GetLead(ctx context.Context, id string) (Lead, error) {
	var lead Lead
	err := c.do(ctx, http.MethodGet, "/api/leads/"+id, nil, &lead, http.StatusOK)
	return lead, err
}

// Rules lists scoring rules.
func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	err := c.do(ctx, http.MethodGet, "/api/rules", nil, &rules, http.StatusOK)
	return rules, err
}

// Leaderboard fetches the top limit leads.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := c.do(ctx, http.MethodGet, "/api/leaderboard?limit="+strconv.Itoa(limit), nil, &entries, http.StatusOK)
	return entries, err
}

// SubmitEvent posts ev. 201 means processed and 200 means skipped.
func (c *Client) SubmitEvent(ctx context.Context, ev Event) (Outcome, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/events", ev)
	if err != nil {
		return OutcomeFailed, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		return OutcomeProcessed, nil
	case http.StatusOK:
		return OutcomeSkipped, nil
	default:
		return OutcomeFailed, fmt.Errorf("submit %s: unexpected status %d", ev.EventID, resp.StatusCode)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, want int) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
