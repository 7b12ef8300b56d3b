package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/leadflow/internal/adapters/http/api"
	"github.com/okian/leadflow/internal/adapters/mq/queue"
	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/internal/domain/scoring"
)

// mockDeps is a hand-written stand-in for the application service.
type mockDeps struct {
	mu sync.Mutex

	leads    map[string]model.Lead
	history  []model.ScoreHistoryEntry
	events   []model.Event
	rules    []model.ScoringRule
	entries  []api.Entry
	inputs   []model.EventInput
	rows     []model.Row
	filter   model.EventFilter
	upserted model.ScoringRule

	processErr  error
	registerErr error
	recalcErr   error
	bulkErr     error
	seen        map[string]bool
}

func newMockDeps() *mockDeps {
	return &mockDeps{
		leads: map[string]model.Lead{"L1": {ID: "L1", Name: "Ada", Email: "ada@example.com", Score: 105, Status: model.LeadEngaged}},
		seen:  map[string]bool{},
	}
}

func (m *mockDeps) RegisterLead(_ context.Context, name, email, status string) (model.Lead, error) {
	if m.registerErr != nil {
		return model.Lead{}, m.registerErr
	}
	if name == "" {
		return model.Lead{}, fmt.Errorf("%w: name and email are required", scoring.ErrValidation)
	}
	return model.Lead{ID: "ld_new", Name: name, Email: email, Status: model.LeadStatus(status)}, nil
}

func (m *mockDeps) GetLead(_ context.Context, id string) (model.Lead, error) {
	lead, ok := m.leads[id]
	if !ok {
		return model.Lead{}, fmt.Errorf("lead %s: %w", id, repository.ErrNotFound)
	}
	return lead, nil
}

func (m *mockDeps) ListLeads(_ context.Context, _ int) ([]model.Lead, error) {
	out := make([]model.Lead, 0, len(m.leads))
	for _, l := range m.leads {
		out = append(out, l)
	}
	return out, nil
}

func (m *mockDeps) History(_ context.Context, _ string, _ int) ([]model.ScoreHistoryEntry, error) {
	return m.history, nil
}

func (m *mockDeps) RecalculateScore(_ context.Context, leadID string) (int64, error) {
	if m.recalcErr != nil {
		return 0, m.recalcErr
	}
	lead, ok := m.leads[leadID]
	if !ok {
		return 0, scoring.ErrLeadNotFound
	}
	return lead.Score, nil
}

func (m *mockDeps) ProcessEvent(_ context.Context, in model.EventInput) (model.ProcessResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processErr != nil {
		return model.ProcessResult{}, m.processErr
	}
	m.inputs = append(m.inputs, in)
	if in.EventID != "" && m.seen[in.EventID] {
		return model.ProcessResult{Status: model.StatusSkipped, EventID: in.EventID, Message: "Duplicate event"}, nil
	}
	m.seen[in.EventID] = true
	return model.ProcessResult{Status: model.StatusProcessed, EventID: in.EventID}, nil
}

func (m *mockDeps) ProcessBatch(_ context.Context, rows []model.Row) model.BatchResult {
	m.rows = rows
	return model.BatchResult{Total: len(rows), Processed: len(rows), Errors: []model.RowError{}}
}

func (m *mockDeps) ListEvents(_ context.Context, f model.EventFilter) ([]model.Event, error) {
	m.filter = f
	return m.events, nil
}

func (m *mockDeps) ListRules(context.Context) ([]model.ScoringRule, error) {
	return m.rules, nil
}

func (m *mockDeps) UpsertRule(_ context.Context, rule model.ScoringRule) (model.ScoringRule, error) {
	m.upserted = rule
	return rule, nil
}

func (m *mockDeps) RecalculateAll(context.Context) (int, error) {
	if m.bulkErr != nil {
		return 0, m.bulkErr
	}
	return len(m.leads), nil
}

func (m *mockDeps) TopN(_ context.Context, n int) ([]api.Entry, error) {
	if n > len(m.entries) {
		return m.entries, nil
	}
	return m.entries[:n], nil
}

func (m *mockDeps) Rank(_ context.Context, leadID string) (api.Entry, error) {
	for _, e := range m.entries {
		if e.LeadID == leadID {
			return e, nil
		}
	}
	return api.Entry{}, repository.ErrNotFound
}

type mockStats struct{}

func (mockStats) GetStats(context.Context) map[string]any {
	return map[string]any{"started": true, "totalLeads": 1}
}

func serve(h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](w *httptest.ResponseRecorder) T {
	var v T
	_ = json.Unmarshal(w.Body.Bytes(), &v)
	return v
}

func csvUpload(content string) (*bytes.Buffer, string) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, _ := mw.CreateFormFile("file", "events.csv")
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()
	return buf, mw.FormDataContentType()
}

func TestLeadRoutes(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newMockDeps()
		h := api.NewServer(deps, mockStats{}).Routes()

		Convey("When listing leads", func() {
			w := serve(h, http.MethodGet, "/api/leads", "")
			Convey("Then the leads should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(len(decode[[]model.Lead](w)), ShouldEqual, 1)
			})
		})

		Convey("When listing leads with an invalid limit", func() {
			w := serve(h, http.MethodGet, "/api/leads?limit=abc", "")
			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When registering a lead", func() {
			w := serve(h, http.MethodPost, "/api/leads", `{"name":"Grace","email":"grace@example.com"}`)
			Convey("Then it should be created", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(decode[model.Lead](w).ID, ShouldEqual, "ld_new")
			})
		})

		Convey("When registering an invalid lead", func() {
			w := serve(h, http.MethodPost, "/api/leads", `{"email":"grace@example.com"}`)
			Convey("Then validation should fail with 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When registering a taken email", func() {
			deps.registerErr = fmt.Errorf("register lead: %w", repository.ErrDuplicateEmail)
			w := serve(h, http.MethodPost, "/api/leads", `{"name":"Ada","email":"ada@example.com"}`)
			Convey("Then it should conflict", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decode[map[string]string](w)["code"], ShouldEqual, "duplicate_email")
			})
		})

		Convey("When sending malformed JSON", func() {
			w := serve(h, http.MethodPost, "/api/leads", `{`)
			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When fetching a lead", func() {
			Convey("Then a known id should be returned", func() {
				w := serve(h, http.MethodGet, "/api/leads/L1", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode[model.Lead](w).Score, ShouldEqual, 105)
			})
			Convey("Then an unknown id should be 404", func() {
				w := serve(h, http.MethodGet, "/api/leads/nope", "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When fetching history", func() {
			deps.history = []model.ScoreHistoryEntry{
				{ID: 2, LeadID: "L1", NewScore: 105, ScoreChange: 100},
				{ID: 1, LeadID: "L1", NewScore: 5, ScoreChange: 5},
			}
			Convey("Then entries should be returned newest first", func() {
				w := serve(h, http.MethodGet, "/api/leads/L1/history", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				got := decode[[]model.ScoreHistoryEntry](w)
				So(len(got), ShouldEqual, 2)
				So(got[0].ID, ShouldEqual, 2)
			})
			Convey("Then an unknown lead should be 404", func() {
				w := serve(h, http.MethodGet, "/api/leads/nope/history", "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When recalculating a lead", func() {
			w := serve(h, http.MethodPost, "/api/leads/L1/recalculate", "")
			Convey("Then the score should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode[map[string]any](w)
				So(body["leadId"], ShouldEqual, "L1")
				So(body["score"], ShouldEqual, 105)
			})
		})

		Convey("When recalculation fails unexpectedly", func() {
			deps.recalcErr = errors.New("connection reset")
			w := serve(h, http.MethodPost, "/api/leads/L1/recalculate", "")
			Convey("Then it should be an internal error", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
			})
		})
	})
}

func TestEventRoutes(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newMockDeps()
		h := api.NewServer(deps, mockStats{}).Routes()

		Convey("When posting a valid event", func() {
			w := serve(h, http.MethodPost, "/api/events",
				`{"eventId":"e1","leadId":"L1","type":"page_view","metadata":{"page":"/pricing"},"timestamp":"2026-01-01T10:00:00Z"}`)

			Convey("Then it should be processed", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(decode[model.ProcessResult](w).Status, ShouldEqual, model.StatusProcessed)
				So(deps.inputs[0].Timestamp.Equal(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(deps.inputs[0].Metadata["page"], ShouldEqual, "/pricing")
			})

			Convey("And a resubmission should be skipped", func() {
				w2 := serve(h, http.MethodPost, "/api/events", `{"eventId":"e1","leadId":"L1","type":"page_view"}`)
				So(w2.Code, ShouldEqual, http.StatusOK)
				So(decode[model.ProcessResult](w2).Status, ShouldEqual, model.StatusSkipped)
			})
		})

		Convey("When required fields are missing", func() {
			w := serve(h, http.MethodPost, "/api/events", `{"leadId":"L1"}`)
			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(deps.inputs, ShouldBeEmpty)
			})
		})

		Convey("When the timestamp is not RFC3339", func() {
			w := serve(h, http.MethodPost, "/api/events", `{"leadId":"L1","type":"x","timestamp":"yesterday"}`)
			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the lead is unknown", func() {
			deps.processErr = fmt.Errorf("process event: %w", scoring.ErrLeadNotFound)
			w := serve(h, http.MethodPost, "/api/events", `{"leadId":"ghost","type":"x"}`)
			Convey("Then it should be 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the store fails", func() {
			deps.processErr = errors.New("connection refused")
			w := serve(h, http.MethodPost, "/api/events", `{"leadId":"L1","type":"x"}`)
			Convey("Then it should be 500", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
			})
		})

		Convey("When listing events", func() {
			deps.events = []model.Event{{EventID: "e2"}, {EventID: "e1"}}

			Convey("Then the default limit should be 100", func() {
				w := serve(h, http.MethodGet, "/api/events", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(len(decode[[]model.Event](w)), ShouldEqual, 2)
				So(deps.filter.Limit, ShouldEqual, 100)
			})

			Convey("Then the lead filter should be forwarded", func() {
				serve(h, http.MethodGet, "/api/events?leadId=L1&limit=5", "")
				So(deps.filter.LeadID, ShouldEqual, "L1")
				So(deps.filter.Limit, ShouldEqual, 5)
			})

			Convey("Then an oversize limit should be rejected", func() {
				w := serve(h, http.MethodGet, "/api/events?limit=100000", "")
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When uploading a CSV batch", func() {
			body, contentType := csvUpload("leadId,type\nL1,page_view\nL1,purchase\n")
			req := httptest.NewRequest(http.MethodPost, "/api/events/batch", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			Convey("Then every row should reach the engine", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode[model.BatchResult](w).Total, ShouldEqual, 2)
				So(deps.rows[1]["type"], ShouldEqual, "purchase")
			})
		})

		Convey("When the batch has no file", func() {
			w := serve(h, http.MethodPost, "/api/events/batch", `{}`)
			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestIngestRateLimit(t *testing.T) {
	Convey("Given a server limited to one ingest per burst", t, func() {
		deps := newMockDeps()
		h := api.NewServer(deps, mockStats{}, api.WithIngestRateLimit(0.001, 1)).Routes()

		Convey("When two events are posted back to back", func() {
			first := serve(h, http.MethodPost, "/api/events", `{"leadId":"L1","type":"x"}`)
			second := serve(h, http.MethodPost, "/api/events", `{"leadId":"L1","type":"x"}`)

			Convey("Then the second should be throttled", func() {
				So(first.Code, ShouldEqual, http.StatusCreated)
				So(second.Code, ShouldEqual, http.StatusTooManyRequests)
				So(second.Header().Get("Retry-After"), ShouldEqual, "1")
			})

			Convey("And reads should not be throttled", func() {
				So(serve(h, http.MethodGet, "/api/events", "").Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestRuleRoutes(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newMockDeps()
		deps.rules = []model.ScoringRule{{EventType: "page_view", Points: 5, IsActive: true}}
		h := api.NewServer(deps, mockStats{}).Routes()

		Convey("When listing rules", func() {
			w := serve(h, http.MethodGet, "/api/rules", "")
			Convey("Then the rules should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode[[]model.ScoringRule](w)[0].Points, ShouldEqual, 5)
			})
		})

		Convey("When upserting a rule without isActive", func() {
			w := serve(h, http.MethodPut, "/api/rules/webinar", `{"points":30}`)
			Convey("Then it should default to active", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.upserted.EventType, ShouldEqual, "webinar")
				So(deps.upserted.Points, ShouldEqual, 30)
				So(deps.upserted.IsActive, ShouldBeTrue)
			})
		})

		Convey("When deactivating a rule", func() {
			serve(h, http.MethodPut, "/api/rules/page_view", `{"points":5,"isActive":false}`)
			Convey("Then the flag should be forwarded", func() {
				So(deps.upserted.IsActive, ShouldBeFalse)
			})
		})

		Convey("When points are missing", func() {
			w := serve(h, http.MethodPut, "/api/rules/page_view", `{"isActive":true}`)
			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When requesting a bulk recalculation", func() {
			w := serve(h, http.MethodPost, "/api/rules/recalculate", "")
			Convey("Then it should be accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(decode[map[string]int](w)["enqueued"], ShouldEqual, 1)
			})
		})

		Convey("When the recalculation queue is full", func() {
			deps.bulkErr = fmt.Errorf("enqueue: %w", queue.ErrFull)
			w := serve(h, http.MethodPost, "/api/rules/recalculate", "")
			Convey("Then it should be unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})
	})
}

func TestLeaderboardRoutes(t *testing.T) {
	Convey("Given a leaderboard with a tie", t, func() {
		deps := newMockDeps()
		deps.entries = []api.Entry{
			{Rank: 1, LeadID: "a", Score: 110},
			{Rank: 1, LeadID: "b", Score: 110},
			{Rank: 2, LeadID: "c", Score: 5},
		}
		h := api.NewServer(deps, mockStats{}, api.WithMaxLeaderboardLimit(10)).Routes()

		Convey("When requesting the top entries", func() {
			w := serve(h, http.MethodGet, "/api/leaderboard?limit=3", "")
			Convey("Then ranks should be returned as computed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				got := decode[[]api.Entry](w)
				So(len(got), ShouldEqual, 3)
				So(got[1].Rank, ShouldEqual, 1)
				So(got[2].Rank, ShouldEqual, 2)
			})
		})

		Convey("When the limit is missing or too large", func() {
			So(serve(h, http.MethodGet, "/api/leaderboard", "").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(h, http.MethodGet, "/api/leaderboard?limit=11", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When requesting a single rank", func() {
			So(serve(h, http.MethodGet, "/api/leaderboard/c", "").Code, ShouldEqual, http.StatusOK)
			So(serve(h, http.MethodGet, "/api/leaderboard/zzz", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given an API server with docs and notifications", t, func() {
		docs := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
		ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		h := api.NewServer(newMockDeps(), mockStats{}, api.WithDocs(docs), api.WithNotifications(ws)).Routes()

		Convey("Then /healthz should expose Prometheus metrics", func() {
			serve(h, http.MethodGet, "/api/leads", "")
			w := serve(h, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "leadflow_http_requests_total")
		})

		Convey("Then /stats should return service statistics", func() {
			w := serve(h, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode[map[string]any](w)["started"], ShouldEqual, true)
		})

		Convey("Then docs and websocket handlers should be mounted", func() {
			So(serve(h, http.MethodGet, "/api-docs", "").Code, ShouldEqual, http.StatusTeapot)
			So(serve(h, http.MethodGet, "/openapi.yaml", "").Code, ShouldEqual, http.StatusTeapot)
			So(serve(h, http.MethodGet, "/ws", "").Code, ShouldEqual, http.StatusNoContent)
		})

		Convey("Then CORS preflight should be answered", func() {
			req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
			req.Header.Set("Origin", "http://example.com")
			req.Header.Set("Access-Control-Request-Method", "POST")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
		})
	})
}
