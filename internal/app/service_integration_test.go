package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/internal/domain/types"
)

type wsMessage struct {
	Event string `json:"event"`
	Data  struct {
		LeadID      string `json:"leadId"`
		NewScore    int64  `json:"newScore"`
		ScoreChange int64  `json:"scoreChange"`
	} `json:"data"`
}

func doJSON(srv *httptest.Server, method, path string, body any, out any) int {
	var buf bytes.Buffer
	if body != nil {
		So(json.NewEncoder(&buf).Encode(body), ShouldBeNil)
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	So(err, ShouldBeNil)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	if out != nil {
		So(json.NewDecoder(resp.Body).Decode(out), ShouldBeNil)
	}
	return resp.StatusCode
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service behind an HTTP server", t, func() {
		svc := newStartedService()
		srv := httptest.NewServer(svc.Handler())
		defer srv.Close()
		defer svc.Stop()

		var lead model.Lead
		So(doJSON(srv, http.MethodPost, "/api/leads",
			map[string]string{"name": "Frank", "email": "frank@example.com"}, &lead), ShouldEqual, http.StatusCreated)
		So(lead.ID, ShouldNotBeEmpty)
		So(lead.Score, ShouldEqual, 0)

		Convey("When a websocket client is connected and events arrive", func() {
			conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
			So(err, ShouldBeNil)
			defer conn.Close()
			So(eventually(func() bool { return svc.GetStats(context.Background())["wsClients"] == 1 }), ShouldBeTrue)

			var res model.ProcessResult
			status := doJSON(srv, http.MethodPost, "/api/events",
				map[string]any{"eventId": "evt-1", "leadId": lead.ID, "type": "demo_request"}, &res)

			Convey("Then the event is processed and the update is pushed", func() {
				So(status, ShouldEqual, http.StatusCreated)
				So(res.Status, ShouldEqual, model.StatusProcessed)

				So(conn.SetReadDeadline(time.Now().Add(2*time.Second)), ShouldBeNil)
				var msg wsMessage
				So(conn.ReadJSON(&msg), ShouldBeNil)
				So(msg.Event, ShouldEqual, "score_update")
				So(msg.Data.LeadID, ShouldEqual, lead.ID)
				So(msg.Data.NewScore, ShouldEqual, 50)
				So(msg.Data.ScoreChange, ShouldEqual, 50)
			})

			Convey("And resubmitting the same event id is skipped", func() {
				var again model.ProcessResult
				So(doJSON(srv, http.MethodPost, "/api/events",
					map[string]any{"eventId": "evt-1", "leadId": lead.ID, "type": "demo_request"}, &again), ShouldEqual, http.StatusOK)
				So(again.Status, ShouldEqual, model.StatusSkipped)

				var got model.Lead
				So(doJSON(srv, http.MethodGet, "/api/leads/"+lead.ID, nil, &got), ShouldEqual, http.StatusOK)
				So(got.Score, ShouldEqual, 50)
			})
		})

		Convey("When many distinct events for the lead arrive concurrently", func() {
			const n = 40
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					body, _ := json.Marshal(map[string]any{"eventId": fmt.Sprintf("c-%d", i), "leadId": lead.ID, "type": "page_view"})
					resp, err := http.Post(srv.URL+"/api/events", "application/json", bytes.NewReader(body))
					if err == nil {
						resp.Body.Close()
					}
				}(i)
			}
			wg.Wait()

			Convey("Then the score equals the sum over the log", func() {
				var got model.Lead
				So(doJSON(srv, http.MethodGet, "/api/leads/"+lead.ID, nil, &got), ShouldEqual, http.StatusOK)
				So(got.Score, ShouldEqual, n*5)

				var history []model.ScoreHistoryEntry
				So(doJSON(srv, http.MethodGet, "/api/leads/"+lead.ID+"/history", nil, &history), ShouldEqual, http.StatusOK)
				So(len(history), ShouldBeBetweenOrEqual, 1, n)
				So(history[0].NewScore, ShouldEqual, n*5)
			})
		})

		Convey("When a CSV batch is uploaded", func() {
			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			part, err := mw.CreateFormFile("file", "events.csv")
			So(err, ShouldBeNil)
			fmt.Fprintf(part, "eventId,leadId,type,timestamp\n")
			fmt.Fprintf(part, "b-1,%s,email_open,2026-01-01T10:00:00Z\n", lead.ID)
			fmt.Fprintf(part, "b-1,%s,email_open,2026-01-01T10:00:00Z\n", lead.ID)
			fmt.Fprintf(part, "b-2,unknown-lead,email_open,\n")
			fmt.Fprintf(part, "b-3,%s,,\n", lead.ID)
			So(mw.Close(), ShouldBeNil)

			resp, err := http.Post(srv.URL+"/api/events/batch", mw.FormDataContentType(), &body)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then rows are counted by outcome", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var result model.BatchResult
				So(json.NewDecoder(resp.Body).Decode(&result), ShouldBeNil)
				So(result.Total, ShouldEqual, 4)
				So(result.Processed, ShouldEqual, 1)
				So(result.Skipped, ShouldEqual, 1)
				So(len(result.Errors), ShouldEqual, 2)

				var got model.Lead
				So(doJSON(srv, http.MethodGet, "/api/leads/"+lead.ID, nil, &got), ShouldEqual, http.StatusOK)
				So(got.Score, ShouldEqual, 10)
			})
		})

		Convey("When a rule is changed and a bulk recalculation requested", func() {
			var res model.ProcessResult
			So(doJSON(srv, http.MethodPost, "/api/events",
				map[string]any{"leadId": lead.ID, "type": "email_open"}, &res), ShouldEqual, http.StatusCreated)

			var rule model.ScoringRule
			So(doJSON(srv, http.MethodPut, "/api/rules/email_open",
				map[string]any{"points": 15}, &rule), ShouldEqual, http.StatusOK)
			So(rule.Points, ShouldEqual, 15)
			So(rule.IsActive, ShouldBeTrue)

			var enq map[string]int
			So(doJSON(srv, http.MethodPost, "/api/rules/recalculate", nil, &enq), ShouldEqual, http.StatusAccepted)
			So(enq["enqueued"], ShouldEqual, 1)

			Convey("Then the leaderboard reflects the new points", func() {
				So(eventually(func() bool {
					var entries []types.Entry
					doJSON(srv, http.MethodGet, "/api/leaderboard?limit=10", nil, &entries)
					return len(entries) == 1 && entries[0].Score == 15
				}), ShouldBeTrue)

				var entry types.Entry
				So(doJSON(srv, http.MethodGet, "/api/leaderboard/"+lead.ID, nil, &entry), ShouldEqual, http.StatusOK)
				So(entry.Rank, ShouldEqual, 1)
			})
		})

		Convey("When operational endpoints are requested", func() {
			var stats map[string]any
			So(doJSON(srv, http.MethodGet, "/stats", nil, &stats), ShouldEqual, http.StatusOK)
			So(stats["started"], ShouldEqual, true)

			resp, err := http.Get(srv.URL + "/openapi.yaml")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			resp, err = http.Get(srv.URL + "/healthz")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}
