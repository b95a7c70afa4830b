package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guichetec/backend/internal/broker"
	"github.com/guichetec/backend/internal/middleware"
	"github.com/guichetec/backend/internal/models"
	"github.com/guichetec/backend/internal/services"
	"github.com/guichetec/backend/internal/state"
)

type testEnv struct {
	store *state.Store
	hub   *broker.Broker
}

func newTestEnv() *testEnv {
	return &testEnv{store: state.New(), hub: broker.New()}
}

// withClaims attaches connection claims the way AuthMiddleware would.
func withClaims(r *http.Request, connectionID string) *http.Request {
	claims := &services.ConnectionClaims{ConnectionID: connectionID}
	return r.WithContext(context.WithValue(r.Context(), middleware.ClaimsKey, claims))
}

func postJSON(target string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// nextEvent receives one broker event or fails the test.
func nextEvent(t *testing.T, ch chan broker.Event) broker.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a broker event")
		return broker.Event{}
	}
}

func TestTicketHandler_Issue(t *testing.T) {
	tests := []struct {
		name           string
		category       models.Category
		expectedStatus int
		expectedNumber string
	}{
		{"normal ticket", models.CategoryNormal, http.StatusCreated, "001"},
		{"priority ticket", models.CategoryPriority, http.StatusCreated, "001"},
		{"invalid category", "express", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			handler := NewTicketHandler(env.store, env.hub)

			req := postJSON("/api/tickets", models.IssueTicketRequest{Category: tt.category})
			rec := httptest.NewRecorder()
			handler.Issue(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("Status = %d, want %d", rec.Code, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusCreated {
				return
			}

			var resp models.IssueTicketResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Number != tt.expectedNumber {
				t.Errorf("Number = %q, want %q", resp.Number, tt.expectedNumber)
			}
			if resp.Ticket.Category != tt.category {
				t.Errorf("Category = %q, want %q", resp.Ticket.Category, tt.category)
			}
		})
	}
}

func TestTicketHandler_Issue_InvalidJSON(t *testing.T) {
	env := newTestEnv()
	handler := NewTicketHandler(env.store, env.hub)

	req := httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	handler.Issue(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTicketHandler_Issue_RemoteOrigin(t *testing.T) {
	env := newTestEnv()
	handler := NewTicketHandler(env.store, env.hub)

	// Without a connection token the binding target is unknown.
	req := postJSON("/api/tickets", models.IssueTicketRequest{
		Category: models.CategoryNormal,
		Origin:   models.OriginRemote,
	})
	rec := httptest.NewRecorder()
	handler.Issue(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous remote issue: Status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// With claims a session binding is created for the issuing connection.
	req = withClaims(postJSON("/api/tickets", models.IssueTicketRequest{
		Category: models.CategoryNormal,
		Origin:   models.OriginRemote,
	}), "conn1")
	rec = httptest.NewRecorder()
	handler.Issue(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusCreated)
	}

	if bound, ok := env.store.BoundConnection("N001"); !ok || bound != "conn1" {
		t.Errorf("BoundConnection(N001) = (%q, %v), want (conn1, true)", bound, ok)
	}
}

func TestTicketHandler_Issue_BroadcastsFullState(t *testing.T) {
	env := newTestEnv()
	handler := NewTicketHandler(env.store, env.hub)
	ch := env.hub.Register("panel")
	defer env.hub.Unregister("panel")

	rec := httptest.NewRecorder()
	handler.Issue(rec, postJSON("/api/tickets", models.IssueTicketRequest{Category: models.CategoryPriority}))

	ev := nextEvent(t, ch)
	if ev.Name != broker.EventQueuesUpdated {
		t.Fatalf("event = %q, want %q", ev.Name, broker.EventQueuesUpdated)
	}
	qs, ok := ev.Data.(models.QueueState)
	if !ok {
		t.Fatalf("event data is %T, want models.QueueState", ev.Data)
	}
	if len(qs.PriorityQueue) != 1 || len(qs.WaitingQueue) != 1 {
		t.Errorf("broadcast state = %+v, want the issued priority ticket", qs)
	}
}

func TestCallHandler_Call(t *testing.T) {
	env := newTestEnv()
	issue := NewTicketHandler(env.store, env.hub)
	call := NewCallHandler(env.store, env.hub)

	// Patient device issues remotely, binding its connection.
	rec := httptest.NewRecorder()
	issue.Issue(rec, withClaims(postJSON("/api/tickets", models.IssueTicketRequest{
		Category: models.CategoryNormal,
		Origin:   models.OriginRemote,
	}), "patient"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue Status = %d", rec.Code)
	}

	patient := env.hub.Register("patient")
	panel := env.hub.Register("panel")
	defer env.hub.Unregister("patient")
	defer env.hub.Unregister("panel")

	rec = httptest.NewRecorder()
	call.Call(rec, postJSON("/api/calls", models.CallTicketRequest{
		Category: models.CategoryNormal,
		Number:   "001",
		Counter:  "C1",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("call Status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Everyone sees the dequeue and the panel event.
	if ev := nextEvent(t, panel); ev.Name != broker.EventQueuesUpdated {
		t.Errorf("panel event 1 = %q, want %q", ev.Name, broker.EventQueuesUpdated)
	}
	if ev := nextEvent(t, panel); ev.Name != broker.EventTicketCalled {
		t.Errorf("panel event 2 = %q, want %q", ev.Name, broker.EventTicketCalled)
	}

	// Only the bound patient gets the targeted notification.
	nextEvent(t, patient) // queues_updated
	nextEvent(t, patient) // ticket_called
	ev := nextEvent(t, patient)
	if ev.Name != broker.EventCounterCalled {
		t.Fatalf("patient event 3 = %q, want %q", ev.Name, broker.EventCounterCalled)
	}
	target, ok := ev.Data.(models.CounterCalledEvent)
	if !ok {
		t.Fatalf("event data is %T, want models.CounterCalledEvent", ev.Data)
	}
	if target.Ticket != "N001" || target.Counter != "C1" {
		t.Errorf("targeted event = %+v, want N001 at C1", target)
	}

	select {
	case ev := <-panel:
		t.Errorf("panel should not receive targeted event, got %q", ev.Name)
	case <-time.After(50 * time.Millisecond):
		// expected
	}

	// The call dequeued the ticket and filled the panel.
	qs := env.store.Snapshot()
	if len(qs.NormalQueue) != 0 {
		t.Errorf("normal queue = %+v, want empty after call", qs.NormalQueue)
	}
	if len(qs.RecentCalls) != 1 || qs.RecentCalls[0].Counter != "C1" {
		t.Errorf("recentCalls = %+v, want the C1 call", qs.RecentCalls)
	}
}

func TestCallHandler_Call_MissingFields(t *testing.T) {
	env := newTestEnv()
	handler := NewCallHandler(env.store, env.hub)

	rec := httptest.NewRecorder()
	handler.Call(rec, postJSON("/api/calls", models.CallTicketRequest{Category: models.CategoryNormal}))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestQueueHandler_Resync(t *testing.T) {
	env := newTestEnv()
	issue := NewTicketHandler(env.store, env.hub)
	resync := NewQueueHandler(env.store, env.hub)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		issue.Issue(rec, postJSON("/api/tickets", models.IssueTicketRequest{Category: models.CategoryNormal}))
		if rec.Code != http.StatusCreated {
			t.Fatalf("issue Status = %d", rec.Code)
		}
	}

	operator := env.hub.Register("operator")
	panel := env.hub.Register("panel")
	defer env.hub.Unregister("operator")
	defer env.hub.Unregister("panel")

	// Operator removes ticket 001 locally and pushes the result.
	body := models.ResyncRequest{
		NormalQueue:   []models.Ticket{{Category: models.CategoryNormal, Number: "002"}},
		PriorityQueue: []models.Ticket{},
	}
	rec := httptest.NewRecorder()
	resync.Resync(rec, withClaims(postJSON("/api/queues/resync", body), "operator"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusOK)
	}

	if qs := env.store.Snapshot(); len(qs.NormalQueue) != 1 || qs.NormalQueue[0].Number != "002" {
		t.Errorf("normal queue = %+v, want just 002", qs.NormalQueue)
	}

	// Everyone but the submitter is rebroadcast.
	if ev := nextEvent(t, panel); ev.Name != broker.EventQueuesUpdated {
		t.Errorf("panel event = %q, want %q", ev.Name, broker.EventQueuesUpdated)
	}
	select {
	case ev := <-operator:
		t.Errorf("submitter should not receive its own resync, got %q", ev.Name)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestQueueHandler_Resync_MalformedPayload(t *testing.T) {
	env := newTestEnv()
	issue := NewTicketHandler(env.store, env.hub)
	resync := NewQueueHandler(env.store, env.hub)

	rec := httptest.NewRecorder()
	issue.Issue(rec, postJSON("/api/tickets", models.IssueTicketRequest{Category: models.CategoryNormal}))

	tests := []struct {
		name string
		body string
	}{
		{"queue is not an array", `{"normalQueue":"nope"}`},
		{"not json", `nope`},
		{"array of non-tickets", `{"normalQueue":[{"category":"vip","number":"001"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/queues/resync", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			resync.Resync(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Status = %d, want %d", rec.Code, http.StatusBadRequest)
			}

			var resp models.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Error != "malformed resync payload" {
				t.Errorf("Error = %q, want malformed resync payload", resp.Error)
			}

			// Prior state retained.
			if qs := env.store.Snapshot(); len(qs.NormalQueue) != 1 {
				t.Errorf("queues changed by rejected resync: %+v", qs.NormalQueue)
			}
		})
	}
}

func TestServiceHandler_Finalize(t *testing.T) {
	env := newTestEnv()
	issue := NewTicketHandler(env.store, env.hub)
	call := NewCallHandler(env.store, env.hub)
	finalize := NewServiceHandler(env.store, env.hub)

	rec := httptest.NewRecorder()
	issue.Issue(rec, withClaims(postJSON("/api/tickets", models.IssueTicketRequest{
		Category: models.CategoryNormal,
		Origin:   models.OriginRemote,
	}), "patient"))

	rec = httptest.NewRecorder()
	call.Call(rec, postJSON("/api/calls", models.CallTicketRequest{
		Category: models.CategoryNormal, Number: "001", Counter: "C1",
	}))

	panel := env.hub.Register("panel")
	defer env.hub.Unregister("panel")

	rec = httptest.NewRecorder()
	finalize.Finalize(rec, postJSON("/api/services/finalize", models.FinalizeRequest{
		Counter:  "C1",
		TicketID: "N001",
		Category: models.CategoryNormal,
		Number:   "001",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusOK)
	}

	if ev := nextEvent(t, panel); ev.Name != broker.EventHistoryAppended {
		t.Errorf("event 1 = %q, want %q", ev.Name, broker.EventHistoryAppended)
	}
	ev := nextEvent(t, panel)
	if ev.Name != broker.EventCounterFreed {
		t.Errorf("event 2 = %q, want %q", ev.Name, broker.EventCounterFreed)
	}

	history := env.store.InitialState().History
	if len(history) != 1 || history[0].TicketID != "N001" || history[0].Counter != "C1" {
		t.Errorf("history = %+v, want the finalized N001 at C1", history)
	}
	if _, ok := env.store.BoundConnection("N001"); ok {
		t.Error("session binding should be removed by finalize")
	}
}

func TestServiceHandler_Finalize_MissingIdentity(t *testing.T) {
	env := newTestEnv()
	handler := NewServiceHandler(env.store, env.hub)

	rec := httptest.NewRecorder()
	handler.Finalize(rec, postJSON("/api/services/finalize", models.FinalizeRequest{Counter: "C1"}))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTicketHandler_Ack(t *testing.T) {
	env := newTestEnv()
	handler := NewTicketHandler(env.store, env.hub)

	rec := httptest.NewRecorder()
	handler.Issue(rec, withClaims(postJSON("/api/tickets", models.IssueTicketRequest{
		Category: models.CategoryNormal,
		Origin:   models.OriginRemote,
	}), "conn1"))

	// Another connection cannot ack someone else's ticket.
	rec = httptest.NewRecorder()
	handler.Ack(rec, withClaims(postJSON("/api/tickets/ack", models.AckTicketRequest{TicketID: "N001"}), "conn2"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign ack Status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec = httptest.NewRecorder()
	handler.Ack(rec, withClaims(postJSON("/api/tickets/ack", models.AckTicketRequest{TicketID: "N001"}), "conn1"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if _, ok := env.store.BoundConnection("N001"); ok {
		t.Error("binding should be removed by ack")
	}
}

type mockReportLister struct {
	reports []models.DailyReport
	err     error
}

func (m *mockReportLister) ListReports(ctx context.Context) ([]models.DailyReport, error) {
	return m.reports, m.err
}

func TestReportHandler_List(t *testing.T) {
	handler := NewReportHandler(&mockReportLister{reports: []models.DailyReport{
		{Date: "2026-03-14", TotalTickets: 3},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp []models.DailyReport
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Date != "2026-03-14" {
		t.Errorf("reports = %+v, want the archived day", resp)
	}
}

func TestReportHandler_List_EmptyAndError(t *testing.T) {
	handler := NewReportHandler(&mockReportLister{})
	rec := httptest.NewRecorder()
	handler.List(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty list body = %q, want []", body)
	}

	handler = NewReportHandler(&mockReportLister{err: errors.New("db closed")})
	rec = httptest.NewRecorder()
	handler.List(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
