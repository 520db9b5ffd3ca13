package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/fraware/self-healing-ci/internal/events"
	"github.com/fraware/self-healing-ci/internal/journal"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

func newTestServer(t *testing.T) (*Server, journal.Journal) {
	t.Helper()
	j := journal.NewMemoryJournal()
	s := New(Config{Addr: "127.0.0.1:0"}, j, events.NewBroadcaster(10), zap.NewNop())
	return s, j
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
}

func TestHandleGetCase_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/cases/nonexistent-case", nil)
	rec := httptest.NewRecorder()

	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown case, got %d", rec.Code)
	}
}

func TestHandleGetCase_InvalidCaseIDRejected(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/cases/..%2Fetc%2Fpasswd", nil)
	rec := httptest.NewRecorder()

	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusNotFound {
		t.Fatalf("expected an invalid caseID to be rejected with 400 (or chi to 404 on the path), got %d", rec.Code)
	}
}

func TestHandleGetCase_ReturnsProjectedState(t *testing.T) {
	s, j := newTestServer(t)
	ctx := context.Background()
	caseID := selfheal.CaseID("case-1")
	if _, err := j.Append(ctx, caseID, selfheal.KindStateTransition, map[string]any{"to": "DIAGNOSE"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/cases/case-1", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view caseView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.State != selfheal.StateDiagnose {
		t.Fatalf("expected projected state DIAGNOSE, got %s", view.State)
	}
	if view.EntryCount != 1 {
		t.Fatalf("expected entryCount 1, got %d", view.EntryCount)
	}
}

func TestHandleAllEvents_StreamsHeaders(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // request context already done, so writeSSE returns immediately

	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	s.httpSrv.Handler.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}
}
