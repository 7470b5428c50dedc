package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/orchestrator"
	"Yelp-Navigator/internal/state"
	"Yelp-Navigator/pkg/logger"
)

type fakeService struct {
	lastSession string
	lastText    string
	turnErr     error
	sessions    map[string]*state.Conversation
}

func (f *fakeService) HandleTurn(_ context.Context, sessionID, text string) (*orchestrator.Response, error) {
	f.lastSession = sessionID
	f.lastText = text
	if f.turnErr != nil {
		return nil, f.turnErr
	}
	if sessionID == "" {
		sessionID = "new-session"
	}
	return &orchestrator.Response{SessionID: sessionID, Text: "Here are 3 options", Phase: state.PhaseFinalized}, nil
}

func (f *fakeService) Resume(_ context.Context, sessionID string) (*orchestrator.Response, error) {
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "会话不存在")
	}
	return &orchestrator.Response{SessionID: sessionID, Phase: state.PhaseFinalized}, nil
}

func (f *fakeService) Session(_ context.Context, sessionID string) (*state.Conversation, error) {
	return f.sessions[sessionID], nil
}

func newTestServer(svc Service) http.Handler {
	return NewServer(":0", svc, WithLogger(logger.Discard())).Handler()
}

func TestHandleTurn(t *testing.T) {
	svc := &fakeService{}
	handler := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/turns", strings.NewReader(`{"message":"Mexican restaurants in Austin, TX"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	if svc.lastSession != "s1" || svc.lastText != "Mexican restaurants in Austin, TX" {
		t.Fatalf("unexpected call: %q %q", svc.lastSession, svc.lastText)
	}
	var got orchestrator.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Phase != state.PhaseFinalized || got.SessionID != "s1" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestCreateSession(t *testing.T) {
	svc := &fakeService{}
	handler := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"message":"coffee in Portland"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d", rec.Code)
	}
	if svc.lastSession != "" {
		t.Fatalf("expected empty session id, got %q", svc.lastSession)
	}
	if !strings.Contains(rec.Body.String(), "new-session") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandleTurnErrors(t *testing.T) {
	t.Run("invalid method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/turns", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("bad body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/turns", strings.NewReader("{")))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("empty message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/turns", strings.NewReader(`{"message":"  "}`)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("checkpoint failure", func(t *testing.T) {
		svc := &fakeService{turnErr: xerrors.New(xerrors.CodeCheckpointFailure, "disk full")}
		rec := httptest.NewRecorder()
		newTestServer(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/turns", strings.NewReader(`{"message":"tacos in Austin"}`)))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body.Code != xerrors.CodeCheckpointFailure || body.Message != "disk full" {
			t.Fatalf("unexpected error body: %+v", body)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/other", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestGetSessionAndResume(t *testing.T) {
	st := state.New("s1")
	st.BeginRequest()
	svc := &fakeService{sessions: map[string]*state.Conversation{"s1": st}}
	handler := newTestServer(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d", rec.Code)
	}
	var got state.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if got.SessionID != "s1" || got.Request != 1 {
		t.Fatalf("unexpected session: %+v", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/resume", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected resume status: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/missing/resume", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	handler := newTestServer(&fakeService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected health status: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "navigator_http_requests_total") {
		t.Fatalf("metrics output missing http counter")
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/v1/sessions":            "/api/v1/sessions",
		"/api/v1/sessions/abc":        "/api/v1/sessions/{id}",
		"/api/v1/sessions/abc/turns":  "/api/v1/sessions/{id}/turns",
		"/api/v1/sessions/abc/resume": "/api/v1/sessions/{id}/resume",
		"/favicon.ico":                "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
