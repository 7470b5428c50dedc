package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("/api/v1/sessions", "POST", "200"))
	ObserveHTTPRequest("/api/v1/sessions", "POST", 200, 20*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("/api/v1/sessions", "POST", "200"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ToolCalls.WithLabelValues("search", "success").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `navigator_tool_calls_total{outcome="success",tool="search"}`) {
		t.Fatalf("tool counter missing from exposition:\n%s", body)
	}
}

func TestObserveGuardrail(t *testing.T) {
	blocked := Guardrail.WithLabelValues("blocked")
	email := Guardrail.WithLabelValues("redacted_email")
	beforeBlocked, beforeEmail := testutil.ToFloat64(blocked), testutil.ToFloat64(email)

	ObserveGuardrail(false, map[string]int{"email": 2})
	ObserveGuardrail(true, map[string]int{"email": 5})

	if got := testutil.ToFloat64(blocked) - beforeBlocked; got != 1 {
		t.Fatalf("expected one blocked event, got %v", got)
	}
	if got := testutil.ToFloat64(email) - beforeEmail; got != 2 {
		t.Fatalf("blocked input must not count redactions, got %v", got)
	}
}
