package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthReportsDegradedDependency(t *testing.T) {
	srv := NewServer(ServerConfig{Port: 0}, nil)
	srv.RegisterHealthCheck("ledger", func() Check {
		return Check{Healthy: true}
	})
	srv.RegisterHealthCheck("broker", func() Check {
		return Check{Detail: "connection refused"}
	})

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}

	var body struct {
		Service string           `json:"service"`
		Status  string           `json:"status"`
		Checks  map[string]Check `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Service != "execd" {
		t.Errorf("service = %q, want execd", body.Service)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Checks["ledger"].Healthy != true {
		t.Error("ledger check must stay healthy")
	}
	if body.Checks["broker"].Detail != "connection refused" {
		t.Errorf("broker detail = %q", body.Checks["broker"].Detail)
	}
}

func TestReadyWhenAllChecksPass(t *testing.T) {
	srv := NewServer(ServerConfig{Port: 0}, nil)
	srv.RegisterHealthCheck("ledger", func() Check {
		return Check{Healthy: true}
	})

	rec := httptest.NewRecorder()
	srv.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want 200", rec.Code)
	}

	// A failing dependency flips readiness.
	srv.RegisterHealthCheck("broker", func() Check {
		return Check{Detail: "down"}
	})
	rec = httptest.NewRecorder()
	srv.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503", rec.Code)
	}
}
