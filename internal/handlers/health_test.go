package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/warpweft/api/internal/domain"
)

func TestHealthz(t *testing.T) {
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)

	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", CommitSHA: "abc1234", Environment: "staging", StartedAt: started}),
		WithHealthClock(func() time.Time { return now }),
	)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status      string `json:"status"`
		Uptime      string `json:"uptime"`
		Version     string `json:"version"`
		Environment string `json:"environment"`
	}
	decodeJSON(t, rec.Body, &resp)
	if resp.Status != "ok" || resp.Version != "1.4.0" || resp.Environment != "staging" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Uptime != "1h30m0s" {
		t.Errorf("uptime = %q, want 1h30m0s", resp.Uptime)
	}
}

func TestReadyzHealthy(t *testing.T) {
	system := &stubSystemService{
		health: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
				},
				GeneratedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	h := NewHealthHandlers(WithHealthSystemService(system))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	decodeJSON(t, rec.Body, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if _, ok := resp.Checks["firestore"]; !ok {
		t.Errorf("checks = %+v, want a firestore entry", resp.Checks)
	}
}

func TestReadyzDependencyDown(t *testing.T) {
	system := &stubSystemService{
		health: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
				},
			}, nil
		},
	}
	h := NewHealthHandlers(WithHealthSystemService(system))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp struct {
		Status  string   `json:"status"`
		Details []string `json:"details"`
	}
	decodeJSON(t, rec.Body, &resp)
	if resp.Status != "error" {
		t.Errorf("status = %q, want error", resp.Status)
	}
	if len(resp.Details) != 1 {
		t.Errorf("details = %v, want the firestore error surfaced", resp.Details)
	}
}

func TestReadyzCollectionFailure(t *testing.T) {
	system := &stubSystemService{
		health: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{}, errors.New("probe panicked")
		},
	}
	h := NewHealthHandlers(WithHealthSystemService(system))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestReadyzWithoutSystemService(t *testing.T) {
	h := NewHealthHandlers()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
