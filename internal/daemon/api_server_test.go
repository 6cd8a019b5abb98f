package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"camrecorder/internal/testsupport"
	"camrecorder/internal/workflow"
)

type stubWorkflow struct{}

func (stubWorkflow) Start(context.Context) error { return nil }
func (stubWorkflow) Stop()                       {}
func (stubWorkflow) Wait() error                 { return nil }
func (stubWorkflow) Status() workflow.Status {
	return workflow.Status{Phase: workflow.PhaseIdle, Pending: []string{"/rec/a.mp4"}}
}

func newTestHandler(t *testing.T, token string, metricsOn bool) http.Handler {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	cfg.Metrics.Enabled = metricsOn
	d, err := New(cfg, stubWorkflow{}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d.api.routes(cfg)
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := serve(newTestHandler(t, "", false), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "ok" {
		t.Fatalf("healthz = %d %q", w.Code, w.Body.String())
	}
}

func TestStatusPayload(t *testing.T) {
	w := serve(newTestHandler(t, "", false), http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var status Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Workflow.Phase != workflow.PhaseIdle || len(status.Workflow.Pending) != 1 {
		t.Fatalf("unexpected workflow status %+v", status.Workflow)
	}
	if status.PID == 0 {
		t.Fatal("expected pid")
	}
}

func TestSegmentsEmptyDirectory(t *testing.T) {
	w := serve(newTestHandler(t, "", false), http.MethodGet, "/api/segments", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp SegmentsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Segments) != 0 {
		t.Fatalf("expected no segments, got %v", resp.Segments)
	}
}

func TestTokenRequired(t *testing.T) {
	h := newTestHandler(t, "secret", false)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		header := http.Header{}
		if tt.header != "" {
			header.Set("Authorization", tt.header)
		}
		if w := serve(h, http.MethodGet, "/api/status", header); w.Code != tt.want {
			t.Errorf("%s: code = %d, want %d", tt.name, w.Code, tt.want)
		}
	}

	if w := serve(h, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz must stay open, got %d", w.Code)
	}
}

func TestMetricsRouteFollowsConfig(t *testing.T) {
	if w := serve(newTestHandler(t, "", false), http.MethodGet, "/metrics", nil); w.Code != http.StatusNotFound {
		t.Fatalf("metrics disabled: code = %d", w.Code)
	}
	w := serve(newTestHandler(t, "", true), http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics enabled: code = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatal("expected default registry output")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	w := serve(newTestHandler(t, "", false), http.MethodPost, "/api/status", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d", w.Code)
	}
}
