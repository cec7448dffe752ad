// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plackhttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pjscruggs/plack"
	"github.com/pjscruggs/plack/probe"
)

// newTestLogger returns a logger writing to buf without timestamps.
func newTestLogger(t *testing.T, buf *bytes.Buffer) *plack.Logger {
	t.Helper()
	logger, err := plack.New(
		plack.WithRedirectWriter(buf),
		plack.WithServiceContext(plack.ServiceContext{Service: "web", Version: "v1"}),
		plack.WithTime(plack.TimeNone),
		plack.WithProjectID("proj-123"),
	)
	if err != nil {
		t.Fatalf("plack.New() returned %v, want nil", err)
	}
	return logger
}

// decodeLines parses every JSON line written to buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

// TestMiddlewareAttachesRequestLogger verifies handlers log through a
// request-scoped logger that carries trace and request fields.
func TestMiddlewareAttachesRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mw := Middleware(newTestLogger(t, &buf),
		WithOTel(false),
		WithPropagators(plack.Propagator()),
		WithRouteGetter(func(*http.Request) string { return "/widgets/{id}" }),
	)

	var capturedScope *RequestScope
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok := ScopeFromContext(r.Context())
		if !ok {
			t.Fatalf("scope missing from context")
		}
		capturedScope = scope

		logger := Logger(r.Context())
		if logger == nil {
			t.Fatalf("Logger(ctx) returned nil")
		}
		logger.Info("processing request")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "https://example.com/widgets/42?id=42", nil)
	req.RemoteAddr = "198.51.100.10:12345"
	req.Header.Set("traceparent", "00-105445aa7843bc8bf206b12000100000-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if capturedScope == nil {
		t.Fatalf("scope not captured")
	}
	if got := capturedScope.Method(); got != http.MethodGet {
		t.Fatalf("scope.Method() = %q, want GET", got)
	}
	if got := capturedScope.Status(); got != http.StatusAccepted {
		t.Fatalf("scope.Status() = %d, want 202", got)
	}
	if _, ok := capturedScope.Latency(); !ok {
		t.Fatalf("scope.Latency() not finalized")
	}

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d log lines, want 2: %s", len(entries), buf.String())
	}

	first := entries[0]
	want := map[string]any{
		"severity":       "INFO",
		"message":        "processing request",
		plack.TraceKey:   "projects/proj-123/traces/105445aa7843bc8bf206b12000100000",
		plack.SampledKey: true,
		"http.method":    "GET",
		"http.target":    "/widgets/42",
		"http.route":     "/widgets/{id}",
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("request log mismatch (-want +got):\n%s", diff)
	}

	access := entries[1]
	if got := access["message"]; got != "GET /widgets/42 202" {
		t.Errorf("access message = %v", got)
	}
	httpReq, ok := access[httpRequestKey].(map[string]any)
	if !ok {
		t.Fatalf("httpRequest missing: %v", access)
	}
	if got := httpReq["requestUrl"]; got != "https://example.com/widgets/42" {
		t.Errorf("requestUrl = %v", got)
	}
	if got := httpReq["status"]; got != float64(http.StatusAccepted) {
		t.Errorf("status = %v", got)
	}
	if got := httpReq["responseSize"]; got != "2" {
		t.Errorf("responseSize = %v, want \"2\"", got)
	}
	if got := httpReq["remoteIp"]; got != "198.51.100.10" {
		t.Errorf("remoteIp = %v", got)
	}
}

// TestMiddlewareLogsServerErrorsAtError checks the severity of 5xx access
// records.
func TestMiddlewareLogsServerErrorsAtError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := Middleware(newTestLogger(t, &buf), WithOTel(false))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/upload", nil))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d log lines, want 1", len(entries))
	}
	if got := entries[0]["severity"]; got != "ERROR" {
		t.Fatalf("severity = %v, want ERROR", got)
	}
	if _, ok := entries[0][plack.TraceKey]; ok {
		t.Fatalf("trace field present without incoming trace context")
	}
}

// TestMiddlewareRequestLogDisabled ensures WithRequestLog(false) suppresses
// the access record.
func TestMiddlewareRequestLogDisabled(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := Middleware(newTestLogger(t, &buf), WithOTel(false), WithRequestLog(false))(http.NotFoundHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if buf.Len() != 0 {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

// TestHTTPRequestFromScopeQuery verifies query handling and latency format.
func TestHTTPRequestFromScopeQuery(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/search?q=go", nil)
	scope := newRequestScope(req, time.Now(), &config{includeQuery: true})
	scope.finalize(http.StatusOK, 10, 1500*time.Millisecond)

	got := HTTPRequestFromScope(scope)
	if got.RequestURL != "http://example.com/search?q=go" {
		t.Fatalf("RequestURL = %q", got.RequestURL)
	}
	if got.Latency != "1.5s" {
		t.Fatalf("Latency = %q, want 1.5s", got.Latency)
	}
	if HTTPRequestFromScope(nil) != nil {
		t.Fatalf("HTTPRequestFromScope(nil) returned non-nil")
	}
}

// TestMiddlewareProbeModes verifies health check requests are tagged or
// dropped.
func TestMiddlewareProbeModes(t *testing.T) {
	t.Parallel()

	for _, mode := range []probe.Mode{probe.ModeTag, probe.ModeDrop} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()
			cfg := probe.DefaultConfig()
			cfg.Mode = mode

			var buf bytes.Buffer
			mw := Middleware(newTestLogger(t, &buf), WithOTel(false), WithProbes(probe.NewMatcher(cfg)))
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api", nil)
			req.Header.Set("User-Agent", "GoogleHC/1.0")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			entries := decodeLines(t, &buf)
			if mode == probe.ModeDrop {
				if len(entries) != 0 {
					t.Fatalf("got %d lines, want 0: %s", len(entries), buf.String())
				}
				return
			}
			if len(entries) != 1 {
				t.Fatalf("got %d lines, want 1", len(entries))
			}
			if got := entries[0][probe.DefaultTagKey]; got != true {
				t.Errorf("%s = %v, want true", probe.DefaultTagKey, got)
			}
		})
	}
}

func TestMiddlewareDemoteWithoutExplicitLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := plack.New(
		plack.WithRedirectWriter(&buf),
		plack.WithTime(plack.TimeNone),
		plack.WithProjectID("proj-123"),
		plack.WithServiceContext(plack.ServiceContext{Service: "web", Version: "v1"}),
		plack.WithLevel(plack.LevelTrace),
	)
	if err != nil {
		t.Fatalf("plack.New() returned %v, want nil", err)
	}
	matcher := probe.NewMatcher(probe.Config{Mode: probe.ModeDemote, Paths: []string{"/healthz"}})
	handler := Middleware(logger, WithOTel(false), WithProbes(matcher))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d lines, want 1: %s", len(entries), buf.String())
	}
	if got := entries[0]["severity"]; got != "DEBUG" {
		t.Errorf("severity = %v, want DEBUG", got)
	}
	if got := entries[0][probe.DefaultTagKey]; got != true {
		t.Errorf("%s = %v, want true", probe.DefaultTagKey, got)
	}
}
