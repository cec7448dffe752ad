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
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pjscruggs/plack"
	"github.com/pjscruggs/plack/probe"
)

const instrumentationName = "github.com/pjscruggs/plack/plackhttp"

// Middleware returns net/http middleware that extracts incoming trace
// context, stores a request-scoped child of logger in the request context
// and, unless disabled with WithRequestLog(false), logs the completed
// request at INFO (ERROR for 5xx responses) with an httpRequest field.
func Middleware(logger *plack.Logger, opts ...Option) func(http.Handler) http.Handler {
	cfg := applyOptions(opts)
	plack.EnsurePropagation()

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}

		handlerChain := wrapWithOTel(cfg, buildLoggingHandler(cfg, logger, next))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx := ensureSpanContext(r.Context(), r, cfg); ctx != r.Context() {
				r = r.WithContext(ctx)
			}
			handlerChain.ServeHTTP(w, r)
		})
	}
}

// Logger returns the request-scoped logger stored by Middleware, or nil.
func Logger(ctx context.Context) *plack.Logger {
	logger, _ := plack.LoggerFromContext(ctx)
	return logger
}

// buildLoggingHandler derives the request logger and logs completion.
func buildLoggingHandler(cfg *config, logger *plack.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		scope := newRequestScope(r, start, cfg)

		projectID := strings.TrimSpace(cfg.projectID)
		if projectID == "" {
			projectID = logger.ProjectID()
		}
		requestLogger := logger.
			Child(plack.TraceFields(r.Context(), projectID)).
			Child(scope.bindings())

		ctx := plack.ContextWithLogger(r.Context(), requestLogger)
		ctx = context.WithValue(ctx, requestScopeKey{}, scope)
		r = r.WithContext(ctx)

		isProbe := cfg.probes.MatchHTTP(r)
		rec := &responseRecorder{ResponseWriter: w}
		defer func() {
			scope.finalize(rec.Status(), rec.bytesWritten, time.Since(start))
			if cfg.logRequests {
				logCompletion(requestLogger, scope, cfg.probes, isProbe)
			}
		}()

		next.ServeHTTP(rec, r)
	})
}

// logCompletion writes the access record for a finished request. Probe
// requests are rewritten by probes.
func logCompletion(logger *plack.Logger, scope *RequestScope, probes *probe.Matcher, isProbe bool) {
	level := plack.LevelInfo
	if scope.Status() >= http.StatusInternalServerError {
		level = plack.LevelError
	}
	fields := plack.F(httpRequestKey, HTTPRequestFromScope(scope))
	if isProbe {
		var tag plack.Fields
		var keep bool
		if level, tag, keep = probes.Apply(level); !keep {
			return
		}
		fields = append(fields, tag...)
	}
	logger.Log(level, fields, fmt.Sprintf("%s %s %d", scope.Method(), scope.Target(), scope.Status()))
}

// wrapWithOTel wraps handler with otelhttp when enabled.
func wrapWithOTel(cfg *config, handler http.Handler) http.Handler {
	if !cfg.enableOTel {
		return handler
	}
	return otelhttp.NewHandler(handler, instrumentationName, otelOptions(cfg)...)
}

// otelOptions builds otelhttp options from configuration.
func otelOptions(cfg *config) []otelhttp.Option {
	var otelOpts []otelhttp.Option
	if cfg.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.tracerProvider))
	}
	if cfg.propagatorsSet && cfg.propagators != nil {
		otelOpts = append(otelOpts, otelhttp.WithPropagators(cfg.propagators))
	}
	if cfg.publicEndpoint {
		otelOpts = append(otelOpts, otelhttp.WithPublicEndpointFn(func(*http.Request) bool {
			return true
		}))
	}
	if cfg.spanNameFormatter != nil {
		otelOpts = append(otelOpts, otelhttp.WithSpanNameFormatter(cfg.spanNameFormatter))
	}
	for _, filter := range cfg.filters {
		otelOpts = append(otelOpts, otelhttp.WithFilter(filter))
	}
	return otelOpts
}

// ensureSpanContext extracts a remote span context from the request headers
// when ctx has none, so logs correlate even without otelhttp.
func ensureSpanContext(ctx context.Context, r *http.Request, cfg *config) context.Context {
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	propagator := cfg.propagators
	if !cfg.propagatorsSet || propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	extracted := propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
	if !trace.SpanContextFromContext(extracted).IsValid() {
		return ctx
	}
	return extracted
}

// RequestScope holds request metadata for the lifetime of a request.
type RequestScope struct {
	start     time.Time
	method    string
	route     string
	target    string
	query     string
	scheme    string
	host      string
	protocol  string
	clientIP  string
	userAgent string
	referer   string
	reqSize   int64

	status   int
	respSize int64
	latency  time.Duration
}

// newRequestScope captures request metadata.
func newRequestScope(r *http.Request, start time.Time, cfg *config) *RequestScope {
	scope := &RequestScope{
		start:     start,
		method:    r.Method,
		host:      r.Host,
		protocol:  r.Proto,
		userAgent: r.UserAgent(),
		referer:   r.Referer(),
		reqSize:   r.ContentLength,
		status:    http.StatusOK,
		latency:   -1,
	}
	if r.URL != nil {
		scope.target = r.URL.Path
		if cfg.includeQuery {
			scope.query = r.URL.RawQuery
		}
		scope.scheme = r.URL.Scheme
	}
	if scope.scheme == "" {
		scope.scheme = "http"
		if r.TLS != nil {
			scope.scheme = "https"
		}
	}
	if cfg.includeClientIP {
		scope.clientIP = extractIP(r.RemoteAddr)
	}
	if cfg.routeGetter != nil {
		scope.route = strings.TrimSpace(cfg.routeGetter(r))
	}
	return scope
}

// bindings returns the fields bound to the request logger.
func (rs *RequestScope) bindings() plack.Fields {
	fields := plack.F("http.method", rs.method, "http.target", rs.target)
	if rs.route != "" {
		fields = append(fields, plack.F("http.route", rs.route)...)
	}
	return fields
}

// Method returns the request method.
func (rs *RequestScope) Method() string { return rs.method }

// Target returns the request path.
func (rs *RequestScope) Target() string { return rs.target }

// Route returns the route template reported by WithRouteGetter.
func (rs *RequestScope) Route() string { return rs.route }

// Status returns the response status, 200 until the handler writes one.
func (rs *RequestScope) Status() int { return rs.status }

// Latency returns the request duration once the request has completed.
func (rs *RequestScope) Latency() (time.Duration, bool) {
	return rs.latency, rs.latency >= 0
}

// Start returns when the middleware received the request.
func (rs *RequestScope) Start() time.Time { return rs.start }

// finalize records the outcome of the request.
func (rs *RequestScope) finalize(status int, bytes int64, d time.Duration) {
	rs.status = status
	rs.respSize = bytes
	rs.latency = d
}

type requestScopeKey struct{}

// ScopeFromContext returns the RequestScope stored by Middleware.
func ScopeFromContext(ctx context.Context) (*RequestScope, bool) {
	scope, ok := ctx.Value(requestScopeKey{}).(*RequestScope)
	return scope, ok && scope != nil
}

type responseRecorder struct {
	http.ResponseWriter
	status       int
	wroteHeader  bool
	bytesWritten int64
}

// WriteHeader records the status code before delegating.
func (rr *responseRecorder) WriteHeader(status int) {
	if !rr.wroteHeader {
		rr.status = status
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(status)
}

// Write counts response bytes.
func (rr *responseRecorder) Write(p []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := rr.ResponseWriter.Write(p)
	rr.bytesWritten += int64(n)
	if err != nil {
		return n, fmt.Errorf("write response body: %w", err)
	}
	return n, nil
}

// ReadFrom counts bytes streamed from src.
func (rr *responseRecorder) ReadFrom(src io.Reader) (int64, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := io.Copy(rr.ResponseWriter, src)
	rr.bytesWritten += n
	if err != nil {
		return n, fmt.Errorf("copy response body: %w", err)
	}
	return n, nil
}

// Status returns the status written to the client.
func (rr *responseRecorder) Status() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// Unwrap exposes the underlying ResponseWriter for http.ResponseController.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// Flush forwards to the underlying writer when it supports flushing.
func (rr *responseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack delegates to the wrapped Hijacker when supported.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rr.ResponseWriter.(http.Hijacker); ok {
		conn, rw, err := hijacker.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, rw, nil
	}
	return nil, nil, http.ErrNotSupported
}

// extractIP strips the port from a host:port address.
func extractIP(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
