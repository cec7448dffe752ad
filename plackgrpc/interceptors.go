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

package plackgrpc

import (
	"context"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/pjscruggs/plack"
	"github.com/pjscruggs/plack/probe"
)

// RequestInfo describes the RPC being served.
type RequestInfo struct {
	fullMethod string
	service    string
	method     string
	kind       string
	peer       string
	start      time.Time
	code       codes.Code
	latency    time.Duration
	probe      bool
}

func newRequestInfo(fullMethod, kind string, start time.Time) *RequestInfo {
	service, method := splitFullMethod(fullMethod)
	return &RequestInfo{
		fullMethod: fullMethod,
		service:    service,
		method:     method,
		kind:       kind,
		start:      start,
		latency:    -1,
	}
}

// FullMethod returns the "/package.Service/Method" name.
func (ri *RequestInfo) FullMethod() string { return ri.fullMethod }

// Service returns the service part of the method name.
func (ri *RequestInfo) Service() string { return ri.service }

// Method returns the method part of the method name.
func (ri *RequestInfo) Method() string { return ri.method }

// Kind returns "unary", "client_stream", "server_stream" or "bidi_stream".
func (ri *RequestInfo) Kind() string { return ri.kind }

// Peer returns the client address, when known.
func (ri *RequestInfo) Peer() string { return ri.peer }

// Code returns the status code once the call has completed.
func (ri *RequestInfo) Code() codes.Code { return ri.code }

// Latency returns the call duration once the call has completed.
func (ri *RequestInfo) Latency() (time.Duration, bool) { return ri.latency, ri.latency >= 0 }

func (ri *RequestInfo) finalize(code codes.Code, d time.Duration) {
	ri.code = code
	ri.latency = d
}

// bindings returns the fields bound to the request logger.
func (ri *RequestInfo) bindings() plack.Fields {
	fields := plack.F(
		"grpc.service", ri.service,
		"grpc.method", ri.method,
		"grpc.kind", ri.kind,
	)
	if ri.peer != "" {
		fields = append(fields, plack.F("net.peer.ip", ri.peer)...)
	}
	return fields
}

type requestInfoKey struct{}

// InfoFromContext returns the RequestInfo attached by the interceptors.
func InfoFromContext(ctx context.Context) (*RequestInfo, bool) {
	if ctx == nil {
		return nil, false
	}
	info, ok := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return info, ok && info != nil
}

// Logger returns the request-scoped logger attached by the interceptors, or
// nil.
func Logger(ctx context.Context) *plack.Logger {
	logger, _ := plack.LoggerFromContext(ctx)
	return logger
}

// UnaryServerInterceptor attaches a request-scoped child of logger to the
// context of unary RPCs and logs their completion.
func UnaryServerInterceptor(logger *plack.Logger, opts ...Option) grpc.UnaryServerInterceptor {
	cfg := applyOptions(opts)
	plack.EnsurePropagation()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		requestInfo := newRequestInfo(info.FullMethod, "unary", start)

		ctx, requestLogger := attachLogger(ctx, cfg, logger, requestInfo)

		resp, err := handler(ctx, req)
		requestInfo.finalize(status.Code(err), time.Since(start))
		if cfg.logRequests {
			logCompletion(requestLogger, requestInfo, err, cfg.probes)
		}
		return resp, err
	}
}

// StreamServerInterceptor attaches a request-scoped child of logger to the
// context of streaming RPCs and logs their completion.
func StreamServerInterceptor(logger *plack.Logger, opts ...Option) grpc.StreamServerInterceptor {
	cfg := applyOptions(opts)
	plack.EnsurePropagation()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		requestInfo := newRequestInfo(info.FullMethod, streamKind(info), start)

		ctx, requestLogger := attachLogger(ss.Context(), cfg, logger, requestInfo)

		err := handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
		requestInfo.finalize(status.Code(err), time.Since(start))
		if cfg.logRequests {
			logCompletion(requestLogger, requestInfo, err, cfg.probes)
		}
		return err
	}
}

// ServerOptions returns the otelgrpc stats handler, unless disabled, and
// both interceptors.
func ServerOptions(logger *plack.Logger, opts ...Option) []grpc.ServerOption {
	cfg := applyOptions(opts)
	var serverOpts []grpc.ServerOption

	if cfg.enableOTel {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler(statsHandlerOptions(cfg)...)))
	}

	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(logger, opts...)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor(logger, opts...)),
	)
	return serverOpts
}

// statsHandlerOptions configures otelgrpc.
func statsHandlerOptions(cfg *config) []otelgrpc.Option {
	var opts []otelgrpc.Option
	if cfg.tracerProvider != nil {
		opts = append(opts, otelgrpc.WithTracerProvider(cfg.tracerProvider))
	}
	if cfg.propagatorsSet && cfg.propagators != nil {
		opts = append(opts, otelgrpc.WithPropagators(cfg.propagators))
	}
	for _, filter := range cfg.filters {
		opts = append(opts, otelgrpc.WithFilter(filter))
	}
	return opts
}

// attachLogger derives the request logger and stores it, with info, in ctx.
func attachLogger(ctx context.Context, cfg *config, logger *plack.Logger, info *RequestInfo) (context.Context, *plack.Logger) {
	ctx = ensureServerSpanContext(ctx, cfg)
	peerAddr := peerAddress(ctx)
	if cfg.includePeer {
		info.peer = peerAddr
	}
	if cfg.probes != nil {
		md, _ := metadata.FromIncomingContext(ctx)
		info.probe = cfg.probes.MatchGRPC(info.fullMethod, md, peerAddr)
	}

	projectID := strings.TrimSpace(cfg.projectID)
	if projectID == "" {
		projectID = logger.ProjectID()
	}
	requestLogger := logger.
		Child(plack.TraceFields(ctx, projectID)).
		Child(info.bindings())

	ctx = plack.ContextWithLogger(ctx, requestLogger)
	ctx = context.WithValue(ctx, requestInfoKey{}, info)
	return ctx, requestLogger
}

// logCompletion logs a finished RPC. Server-side failures are logged at
// ERROR and client errors at WARN, both with the error as the object.
// Health check calls are rewritten by probes.
func logCompletion(logger *plack.Logger, info *RequestInfo, err error, probes *probe.Matcher) {
	level := plack.LevelInfo
	switch {
	case err == nil:
	case isServerError(info.code):
		level = plack.LevelError
	default:
		level = plack.LevelWarn
	}
	fields := plack.F("grpc.code", info.code.String(), "grpc.duration", info.latency)
	if info.probe {
		var tag plack.Fields
		var keep bool
		if level, tag, keep = probes.Apply(level); !keep {
			return
		}
		fields = append(fields, tag...)
	}

	msg := "finished " + info.kind + " call " + info.fullMethod
	if err == nil {
		logger.Log(level, fields, msg)
		return
	}
	logger.Child(fields).Log(level, err, msg)
}

// isServerError reports whether code indicates a failure of the server
// rather than of the request.
func isServerError(code codes.Code) bool {
	switch code {
	case codes.Unknown, codes.DeadlineExceeded, codes.Unimplemented, codes.Internal,
		codes.Unavailable, codes.DataLoss:
		return true
	}
	return false
}

// ensureServerSpanContext extracts trace context from incoming metadata
// when ctx carries no span.
func ensureServerSpanContext(ctx context.Context, cfg *config) context.Context {
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	propagator := cfg.propagators
	if !cfg.propagatorsSet || propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	extracted := propagator.Extract(ctx, metadataCarrier{md})
	if !trace.SpanContextFromContext(extracted).IsValid() {
		return ctx
	}
	return extracted
}

type metadataCarrier struct {
	metadata.MD
}

// Get returns the first value for key.
func (mc metadataCarrier) Get(key string) string {
	values := mc.MD.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Set stores value under key.
func (mc metadataCarrier) Set(key, value string) {
	mc.MD.Set(key, value)
}

// Keys reports all metadata keys.
func (mc metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(mc.MD))
	for k := range mc.MD {
		keys = append(keys, k)
	}
	return keys
}

// peerAddress returns the client host, or "".
func peerAddress(ctx context.Context) string {
	pr, ok := peer.FromContext(ctx)
	if !ok || pr == nil || pr.Addr == nil {
		return ""
	}
	addr := pr.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// streamKind names the streaming mode of an RPC.
func streamKind(info *grpc.StreamServerInfo) string {
	switch {
	case info.IsClientStream && info.IsServerStream:
		return "bidi_stream"
	case info.IsClientStream:
		return "client_stream"
	case info.IsServerStream:
		return "server_stream"
	default:
		return "unary"
	}
}

// splitFullMethod splits "/pkg.Service/Method".
func splitFullMethod(full string) (service, method string) {
	if !strings.HasPrefix(full, "/") {
		return "", strings.TrimSpace(full)
	}
	service, method, _ = strings.Cut(strings.TrimPrefix(full, "/"), "/")
	return service, method
}

type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the request context carrying the request logger.
func (s *serverStream) Context() context.Context {
	return s.ctx
}
