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
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pjscruggs/plack/probe"
)

// Option configures [Middleware].
type Option func(*config)

type config struct {
	projectID         string
	enableOTel        bool
	tracerProvider    trace.TracerProvider
	propagators       propagation.TextMapPropagator
	propagatorsSet    bool
	publicEndpoint    bool
	spanNameFormatter func(string, *http.Request) string
	filters           []otelhttp.Filter
	routeGetter       func(*http.Request) string
	includeQuery      bool
	includeClientIP   bool
	logRequests       bool
	probes            *probe.Matcher
}

func defaultConfig() *config {
	return &config{
		enableOTel:      true,
		includeClientIP: true,
		logRequests:     true,
	}
}

func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithProjectID overrides the project used to format trace resources. The
// logger's project is used otherwise.
func WithProjectID(projectID string) Option {
	return func(cfg *config) {
		cfg.projectID = projectID
	}
}

// WithPropagators sets the propagator used to extract incoming trace
// context. The global propagator is used otherwise.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *config) {
		cfg.propagators = p
		cfg.propagatorsSet = true
	}
}

// WithTracerProvider sets the tracer provider passed to otelhttp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = tp
	}
}

// WithOTel toggles the otelhttp server span. It is enabled by default.
func WithOTel(enabled bool) Option {
	return func(cfg *config) {
		cfg.enableOTel = enabled
	}
}

// WithPublicEndpoint makes otelhttp start new root spans, linking rather
// than parenting incoming trace context.
func WithPublicEndpoint(enabled bool) Option {
	return func(cfg *config) {
		cfg.publicEndpoint = enabled
	}
}

// WithSpanNameFormatter customizes otelhttp span names.
func WithSpanNameFormatter(formatter func(string, *http.Request) string) Option {
	return func(cfg *config) {
		cfg.spanNameFormatter = formatter
	}
}

// WithFilter excludes requests from otelhttp tracing.
func WithFilter(filter otelhttp.Filter) Option {
	return func(cfg *config) {
		if filter != nil {
			cfg.filters = append(cfg.filters, filter)
		}
	}
}

// WithRouteGetter reports the matched route template for a request, bound
// as "http.route".
func WithRouteGetter(fn func(*http.Request) string) Option {
	return func(cfg *config) {
		cfg.routeGetter = fn
	}
}

// WithIncludeQuery includes the raw query string in logged URLs.
func WithIncludeQuery(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeQuery = enabled
	}
}

// WithClientIP toggles the client address in the httpRequest payload.
func WithClientIP(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeClientIP = enabled
	}
}

// WithProbes tags, demotes or drops the access records of requests
// matched as health checks, according to m's mode.
func WithProbes(m *probe.Matcher) Option {
	return func(cfg *config) {
		cfg.probes = m
	}
}

// WithRequestLog toggles the record logged when a request completes.
func WithRequestLog(enabled bool) Option {
	return func(cfg *config) {
		cfg.logRequests = enabled
	}
}
