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
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pjscruggs/plack/probe"
)

// Option configures the interceptors.
type Option func(*config)

type config struct {
	projectID      string
	propagators    propagation.TextMapPropagator
	propagatorsSet bool
	tracerProvider trace.TracerProvider
	enableOTel     bool
	filters        []otelgrpc.Filter
	includePeer    bool
	logRequests    bool
	probes         *probe.Matcher
}

func defaultConfig() *config {
	return &config{
		enableOTel:  true,
		includePeer: true,
		logRequests: true,
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

// WithProjectID overrides the project used to format trace resources.
func WithProjectID(projectID string) Option {
	return func(cfg *config) {
		cfg.projectID = projectID
	}
}

// WithPropagators sets the propagator used to extract trace context from
// incoming metadata. The global propagator is used otherwise.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *config) {
		cfg.propagators = p
		cfg.propagatorsSet = true
	}
}

// WithTracerProvider sets the tracer provider passed to otelgrpc.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = tp
	}
}

// WithOTel toggles the otelgrpc stats handler installed by ServerOptions.
func WithOTel(enabled bool) Option {
	return func(cfg *config) {
		cfg.enableOTel = enabled
	}
}

// WithFilter excludes RPCs from otelgrpc tracing.
func WithFilter(filter otelgrpc.Filter) Option {
	return func(cfg *config) {
		if filter != nil {
			cfg.filters = append(cfg.filters, filter)
		}
	}
}

// WithPeerInfo toggles the "net.peer.ip" binding.
func WithPeerInfo(enabled bool) Option {
	return func(cfg *config) {
		cfg.includePeer = enabled
	}
}

// WithProbes tags, demotes or drops the completion records of calls
// matched as health checks, according to m's mode.
func WithProbes(m *probe.Matcher) Option {
	return func(cfg *config) {
		cfg.probes = m
	}
}

// WithRequestLog toggles the record logged when an RPC completes.
func WithRequestLog(enabled bool) Option {
	return func(cfg *config) {
		cfg.logRequests = enabled
	}
}
