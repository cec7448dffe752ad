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

package plack

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// resetPropagation restores the global propagator and the install guard
// when the test ends.
func resetPropagation(t *testing.T) {
	t.Helper()
	original := otel.GetTextMapPropagator()
	installPropagatorOnce = sync.Once{}
	t.Cleanup(func() {
		otel.SetTextMapPropagator(original)
		installPropagatorOnce = sync.Once{}
	})
}

// TestEnsurePropagationInstallsComposite verifies the global propagator
// speaks W3C Trace Context after installation.
func TestEnsurePropagationInstallsComposite(t *testing.T) {
	resetPropagation(t)
	t.Setenv(envDisablePropagatorAutoset, "")
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())

	EnsurePropagation()

	fields := otel.GetTextMapPropagator().Fields()
	if !slices.Contains(fields, "traceparent") {
		t.Fatalf("global propagator fields = %v, want traceparent", fields)
	}
}

// TestEnsurePropagationHonoursOptOut verifies the environment switch.
func TestEnsurePropagationHonoursOptOut(t *testing.T) {
	resetPropagation(t)
	t.Setenv(envDisablePropagatorAutoset, "true")
	empty := propagation.NewCompositeTextMapPropagator()
	otel.SetTextMapPropagator(empty)

	EnsurePropagation()

	if got := otel.GetTextMapPropagator().Fields(); len(got) != 0 {
		t.Fatalf("propagator replaced despite opt-out, fields = %v", got)
	}
}

// TestPropagatorReadsCloudTraceHeader verifies X-Cloud-Trace-Context is
// extracted as a remote, sampled span.
func TestPropagatorReadsCloudTraceHeader(t *testing.T) {
	t.Parallel()

	header := http.Header{}
	header.Set("X-Cloud-Trace-Context", "4bf92f3577b34da6a3ce929d0e0e4736/1;o=1")
	ctx := Propagator().Extract(context.Background(), propagation.HeaderCarrier(header))

	got := (&Serializer{stringify: Stringify}).Bindings(TraceFields(ctx, "proj-123"))
	want := `,"logging.googleapis.com/trace":"projects/proj-123/traces/4bf92f3577b34da6a3ce929d0e0e4736",` +
		`"logging.googleapis.com/trace_sampled":true`
	if got != want {
		t.Fatalf("trace bindings = %s\nwant %s", got, want)
	}
}

// TestTraceFieldsWithoutProject falls back to otel.* keys.
func TestTraceFieldsWithoutProject(t *testing.T) {
	t.Parallel()

	header := http.Header{}
	header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00")
	ctx := Propagator().Extract(context.Background(), propagation.HeaderCarrier(header))

	fields := TraceFields(ctx, " ")
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	if want := []string{"otel.trace_id", "otel.trace_sampled"}; !slices.Equal(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	if TraceFields(context.Background(), "p") != nil {
		t.Fatalf("TraceFields() without a span returned fields")
	}
	if got := FormatTraceResource("p", "t"); got != "projects/p/traces/t" {
		t.Fatalf("FormatTraceResource() = %q", got)
	}
}
