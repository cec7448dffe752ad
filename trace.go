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
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Field names Cloud Logging uses to correlate entries with Cloud Trace.
const (
	// TraceKey holds "projects/PROJECT_ID/traces/TRACE_ID".
	TraceKey = "logging.googleapis.com/trace"
	// SpanKey holds the 16-character hex span ID.
	SpanKey = "logging.googleapis.com/spanId"
	// SampledKey holds the sampling decision.
	SampledKey = "logging.googleapis.com/trace_sampled"
)

// FormatTraceResource returns "projects/<projectID>/traces/<traceID>".
func FormatTraceResource(projectID, traceID string) string {
	return "projects/" + projectID + "/traces/" + traceID
}

// TraceFields returns the trace correlation fields for the span in ctx, or
// nil when ctx carries no valid span. With a project ID the Cloud Logging
// keys are used; without one the raw IDs are emitted under otel.* keys so
// they remain searchable. The span ID is only included for spans created in
// this process.
func TraceFields(ctx context.Context, projectID string) Fields {
	if ctx == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}

	traceID := sc.TraceID().String()
	spanID := sc.SpanID().String()
	ownsSpan := !sc.IsRemote()
	projectID = strings.TrimSpace(projectID)

	if projectID != "" {
		fields := Fields{
			slog.String(TraceKey, FormatTraceResource(projectID, traceID)),
		}
		if ownsSpan {
			fields = append(fields, slog.String(SpanKey, spanID))
		}
		return append(fields, slog.Bool(SampledKey, sc.IsSampled()))
	}

	fields := Fields{slog.String("otel.trace_id", traceID)}
	if ownsSpan {
		fields = append(fields, slog.String("otel.span_id", spanID))
	}
	return append(fields, slog.Bool("otel.trace_sampled", sc.IsSampled()))
}

// hasSpan reports whether ctx carries a valid span context.
func hasSpan(ctx context.Context) bool {
	return ctx != nil && trace.SpanContextFromContext(ctx).IsValid()
}
