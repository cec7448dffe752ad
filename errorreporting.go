// Copyright 2025-2026 Patrick J. Scruggs
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
	"log/slog"
	"runtime"
)

// Keys with special meaning to the record serializer and Cloud Error
// Reporting.
const (
	messageKey        = "message"
	typeKey           = "type"
	stackKey          = "stack"
	serviceContextKey = "serviceContext"
	reportLocationKey = "reportLocation"
	// nameKey is never copied from an error onto the record.
	nameKey = "name"
	// errKey is reserved for errors and is never serialized as a field.
	errKey  = "err"
	codeKey = "code"
)

// ServiceContext identifies the service in Cloud Error Reporting.
type ServiceContext struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// ReportLocation returns a "reportLocation" field describing the caller.
// Including it in the object of a log call that carries an error and a
// separate message makes the record carry the serviceContext that Error
// Reporting needs, even though the error's stack lands in the "stack" field
// rather than the message.
//
//	slog.ErrorContext(ctx, "charge failed", "err", err, plack.ReportLocation())
func ReportLocation() slog.Attr {
	_, frame := CaptureStack(nil)
	return reportLocationAttr(frame)
}

// reportLocationAttr formats frame the way Error Reporting expects.
func reportLocationAttr(frame runtime.Frame) slog.Attr {
	attrs := make([]any, 0, 3)
	if frame.File != "" {
		attrs = append(attrs, slog.String("filePath", frame.File))
	}
	if frame.Line != 0 {
		attrs = append(attrs, slog.Int("lineNumber", frame.Line))
	}
	if frame.Function != "" {
		attrs = append(attrs, slog.String("functionName", frame.Function))
	}
	return slog.Group(reportLocationKey, attrs...)
}
