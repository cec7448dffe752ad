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
	"slices"
)

// Handler is an slog.Handler that writes through a [Logger]. slog levels are
// mapped onto ranks with [LevelFromSlog] and snapped down to the nearest
// registered rank, so slog.LevelWarn+1 is logged as WARNING.
//
// Record attributes become the object of the call. An attribute named "err"
// holding an error is the error of the call: when the record has a message
// the error is reported with a "stack" field, otherwise its stack becomes
// the message. Trace correlation fields are added from the span in the
// context passed to the slog method.
type Handler struct {
	logger *Logger
	// bindings holds attributes added before any group was opened.
	bindings string
	groups   []string
	// groupAttrs[i] holds attributes added while groups[:i+1] were open.
	groupAttrs [][]slog.Attr
}

var _ slog.Handler = (*Handler)(nil)

// Handler returns an slog.Handler writing through l.
func (l *Logger) Handler() *Handler {
	return &Handler{logger: l, bindings: l.bindings}
}

// Slog returns an *slog.Logger writing through l.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(l.Handler())
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.engine.Enabled(h.rank(level))
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	rank := h.rank(r.Level)

	attrs := make(Fields, 0, r.NumAttrs())
	var callErr error
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == errKey {
			if err, ok := a.Value.Resolve().Any().(error); ok && callErr == nil {
				callErr = err
				return true
			}
		}
		attrs = append(attrs, a)
		return true
	})

	object := h.nest(attrs)

	var obj, msg any
	switch {
	case callErr != nil && r.Message != "":
		obj, msg = errorWithFields{err: callErr, fields: object}, r.Message
	case callErr != nil:
		msg = callErr
		if len(object) > 0 {
			obj = object
		}
	default:
		if len(object) > 0 {
			obj = object
		}
		if r.Message != "" {
			msg = r.Message
		}
	}

	bindings := h.bindings
	if hasSpan(ctx) {
		bindings += h.logger.serializer.Bindings(TraceFields(ctx, h.logger.ProjectID()))
	}

	t := r.Time
	if t.IsZero() {
		t = h.logger.now()
	}
	h.logger.emit(rank, obj, msg, bindings, t)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	if len(h2.groups) == 0 {
		h2.bindings += h.logger.serializer.Bindings(Fields(attrs))
		return h2
	}
	last := len(h2.groupAttrs) - 1
	h2.groupAttrs[last] = append(slices.Clip(h2.groupAttrs[last]), attrs...)
	return h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	h2.groupAttrs = append(h2.groupAttrs, nil)
	return h2
}

func (h *Handler) clone() *Handler {
	return &Handler{
		logger:     h.logger,
		bindings:   h.bindings,
		groups:     slices.Clip(h.groups),
		groupAttrs: slices.Clone(h.groupAttrs),
	}
}

// rank maps an slog level to the registered rank at or below it.
func (h *Handler) rank(level slog.Level) Level {
	return h.logger.serializer.table.floor(LevelFromSlog(level))
}

// nest wraps record attributes in the open groups. Groups left without any
// attribute are dropped, as slog does.
func (h *Handler) nest(attrs Fields) Fields {
	if len(h.groups) == 0 {
		return attrs
	}
	inner := attrs
	for i := len(h.groups) - 1; i >= 0; i-- {
		members := make([]slog.Attr, 0, len(h.groupAttrs[i])+len(inner))
		members = append(members, h.groupAttrs[i]...)
		members = append(members, inner...)
		if len(members) == 0 {
			inner = nil
			continue
		}
		inner = Fields{slog.Attr{Key: h.groups[i], Value: slog.GroupValue(members...)}}
	}
	return inner
}

// NoticeContext logs at notice through logger.
func NoticeContext(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Log(ctx, LevelNotice.Level(), msg, args...)
}

// CriticalContext logs at the fatal rank, which carries the CRITICAL
// severity, through logger.
func CriticalContext(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Log(ctx, LevelFatal.Level(), msg, args...)
}

// AlertContext logs at alert through logger.
func AlertContext(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Log(ctx, LevelAlert.Level(), msg, args...)
}

// EmergencyContext logs at emergency through logger.
func EmergencyContext(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Log(ctx, LevelEmergency.Level(), msg, args...)
}
