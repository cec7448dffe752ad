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
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// Engine is the leveled output side of a [Logger]: it decides whether a
// rank is enabled and writes finished lines. Record assembly is the
// [Serializer]'s job; an Engine never inspects the line it writes.
type Engine interface {
	Enabled(level Level) bool
	Write(line string) error
}

// TimeFunc renders the timestamp fragment for a record, including its
// leading comma. A zero time must render as "".
type TimeFunc func(t time.Time) string

// TimeRFC3339 renders `,"time":"<RFC 3339 UTC, nanoseconds>"`.
func TimeRFC3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return `,"time":"` + t.UTC().Format(time.RFC3339Nano) + `"`
}

// TimeEpochMillis renders `,"time":<milliseconds since the Unix epoch>`.
func TimeEpochMillis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return `,"time":` + strconv.FormatInt(t.UnixMilli(), 10)
}

// TimeNone omits the timestamp. Cloud Logging stamps entries on ingestion.
func TimeNone(time.Time) string { return "" }

// ErrEngineClosed is returned by WriterEngine.Write after Close.
var ErrEngineClosed = errors.New("plack: engine closed")

// WriterEngine writes lines to an io.Writer, serializing writes with a
// mutex, and filters by a shared [LevelVar]. The writer can be swapped at
// runtime, which is how log files are reopened after rotation.
type WriterEngine struct {
	level *LevelVar

	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewWriterEngine returns an engine writing to w (os.Stdout when nil) at
// minimum rank level (LevelInfo when nil). The engine does not own w.
func NewWriterEngine(w io.Writer, level *LevelVar) *WriterEngine {
	if w == nil {
		w = os.Stdout
	}
	if level == nil {
		level = NewLevelVar(LevelInfo)
	}
	return &WriterEngine{w: w, level: level}
}

// Enabled reports whether level is at or above the current minimum.
func (e *WriterEngine) Enabled(level Level) bool {
	return level >= e.level.Level()
}

// Write writes line to the current writer.
func (e *WriterEngine) Write(line string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w == nil {
		return ErrEngineClosed
	}
	if _, err := io.WriteString(e.w, line); err != nil {
		return fmt.Errorf("plack: write log line: %w", err)
	}
	return nil
}

// LevelVar returns the engine's minimum level.
func (e *WriterEngine) LevelVar() *LevelVar {
	return e.level
}

// SetWriter swaps the destination. When owned is true the engine closes w
// on the next SetWriter or Close. The previous writer is closed if the
// engine owned it.
func (e *WriterEngine) SetWriter(w io.Writer, owned bool) error {
	e.mu.Lock()
	prev := e.closer
	e.w = w
	e.closer = nil
	if owned {
		if c, ok := w.(io.Closer); ok {
			e.closer = c
		}
	}
	e.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			return fmt.Errorf("plack: close previous writer: %w", err)
		}
	}
	return nil
}

// Close closes an owned writer and stops further writes. It is idempotent.
func (e *WriterEngine) Close() error {
	e.mu.Lock()
	c := e.closer
	e.w = nil
	e.closer = nil
	e.mu.Unlock()

	if c != nil {
		if err := c.Close(); err != nil {
			return fmt.Errorf("plack: close writer: %w", err)
		}
	}
	return nil
}

// openLogFile opens path for appending, creating it when needed.
func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("plack: open log file %q: %w", path, err)
	}
	return f, nil
}
