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

package plack_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pjscruggs/plack"
)

// TestMetricsCountLines verifies per-severity counters and collector
// sharing across loggers registered with one registry.
func TestMetricsCountLines(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	var buf bytes.Buffer
	first := newBufferLogger(t, &buf, plack.WithMetricsRegisterer(reg))
	second := newBufferLogger(t, &buf, plack.WithMetricsRegisterer(reg))

	first.Info("a")
	second.Info("b")
	first.Error("c")
	first.Debug("filtered")

	if first.Metrics() != second.Metrics() {
		t.Fatalf("loggers on one registry do not share a collector")
	}

	const want = `
# HELP plack_log_lines_total Log records written, by Cloud Logging severity.
# TYPE plack_log_lines_total counter
plack_log_lines_total{severity="ERROR"} 1
plack_log_lines_total{severity="INFO"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "plack_log_lines_total"); err != nil {
		t.Fatalf("GatherAndCompare() returned %v", err)
	}
	if got := testutil.CollectAndCount(first.Metrics(), "plack_build_info"); got != 1 {
		t.Fatalf("plack_build_info series = %d, want 1", got)
	}
}

// failingWriter rejects every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

// TestMetricsCountWriteFailures verifies failed writes are counted and do
// not panic.
func TestMetricsCountWriteFailures(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	logger, err := plack.New(
		plack.WithRedirectWriter(failingWriter{}),
		plack.WithoutServiceContext(),
		plack.WithProjectID("proj-123"),
		plack.WithMetricsRegisterer(reg),
	)
	if err != nil {
		t.Fatalf("New() returned %v, want nil", err)
	}
	logger.Info("lost")

	const want = `
# HELP plack_log_failures_total Log records lost, by failing stage.
# TYPE plack_log_failures_total counter
plack_log_failures_total{stage="write"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "plack_log_failures_total"); err != nil {
		t.Fatalf("GatherAndCompare() returned %v", err)
	}
}

// closeCounter counts Close calls.
type closeCounter struct {
	bytes.Buffer
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

// TestWriterEngine covers filtering, writer swaps and closing.
func TestWriterEngine(t *testing.T) {
	t.Parallel()

	level := plack.NewLevelVar(plack.LevelWarn)
	first := &closeCounter{}
	engine := plack.NewWriterEngine(nil, level)
	if err := engine.SetWriter(first, true); err != nil {
		t.Fatalf("SetWriter() returned %v", err)
	}

	if engine.Enabled(plack.LevelInfo) || !engine.Enabled(plack.LevelError) {
		t.Fatalf("Enabled() does not follow the level variable")
	}
	if err := engine.Write("one\n"); err != nil {
		t.Fatalf("Write() returned %v", err)
	}

	second := &closeCounter{}
	if err := engine.SetWriter(second, false); err != nil {
		t.Fatalf("SetWriter() returned %v", err)
	}
	if first.closed != 1 {
		t.Fatalf("owned writer closed %d times, want 1", first.closed)
	}
	if err := engine.Write("two\n"); err != nil {
		t.Fatalf("Write() returned %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close() returned %v", err)
	}
	if second.closed != 0 {
		t.Fatalf("borrowed writer was closed")
	}
	if err := engine.Write("three\n"); !errors.Is(err, plack.ErrEngineClosed) {
		t.Fatalf("Write() after Close = %v, want ErrEngineClosed", err)
	}
	if first.String() != "one\n" || second.String() != "two\n" {
		t.Fatalf("writers got %q and %q", first.String(), second.String())
	}
	if engine.LevelVar() != level {
		t.Fatalf("LevelVar() returned a different variable")
	}
}

// TestTimeFuncs pins the timestamp fragments.
func TestTimeFuncs(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)
	if got, want := plack.TimeRFC3339(ts), `,"time":"2025-01-02T03:04:05.0000006Z"`; got != want {
		t.Errorf("TimeRFC3339() = %s, want %s", got, want)
	}
	if got, want := plack.TimeEpochMillis(ts), `,"time":1735787045000`; got != want {
		t.Errorf("TimeEpochMillis() = %s, want %s", got, want)
	}
	for _, fn := range []plack.TimeFunc{plack.TimeRFC3339, plack.TimeEpochMillis, plack.TimeNone} {
		if got := fn(time.Time{}); got != "" {
			t.Errorf("zero time rendered %q", got)
		}
	}
}
