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
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LabelsKey is the Cloud Logging field holding user-defined labels.
const LabelsKey = "logging.googleapis.com/labels"

// Logger writes Cloud Logging JSON records. Every level has a method taking
// the same arguments:
//
//	logger.Info("listening")
//	logger.Info("listening on %s", addr)
//	logger.Info(plack.F("port", 8080), "listening")
//	logger.Info(plack.F("port", 8080), "listening on %s", addr)
//	logger.Error(plack.F("user", id), err)
//	logger.Error(err)
//	logger.Info(plack.F("port", 8080))
//
// A leading non-string argument is the object of the call: [Fields], a map,
// an error, or any value encoding to a JSON object. The rest is the message:
// a format string and its arguments, or an error. A Logger is safe for
// concurrent use; Child and WithContext return derived loggers sharing the
// parent's output.
type Logger struct {
	engine     Engine
	writer     *WriterEngine
	level      *LevelVar
	serializer *Serializer
	bindings   string
	timeFunc   TimeFunc
	now        func() time.Time
	project    *projectResolver
	internal   *slog.Logger
	metrics    *Metrics
	levels     map[string]Level
	filePath   string
}

// New builds a Logger from environment variables and opts. Besides the
// standard levels it registers notice (35, NOTICE), alert (70) and
// emergency (80), both CRITICAL unless [WithCloudSeverities] is given.
//
// Unless [WithServiceContext] or [WithoutServiceContext] is given, the
// service context is discovered with [DefaultServiceContext] and a failure
// to find a service name is returned as an error wrapping
// [ErrServiceContext].
func New(opts ...Option) (*Logger, error) {
	builder := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(builder)
		}
	}

	internal := builder.internalLogger
	if internal == nil {
		internal = slog.New(slog.DiscardHandler)
	}

	cfg, err := loadConfigFromEnv(internal)
	if err != nil {
		return nil, err
	}
	applyOptions(&cfg, builder)

	table, levels := buildSeverityTable(cfg.CloudSeverities, builder.customLevels)

	var sc *ServiceContext
	switch {
	case builder.noServiceContext:
	case builder.serviceContext != nil:
		sc = builder.serviceContext
	default:
		discovered, err := DefaultServiceContext(builder.serviceName)
		if err != nil {
			return nil, err
		}
		sc = &discovered
	}

	l := &Logger{
		serializer: NewSerializer(table, builder.serializerConfig(sc)),
		timeFunc:   cfg.TimeFunc,
		now:        builder.now,
		project:    newProjectResolver(cfg.ProjectID),
		internal:   internal,
		levels:     levels,
	}
	if l.timeFunc == nil {
		l.timeFunc = TimeNone
	}
	if l.now == nil {
		l.now = time.Now
	}

	l.level = builder.levelVar
	if l.level == nil {
		l.level = NewLevelVar(cfg.Level)
	}
	l.level.Set(cfg.Level)

	if builder.engine != nil {
		l.engine = builder.engine
	} else {
		var w io.Writer = cfg.Writer
		var owned bool
		if cfg.FilePath != "" {
			f, err := openLogFile(cfg.FilePath)
			if err != nil {
				return nil, err
			}
			w, owned = f, true
			l.filePath = cfg.FilePath
		}
		l.writer = NewWriterEngine(w, l.level)
		if owned {
			if err := l.writer.SetWriter(w, true); err != nil {
				return nil, err
			}
		}
		l.engine = l.writer
	}

	l.metrics, err = registerMetrics(builder.registerer, newMetrics())
	if err != nil {
		return nil, fmt.Errorf("plack: register metrics: %w", err)
	}

	if len(builder.base) > 0 {
		l.bindings += l.serializer.Bindings(baseObject(builder.base))
	}
	if builder.runtimeLabels {
		if labels := DetectRuntimeInfo().Labels; len(labels) > 0 {
			l.bindings += l.serializer.Bindings(map[string]any{LabelsKey: labels})
		}
	}

	EnsurePropagation()
	return l, nil
}

// buildSeverityTable clones the standard table and adds the construction
// time levels. It returns the table and the name to rank index used by
// LogLevel.
func buildSeverityTable(cloudSeverities bool, custom []customLevel) (*SeverityTable, map[string]Level) {
	table := NewSeverityTable()
	table.Register("notice", LevelNotice)
	if cloudSeverities {
		table.Register("alert", LevelAlert)
		table.Register("emergency", LevelEmergency)
	} else {
		table.RegisterSeverity(LevelAlert, SeverityCritical)
		table.RegisterSeverity(LevelEmergency, SeverityCritical)
	}

	levels := make(map[string]Level, len(levelNames)+len(custom))
	for _, ln := range levelNames {
		levels[ln.name] = ln.level
	}
	for _, cl := range custom {
		if cl.name == "" {
			continue
		}
		table.RegisterSeverity(cl.rank, cl.label)
		levels[cl.name] = cl.rank
	}
	return table, levels
}

// baseObject turns WithBase arguments into an object.
func baseObject(args []any) any {
	if len(args) == 1 {
		return args[0]
	}
	return F(args...)
}

// Trace logs at LevelTrace.
func (l *Logger) Trace(args ...any) { l.log(LevelTrace, args) }

// Debug logs at LevelDebug.
func (l *Logger) Debug(args ...any) { l.log(LevelDebug, args) }

// Info logs at LevelInfo.
func (l *Logger) Info(args ...any) { l.log(LevelInfo, args) }

// Notice logs at LevelNotice.
func (l *Logger) Notice(args ...any) { l.log(LevelNotice, args) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(args ...any) { l.log(LevelWarn, args) }

// Error logs at LevelError.
func (l *Logger) Error(args ...any) { l.log(LevelError, args) }

// Fatal logs at LevelFatal. It does not exit the process.
func (l *Logger) Fatal(args ...any) { l.log(LevelFatal, args) }

// Alert logs at LevelAlert.
func (l *Logger) Alert(args ...any) { l.log(LevelAlert, args) }

// Emergency logs at LevelEmergency.
func (l *Logger) Emergency(args ...any) { l.log(LevelEmergency, args) }

// Log logs at an arbitrary rank. It panics with an error wrapping
// [ErrUnregisteredLevel] when the rank has no severity and is enabled.
func (l *Logger) Log(level Level, args ...any) { l.log(level, args) }

// LogLevel logs at the level registered under name, including levels added
// with [WithCustomLevel]. Unknown names panic with [ErrUnregisteredLevel].
func (l *Logger) LogLevel(name string, args ...any) {
	level, ok := l.levels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		panic(fmt.Errorf("%w: name %q", ErrUnregisteredLevel, name))
	}
	l.log(level, args)
}

// Enabled reports whether records at level are written.
func (l *Logger) Enabled(level Level) bool {
	return l.engine.Enabled(level)
}

func (l *Logger) log(level Level, args []any) {
	if !l.engine.Enabled(level) {
		return
	}
	obj, msg := splitArgs(args)
	l.emit(level, obj, msg, l.bindings, l.now())
}

// emit serializes and writes one record.
func (l *Logger) emit(level Level, obj, msg any, bindings string, t time.Time) {
	line, err := l.serializer.Serialize(level, obj, msg, Fragments{
		Time:     l.timeFunc(t),
		Bindings: bindings,
	})
	if err != nil {
		l.metrics.observeFailure(stageSerialize)
		panic(err)
	}
	if err := l.engine.Write(line); err != nil {
		l.metrics.observeFailure(stageWrite)
		logDiagnostic(l.internal, slog.LevelError, "write log record", slog.Any("error", err))
		return
	}
	severity, _ := l.serializer.table.Severity(level)
	l.metrics.observeLine(severity, len(line))
}

// splitArgs separates the optional object from the message.
func splitArgs(args []any) (obj, msg any) {
	if len(args) == 0 {
		return nil, nil
	}
	if _, ok := args[0].(string); ok {
		return nil, formatMessage(args)
	}
	obj, rest := args[0], args[1:]
	switch len(rest) {
	case 0:
		return obj, nil
	case 1:
		return obj, rest[0]
	}
	if _, ok := rest[0].(string); ok {
		return obj, formatMessage(rest)
	}
	return obj, fmt.Sprint(rest...)
}

// formatMessage applies fmt.Sprintf when format arguments follow the
// leading string.
func formatMessage(args []any) any {
	format := args[0].(string)
	if len(args) == 1 {
		return format
	}
	return fmt.Sprintf(format, args[1:]...)
}

// Child returns a logger that adds the fields of bindings to every record.
// bindings is serialized once, here, with the same rules as record objects.
func (l *Logger) Child(bindings any) *Logger {
	frag := l.serializer.Bindings(bindings)
	if frag == "" {
		return l
	}
	child := *l
	child.bindings = l.bindings + frag
	return &child
}

// With returns a child logger bound to the key/value pairs in args, as
// accepted by [F].
func (l *Logger) With(args ...any) *Logger {
	return l.Child(F(args...))
}

// WithContext returns a child logger carrying the Cloud Trace correlation
// fields of the span in ctx. Without a valid span it returns l.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if !hasSpan(ctx) {
		return l
	}
	return l.Child(TraceFields(ctx, l.ProjectID()))
}

// ProjectID returns the Google Cloud project used for trace resources, or
// "" when none is known. It may query the metadata server on first use.
func (l *Logger) ProjectID() string {
	return l.project.projectID()
}

// Serializer returns the logger's record serializer.
func (l *Logger) Serializer() *Serializer {
	return l.serializer
}

// Bindings returns the pre-serialized bindings fragment of l.
func (l *Logger) Bindings() string {
	return l.bindings
}

// SetLevel changes the minimum rank of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// Level returns the current minimum rank.
func (l *Logger) Level() Level {
	return l.level.Level()
}

// LevelVar returns the variable holding the minimum rank.
func (l *Logger) LevelVar() *LevelVar {
	return l.level
}

// Metrics returns the Prometheus collector counting l's records.
func (l *Logger) Metrics() prometheus.Collector {
	return l.metrics
}

// ReopenLogFile reopens the file configured with [WithRedirectToFile] or
// PLACK_TARGET, for use after external rotation. It is a no-op for other
// destinations.
func (l *Logger) ReopenLogFile() error {
	if l.writer == nil || l.filePath == "" {
		return nil
	}
	f, err := openLogFile(l.filePath)
	if err != nil {
		logDiagnostic(l.internal, slog.LevelError, "reopen log file", slog.String("path", l.filePath), slog.Any("error", err))
		return err
	}
	return l.writer.SetWriter(f, true)
}

// Close releases the log file owned by l, if any. Loggers derived from l
// share the file and stop writing too.
func (l *Logger) Close() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}
