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
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	envLevel           = "PLACK_LEVEL"
	envTarget          = "PLACK_TARGET"
	envTime            = "PLACK_TIME"
	envCloudSeverities = "PLACK_CLOUD_SEVERITIES"
	envProjectID       = "PLACK_PROJECT_ID"
	envVersion         = "VERSION"
)

// ErrInvalidRedirectTarget indicates an unsupported PLACK_TARGET value.
var ErrInvalidRedirectTarget = errors.New("plack: invalid redirect target")

// Option configures a [Logger] built by [New]. Options are applied in
// order, after environment overrides.
type Option func(*options)

type customLevel struct {
	name  string
	rank  Level
	label string
}

type options struct {
	level            *Level
	levelVar         *LevelVar
	writer           io.Writer
	writerFilePath   *string
	engine           Engine
	timeFunc         TimeFunc
	now              func() time.Time
	cloudSeverities  *bool
	customLevels     []customLevel
	serviceContext   *ServiceContext
	serviceName      string
	noServiceContext bool
	fieldSerializers map[string]FieldSerializer
	stringify        StringifyFunc
	stack            StackFunc
	projectID        *string
	internalLogger   *slog.Logger
	registerer       prometheus.Registerer
	base             []any
	runtimeLabels    bool
}

// config is the resolved configuration after environment variables and
// options are merged.
type config struct {
	Level           Level
	TimeFunc        TimeFunc
	CloudSeverities bool
	ProjectID       string
	Writer          io.Writer
	FilePath        string
}

// WithLevel sets the minimum rank written by the logger.
func WithLevel(level Level) Option {
	return func(o *options) {
		o.level = &level
	}
}

// WithLevelVar shares levelVar with the logger so the minimum rank can be
// changed at runtime. Unless WithLevel is also given, the variable's current
// value is the initial minimum.
func WithLevelVar(levelVar *LevelVar) Option {
	return func(o *options) {
		if levelVar != nil {
			o.levelVar = levelVar
		}
	}
}

// WithRedirectToStdout writes records to stdout. This is the default.
func WithRedirectToStdout() Option {
	return func(o *options) {
		o.writer = os.Stdout
		o.writerFilePath = nil
	}
}

// WithRedirectToStderr writes records to stderr.
func WithRedirectToStderr() Option {
	return func(o *options) {
		o.writer = os.Stderr
		o.writerFilePath = nil
	}
}

// WithRedirectToFile appends records to the file at path, creating it when
// needed. The logger owns the file: Close closes it and ReopenLogFile
// reopens it after external rotation.
func WithRedirectToFile(path string) Option {
	trimmed := strings.TrimSpace(path)
	return func(o *options) {
		o.writer = nil
		o.writerFilePath = &trimmed
	}
}

// WithRedirectWriter writes records to w without taking ownership of it.
func WithRedirectWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
		o.writerFilePath = nil
	}
}

// WithEngine replaces the default [WriterEngine]. The engine decides which
// ranks are enabled; level options and SetLevel no longer apply.
func WithEngine(engine Engine) Option {
	return func(o *options) {
		o.engine = engine
	}
}

// WithTime selects the timestamp fragment. The default is [TimeRFC3339].
func WithTime(fn TimeFunc) Option {
	return func(o *options) {
		o.timeFunc = fn
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithCloudSeverities registers alert and emergency with the ALERT and
// EMERGENCY Cloud Logging severities instead of CRITICAL.
func WithCloudSeverities() Option {
	return func(o *options) {
		enabled := true
		o.cloudSeverities = &enabled
	}
}

// WithCustomLevel registers an additional level, logged with
// [Logger.LogLevel] by name. Its severity is the upper-cased name.
// Registering an existing rank replaces its severity.
func WithCustomLevel(name string, rank Level) Option {
	return func(o *options) {
		o.customLevels = append(o.customLevels, customLevel{
			name:  strings.ToLower(strings.TrimSpace(name)),
			rank:  rank,
			label: strings.ToUpper(strings.TrimSpace(name)),
		})
	}
}

// WithCustomSeverity is like WithCustomLevel but maps the level onto an
// existing severity, for example a "verbose" level logged as DEBUG.
func WithCustomSeverity(name string, rank Level, severity string) Option {
	return func(o *options) {
		o.customLevels = append(o.customLevels, customLevel{
			name:  strings.ToLower(strings.TrimSpace(name)),
			rank:  rank,
			label: strings.TrimSpace(severity),
		})
	}
}

// WithServiceContext sets the service context attached to error records and
// skips discovery.
func WithServiceContext(sc ServiceContext) Option {
	return func(o *options) {
		o.serviceContext = &sc
		o.noServiceContext = false
	}
}

// WithServiceName names the service and discovers only the version.
func WithServiceName(name string) Option {
	return func(o *options) {
		o.serviceName = strings.TrimSpace(name)
		o.serviceContext = nil
		o.noServiceContext = false
	}
}

// WithoutServiceContext disables the serviceContext field and discovery.
func WithoutServiceContext() Option {
	return func(o *options) {
		o.serviceContext = nil
		o.noServiceContext = true
	}
}

// WithFieldSerializer runs fn on every object field named key before it is
// stringified. Returning false drops the field. A field serializer for
// "err" replaces the default that drops it.
func WithFieldSerializer(key string, fn FieldSerializer) Option {
	return func(o *options) {
		if o.fieldSerializers == nil {
			o.fieldSerializers = make(map[string]FieldSerializer)
		}
		o.fieldSerializers[key] = fn
	}
}

// WithStringify replaces the function that renders field values as JSON.
func WithStringify(fn StringifyFunc) Option {
	return func(o *options) {
		o.stringify = fn
	}
}

// WithStackFunc replaces the function that renders error stack text.
func WithStackFunc(fn StackFunc) Option {
	return func(o *options) {
		o.stack = fn
	}
}

// WithProjectID sets the Google Cloud project used to format trace
// resources, bypassing environment and metadata server lookup.
func WithProjectID(id string) Option {
	trimmed := normalizeProjectID(id)
	return func(o *options) {
		o.projectID = &trimmed
	}
}

// WithInternalLogger receives diagnostics about configuration problems and
// write failures. Diagnostics are discarded by default.
func WithInternalLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.internalLogger = logger
	}
}

// WithMetricsRegisterer registers the logger's Prometheus collector with
// reg. Loggers sharing a registerer share one collector.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithBase binds fields to every record of the logger. args are key/value
// pairs or slog.Attr values, as accepted by [F], or a single object.
func WithBase(args ...any) Option {
	return func(o *options) {
		o.base = append(o.base, args...)
	}
}

// WithRuntimeLabels binds the labels detected by [DetectRuntimeInfo] under
// "logging.googleapis.com/labels".
func WithRuntimeLabels() Option {
	return func(o *options) {
		o.runtimeLabels = true
	}
}

// loadConfigFromEnv reads the PLACK_* overrides.
func loadConfigFromEnv(logger *slog.Logger) (config, error) {
	cfg := config{
		Level:    LevelInfo,
		TimeFunc: TimeRFC3339,
	}

	cfg.Level = parseLevelEnv(os.Getenv(envLevel), cfg.Level, logger)
	cfg.TimeFunc = parseTimeEnv(os.Getenv(envTime), cfg.TimeFunc, logger)
	cfg.CloudSeverities = parseBoolEnv(os.Getenv(envCloudSeverities), cfg.CloudSeverities, logger)
	cfg.ProjectID = normalizeProjectID(os.Getenv(envProjectID))

	if err := applyTargetFromEnv(&cfg, logger); err != nil {
		return config{}, err
	}
	return cfg, nil
}

// applyOptions merges options over the environment configuration.
func applyOptions(cfg *config, o *options) {
	if o.levelVar != nil && o.level == nil {
		cfg.Level = o.levelVar.Level()
	}
	if o.level != nil {
		cfg.Level = *o.level
	}
	if o.timeFunc != nil {
		cfg.TimeFunc = o.timeFunc
	}
	if o.cloudSeverities != nil {
		cfg.CloudSeverities = *o.cloudSeverities
	}
	if o.projectID != nil {
		cfg.ProjectID = *o.projectID
	}
	if o.writerFilePath != nil {
		cfg.FilePath = *o.writerFilePath
		cfg.Writer = nil
	}
	if o.writer != nil {
		cfg.Writer = o.writer
		cfg.FilePath = ""
	}
}

// serializerConfig builds the serializer configuration from options.
func (o *options) serializerConfig(sc *ServiceContext) SerializerConfig {
	return SerializerConfig{
		ServiceContext:   sc,
		Stringify:        o.stringify,
		Stack:            o.stack,
		FieldSerializers: maps.Clone(o.fieldSerializers),
	}
}

// applyTargetFromEnv selects the destination named by PLACK_TARGET.
func applyTargetFromEnv(cfg *config, logger *slog.Logger) error {
	target := strings.TrimSpace(os.Getenv(envTarget))
	if target == "" {
		return nil
	}

	lower := strings.ToLower(target)
	switch {
	case lower == "stdout":
		cfg.Writer, cfg.FilePath = os.Stdout, ""
	case lower == "stderr":
		cfg.Writer, cfg.FilePath = os.Stderr, ""
	case strings.HasPrefix(lower, "file:"):
		path := strings.TrimSpace(target[len("file:"):])
		if path == "" {
			logDiagnostic(logger, slog.LevelWarn, "empty file target", slog.String("variable", envTarget))
			return ErrInvalidRedirectTarget
		}
		cfg.Writer, cfg.FilePath = nil, path
	default:
		logDiagnostic(logger, slog.LevelWarn, "unknown "+envTarget, slog.String("value", target))
		return ErrInvalidRedirectTarget
	}
	return nil
}

// parseBoolEnv keeps current when value is empty or malformed.
func parseBoolEnv(value string, current bool, logger *slog.Logger) bool {
	if strings.TrimSpace(value) == "" {
		return current
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		logDiagnostic(logger, slog.LevelWarn, "invalid boolean environment variable", slog.String("value", value), slog.Any("error", err))
		return current
	}
	return b
}

// parseLevelEnv keeps current when value is empty or malformed.
func parseLevelEnv(value string, current Level, logger *slog.Logger) Level {
	if strings.TrimSpace(value) == "" {
		return current
	}
	level, err := ParseLevel(value)
	if err != nil {
		logDiagnostic(logger, slog.LevelWarn, "invalid log level environment variable", slog.String("value", value))
		return current
	}
	return level
}

// parseTimeEnv maps PLACK_TIME to a TimeFunc.
func parseTimeEnv(value string, current TimeFunc, logger *slog.Logger) TimeFunc {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return current
	case "rfc3339", "iso", "iso8601":
		return TimeRFC3339
	case "epoch", "unix", "millis":
		return TimeEpochMillis
	case "none", "off", "false":
		return TimeNone
	default:
		logDiagnostic(logger, slog.LevelWarn, "invalid time format environment variable", slog.String("value", value))
		return current
	}
}

// logDiagnostic emits an internal diagnostic, tolerating a nil logger.
func logDiagnostic(logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		return
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
