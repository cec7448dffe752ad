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
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
)

// Level is the numeric rank of a log call. Lower ranks are more verbose.
// The standard ranks are spaced by ten so custom levels can be slotted in
// between them (LevelNotice sits at 35).
type Level int

// Standard ranks plus the three custom ranks registered by [New].
const (
	LevelTrace Level = 10
	LevelDebug Level = 20
	LevelInfo  Level = 30
	// LevelNotice is registered at construction time, between info and warn.
	LevelNotice Level = 35
	LevelWarn   Level = 40
	LevelError  Level = 50
	LevelFatal  Level = 60
	// LevelAlert and LevelEmergency are registered at construction time and
	// rank above every standard level.
	LevelAlert     Level = 70
	LevelEmergency Level = 80
)

var levelNames = []struct {
	level Level
	name  string
}{
	{LevelTrace, "trace"},
	{LevelDebug, "debug"},
	{LevelInfo, "info"},
	{LevelNotice, "notice"},
	{LevelWarn, "warn"},
	{LevelError, "error"},
	{LevelFatal, "fatal"},
	{LevelAlert, "alert"},
	{LevelEmergency, "emergency"},
}

// String returns the lower-case level name. Ranks between named levels are
// rendered relative to the nearest lower one (for example "info+2").
func (l Level) String() string {
	if l < LevelTrace {
		return fmt.Sprintf("trace%+d", int(l-LevelTrace))
	}
	base := levelNames[0]
	for _, ln := range levelNames {
		if ln.level > l {
			break
		}
		base = ln
	}
	if base.level == l {
		return base.name
	}
	return fmt.Sprintf("%s%+d", base.name, int(l-base.level))
}

// Level converts the rank to the slog scale, where info is 0 and every ten
// ranks span four slog levels. The custom ranks land on the same values the
// extended Cloud Logging levels use (notice 2, critical 12, alert 16,
// emergency 20), so a Level can be passed wherever an slog.Leveler is
// expected.
func (l Level) Level() slog.Level {
	return slog.Level((int(l) - int(LevelInfo)) * 2 / 5)
}

// LevelFromSlog converts an slog level into a rank. It is the inverse of
// [Level.Level] for every named level.
func LevelFromSlog(level slog.Level) Level {
	return LevelInfo + Level(int(level)*5/2)
}

// ParseLevel accepts a level name (case-insensitive, "warning" is accepted
// for warn) or a decimal rank.
func ParseLevel(s string) (Level, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "warning" {
		trimmed = "warn"
	}
	for _, ln := range levelNames {
		if ln.name == trimmed {
			return ln.level, nil
		}
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		return Level(n), nil
	}
	return 0, fmt.Errorf("plack: unknown level %q", s)
}

// LevelVar is a Level that can be changed while loggers are in use. The
// zero value is LevelInfo. It is safe for concurrent use.
type LevelVar struct {
	v atomic.Int64
}

// NewLevelVar returns a LevelVar set to level.
func NewLevelVar(level Level) *LevelVar {
	lv := &LevelVar{}
	lv.Set(level)
	return lv
}

// Level reports the current minimum rank.
func (v *LevelVar) Level() Level {
	return LevelInfo + Level(v.v.Load())
}

// Set updates the minimum rank.
func (v *LevelVar) Set(level Level) {
	v.v.Store(int64(level - LevelInfo))
}

// String describes the LevelVar for debugging.
func (v *LevelVar) String() string {
	return fmt.Sprintf("LevelVar(%s)", v.Level())
}
