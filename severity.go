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
	"maps"
	"slices"
	"strings"
)

// Cloud Logging severity names.
const (
	SeverityDebug     = "DEBUG"
	SeverityInfo      = "INFO"
	SeverityNotice    = "NOTICE"
	SeverityWarning   = "WARNING"
	SeverityError     = "ERROR"
	SeverityCritical  = "CRITICAL"
	SeverityAlert     = "ALERT"
	SeverityEmergency = "EMERGENCY"
)

// ErrUnregisteredLevel is returned when a record is serialized at a rank
// that has no entry in the severity table. It is a configuration error.
var ErrUnregisteredLevel = errors.New("plack: level not registered in severity table")

type severityEntry struct {
	name     string
	fragment string
}

// SeverityTable maps ranks to precomputed `{"severity":"NAME"` fragments so
// the hot path only performs a map lookup.
//
// A table is built during logger construction and is read-only afterwards.
// Register and RegisterSeverity are not synchronized; they must not run
// concurrently with Lookup.
type SeverityTable struct {
	entries map[Level]severityEntry
}

// NewSeverityTable returns a table seeded with the six standard ranks.
// Trace and debug share DEBUG since Cloud Logging has no finer severity.
func NewSeverityTable() *SeverityTable {
	t := &SeverityTable{entries: make(map[Level]severityEntry, 9)}
	t.RegisterSeverity(LevelTrace, SeverityDebug)
	t.RegisterSeverity(LevelDebug, SeverityDebug)
	t.RegisterSeverity(LevelInfo, SeverityInfo)
	t.RegisterSeverity(LevelWarn, SeverityWarning)
	t.RegisterSeverity(LevelError, SeverityError)
	t.RegisterSeverity(LevelFatal, SeverityCritical)
	return t
}

// Register inserts or replaces the entry for rank, using the upper-cased
// level name as the severity.
func (t *SeverityTable) Register(name string, rank Level) {
	t.RegisterSeverity(rank, strings.ToUpper(name))
}

// RegisterSeverity inserts or replaces the entry for rank with an explicit
// severity name. Several ranks may share one name.
func (t *SeverityTable) RegisterSeverity(rank Level, severity string) {
	t.entries[rank] = severityEntry{
		name:     severity,
		fragment: `{"severity":` + quoteJSONString(severity),
	}
}

// Lookup returns the severity fragment registered for exactly rank.
func (t *SeverityTable) Lookup(rank Level) (string, bool) {
	e, ok := t.entries[rank]
	return e.fragment, ok
}

// Severity returns the severity name registered for rank.
func (t *SeverityTable) Severity(rank Level) (string, bool) {
	e, ok := t.entries[rank]
	return e.name, ok
}

// Ranks returns the registered ranks in ascending order.
func (t *SeverityTable) Ranks() []Level {
	return slices.Sorted(maps.Keys(t.entries))
}

// Clone returns an independent copy of t.
func (t *SeverityTable) Clone() *SeverityTable {
	return &SeverityTable{entries: maps.Clone(t.entries)}
}

// floor returns the highest registered rank at or below rank, or the lowest
// registered rank when rank is below all of them.
func (t *SeverityTable) floor(rank Level) Level {
	if _, ok := t.entries[rank]; ok {
		return rank
	}
	ranks := t.Ranks()
	if len(ranks) == 0 {
		return rank
	}
	best := ranks[0]
	for _, r := range ranks {
		if r > rank {
			break
		}
		best = r
	}
	return best
}

// fragment resolves rank or reports the configuration error.
func (t *SeverityTable) fragment(rank Level) (string, error) {
	frag, ok := t.Lookup(rank)
	if !ok {
		return "", fmt.Errorf("%w: rank %d", ErrUnregisteredLevel, int(rank))
	}
	return frag, nil
}
