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

// Package probe recognises load balancer and uptime health checks so the
// access records plackhttp and plackgrpc write for them can be tagged,
// demoted or dropped.
package probe

import (
	"net"
	"net/http"
	"net/netip"
	"regexp"
	"strings"

	"github.com/pjscruggs/plack"
)

// Mode selects what happens to the access record of a matched probe.
type Mode string

const (
	// ModeTag keeps the record and adds TagKey=true.
	ModeTag Mode = "tag"
	// ModeDemote lowers the record to DemoteTo and adds TagKey=true.
	ModeDemote Mode = "demote"
	// ModeDrop suppresses the record.
	ModeDrop Mode = "drop"
)

// DefaultTagKey is the field added to tagged and demoted records.
const DefaultTagKey = "is_health_check"

// Config describes which requests count as probes.
type Config struct {
	Mode     Mode
	TagKey   string
	DemoteTo plack.Level

	// Paths are exact HTTP URL paths; PathPrefixes match by prefix.
	Paths        []string
	PathPrefixes []string

	// Methods are full gRPC method names such as
	// "/grpc.health.v1.Health/Check".
	Methods []string

	// UserAgents match the User-Agent header or metadata entry.
	UserAgents []*regexp.Regexp

	// Sources are client networks; the first X-Forwarded-For hop is checked
	// as well as the peer address.
	Sources []netip.Prefix
}

// DefaultConfig returns a tag-mode configuration covering the Google Cloud
// load balancer and uptime check probes and the gRPC health service.
func DefaultConfig() Config {
	return Config{
		Mode:     ModeTag,
		TagKey:   DefaultTagKey,
		DemoteTo: plack.LevelDebug,
		Paths:    []string{"/healthz", "/readyz", "/_ah/health"},
		Methods:  []string{"/grpc.health.v1.Health/Check", "/grpc.health.v1.Health/Watch"},
		UserAgents: []*regexp.Regexp{
			regexp.MustCompile(`^GoogleHC/`),
			regexp.MustCompile(`^GoogleStackdriverMonitoring-UptimeChecks`),
		},
		Sources: []netip.Prefix{
			netip.MustParsePrefix("35.191.0.0/16"),
			netip.MustParsePrefix("130.211.0.0/22"),
		},
	}
}

// Matcher classifies requests. A nil *Matcher matches nothing.
type Matcher struct {
	cfg     Config
	paths   map[string]struct{}
	methods map[string]struct{}
}

// NewMatcher returns a Matcher for cfg. An empty Mode means ModeTag, an
// empty TagKey means DefaultTagKey and a zero DemoteTo means LevelDebug.
func NewMatcher(cfg Config) *Matcher {
	if cfg.Mode == "" {
		cfg.Mode = ModeTag
	}
	if cfg.TagKey == "" {
		cfg.TagKey = DefaultTagKey
	}
	if cfg.DemoteTo == 0 {
		cfg.DemoteTo = plack.LevelDebug
	}
	return &Matcher{
		cfg:     cfg,
		paths:   toSet(cfg.Paths),
		methods: toSet(cfg.Methods),
	}
}

// MatchHTTP reports whether r is a probe.
func (m *Matcher) MatchHTTP(r *http.Request) bool {
	if m == nil || r == nil {
		return false
	}
	if r.URL != nil && m.matchPath(r.URL.Path) {
		return true
	}
	if m.matchUserAgent(r.UserAgent()) {
		return true
	}
	if m.matchSource(r.RemoteAddr) {
		return true
	}
	return m.matchSource(firstForwarded(r.Header.Values("X-Forwarded-For")))
}

// MatchGRPC reports whether a call to fullMethod is a probe. md holds the
// incoming metadata, keyed by lower-case name, and peer the client address.
func (m *Matcher) MatchGRPC(fullMethod string, md map[string][]string, peer string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.methods[fullMethod]; ok {
		return true
	}
	for _, ua := range md["user-agent"] {
		if m.matchUserAgent(ua) {
			return true
		}
	}
	return m.matchSource(peer)
}

// Apply adjusts the access record of a matched probe. It returns the level
// to log at, the fields to add and whether the record is kept.
func (m *Matcher) Apply(level plack.Level) (plack.Level, plack.Fields, bool) {
	switch m.cfg.Mode {
	case ModeDrop:
		return level, nil, false
	case ModeDemote:
		level = min(level, m.cfg.DemoteTo)
	}
	return level, plack.F(m.cfg.TagKey, true), true
}

func (m *Matcher) matchPath(path string) bool {
	if _, ok := m.paths[path]; ok {
		return true
	}
	for _, prefix := range m.cfg.PathPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchUserAgent(ua string) bool {
	if ua == "" {
		return false
	}
	for _, re := range m.cfg.UserAgents {
		if re != nil && re.MatchString(ua) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchSource(addr string) bool {
	if len(m.cfg.Sources) == 0 || addr == "" {
		return false
	}
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, prefix := range m.cfg.Sources {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// firstForwarded returns the client hop of an X-Forwarded-For header.
func firstForwarded(values []string) string {
	for _, value := range values {
		for part := range strings.SplitSeq(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				return part
			}
		}
	}
	return ""
}
