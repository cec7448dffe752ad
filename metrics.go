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

	"github.com/prometheus/client_golang/prometheus"
)

// Failure stages reported by the plack_log_failures_total counter.
const (
	stageSerialize = "serialize"
	stageWrite     = "write"
)

// Metrics counts the records a logger emits. It implements
// prometheus.Collector; child loggers share their parent's Metrics.
type Metrics struct {
	lines    *prometheus.CounterVec
	bytes    prometheus.Counter
	failures *prometheus.CounterVec
	info     prometheus.Gauge
}

func newMetrics() *Metrics {
	m := &Metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plack_log_lines_total",
			Help: "Log records written, by Cloud Logging severity.",
		}, []string{"severity"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plack_log_bytes_total",
			Help: "Bytes of serialized log records written.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plack_log_failures_total",
			Help: "Log records lost, by failing stage.",
		}, []string{"stage"}),
		info: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "plack_build_info",
			Help:        "Always 1; labelled with the plack library version.",
			ConstLabels: prometheus.Labels{"version": Version},
		}),
	}
	m.info.Set(1)
	return m
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.lines.Describe(ch)
	m.bytes.Describe(ch)
	m.failures.Describe(ch)
	m.info.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.lines.Collect(ch)
	m.bytes.Collect(ch)
	m.failures.Collect(ch)
	m.info.Collect(ch)
}

func (m *Metrics) observeLine(severity string, n int) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues(severity).Inc()
	m.bytes.Add(float64(n))
}

func (m *Metrics) observeFailure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

// registerMetrics registers m with reg. When reg already holds a plack
// collector that one is returned so loggers can share it.
func registerMetrics(reg prometheus.Registerer, m *Metrics) (*Metrics, error) {
	if reg == nil {
		return m, nil
	}
	err := reg.Register(m)
	if err == nil {
		return m, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*Metrics); ok {
			return existing, nil
		}
	}
	return nil, err
}
