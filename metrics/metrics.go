// Copyright 2025 Poiesic Systems
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


// Package metrics defines the prometheus collectors exported at /metrics.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can take metrics as an optional dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newsrag"

// Turn outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
	OutcomeRejected  = "rejected"
)

// Metrics holds the service collectors on a dedicated registry.
type Metrics struct {
	registry        *prometheus.Registry
	turns           *prometheus.CounterVec
	tokens          prometheus.Counter
	ingestedChunks  prometheus.Counter
	failedChunks    prometheus.Counter
	refreshDuration prometheus.Histogram
	activeSessions  prometheus.Gauge
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_streamed_total",
			Help:      "Tokens streamed to clients.",
		}),
		ingestedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Chunks embedded and indexed by refreshes.",
		}),
		failedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failed_chunks_total",
			Help:      "Chunks dropped because they could not be embedded.",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of completed refreshes.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently registered.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turns, m.tokens, m.ingestedChunks, m.failedChunks, m.refreshDuration, m.activeSessions,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterDegraded exports newsrag_degraded{dependency} read from fn at scrape time.
func (m *Metrics) RegisterDegraded(dependency string, fn func() bool) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "degraded",
		Help:        "1 when the dependency runs on its fallback.",
		ConstLabels: prometheus.Labels{"dependency": dependency},
	}, func() float64 {
		if fn() {
			return 1
		}
		return 0
	}))
}

func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenStreamed() {
	if m == nil {
		return
	}
	m.tokens.Inc()
}

func (m *Metrics) RefreshFinished(chunks, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestedChunks.Add(float64(chunks))
	m.failedChunks.Add(float64(failed))
	m.refreshDuration.Observe(d.Seconds())
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
