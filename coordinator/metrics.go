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

package coordinator

import (
	"time"

	"github.com/poiesic/datavault/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for datavault.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	switches   *prometheus.CounterVec
	phase      prometheus.Gauge
	active     *prometheus.GaugeVec
	swept      *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses a private
// registry, which keeps tests and embedded uses from colliding on the
// default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datavault_operations_total",
				Help: "Repository operations by backend, operation and outcome kind",
			},
			[]string{"backend", "operation", "kind"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datavault_operation_duration_seconds",
				Help:    "Repository operation latency including retries",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"backend", "operation"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datavault_retries_total",
				Help: "Retried attempts after a transient connectivity failure",
			},
			[]string{"backend", "operation"},
		),
		switches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datavault_backend_switches_total",
				Help: "Backend switch attempts by source, target and result",
			},
			[]string{"from", "to", "result"},
		),
		phase: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "datavault_coordinator_phase",
				Help: "Coordinator phase: 0 idle, 1 switch requested, 2 draining, 3 reinitializing, 4 active",
			},
		),
		active: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "datavault_active_backend",
				Help: "1 for the backend currently serving requests",
			},
			[]string{"backend"},
		),
		swept: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datavault_orphans_swept_total",
				Help: "Orphaned records and blobs removed by the sweeper",
			},
			[]string{"backend", "kind"},
		),
	}
}

// ObserveOperation records one completed repository operation.
func (m *Metrics) ObserveOperation(backend, operation string, elapsed time.Duration, err error) {
	m.operations.WithLabelValues(backend, operation, core.KindName(err)).Inc()
	m.duration.WithLabelValues(backend, operation).Observe(elapsed.Seconds())
}

// ObserveRetry records one retried attempt.
func (m *Metrics) ObserveRetry(backend, operation string) {
	m.retries.WithLabelValues(backend, operation).Inc()
}

// ObserveSweep records n removed orphans of one kind.
func (m *Metrics) ObserveSweep(backend string, kind core.EntityKind, n int) {
	m.swept.WithLabelValues(backend, string(kind)).Add(float64(n))
}

func (m *Metrics) observeSwitch(from, to string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.switches.WithLabelValues(from, to, result).Inc()
}

func (m *Metrics) setPhase(p Phase) {
	m.phase.Set(float64(p))
}

func (m *Metrics) setActive(previous, current string) {
	if previous != "" {
		m.active.WithLabelValues(previous).Set(0)
	}
	if current != "" {
		m.active.WithLabelValues(current).Set(1)
	}
}
