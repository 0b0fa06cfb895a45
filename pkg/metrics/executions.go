// Copyright 2025 Crucible Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExecutionCollector tracks plugin execution outcomes for the /metrics
// endpoint. Labels stay low-cardinality: plugin id only, never tenant.
type ExecutionCollector struct {
	total    *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewExecutionCollector creates the execution metric set.
func NewExecutionCollector() *ExecutionCollector {
	return &ExecutionCollector{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crucible",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Total plugin execution attempts.",
		}, []string{"plugin_id"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crucible",
			Subsystem: "executor",
			Name:      "execution_failures_total",
			Help:      "Failed plugin execution attempts.",
		}, []string{"plugin_id", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crucible",
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock plugin execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"plugin_id"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crucible",
			Subsystem: "executor",
			Name:      "executions_in_flight",
			Help:      "Currently running plugin executions.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *ExecutionCollector) Describe(ch chan<- *prometheus.Desc) {
	c.total.Describe(ch)
	c.failures.Describe(ch)
	c.duration.Describe(ch)
	c.inFlight.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *ExecutionCollector) Collect(ch chan<- prometheus.Metric) {
	c.total.Collect(ch)
	c.failures.Collect(ch)
	c.duration.Collect(ch)
	c.inFlight.Collect(ch)
}

// ObserveExecution records one completed attempt.
func (c *ExecutionCollector) ObserveExecution(pluginID string, success bool, reason string, elapsed time.Duration) {
	c.total.WithLabelValues(pluginID).Inc()
	if !success {
		c.failures.WithLabelValues(pluginID, reason).Inc()
	}
	c.duration.WithLabelValues(pluginID).Observe(elapsed.Seconds())
}

// ExecutionStarted bumps the in-flight gauge.
func (c *ExecutionCollector) ExecutionStarted() {
	c.inFlight.Inc()
}

// ExecutionFinished drops the in-flight gauge.
func (c *ExecutionCollector) ExecutionFinished() {
	c.inFlight.Dec()
}
