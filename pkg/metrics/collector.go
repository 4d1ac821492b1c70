/*
 * Copyright 2025 MindHaven, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exposes component state through a private prometheus
// registry and keeps a flat snapshot map for alert rule evaluation.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mindhaven/vitals/pkg/models"
)

// Collector bridges health, telemetry, and log pipeline state into
// prometheus instruments. Every update also lands in a flat
// name → value map so alert rules can reference metrics by key
// ("postgres_status", "ai_api_response_time", "error_rate", ...).
type Collector struct {
	registry *prometheus.Registry

	serviceStatus   *prometheus.GaugeVec
	serviceResponse *prometheus.GaugeVec
	overallStatus   prometheus.Gauge
	errorsTotal     prometheus.Gauge
	errorRate       prometheus.Gauge
	operationTime   *prometheus.HistogramVec
	logsAccepted    prometheus.Gauge
	logsDropped     prometheus.Gauge
	logsStored      prometheus.Gauge
	activeAlerts    prometheus.Gauge
	cpuPercent      prometheus.Gauge
	memoryPercent   prometheus.Gauge
	diskPercent     prometheus.Gauge

	mu     sync.Mutex
	values map[string]float64
}

// NewCollector creates a collector with its own registry. Instruments
// are registered there, never with the default registry, so tests can
// construct collectors freely.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	serviceStatus := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_health_status",
			Help:      "Current health rank per service (0 unknown to 4 critical).",
		},
		[]string{"service"},
	)

	serviceResponse := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_response_seconds",
			Help:      "Last probe response time per service.",
		},
		[]string{"service"},
	)

	overallStatus := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overall_health_status",
			Help:      "Worst health rank across all monitored services.",
		},
	)

	errorsTotal := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "errors_recorded",
			Help:      "Errors recorded by the telemetry core in its window.",
		},
	)

	errorRate := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "error_rate_per_minute",
			Help:      "Error arrival rate over the telemetry window.",
		},
	)

	operationTime := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of profiled operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	logsAccepted := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_lines_accepted",
			Help:      "Log lines accepted into the collector queue.",
		},
	)

	logsDropped := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_lines_dropped",
			Help:      "Log lines dropped because the collector queue was full.",
		},
	)

	logsStored := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_lines_stored",
			Help:      "Log lines persisted to the embedded store.",
		},
	)

	activeAlerts := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Currently active, unresolved alerts.",
		},
	)

	cpuPercent := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_cpu_percent",
			Help:      "Host CPU utilization.",
		},
	)

	memoryPercent := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_memory_percent",
			Help:      "Host memory utilization.",
		},
	)

	diskPercent := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_disk_percent",
			Help:      "Utilization of the monitored disk mount.",
		},
	)

	registry.MustRegister(
		serviceStatus,
		serviceResponse,
		overallStatus,
		errorsTotal,
		errorRate,
		operationTime,
		logsAccepted,
		logsDropped,
		logsStored,
		activeAlerts,
		cpuPercent,
		memoryPercent,
		diskPercent,
	)

	return &Collector{
		registry:        registry,
		serviceStatus:   serviceStatus,
		serviceResponse: serviceResponse,
		overallStatus:   overallStatus,
		errorsTotal:     errorsTotal,
		errorRate:       errorRate,
		operationTime:   operationTime,
		logsAccepted:    logsAccepted,
		logsDropped:     logsDropped,
		logsStored:      logsStored,
		activeAlerts:    activeAlerts,
		cpuPercent:      cpuPercent,
		memoryPercent:   memoryPercent,
		diskPercent:     diskPercent,
		values:          make(map[string]float64),
	}
}

// UpdateFromHealth folds a health snapshot into the per-service and
// overall gauges. System metrics ride along when the snapshot carries
// them.
func (c *Collector) UpdateFromHealth(snapshot models.HealthSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, service := range snapshot.Services {
		rank := float64(service.Status.SeverityRank())
		seconds := service.ResponseTime.Seconds()

		c.serviceStatus.WithLabelValues(name).Set(rank)
		c.serviceResponse.WithLabelValues(name).Set(seconds)

		c.values[name+"_status"] = rank
		c.values[name+"_response_time"] = seconds
	}

	overall := float64(snapshot.Status.SeverityRank())
	c.overallStatus.Set(overall)
	c.values["overall_status"] = overall

	if sys := snapshot.SystemMetrics; sys != nil {
		c.cpuPercent.Set(sys.CPUPercent)
		c.memoryPercent.Set(sys.MemoryPercent)
		c.diskPercent.Set(sys.DiskPercent)

		c.values["cpu_percent"] = sys.CPUPercent
		c.values["memory_percent"] = sys.MemoryPercent
		c.values["disk_percent"] = sys.DiskPercent
	}
}

// UpdateFromErrors folds error tracker statistics in.
func (c *Collector) UpdateFromErrors(stats models.ErrorStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := float64(stats.TotalErrors)

	c.errorsTotal.Set(total)
	c.errorRate.Set(stats.ErrorsPerMinute)

	c.values["errors_total"] = total
	c.values["error_rate"] = stats.ErrorsPerMinute
}

// UpdateFromLogs folds the log pipeline counters in.
func (c *Collector) UpdateFromLogs(accepted, dropped, stored int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logsAccepted.Set(float64(accepted))
	c.logsDropped.Set(float64(dropped))
	c.logsStored.Set(float64(stored))

	c.values["logs_accepted"] = float64(accepted)
	c.values["logs_dropped"] = float64(dropped)
	c.values["logs_stored"] = float64(stored)
}

// UpdateActiveAlerts records the current active alert count.
func (c *Collector) UpdateActiveAlerts(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeAlerts.Set(float64(count))
	c.values["active_alerts"] = float64(count)
}

// ObserveOperation records one operation timing in the histogram and
// keeps the last observation available to rules as "<operation>_time".
func (c *Collector) ObserveOperation(operation string, d time.Duration) {
	seconds := d.Seconds()

	c.operationTime.WithLabelValues(operation).Observe(seconds)

	c.mu.Lock()
	c.values[operation+"_time"] = seconds
	c.mu.Unlock()
}

// Snapshot returns a copy of the flat metric map.
func (c *Collector) Snapshot() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]float64, len(c.values))
	for key, value := range c.values {
		out[key] = value
	}

	return out
}

// Handler serves the registry in prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for callers that mount their
// own instruments.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
