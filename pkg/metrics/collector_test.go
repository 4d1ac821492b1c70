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

package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/vitals/pkg/models"
)

func healthSnapshot() models.HealthSnapshot {
	return models.HealthSnapshot{
		Status:    models.HealthDegraded,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Services: map[string]models.ServiceHealth{
			"postgres": {Status: models.HealthHealthy, ResponseTime: 200 * time.Millisecond},
			"ai_api":   {Status: models.HealthDegraded, ResponseTime: 6 * time.Second},
		},
		SystemMetrics: &models.SystemMetrics{
			CPUPercent:    42.5,
			MemoryPercent: 25.0,
			DiskPercent:   10.0,
		},
	}
}

func TestCollectorUpdateFromHealth(t *testing.T) {
	c := NewCollector("vitals")

	c.UpdateFromHealth(healthSnapshot())

	snapshot := c.Snapshot()
	assert.InDelta(t, 1.0, snapshot["postgres_status"], 1e-9)
	assert.InDelta(t, 0.2, snapshot["postgres_response_time"], 1e-9)
	assert.InDelta(t, 2.0, snapshot["ai_api_status"], 1e-9)
	assert.InDelta(t, 6.0, snapshot["ai_api_response_time"], 1e-9)
	assert.InDelta(t, 2.0, snapshot["overall_status"], 1e-9)
	assert.InDelta(t, 42.5, snapshot["cpu_percent"], 1e-9)
	assert.InDelta(t, 25.0, snapshot["memory_percent"], 1e-9)
	assert.InDelta(t, 10.0, snapshot["disk_percent"], 1e-9)

	assert.InDelta(t, 1.0, testutil.ToFloat64(c.serviceStatus.WithLabelValues("postgres")), 1e-9)
	assert.InDelta(t, 6.0, testutil.ToFloat64(c.serviceResponse.WithLabelValues("ai_api")), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(c.overallStatus), 1e-9)
}

func TestCollectorUpdateFromErrors(t *testing.T) {
	c := NewCollector("vitals")

	c.UpdateFromErrors(models.ErrorStats{TotalErrors: 12, ErrorsPerMinute: 0.5})

	snapshot := c.Snapshot()
	assert.InDelta(t, 12.0, snapshot["errors_total"], 1e-9)
	assert.InDelta(t, 0.5, snapshot["error_rate"], 1e-9)
	assert.InDelta(t, 0.5, testutil.ToFloat64(c.errorRate), 1e-9)
}

func TestCollectorUpdateFromLogs(t *testing.T) {
	c := NewCollector("vitals")

	c.UpdateFromLogs(100, 3, 97)

	snapshot := c.Snapshot()
	assert.InDelta(t, 100.0, snapshot["logs_accepted"], 1e-9)
	assert.InDelta(t, 3.0, snapshot["logs_dropped"], 1e-9)
	assert.InDelta(t, 97.0, snapshot["logs_stored"], 1e-9)
}

func TestCollectorObserveOperation(t *testing.T) {
	c := NewCollector("vitals")

	c.ObserveOperation("daily_checkin", 150*time.Millisecond)
	c.ObserveOperation("daily_checkin", 250*time.Millisecond)

	// The rule-facing value is the most recent observation.
	assert.InDelta(t, 0.25, c.Snapshot()["daily_checkin_time"], 1e-9)

	assert.Equal(t, 1, testutil.CollectAndCount(c.operationTime, "vitals_operation_duration_seconds"))
}

func TestCollectorUpdateActiveAlerts(t *testing.T) {
	c := NewCollector("vitals")

	c.UpdateActiveAlerts(3)

	assert.InDelta(t, 3.0, c.Snapshot()["active_alerts"], 1e-9)
	assert.InDelta(t, 3.0, testutil.ToFloat64(c.activeAlerts), 1e-9)
}

func TestCollectorSnapshotIsACopy(t *testing.T) {
	c := NewCollector("vitals")
	c.UpdateActiveAlerts(1)

	first := c.Snapshot()
	first["active_alerts"] = 99
	first["injected"] = 1

	second := c.Snapshot()
	assert.InDelta(t, 1.0, second["active_alerts"], 1e-9)
	assert.NotContains(t, second, "injected")
}

func TestCollectorHandlerServesExposition(t *testing.T) {
	c := NewCollector("vitals")
	c.UpdateFromHealth(healthSnapshot())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "vitals_overall_health_status 2")
	assert.Contains(t, body, `vitals_service_health_status{service="postgres"} 1`)
	assert.Contains(t, body, `vitals_service_response_seconds{service="ai_api"} 6`)
}
