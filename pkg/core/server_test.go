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

package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/vitals/pkg/alerts"
	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/logs"
	"github.com/mindhaven/vitals/pkg/models"
)

// webhookRecorder captures alert deliveries from the server under test.
type webhookRecorder struct {
	mu       sync.Mutex
	received []alerts.WebhookAlert
	srv      *httptest.Server
}

func newWebhookRecorder(t *testing.T) *webhookRecorder {
	t.Helper()

	rec := &webhookRecorder{}
	rec.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert alerts.WebhookAlert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		rec.mu.Lock()
		rec.received = append(rec.received, alert)
		rec.mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rec.srv.Close)

	return rec
}

func (r *webhookRecorder) count(title string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, alert := range r.received {
		if alert.Title == title {
			n++
		}
	}

	return n
}

func (r *webhookRecorder) find(title string) *alerts.WebhookAlert {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.received {
		if r.received[i].Title == title {
			return &r.received[i]
		}
	}

	return nil
}

func testServerConfig(t *testing.T, webhookURL string, services ...models.ServiceCheckConfig) *models.CoreServiceConfig {
	t.Helper()

	dir := t.TempDir()

	cfg := &models.CoreServiceConfig{
		ServiceName: "mindhaven-bot",
		Services:    services,
		Logs: models.LogsConfig{
			DBPath: filepath.Join(dir, "logs.db"),
		},
		Report: models.ReportConfig{
			Dir: filepath.Join(dir, "reports"),
		},
	}

	if webhookURL != "" {
		cfg.Webhooks = []models.WebhookConfig{{Enabled: true, URL: webhookURL}}
	}

	return cfg
}

func okEndpoint(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func stopServer(t *testing.T, srv *Server) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = srv.Stop(ctx)
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	_, err := NewServer(context.Background(), &models.CoreServiceConfig{}, logger.NewTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid core configuration")
}

func TestNewServerRejectsUnknownServiceType(t *testing.T) {
	cfg := testServerConfig(t, "", models.ServiceCheckConfig{
		Name: "cache",
		Type: models.ServiceType("redis"),
	})

	_, err := NewServer(context.Background(), cfg, logger.NewTestLogger())
	require.Error(t, err)
}

func TestNewServerSkipsDisabledWebhooks(t *testing.T) {
	cfg := testServerConfig(t, "", models.ServiceCheckConfig{
		Name:     "ai_api",
		Type:     models.ServiceTypeAIAPI,
		Endpoint: "http://127.0.0.1:1",
	})
	cfg.Webhooks = []models.WebhookConfig{
		{Enabled: false, URL: "http://127.0.0.1:1/hook"},
		{Enabled: true, URL: "http://127.0.0.1:1/hook"},
	}

	srv, err := NewServer(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = srv.logStorage.Close() })

	assert.Len(t, srv.webhooks, 1)
}

// A rule crossing its threshold fires exactly one alert; re-evaluating
// the same snapshot must not deliver it again.
func TestAlertRuleFiresOnceOnUnchangedEvaluations(t *testing.T) {
	rec := newWebhookRecorder(t)

	cfg := testServerConfig(t, rec.srv.URL, models.ServiceCheckConfig{
		Name:     "ai_api",
		Type:     models.ServiceTypeAIAPI,
		Endpoint: "http://127.0.0.1:1",
	})
	cfg.AlertRules = []models.AlertRuleConfig{{
		Name:      "slow_response",
		Metric:    "ai_api_response_time",
		Operator:  "gt",
		Threshold: 5.0,
		Severity:  models.AlertWarning,
		Message:   "AI API responses are above the latency budget",
	}}

	srv, err := NewServer(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = srv.logStorage.Close() })

	snapshot := models.HealthSnapshot{
		Status: models.WorstStatus(models.HealthHealthy, models.HealthDegraded),
		Services: map[string]models.ServiceHealth{
			"session_store": {Status: models.HealthHealthy, ResponseTime: 200 * time.Millisecond},
			"ai_api":        {Status: models.HealthDegraded, ResponseTime: 6 * time.Second},
		},
	}
	require.Equal(t, models.HealthDegraded, snapshot.Status)

	srv.metrics.UpdateFromHealth(snapshot)
	require.InDelta(t, 6.0, srv.metrics.Snapshot()["ai_api_response_time"], 1e-9)

	srv.Evaluate(context.Background())

	require.Equal(t, 1, rec.count("slow_response"))
	assert.Equal(t, 1, srv.alertManager.ActiveCount())

	delivered := rec.find("slow_response")
	require.NotNil(t, delivered)
	assert.Equal(t, models.AlertWarning, delivered.Level)
	assert.Equal(t, "AI API responses are above the latency budget", delivered.Message)
	assert.Equal(t, "mindhaven-bot", delivered.ServiceName)

	srv.Evaluate(context.Background())

	assert.Equal(t, 1, rec.count("slow_response"), "unchanged evaluation must not redeliver")
	assert.Equal(t, 1, srv.alertManager.ActiveCount())
}

func TestServerProbeTransitionsDeliverAlerts(t *testing.T) {
	rec := newWebhookRecorder(t)
	endpoint := okEndpoint(t)

	cfg := testServerConfig(t, rec.srv.URL,
		models.ServiceCheckConfig{
			Name:     "session_store",
			Type:     models.ServiceTypeVectorStore,
			Endpoint: endpoint.URL,
			Interval: models.Duration(25 * time.Millisecond),
			Timeout:  models.Duration(2 * time.Second),
		},
		models.ServiceCheckConfig{
			Name:     "ai_api",
			Type:     models.ServiceTypeAIAPI,
			Endpoint: endpoint.URL,
			Interval: models.Duration(25 * time.Millisecond),
			Timeout:  models.Duration(2 * time.Second),
			// Any real response exceeds a one nanosecond budget.
			Thresholds: &models.ThresholdConfig{Degraded: models.Duration(time.Nanosecond)},
		})

	srv, err := NewServer(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() { stopServer(t, srv) })

	require.Eventually(t, func() bool {
		return srv.CurrentHealth().Status == models.HealthDegraded
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return rec.count("Service Degraded") == 1
	}, 5*time.Second, 20*time.Millisecond)

	degraded := rec.find("Service Degraded")
	require.NotNil(t, degraded)
	assert.Equal(t, models.AlertWarning, degraded.Level)
	assert.Equal(t, "ai_api", degraded.ServiceName)

	assert.Equal(t, 1, rec.count("Monitoring Core Started"))
	assert.Zero(t, rec.count("Service Recovered"),
		"first sighting of a healthy service is not a recovery")
	assert.Zero(t, rec.count("Service Unhealthy"))
}

func TestServerShutdownNotification(t *testing.T) {
	rec := newWebhookRecorder(t)
	endpoint := okEndpoint(t)

	cfg := testServerConfig(t, rec.srv.URL, models.ServiceCheckConfig{
		Name:     "session_store",
		Type:     models.ServiceTypeVectorStore,
		Endpoint: endpoint.URL,
		Interval: models.Duration(25 * time.Millisecond),
		Timeout:  models.Duration(2 * time.Second),
	})

	srv, err := NewServer(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, srv.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	require.NoError(t, srv.Stop(stopCtx))

	assert.Equal(t, 1, rec.count("Monitoring Core Started"))
	assert.Equal(t, 1, rec.count("Monitoring Core Stopping"))

	stopping := rec.find("Monitoring Core Stopping")
	require.NotNil(t, stopping)
	assert.Equal(t, models.AlertWarning, stopping.Level)
	assert.Contains(t, stopping.Details, "hostname")
}

// A detected log pattern reaches both the webhook and the error tracker.
func TestServerLogPatternDeliversAlert(t *testing.T) {
	rec := newWebhookRecorder(t)
	endpoint := okEndpoint(t)

	cfg := testServerConfig(t, rec.srv.URL, models.ServiceCheckConfig{
		Name:     "session_store",
		Type:     models.ServiceTypeVectorStore,
		Endpoint: endpoint.URL,
		Interval: models.Duration(time.Hour),
		Timeout:  models.Duration(2 * time.Second),
	})

	srv, err := NewServer(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() { stopServer(t, srv) })

	line := `{"ts":"2025-06-01T12:00:00Z","level":"ERROR","logger":"bot.db","message":"connection refused while reaching session store"}`
	require.Equal(t, logs.Accepted, srv.collector.Enqueue("test", line))

	require.Eventually(t, func() bool {
		return rec.count("Log Pattern Detected") == 1
	}, 5*time.Second, 20*time.Millisecond)

	detected := rec.find("Log Pattern Detected")
	require.NotNil(t, detected)
	assert.Equal(t, models.AlertCritical, detected.Level)
	assert.Contains(t, detected.Message, "database_connection_failure")

	assert.Equal(t, int64(1), srv.telemetry.Errors().TotalCount("database_connection_failure"))
}

// Evaluate folds the component counters into the exported snapshot.
func TestEvaluateRefreshesMetricsSnapshot(t *testing.T) {
	cfg := testServerConfig(t, "", models.ServiceCheckConfig{
		Name:     "ai_api",
		Type:     models.ServiceTypeAIAPI,
		Endpoint: "http://127.0.0.1:1",
	})

	srv, err := NewServer(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = srv.logStorage.Close() })

	srv.telemetry.Errors().Track("E1", "first", nil)
	srv.telemetry.Errors().Track("E1", "second", nil)

	srv.Evaluate(context.Background())

	snapshot := srv.metrics.Snapshot()
	assert.InDelta(t, 2.0, snapshot["errors_total"], 1e-9)
	assert.InDelta(t, 0.0, snapshot["logs_accepted"], 1e-9)
	assert.Contains(t, snapshot, "overall_status")
}
