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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

func componentByName(t *testing.T, checks []ComponentHealth, name string) ComponentHealth {
	t.Helper()

	for _, check := range checks {
		if check.Component == name {
			return check
		}
	}

	t.Fatalf("component %q not reported", name)

	return ComponentHealth{}
}

func TestHealthCheckBeforeStart(t *testing.T) {
	cfg := testServerConfig(t, "", models.ServiceCheckConfig{
		Name:     "ai_api",
		Type:     models.ServiceTypeAIAPI,
		Endpoint: "http://127.0.0.1:1",
	})

	srv, err := NewServer(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = srv.logStorage.Close() })

	checks := srv.HealthCheck(context.Background())

	storage := componentByName(t, checks, "log_storage")
	assert.True(t, storage.Healthy)

	monitor := componentByName(t, checks, "health_monitor")
	assert.False(t, monitor.Healthy)
	assert.Contains(t, monitor.Error, "not started")

	collector := componentByName(t, checks, "log_collector")
	assert.False(t, collector.Healthy)

	for _, check := range checks {
		assert.NotEqual(t, "event_stream", check.Component,
			"event stream is reported only when configured")
	}
}

func TestHealthCheckAfterStartAndStop(t *testing.T) {
	endpoint := okEndpoint(t)

	cfg := testServerConfig(t, "", models.ServiceCheckConfig{
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

	checks := srv.HealthCheck(context.Background())
	for _, check := range checks {
		assert.True(t, check.Healthy, "component %s: %s", check.Component, check.Error)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	require.NoError(t, srv.Stop(stopCtx))

	// The storage probe fails against the closed database but still
	// reports through the normal error field.
	checks = srv.HealthCheck(context.Background())
	storage := componentByName(t, checks, "log_storage")
	assert.False(t, storage.Healthy)
	assert.NotEmpty(t, storage.Error)
}

func TestCheckComponentContainsPanic(t *testing.T) {
	srv := &Server{logger: logger.NewTestLogger()}

	result := srv.checkComponent("flaky", func() error {
		panic("boom")
	})

	assert.Equal(t, "flaky", result.Component)
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Error, "probe panicked")
}

func TestStatusReportsUptimeAndCounts(t *testing.T) {
	rec := newWebhookRecorder(t)
	endpoint := okEndpoint(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base

	cfg := testServerConfig(t, rec.srv.URL, models.ServiceCheckConfig{
		Name:     "session_store",
		Type:     models.ServiceTypeVectorStore,
		Endpoint: endpoint.URL,
		Interval: models.Duration(time.Hour),
		Timeout:  models.Duration(2 * time.Second),
	})
	cfg.ListenAddr = "127.0.0.1:9091"

	srv, err := NewServer(context.Background(), cfg, logger.NewTestLogger(),
		WithServerClock(func() time.Time { return current }))
	require.NoError(t, err)

	status := srv.Status()
	assert.True(t, status.StartedAt.IsZero())
	assert.Zero(t, status.Uptime)
	assert.Equal(t, models.HealthUnknown, status.OverallHealth)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() { stopServer(t, srv) })

	current = base.Add(90 * time.Second)

	status = srv.Status()
	assert.Equal(t, "mindhaven-bot", status.ServiceName)
	assert.Equal(t, base, status.StartedAt)
	assert.Equal(t, 90*time.Second, status.Uptime)
	assert.Equal(t, 1, status.Services)
	assert.Equal(t, 1, status.Webhooks)
	assert.Equal(t, "127.0.0.1:9091/metrics", status.Endpoints["metrics"])

	require.Eventually(t, func() bool {
		return srv.Status().OverallHealth == models.HealthHealthy
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAnalyzeLogsOnStoredEntries(t *testing.T) {
	cfg := testServerConfig(t, "", models.ServiceCheckConfig{
		Name:     "ai_api",
		Type:     models.ServiceTypeAIAPI,
		Endpoint: "http://127.0.0.1:1",
	})

	srv, err := NewServer(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = srv.logStorage.Close() })

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, srv.logStorage.Insert(context.Background(), &models.LogEntry{
		Timestamp: base,
		Level:     "error",
		Service:   "mindhaven-bot",
		Message:   "failed to fetch user 42",
	}))
	require.NoError(t, srv.logStorage.Insert(context.Background(), &models.LogEntry{
		Timestamp: base.Add(time.Minute),
		Level:     "info",
		Service:   "mindhaven-bot",
		Message:   "session saved",
	}))

	report, err := srv.AnalyzeLogs(context.Background(), base, base.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.TotalEntries)
	assert.InDelta(t, 0.5, report.ErrorRate, 1e-9)
}
