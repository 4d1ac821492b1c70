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
	"fmt"
	"time"

	"github.com/mindhaven/vitals/pkg/logs"
	"github.com/mindhaven/vitals/pkg/models"
	"github.com/mindhaven/vitals/pkg/version"
)

var errNotStarted = fmt.Errorf("server not started")

// ServerStatus is a point-in-time summary of the running core.
type ServerStatus struct {
	ServiceName   string              `json:"service_name"`
	Version       string              `json:"version"`
	Hostname      string              `json:"hostname"`
	StartedAt     time.Time           `json:"started_at"`
	Uptime        time.Duration       `json:"uptime"`
	OverallHealth models.HealthStatus `json:"overall_health"`
	Services      int                 `json:"services"`
	ActiveAlerts  int                 `json:"active_alerts"`
	Webhooks      int                 `json:"webhooks"`
	LogPipeline   logs.CollectorStats `json:"log_pipeline"`
	Endpoints     map[string]string   `json:"endpoints,omitempty"`
}

// ComponentHealth is one component's result from a HealthCheck fan-out.
type ComponentHealth struct {
	Component string `json:"component"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
}

// Status reports the core's own state: uptime, aggregate health of the
// monitored services, alerting posture, and log pipeline counters.
func (s *Server) Status() *ServerStatus {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = s.now().Sub(startedAt)
	}

	status := &ServerStatus{
		ServiceName:   s.config.ServiceName,
		Version:       version.GetVersion(),
		Hostname:      getHostname(),
		StartedAt:     startedAt,
		Uptime:        uptime,
		OverallHealth: s.monitor.CurrentStatus(),
		Services:      len(s.config.Services),
		ActiveAlerts:  s.alertManager.ActiveCount(),
		Webhooks:      len(s.webhooks),
		LogPipeline:   s.collector.Stats(),
	}

	if s.config.ListenAddr != "" {
		status.Endpoints = map[string]string{
			"metrics": s.config.ListenAddr + "/metrics",
		}
	}

	return status
}

// HealthCheck probes every internal component and reports each outcome
// individually. A failing or even panicking component never takes the
// check down with it.
func (s *Server) HealthCheck(ctx context.Context) []ComponentHealth {
	s.mu.Lock()
	started := !s.startedAt.IsZero()
	s.mu.Unlock()

	checks := []ComponentHealth{
		s.checkComponent("log_storage", func() error {
			return s.logStorage.Ping(ctx)
		}),
		s.checkComponent("health_monitor", func() error {
			if !started {
				return errNotStarted
			}

			return nil
		}),
		s.checkComponent("log_collector", func() error {
			if !started {
				return errNotStarted
			}

			stats := s.collector.Stats()
			if s.config.Logs.QueueSize > 0 && stats.QueueDepth >= s.config.Logs.QueueSize {
				return fmt.Errorf("ingest queue saturated: %d entries", stats.QueueDepth)
			}

			return nil
		}),
	}

	if s.natsConn != nil {
		checks = append(checks, s.checkComponent("event_stream", func() error {
			if !s.natsConn.IsConnected() {
				return fmt.Errorf("nats connection lost: %s", s.natsConn.Status())
			}

			return nil
		}))
	}

	return checks
}

func (s *Server) checkComponent(name string, probe func() error) (result ComponentHealth) {
	result = ComponentHealth{Component: name, Healthy: true}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("component", name).
				Interface("panic", r).
				Msg("Component health probe panicked")

			result.Healthy = false
			result.Error = fmt.Sprintf("probe panicked: %v", r)
		}
	}()

	if err := probe(); err != nil {
		result.Healthy = false
		result.Error = err.Error()
	}

	return result
}

// CurrentHealth returns the latest aggregate snapshot of every monitored
// service, including system metrics when sampling is enabled.
func (s *Server) CurrentHealth() *models.HealthSnapshot {
	return s.monitor.Snapshot()
}

// ServiceTrend returns the trend for one monitored service, or nil when
// the service has too little history.
func (s *Server) ServiceTrend(service string) *models.ServiceTrend {
	return s.monitor.Trend(service)
}

// AnalyzeLogs runs the offline analyzer over the stored entries in
// [start, end). Reports are computed on demand, not on a schedule.
func (s *Server) AnalyzeLogs(ctx context.Context, start, end time.Time) (*logs.AnalysisReport, error) {
	return s.analyzer.Analyze(ctx, start, end)
}
