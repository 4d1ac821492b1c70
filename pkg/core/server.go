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

// Package core wires the monitoring components into one service: health
// probing, log ingestion and aggregation, telemetry, metrics exposition,
// rule evaluation, and alert delivery.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mindhaven/vitals/pkg/alerts"
	"github.com/mindhaven/vitals/pkg/events"
	"github.com/mindhaven/vitals/pkg/health"
	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/logs"
	"github.com/mindhaven/vitals/pkg/metrics"
	"github.com/mindhaven/vitals/pkg/models"
	"github.com/mindhaven/vitals/pkg/telemetry"
)

const (
	metricsNamespace = "vitals"

	defaultEvaluateInterval = 30 * time.Second
	shutdownTimeout         = 30 * time.Second
)

var errFailedToSendAlerts = errors.New("failed to send alerts")

// Server is the composition root of the monitoring core. It owns every
// component's lifecycle and the plumbing between them: health
// transitions flow to the event stream and webhooks, log pattern hits
// flow to webhooks and the error tracker, and the rule evaluation loop
// reads the metrics snapshot.
type Server struct {
	config *models.CoreServiceConfig
	logger logger.Logger

	telemetry *telemetry.Core
	metrics   *metrics.Collector

	logStorage *logs.Storage
	collector  *logs.Collector
	aggregator *logs.Aggregator
	analyzer   *logs.Analyzer

	monitor  *health.Monitor
	recovery *health.RecoveryManager

	alertManager *alerts.Manager
	webhooks     []alerts.AlertService

	publisher *events.Publisher
	natsConn  *nats.Conn

	critical map[string]bool

	evalInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	startedAt time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithEvaluateInterval overrides the rule evaluation cadence.
func WithEvaluateInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		s.evalInterval = d
	}
}

// WithServerClock overrides the time source, used by tests.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer builds the full component graph from configuration. The
// context bounds construction-time work (checker setup, NATS stream
// ensure), not the server's lifetime.
func NewServer(ctx context.Context, cfg *models.CoreServiceConfig, log logger.Logger, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid core configuration: %w", err)
	}

	s := &Server{
		config:       cfg,
		logger:       log,
		critical:     make(map[string]bool),
		evalInterval: defaultEvaluateInterval,
		now:          time.Now,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	for _, svc := range cfg.Services {
		s.critical[svc.Name] = svc.Critical
	}

	s.telemetry = telemetry.NewCore(log)
	s.metrics = metrics.NewCollector(metricsNamespace)

	s.initializeWebhooks(cfg.Webhooks)

	s.alertManager = alerts.NewManager(alerts.RulesFromConfig(cfg.AlertRules), log)

	storage, err := logs.NewStorage(cfg.Logs.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open log storage: %w", err)
	}

	s.logStorage = storage

	parser := logs.NewParser(cfg.ServiceName, log)
	s.collector = logs.NewCollector(cfg.Logs, parser, storage, log,
		logs.WithPatternFunc(s.onLogPattern))
	s.aggregator = logs.NewAggregator(cfg.Aggregation, storage, log)
	s.analyzer = logs.NewAnalyzer(storage, log)

	s.recovery = health.NewRecoveryManager(cfg.Recovery, log)

	checkers := make(map[string]health.Checker, len(cfg.Services))

	for _, svc := range cfg.Services {
		checker, err := health.NewChecker(ctx, svc, log)
		if err != nil {
			_ = storage.Close()

			return nil, fmt.Errorf("failed to build checker for %s: %w", svc.Name, err)
		}

		checkers[svc.Name] = checker
	}

	reporter, err := health.NewReporter(cfg.Report.Dir, log)
	if err != nil {
		_ = storage.Close()

		return nil, fmt.Errorf("failed to prepare report directory: %w", err)
	}

	s.monitor = health.NewMonitor(cfg.Services, checkers, s.recovery, log,
		health.WithTransitionFunc(s.onHealthTransition),
		health.WithAlertCounter(s.alertManager.ActiveCount),
		health.WithReporter(reporter),
		health.WithSystemInterval(cfg.SystemMetricsInterval.Std()),
		health.WithReportInterval(cfg.Report.Interval.Std()))

	if cfg.NATS != nil && cfg.Events != nil && cfg.Events.Enabled {
		publisher, conn, err := events.Connect(ctx, cfg.NATS, cfg.Events, log)
		if err != nil {
			_ = storage.Close()

			return nil, fmt.Errorf("failed to connect event stream: %w", err)
		}

		s.publisher = publisher
		s.natsConn = conn
	}

	return s, nil
}

func (s *Server) initializeWebhooks(configs []models.WebhookConfig) {
	for _, config := range configs {
		if !config.Enabled {
			continue
		}

		s.webhooks = append(s.webhooks, alerts.NewWebhookAlerter(config, s.logger))

		s.logger.Info().Str("url", config.URL).Msg("Added webhook alerter")
	}
}

// Start brings the components up in dependency order: the health
// monitor first, then the log pipeline, then the evaluation loop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	s.logger.Info().
		Str("service", s.config.ServiceName).
		Int("monitored_services", len(s.config.Services)).
		Msg("Starting monitoring core")

	if err := s.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}

	if err := s.collector.Start(ctx); err != nil {
		_ = s.monitor.Stop(ctx)

		return fmt.Errorf("failed to start log collector: %w", err)
	}

	if err := s.aggregator.Start(ctx); err != nil {
		_ = s.collector.Stop(ctx)
		_ = s.monitor.Stop(ctx)

		return fmt.Errorf("failed to start log aggregator: %w", err)
	}

	s.wg.Add(1)

	go s.evaluateLoop(ctx)

	if err := s.sendStartupNotification(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send startup notification")
	}

	return nil
}

// Stop shuts components down in reverse order, bounded by the shutdown
// timeout even when the caller's context has none.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.sendShutdownNotification(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send shutdown notification")
	}

	s.closeOnce.Do(func() {
		close(s.done)
	})

	stopped := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn().Msg("Evaluation loop did not stop before deadline")
	}

	if err := s.aggregator.Stop(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop log aggregator")
	}

	if err := s.collector.Stop(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop log collector")
	}

	if err := s.monitor.Stop(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop health monitor")
	}

	if s.natsConn != nil {
		s.natsConn.Close()
	}

	if err := s.logStorage.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close log storage")
	}

	s.logger.Info().Msg("Monitoring core stopped")

	return nil
}

func (s *Server) evaluateLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.evalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Evaluate(ctx)
		}
	}
}

// Evaluate refreshes the metrics snapshot from every component and runs
// the alert rules against it, delivering any newly fired alerts.
func (s *Server) Evaluate(ctx context.Context) {
	if snapshot := s.monitor.Snapshot(); snapshot != nil {
		s.metrics.UpdateFromHealth(*snapshot)
	}

	if stats := s.telemetry.Errors().Stats(time.Hour); stats != nil {
		s.metrics.UpdateFromErrors(*stats)
	}

	logStats := s.collector.Stats()
	s.metrics.UpdateFromLogs(logStats.Accepted, logStats.Dropped, logStats.Stored)
	s.metrics.UpdateActiveAlerts(s.alertManager.ActiveCount())

	fired := s.alertManager.Evaluate(alerts.MetricsSnapshot(s.metrics.Snapshot()))

	for _, alert := range fired {
		s.deliverRuleAlert(ctx, alert)
	}

	s.metrics.UpdateActiveAlerts(s.alertManager.ActiveCount())
}

func (s *Server) deliverRuleAlert(ctx context.Context, alert *models.Alert) {
	webhookAlert := &alerts.WebhookAlert{
		Level:       alert.Severity,
		Title:       alert.RuleName,
		Message:     alert.Message,
		ServiceName: s.config.ServiceName,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		Details: map[string]any{
			"alert_id": alert.ID,
			"severity": string(alert.Severity),
		},
	}

	if err := s.sendAlert(ctx, webhookAlert); err != nil {
		s.logger.Error().Err(err).Str("rule", alert.RuleName).Msg("Alert delivery failed")
	}
}

// onHealthTransition reacts to every service state change: the change
// is published to the event stream, and state changes that matter
// operationally become webhook alerts.
func (s *Server) onHealthTransition(ctx context.Context, previous models.HealthStatus, result *models.HealthCheckResult) {
	s.logger.Info().
		Str("service", result.ServiceName).
		Str("previous", string(previous)).
		Str("current", string(result.Status)).
		Msg("Service health transition")

	if s.publisher != nil {
		if err := s.publisher.PublishHealthTransition(ctx, previous, result); err != nil {
			s.logger.Warn().Err(err).
				Str("service", result.ServiceName).
				Msg("Failed to publish health transition event")
		}
	}

	alert := s.transitionAlert(previous, result)
	if alert == nil {
		return
	}

	if err := s.sendAlert(ctx, alert); err != nil {
		s.logger.Error().Err(err).
			Str("service", result.ServiceName).
			Msg("Transition alert delivery failed")
	}
}

// transitionAlert maps a state change to a webhook alert, or nil when
// the change is not alert-worthy (initial discovery of a healthy
// service, unknown churn).
func (s *Server) transitionAlert(previous models.HealthStatus, result *models.HealthCheckResult) *alerts.WebhookAlert {
	var (
		severity models.AlertSeverity
		title    string
	)

	switch result.Status {
	case models.HealthCritical:
		severity = models.AlertCritical
		title = "Service Critical"
	case models.HealthUnhealthy:
		severity = models.AlertError
		title = "Service Unhealthy"

		if s.critical[result.ServiceName] {
			severity = models.AlertCritical
		}
	case models.HealthDegraded:
		severity = models.AlertWarning
		title = "Service Degraded"
	case models.HealthHealthy:
		if previous.SeverityRank() <= models.HealthHealthy.SeverityRank() {
			return nil
		}

		severity = models.AlertInfo
		title = "Service Recovered"
	default:
		return nil
	}

	message := fmt.Sprintf("%s is %s (was %s)", result.ServiceName, result.Status, previous)
	if result.ErrorMessage != "" {
		message = fmt.Sprintf("%s: %s", message, result.ErrorMessage)
	}

	return &alerts.WebhookAlert{
		Level:       severity,
		Title:       title,
		Message:     message,
		ServiceName: result.ServiceName,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		Details: map[string]any{
			"previous":         string(previous),
			"current":          string(result.Status),
			"response_time_ms": result.ResponseTime.Milliseconds(),
			"critical_service": s.critical[result.ServiceName],
		},
	}
}

// onLogPattern turns a detection table hit into a webhook alert and an
// error tracker record, so pattern hits show up in error-rate metrics.
func (s *Server) onLogPattern(ctx context.Context, entry *models.LogEntry, pattern logs.Pattern) {
	s.telemetry.Errors().Track(pattern.Name, entry.Message, map[string]interface{}{
		"service": entry.Service,
		"level":   entry.Level,
	})

	alert := &alerts.WebhookAlert{
		Level:       pattern.Severity,
		Title:       "Log Pattern Detected",
		Message:     fmt.Sprintf("%s: %s", pattern.Name, entry.Message),
		ServiceName: entry.Service,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		Details: map[string]any{
			"pattern": pattern.Name,
			"level":   entry.Level,
			"logger":  entry.Logger,
		},
	}

	if err := s.sendAlert(ctx, alert); err != nil {
		s.logger.Error().Err(err).
			Str("pattern", pattern.Name).
			Msg("Pattern alert delivery failed")
	}
}

// Telemetry exposes the telemetry core for instrumented callers.
func (s *Server) Telemetry() *telemetry.Core {
	return s.telemetry
}

// Metrics exposes the metrics collector, including its HTTP handler.
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

// Alerts exposes the alert manager for acknowledge/resolve surfaces.
func (s *Server) Alerts() *alerts.Manager {
	return s.alertManager
}
