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

package health

import (
	"context"
	"sync"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	trendWindow = 10
	trendDelta  = 0.1

	// scoreHistoryCap bounds the per-service score history to the two
	// windows the trend comparison needs.
	scoreHistoryCap = 2 * trendWindow

	defaultProbeTick      = 30 * time.Second
	defaultSystemInterval = 30 * time.Second
	defaultReportInterval = 5 * time.Minute
)

// TransitionFunc is invoked when a service changes state. The first
// probe of a service transitions from unknown.
type TransitionFunc func(ctx context.Context, previous models.HealthStatus, result *models.HealthCheckResult)

type serviceEntry struct {
	cfg     models.ServiceCheckConfig
	checker Checker

	// lastProbe is touched only by the probe loop.
	lastProbe time.Time

	last   *models.HealthCheckResult
	scores []float64
}

// Monitor composes the dependency checkers and runs three periodic
// loops: sequential probing, system metrics sampling, and report
// persistence. Probe results feed the recovery manager and the
// transition hook.
type Monitor struct {
	mu         sync.RWMutex
	services   map[string]*serviceEntry
	order      []string
	dependents map[string][]string
	recovery   *RecoveryManager
	sampler    *SystemSampler
	system     *models.SystemMetrics
	reporter   *Reporter
	logger     logger.Logger
	clock      Clock

	onTransition TransitionFunc
	alertCount   func() int

	probeTick      time.Duration
	systemInterval time.Duration
	reportInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock overrides the clock, used by tests.
func WithMonitorClock(clock Clock) MonitorOption {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// WithTransitionFunc registers the hook invoked on service state
// changes.
func WithTransitionFunc(fn TransitionFunc) MonitorOption {
	return func(m *Monitor) {
		m.onTransition = fn
	}
}

// WithAlertCounter supplies the active alert count recorded in reports.
func WithAlertCounter(fn func() int) MonitorOption {
	return func(m *Monitor) {
		m.alertCount = fn
	}
}

// WithReporter enables the report persistence loop.
func WithReporter(r *Reporter) MonitorOption {
	return func(m *Monitor) {
		m.reporter = r
	}
}

// WithSystemSampler overrides the host metrics sampler.
func WithSystemSampler(s *SystemSampler) MonitorOption {
	return func(m *Monitor) {
		m.sampler = s
	}
}

// WithSystemInterval sets the system metrics sampling interval.
func WithSystemInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.systemInterval = d
		}
	}
}

// WithReportInterval sets the report persistence interval.
func WithReportInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.reportInterval = d
		}
	}
}

// NewMonitor creates a monitor over the configured services. The probe
// loop ticks at the smallest configured check interval; each service is
// probed once its own interval has elapsed.
func NewMonitor(configs []models.ServiceCheckConfig, checkers map[string]Checker, recovery *RecoveryManager, log logger.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		services:       make(map[string]*serviceEntry, len(configs)),
		dependents:     make(map[string][]string),
		recovery:       recovery,
		logger:         log,
		clock:          realClock{},
		probeTick:      defaultProbeTick,
		systemInterval: defaultSystemInterval,
		reportInterval: defaultReportInterval,
		done:           make(chan struct{}),
	}

	for _, cfg := range configs {
		checker, ok := checkers[cfg.Name]
		if !ok {
			continue
		}

		m.services[cfg.Name] = &serviceEntry{cfg: cfg, checker: checker}
		m.order = append(m.order, cfg.Name)

		if interval := cfg.Interval.Std(); interval > 0 && interval < m.probeTick {
			m.probeTick = interval
		}

		for _, dep := range cfg.Dependencies {
			m.dependents[dep] = append(m.dependents[dep], cfg.Name)
		}
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.sampler == nil {
		m.sampler = NewSystemSampler(log)
	}

	return m
}

// Start launches the probe, system metrics, and report loops. It
// returns once the loops are running.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info().
		Int("services", len(m.order)).
		Dur("probe_tick", m.probeTick).
		Msg("Starting health monitor")

	m.wg.Add(1)

	go m.probeLoop(ctx)

	m.wg.Add(1)

	go m.systemLoop(ctx)

	if m.reporter != nil {
		m.wg.Add(1)

		go m.reportLoop(ctx)
	}

	return nil
}

// Stop shuts the loops down and closes the checkers.
func (m *Monitor) Stop(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.done)
	})

	stopped := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	for name, entry := range m.services {
		if err := closeChecker(entry.checker); err != nil {
			m.logger.Error().Err(err).Str("service", name).Msg("Error closing checker")
		}
	}

	return nil
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	m.probeDue(ctx)

	ticker := m.clock.Ticker(m.probeTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.Chan():
			m.probeDue(ctx)
		}
	}
}

// probeDue sequentially probes every service whose check interval has
// elapsed. A service with no prior probe is always due.
func (m *Monitor) probeDue(ctx context.Context) {
	now := m.clock.Now()

	for _, name := range m.order {
		entry := m.services[name]

		if !entry.lastProbe.IsZero() && now.Sub(entry.lastProbe) < entry.cfg.Interval.Std() {
			continue
		}

		entry.lastProbe = now

		m.probe(ctx, entry)
	}
}

func (m *Monitor) probe(ctx context.Context, entry *serviceEntry) {
	result := entry.checker.Check(ctx)

	m.mu.Lock()

	previous := models.HealthUnknown
	if entry.last != nil {
		previous = entry.last.Status
	}

	entry.last = result

	entry.scores = append(entry.scores, result.Status.Score())
	if len(entry.scores) > scoreHistoryCap {
		entry.scores = entry.scores[len(entry.scores)-scoreHistoryCap:]
	}

	m.mu.Unlock()

	m.logResult(result)

	if result.Status != previous {
		m.handleTransition(ctx, previous, result)
	}

	if result.Status == models.HealthCritical || result.Status == models.HealthUnhealthy {
		m.recovery.Attempt(ctx, entry.cfg, entry.checker, result)
	}
}

func (m *Monitor) logResult(result *models.HealthCheckResult) {
	event := m.logger.Debug()

	switch result.Status {
	case models.HealthDegraded, models.HealthUnknown:
		event = m.logger.Warn()
	case models.HealthUnhealthy, models.HealthCritical:
		event = m.logger.Error()
	case models.HealthHealthy:
	}

	event = event.
		Str("service", result.ServiceName).
		Str("status", string(result.Status)).
		Dur("response_time", result.ResponseTime)

	if result.ErrorMessage != "" {
		event = event.Str("error", result.ErrorMessage)
	}

	event.Msg("Health check completed")
}

func (m *Monitor) handleTransition(ctx context.Context, previous models.HealthStatus, result *models.HealthCheckResult) {
	m.logger.Info().
		Str("service", result.ServiceName).
		Str("previous", string(previous)).
		Str("current", string(result.Status)).
		Msg("Service state changed")

	if result.Status == models.HealthUnhealthy || result.Status == models.HealthCritical {
		for _, dependent := range m.dependents[result.ServiceName] {
			m.logger.Warn().
				Str("service", dependent).
				Str("dependency", result.ServiceName).
				Msg("Dependent service may be affected")
		}
	}

	if m.onTransition == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("service", result.ServiceName).
				Interface("panic", r).
				Msg("Transition hook panicked")
		}
	}()

	m.onTransition(ctx, previous, result)
}

func (m *Monitor) systemLoop(ctx context.Context) {
	defer m.wg.Done()

	// The initial sample seeds the network rate baseline.
	m.storeSystemSample(ctx)

	ticker := m.clock.Ticker(m.systemInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.Chan():
			m.storeSystemSample(ctx)
		}
	}
}

func (m *Monitor) storeSystemSample(ctx context.Context) {
	sample := m.sampler.Sample(ctx)

	m.mu.Lock()
	m.system = sample
	m.mu.Unlock()
}

func (m *Monitor) reportLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clock.Ticker(m.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.Chan():
			if err := m.reporter.Write(m.Report()); err != nil {
				m.logger.Error().Err(err).Msg("Failed to persist health report")
			}
		}
	}
}

// CurrentStatus aggregates the worst status among tracked services.
// With no probe data it reports unknown.
func (m *Monitor) CurrentStatus() models.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.currentStatusLocked()
}

func (m *Monitor) currentStatusLocked() models.HealthStatus {
	statuses := make([]models.HealthStatus, 0, len(m.services))

	for _, entry := range m.services {
		if entry.last != nil {
			statuses = append(statuses, entry.last.Status)
		}
	}

	return models.WorstStatus(statuses...)
}

// Snapshot returns the aggregate health surface for callers outside the
// core.
func (m *Monitor) Snapshot() *models.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := &models.HealthSnapshot{
		Status:        m.currentStatusLocked(),
		Timestamp:     m.clock.Now(),
		Services:      make(map[string]models.ServiceHealth, len(m.services)),
		SystemMetrics: m.system,
	}

	for name, entry := range m.services {
		if entry.last == nil {
			continue
		}

		snapshot.Services[name] = models.ServiceHealth{
			Status:       entry.last.Status,
			ResponseTime: entry.last.ResponseTime,
			LastCheck:    entry.last.Timestamp,
		}
	}

	return snapshot
}

// LastResult returns the most recent probe result for a service, or nil
// when the service is unknown or not yet probed.
func (m *Monitor) LastResult(service string) *models.HealthCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if entry, ok := m.services[service]; ok {
		return entry.last
	}

	return nil
}

// Trend compares the mean health score of the last ten checks against
// the ten before them. With fewer than twenty samples the direction is
// stable.
func (m *Monitor) Trend(service string) *models.ServiceTrend {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.trendLocked(service)
}

func (m *Monitor) trendLocked(service string) *models.ServiceTrend {
	entry, ok := m.services[service]
	if !ok {
		return nil
	}

	trend := &models.ServiceTrend{
		ServiceName: service,
		Direction:   models.TrendStable,
		SampleCount: len(entry.scores),
	}

	if len(entry.scores) < 2*trendWindow {
		if len(entry.scores) > 0 {
			trend.RecentScore = meanScore(entry.scores)
		}

		return trend
	}

	recent := entry.scores[len(entry.scores)-trendWindow:]
	previous := entry.scores[len(entry.scores)-2*trendWindow : len(entry.scores)-trendWindow]

	trend.RecentScore = meanScore(recent)
	trend.PreviousScore = meanScore(previous)

	delta := trend.RecentScore - trend.PreviousScore

	switch {
	case delta > trendDelta:
		trend.Direction = models.TrendImproving
	case delta < -trendDelta:
		trend.Direction = models.TrendDegrading
	}

	return trend
}

func meanScore(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}

	return sum / float64(len(scores))
}

// Report assembles the full health report.
func (m *Monitor) Report() *models.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := &models.HealthReport{
		GeneratedAt:   m.clock.Now(),
		OverallStatus: m.currentStatusLocked(),
		Services:      make(map[string]*models.HealthCheckResult, len(m.services)),
		Trends:        make(map[string]*models.ServiceTrend, len(m.services)),
		SystemMetrics: m.system,
	}

	for name, entry := range m.services {
		if entry.last == nil {
			continue
		}

		report.Services[name] = entry.last

		if trend := m.trendLocked(name); trend != nil {
			report.Trends[name] = trend
		}
	}

	if m.alertCount != nil {
		report.ActiveAlerts = m.alertCount()
	}

	return report
}

// SystemMetrics returns the latest host metrics sample, or nil before
// the first sample.
func (m *Monitor) SystemMetrics() *models.SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.system
}
