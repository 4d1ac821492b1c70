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

// Package health probes external dependencies, tracks their state over
// time, and drives the automated recovery policy.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	defaultHealthyBelow   = 250 * time.Millisecond
	defaultDegradedBelow  = time.Second
	defaultUnhealthyBelow = 5 * time.Second

	// defaultSlowAfter is the latency above which an otherwise healthy
	// HTTP dependency classifies as degraded.
	defaultSlowAfter = 5 * time.Second
)

var errUnknownCheckerType = errors.New("unknown checker type")

// Checker probes one dependency. Implementations never return an error;
// probe failures become a critical result with ErrorMessage set.
type Checker interface {
	Check(ctx context.Context) *models.HealthCheckResult
}

// NewChecker builds the checker for one configured dependency, wrapped
// so that panics become critical results and failed probes are retried
// per the configured retry count.
func NewChecker(ctx context.Context, cfg models.ServiceCheckConfig, log logger.Logger) (Checker, error) {
	var (
		c   Checker
		err error
	)

	switch cfg.Type {
	case models.ServiceTypePostgres:
		c, err = NewPostgresChecker(ctx, cfg, log)
	case models.ServiceTypeAIAPI:
		c = NewAIChecker(cfg, log)
	case models.ServiceTypeVectorStore:
		c = NewVectorChecker(cfg, log)
	case models.ServiceTypeBotAPI:
		c = NewBotChecker(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownCheckerType, cfg.Type)
	}

	if err != nil {
		return nil, err
	}

	c = &guarded{inner: c, cfg: cfg, logger: log}

	if cfg.Retries > 0 {
		c = &retrier{inner: c, retries: cfg.Retries}
	}

	return c, nil
}

// thresholds holds the resolved response-time boundaries for a check.
type thresholds struct {
	healthy   time.Duration
	degraded  time.Duration
	unhealthy time.Duration
}

func resolveThresholds(cfg *models.ThresholdConfig) thresholds {
	t := thresholds{
		healthy:   defaultHealthyBelow,
		degraded:  defaultDegradedBelow,
		unhealthy: defaultUnhealthyBelow,
	}

	if cfg == nil {
		return t
	}

	if cfg.Healthy > 0 {
		t.healthy = cfg.Healthy.Std()
	}

	if cfg.Degraded > 0 {
		t.degraded = cfg.Degraded.Std()
	}

	if cfg.Unhealthy > 0 {
		t.unhealthy = cfg.Unhealthy.Std()
	}

	return t
}

// classify maps a measured response time to a status band.
func (t thresholds) classify(elapsed time.Duration) models.HealthStatus {
	switch {
	case elapsed < t.healthy:
		return models.HealthHealthy
	case elapsed < t.degraded:
		return models.HealthDegraded
	case elapsed < t.unhealthy:
		return models.HealthUnhealthy
	default:
		return models.HealthCritical
	}
}

// slowAfter resolves the single-band latency threshold used by the HTTP
// checkers.
func slowAfter(cfg *models.ThresholdConfig) time.Duration {
	if cfg != nil && cfg.Degraded > 0 {
		return cfg.Degraded.Std()
	}

	return defaultSlowAfter
}

func newResult(cfg models.ServiceCheckConfig, status models.HealthStatus, elapsed time.Duration) *models.HealthCheckResult {
	return &models.HealthCheckResult{
		ServiceName:  cfg.Name,
		ServiceType:  cfg.Type,
		Status:       status,
		ResponseTime: elapsed,
		Timestamp:    time.Now(),
		Details:      make(map[string]interface{}),
		Metrics:      make(map[string]float64),
	}
}

func criticalResult(cfg models.ServiceCheckConfig, elapsed time.Duration, message string) *models.HealthCheckResult {
	result := newResult(cfg, models.HealthCritical, elapsed)
	result.ErrorMessage = message

	return result
}

// guarded converts a checker panic into a critical result so a broken
// probe never takes down the monitor loop.
type guarded struct {
	inner  Checker
	cfg    models.ServiceCheckConfig
	logger logger.Logger
}

func (g *guarded) Check(ctx context.Context) (result *models.HealthCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().
				Str("service", g.cfg.Name).
				Interface("panic", r).
				Msg("Health checker panicked")

			result = criticalResult(g.cfg, 0, fmt.Sprintf("checker panic: %v", r))
		}
	}()

	return g.inner.Check(ctx)
}

func (g *guarded) Close() error {
	return closeChecker(g.inner)
}

// retrier re-probes a dependency after a critical result, up to the
// configured retry count. The last result wins.
type retrier struct {
	inner   Checker
	retries int
}

func (r *retrier) Check(ctx context.Context) *models.HealthCheckResult {
	result := r.inner.Check(ctx)

	for attempt := 0; attempt < r.retries && result.Status == models.HealthCritical; attempt++ {
		if ctx.Err() != nil {
			break
		}

		result = r.inner.Check(ctx)
		result.Details["attempt"] = attempt + 2
	}

	return result
}

func (r *retrier) Close() error {
	return closeChecker(r.inner)
}

func closeChecker(c Checker) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}
