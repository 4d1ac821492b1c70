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
	defaultRecoveryCooldown = 5 * time.Minute
	defaultMaxAttempts      = 3
	defaultRecoveryWait     = 5 * time.Second
)

type recoveryState struct {
	attempts    int
	lastAttempt time.Time
}

// RecoveryManager gates automated recovery per service with a cooldown
// window and an attempt cap. The attempt counter resets only when an
// attempt succeeds. Attempts run in the background and are never
// forcibly cancelled; they only gate future attempts.
type RecoveryManager struct {
	mu          sync.Mutex
	cooldown    time.Duration
	maxAttempts int
	waitDelay   time.Duration
	states      map[string]*recoveryState
	logger      logger.Logger
	now         func() time.Time
	wg          sync.WaitGroup
}

// RecoveryOption customizes a RecoveryManager.
type RecoveryOption func(*RecoveryManager)

// WithRecoveryClock overrides the time source, used by tests.
func WithRecoveryClock(clock func() time.Time) RecoveryOption {
	return func(r *RecoveryManager) {
		r.now = clock
	}
}

// WithRecoveryWait overrides the strategy's pre-reprobe delay.
func WithRecoveryWait(d time.Duration) RecoveryOption {
	return func(r *RecoveryManager) {
		r.waitDelay = d
	}
}

// NewRecoveryManager creates a recovery manager with the configured
// cooldown and attempt cap.
func NewRecoveryManager(cfg models.RecoveryConfig, log logger.Logger, opts ...RecoveryOption) *RecoveryManager {
	cooldown := cfg.Cooldown.Std()
	if cooldown <= 0 {
		cooldown = defaultRecoveryCooldown
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	r := &RecoveryManager{
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		waitDelay:   defaultRecoveryWait,
		states:      make(map[string]*recoveryState),
		logger:      log,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Attempt launches a recovery attempt for the service if neither the
// cooldown window nor the attempt cap gates it. The return value only
// says whether an attempt was started; the attempt itself runs in the
// background and its failures are logged, never escalated.
func (r *RecoveryManager) Attempt(ctx context.Context, cfg models.ServiceCheckConfig, checker Checker, result *models.HealthCheckResult) bool {
	r.mu.Lock()

	state, ok := r.states[cfg.Name]
	if !ok {
		state = &recoveryState{}
		r.states[cfg.Name] = state
	}

	now := r.now()

	if !state.lastAttempt.IsZero() && now.Sub(state.lastAttempt) < r.cooldown {
		r.mu.Unlock()

		r.logger.Debug().
			Str("service", cfg.Name).
			Msg("Recovery attempt suppressed by cooldown")

		return false
	}

	if state.attempts >= r.maxAttempts {
		r.mu.Unlock()

		r.logger.Warn().
			Str("service", cfg.Name).
			Int("attempts", state.attempts).
			Msg("Recovery attempt cap reached")

		return false
	}

	state.attempts++
	state.lastAttempt = now
	attempt := state.attempts

	r.mu.Unlock()

	r.logger.Info().
		Str("service", cfg.Name).
		Str("status", string(result.Status)).
		Int("attempt", attempt).
		Msg("Attempting service recovery")

	strategy := r.strategyFor(cfg.Type)

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		r.run(context.WithoutCancel(ctx), cfg, checker, strategy)
	}()

	return true
}

// AttemptCount returns the current attempt counter for a service.
func (r *RecoveryManager) AttemptCount(service string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.states[service]; ok {
		return state.attempts
	}

	return 0
}

type recoveryStrategy func(ctx context.Context, checker Checker) *models.HealthCheckResult

// strategyFor dispatches by dependency type. Every type currently
// shares the bounded wait-and-reprobe policy.
func (r *RecoveryManager) strategyFor(serviceType models.ServiceType) recoveryStrategy {
	switch serviceType {
	case models.ServiceTypePostgres, models.ServiceTypeAIAPI, models.ServiceTypeVectorStore, models.ServiceTypeBotAPI:
		return r.waitAndReprobe
	default:
		return r.waitAndReprobe
	}
}

func (r *RecoveryManager) run(ctx context.Context, cfg models.ServiceCheckConfig, checker Checker, strategy recoveryStrategy) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("service", cfg.Name).
				Interface("panic", rec).
				Msg("Recovery strategy panicked")
		}
	}()

	reprobe := strategy(ctx, checker)
	if reprobe == nil {
		return
	}

	switch reprobe.Status {
	case models.HealthHealthy, models.HealthDegraded:
		r.mu.Lock()
		if state, ok := r.states[cfg.Name]; ok {
			state.attempts = 0
		}
		r.mu.Unlock()

		r.logger.Info().
			Str("service", cfg.Name).
			Str("status", string(reprobe.Status)).
			Msg("Service recovered")
	default:
		r.logger.Warn().
			Str("service", cfg.Name).
			Str("status", string(reprobe.Status)).
			Str("error", reprobe.ErrorMessage).
			Msg("Recovery attempt failed")
	}
}

// waitAndReprobe waits out the transient-failure window, then re-probes
// the dependency. The reprobe bounds itself with the checker's own
// timeout.
func (r *RecoveryManager) waitAndReprobe(ctx context.Context, checker Checker) *models.HealthCheckResult {
	if r.waitDelay > 0 {
		timer := time.NewTimer(r.waitDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}

	return checker.Check(ctx)
}

// drain waits for in-flight attempts, used by tests.
func (r *RecoveryManager) drain() {
	r.wg.Wait()
}
