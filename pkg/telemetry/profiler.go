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

package telemetry

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	profileWindow        = time.Hour
	defaultSlowThreshold = time.Second
)

// ProfilerOption customises the behaviour of the Profiler.
type ProfilerOption func(*Profiler)

// Profiler records operation timings in per-operation lists pruned to a
// rolling one hour window and flags calls that exceed their threshold.
type Profiler struct {
	mu               sync.Mutex
	samples          map[string][]*models.OperationSample
	thresholds       map[string]time.Duration
	defaultThreshold time.Duration
	slowCounts       map[string]int64
	logger           logger.Logger
	now              func() time.Time
}

// NewProfiler constructs a Profiler with the default slow threshold.
func NewProfiler(log logger.Logger, opts ...ProfilerOption) *Profiler {
	p := &Profiler{
		samples:          make(map[string][]*models.OperationSample),
		thresholds:       make(map[string]time.Duration),
		defaultThreshold: defaultSlowThreshold,
		slowCounts:       make(map[string]int64),
		logger:           log,
		now:              time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// WithProfilerClock injects a deterministic clock (used for tests).
func WithProfilerClock(clock func() time.Time) ProfilerOption {
	return func(p *Profiler) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithThreshold sets the slow threshold for one operation.
func WithThreshold(operation string, threshold time.Duration) ProfilerOption {
	return func(p *Profiler) {
		if threshold > 0 {
			p.thresholds[operation] = threshold
		}
	}
}

// WithDefaultThreshold sets the fallback slow threshold.
func WithDefaultThreshold(threshold time.Duration) ProfilerOption {
	return func(p *Profiler) {
		if threshold > 0 {
			p.defaultThreshold = threshold
		}
	}
}

// Record stores one operation timing and flags it as slow when it exceeds
// the operation's threshold.
func (p *Profiler) Record(operation string, duration time.Duration, context map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	threshold, ok := p.thresholds[operation]
	if !ok {
		threshold = p.defaultThreshold
	}

	sample := &models.OperationSample{
		Operation: operation,
		Duration:  duration,
		Timestamp: now,
		Slow:      duration > threshold,
		Context:   context,
	}

	cutoff := now.Add(-profileWindow)
	p.samples[operation] = prunedSamples(p.samples[operation], sample, cutoff)

	if sample.Slow {
		p.slowCounts[operation]++

		p.logger.Warn().
			Str("operation", operation).
			Dur("duration", duration).
			Dur("threshold", threshold).
			Msg("Slow operation detected")
	}
}

func prunedSamples(samples []*models.OperationSample, sample *models.OperationSample, cutoff time.Time) []*models.OperationSample {
	kept := samples[:0]

	for _, s := range samples {
		if !s.Timestamp.Before(cutoff) {
			kept = append(kept, s)
		}
	}

	return append(kept, sample)
}

// Stats summarizes one operation's samples within the profiler window.
// Returns nil when the operation has no samples.
func (p *Profiler) Stats(operation string) *models.PerformanceStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.statsLocked(operation)
}

// AllStats summarizes every operation with samples in the window.
func (p *Profiler) AllStats() map[string]*models.PerformanceStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := make(map[string]*models.PerformanceStats, len(p.samples))

	for operation := range p.samples {
		if stats := p.statsLocked(operation); stats != nil {
			all[operation] = stats
		}
	}

	return all
}

func (p *Profiler) statsLocked(operation string) *models.PerformanceStats {
	cutoff := p.now().Add(-profileWindow)

	var durations []time.Duration

	var slow int64

	for _, s := range p.samples[operation] {
		if s.Timestamp.Before(cutoff) {
			continue
		}

		durations = append(durations, s.Duration)

		if s.Slow {
			slow++
		}
	}

	if len(durations) == 0 {
		return nil
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &models.PerformanceStats{
		Operation: operation,
		Count:     int64(len(durations)),
		SlowCount: slow,
		Avg:       sum / time.Duration(len(durations)),
		Min:       durations[0],
		Max:       durations[len(durations)-1],
		P95:       nearestRank(durations, 95),
		P99:       nearestRank(durations, 99),
	}
}

// nearestRank returns the pth percentile of sorted durations using the
// nearest-rank method: the value at index ceil(p/100*n) - 1.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}

	return sorted[rank-1]
}
