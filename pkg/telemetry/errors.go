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
	"sort"
	"sync"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	defaultRecentErrorsSize = 1000
	errorPatternWindow      = 24 * time.Hour
	topErrorsLimit          = 10
	hourlyBucketFormat      = "2006-01-02 15:00"
)

// ErrorTrackerOption customises the behaviour of the ErrorTracker.
type ErrorTrackerOption func(*ErrorTracker)

// ErrorTracker counts errors per code and keeps two views of history: a
// per-code record list pruned to a rolling 24h window, and a fixed-size
// ring of the most recent errors across all codes.
type ErrorTracker struct {
	mu       sync.Mutex
	counts   map[string]int64
	patterns map[string][]*models.ErrorRecord
	recent   []*models.ErrorRecord
	pos      int
	stored   int
	capacity int
	logger   logger.Logger
	now      func() time.Time
}

// NewErrorTracker constructs an ErrorTracker with the default ring size.
func NewErrorTracker(log logger.Logger, opts ...ErrorTrackerOption) *ErrorTracker {
	e := &ErrorTracker{
		counts:   make(map[string]int64),
		patterns: make(map[string][]*models.ErrorRecord),
		capacity: defaultRecentErrorsSize,
		logger:   log,
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.recent = make([]*models.ErrorRecord, e.capacity)

	return e
}

// WithErrorClock injects a deterministic clock (used for tests).
func WithErrorClock(clock func() time.Time) ErrorTrackerOption {
	return func(e *ErrorTracker) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithRecentSize overrides the recent-errors ring capacity.
func WithRecentSize(size int) ErrorTrackerOption {
	return func(e *ErrorTracker) {
		if size > 0 {
			e.capacity = size
		}
	}
}

// Track records one error occurrence.
func (e *ErrorTracker) Track(code, message string, context map[string]interface{}) {
	record := &models.ErrorRecord{
		Code:      code,
		Message:   message,
		Timestamp: e.now(),
		Context:   context,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.counts[code]++

	cutoff := record.Timestamp.Add(-errorPatternWindow)
	e.patterns[code] = appendPruned(e.patterns[code], record, cutoff)

	e.recent[e.pos] = record
	e.pos = (e.pos + 1) % e.capacity

	if e.stored < e.capacity {
		e.stored++
	}
}

// appendPruned drops records older than cutoff, then appends the new one.
func appendPruned(records []*models.ErrorRecord, record *models.ErrorRecord, cutoff time.Time) []*models.ErrorRecord {
	kept := records[:0]

	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}

	return append(kept, record)
}

// Stats summarizes errors within the given window. Records are only
// retained for 24 hours, so larger windows report at most that much.
func (e *ErrorTracker) Stats(window time.Duration) *models.ErrorStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-window)

	stats := &models.ErrorStats{
		Window:       window,
		HourlyCounts: make(map[string]int64),
	}

	perCode := make(map[string]int64)

	for code, records := range e.patterns {
		for _, r := range records {
			if r.Timestamp.Before(cutoff) {
				continue
			}

			stats.TotalErrors++
			perCode[code]++
			stats.HourlyCounts[r.Timestamp.UTC().Format(hourlyBucketFormat)]++
		}
	}

	if minutes := window.Minutes(); minutes > 0 {
		stats.ErrorsPerMinute = float64(stats.TotalErrors) / minutes
	}

	stats.TopErrors = topCounts(perCode, topErrorsLimit)

	return stats
}

// topCounts returns the n highest counts, ordered by count descending
// with code as the tie-breaker for determinism.
func topCounts(perCode map[string]int64, n int) []models.ErrorCount {
	counts := make([]models.ErrorCount, 0, len(perCode))
	for code, count := range perCode {
		counts = append(counts, models.ErrorCount{Code: code, Count: count})
	}

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}

		return counts[i].Code < counts[j].Code
	})

	if len(counts) > n {
		counts = counts[:n]
	}

	return counts
}

// Recent returns up to n most recent errors, newest first.
func (e *ErrorTracker) Recent(n int) []*models.ErrorRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n <= 0 || n > e.stored {
		n = e.stored
	}

	records := make([]*models.ErrorRecord, 0, n)

	for i := 1; i <= n; i++ {
		records = append(records, e.recent[(e.pos-i+e.capacity)%e.capacity])
	}

	return records
}

// TotalCount returns the all-time count for one code, or the sum across
// codes when code is empty.
func (e *ErrorTracker) TotalCount(code string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if code != "" {
		return e.counts[code]
	}

	var total int64
	for _, count := range e.counts {
		total += count
	}

	return total
}
