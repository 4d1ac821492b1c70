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

// Package models pkg/models/telemetry.go
package models

import "time"

// ErrorRecord is one tracked error occurrence.
type ErrorRecord struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// ErrorCount pairs an error code with its occurrence count.
type ErrorCount struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// ErrorStats summarizes tracked errors over a query window.
type ErrorStats struct {
	Window          time.Duration    `json:"window"`
	TotalErrors     int64            `json:"total_errors"`
	ErrorsPerMinute float64          `json:"errors_per_minute"`
	TopErrors       []ErrorCount     `json:"top_errors"`
	HourlyCounts    map[string]int64 `json:"hourly_counts"`
}

// OperationSample is one recorded operation timing.
type OperationSample struct {
	Operation string                 `json:"operation"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
	Slow      bool                   `json:"slow"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// PerformanceStats summarizes one operation's samples within the profiler
// window. Percentiles use the nearest-rank method.
type PerformanceStats struct {
	Operation string        `json:"operation"`
	Count     int64         `json:"count"`
	SlowCount int64         `json:"slow_count"`
	Avg       time.Duration `json:"avg"`
	Min       time.Duration `json:"min"`
	Max       time.Duration `json:"max"`
	P95       time.Duration `json:"p95"`
	P99       time.Duration `json:"p99"`
}
