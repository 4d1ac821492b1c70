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

package models

import "time"

// LogEntry is one parsed log line. Entries are immutable once parsed;
// RawLine always preserves the input verbatim.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Service   string                 `json:"service,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
	ErrorCode string                 `json:"error_code,omitempty"`
	EventType string                 `json:"event_type,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Metrics   map[string]float64     `json:"metrics,omitempty"`
	RawLine   string                 `json:"raw_line,omitempty"`
}

// AggregationPeriod selects the fixed bucket width for log aggregation.
type AggregationPeriod string

const (
	PeriodMinute AggregationPeriod = "minute"
	PeriodHour   AggregationPeriod = "hour"
	PeriodDay    AggregationPeriod = "day"
	PeriodWeek   AggregationPeriod = "week"
)

// Width returns the bucket width for the period.
func (p AggregationPeriod) Width() time.Duration {
	switch p {
	case PeriodMinute:
		return time.Minute
	case PeriodHour:
		return time.Hour
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Truncate maps a timestamp onto its bucket key for the period. Weeks are
// anchored to Monday 00:00 UTC.
func (p AggregationPeriod) Truncate(t time.Time) time.Time {
	t = t.UTC()

	switch p {
	case PeriodMinute:
		return t.Truncate(time.Minute)
	case PeriodHour:
		return t.Truncate(time.Hour)
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return t.Truncate(time.Hour)
	}
}

// LogAggregation is one computed time bucket of log statistics.
type LogAggregation struct {
	Period          AggregationPeriod `json:"period"`
	BucketTime      time.Time         `json:"bucket_time"`
	TotalEntries    int64             `json:"total_entries"`
	LevelCounts     map[string]int64  `json:"level_counts"`
	ServiceCounts   map[string]int64  `json:"service_counts"`
	LoggerCounts    map[string]int64  `json:"logger_counts"`
	ErrorCodeCounts map[string]int64  `json:"error_code_counts"`
	UniqueUsers     int64             `json:"unique_users"`
	UniqueTraces    int64             `json:"unique_traces"`
	AvgResponseTime float64           `json:"avg_response_time"`
}

// LogFilter narrows a log storage query. Zero values mean "no constraint";
// Limit <= 0 falls back to the storage default.
type LogFilter struct {
	Start   time.Time
	End     time.Time
	Level   string
	Service string
	TraceID string
	Limit   int
}
