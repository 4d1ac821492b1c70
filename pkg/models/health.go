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

// HealthStatus classifies one dependency probe or an aggregate of them.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthCritical  HealthStatus = "critical"
	HealthUnknown   HealthStatus = "unknown"
)

// SeverityRank orders statuses for aggregation. Higher is worse, except
// unknown which ranks below healthy so that real signal always wins.
func (s HealthStatus) SeverityRank() int {
	switch s {
	case HealthCritical:
		return 4
	case HealthUnhealthy:
		return 3
	case HealthDegraded:
		return 2
	case HealthHealthy:
		return 1
	case HealthUnknown:
		return 0
	default:
		return 0
	}
}

// Score maps a status onto [0,1] for trend arithmetic. Unknown sits in the
// middle so a gap in data neither improves nor degrades a trend.
func (s HealthStatus) Score() float64 {
	switch s {
	case HealthHealthy:
		return 1.0
	case HealthDegraded:
		return 0.6
	case HealthUnhealthy:
		return 0.3
	case HealthCritical:
		return 0.0
	case HealthUnknown:
		return 0.5
	default:
		return 0.5
	}
}

// WorstStatus returns the max-severity status of the given set, or unknown
// when the set is empty.
func WorstStatus(statuses ...HealthStatus) HealthStatus {
	worst := HealthUnknown
	for _, s := range statuses {
		if s.SeverityRank() > worst.SeverityRank() {
			worst = s
		}
	}

	return worst
}

// ServiceType identifies the kind of dependency behind a health checker.
type ServiceType string

const (
	ServiceTypePostgres    ServiceType = "postgres"
	ServiceTypeAIAPI       ServiceType = "ai_api"
	ServiceTypeVectorStore ServiceType = "vector_store"
	ServiceTypeBotAPI      ServiceType = "bot_api"
)

// HealthCheckResult is the outcome of a single dependency probe. Results
// are superseded by the next probe, never mutated in place.
type HealthCheckResult struct {
	ServiceName  string                 `json:"service_name"`
	ServiceType  ServiceType            `json:"service_type"`
	Status       HealthStatus           `json:"status"`
	ResponseTime time.Duration          `json:"response_time"`
	Timestamp    time.Time              `json:"timestamp"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metrics      map[string]float64     `json:"metrics,omitempty"`
}

// TrendDirection summarizes how a service's recent health compares with
// the window before it.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDegrading TrendDirection = "degrading"
)

// ServiceTrend carries the score comparison behind a trend classification.
type ServiceTrend struct {
	ServiceName   string         `json:"service_name"`
	Direction     TrendDirection `json:"direction"`
	RecentScore   float64        `json:"recent_score"`
	PreviousScore float64        `json:"previous_score"`
	SampleCount   int            `json:"sample_count"`
}

// SystemMetrics is one sample of host resource usage. Network rates are
// derived from the previous sample and zero when none exists yet.
type SystemMetrics struct {
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryUsedBytes  uint64    `json:"memory_used_bytes"`
	MemoryTotalBytes uint64    `json:"memory_total_bytes"`
	MemoryPercent    float64   `json:"memory_percent"`
	DiskUsedBytes    uint64    `json:"disk_used_bytes"`
	DiskTotalBytes   uint64    `json:"disk_total_bytes"`
	DiskPercent      float64   `json:"disk_percent"`
	NetBytesSent     uint64    `json:"net_bytes_sent"`
	NetBytesRecv     uint64    `json:"net_bytes_recv"`
	NetSendRate      float64   `json:"net_send_rate"`
	NetRecvRate      float64   `json:"net_recv_rate"`
	Goroutines       int       `json:"goroutines"`
	Timestamp        time.Time `json:"timestamp"`
}

// ServiceHealth is the per-service slice of an aggregate health snapshot.
type ServiceHealth struct {
	Status       HealthStatus  `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	LastCheck    time.Time     `json:"last_check"`
}

// HealthSnapshot is the aggregate health surface handed to callers outside
// the core.
type HealthSnapshot struct {
	Status        HealthStatus             `json:"status"`
	Timestamp     time.Time                `json:"timestamp"`
	Services      map[string]ServiceHealth `json:"services"`
	SystemMetrics *SystemMetrics           `json:"system_metrics,omitempty"`
}

// HealthReport is the periodic full report persisted by the monitor.
type HealthReport struct {
	GeneratedAt   time.Time                     `json:"generated_at"`
	OverallStatus HealthStatus                  `json:"overall_status"`
	Services      map[string]*HealthCheckResult `json:"services"`
	Trends        map[string]*ServiceTrend      `json:"trends"`
	SystemMetrics *SystemMetrics                `json:"system_metrics,omitempty"`
	ActiveAlerts  int                           `json:"active_alerts"`
}
