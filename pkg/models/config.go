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

import (
	"fmt"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
)

var (
	errServiceNameRequired  = fmt.Errorf("service_name is required")
	errNoServicesConfigured = fmt.Errorf("at least one service must be configured")
	errCheckNameRequired    = fmt.Errorf("service check name is required")
	errCheckTypeUnknown     = fmt.Errorf("unknown service check type")
	errWebhookURLRequired   = fmt.Errorf("webhook url is required when enabled")
	errRuleNameRequired     = fmt.Errorf("alert rule name is required")
	errRuleMetricRequired   = fmt.Errorf("alert rule metric is required")
	errRuleOperatorInvalid  = fmt.Errorf("alert rule operator must be one of gt, gte, lt, lte, eq")
)

// ServiceCheckConfig configures one dependency health check.
type ServiceCheckConfig struct {
	Name         string           `json:"name"`
	Type         ServiceType      `json:"type"`
	Endpoint     string           `json:"endpoint,omitempty"` // URL or connection string
	APIKey       string           `json:"api_key,omitempty"`
	Interval     Duration         `json:"interval,omitempty"`
	Timeout      Duration         `json:"timeout,omitempty"`
	Retries      int              `json:"retries,omitempty"`
	Critical     bool             `json:"critical,omitempty"`
	Dependencies []string         `json:"dependencies,omitempty"`
	Thresholds   *ThresholdConfig `json:"thresholds,omitempty"`
}

// ThresholdConfig sets the response-time boundaries used to classify a
// probe. A measurement at or above Unhealthy classifies as critical.
type ThresholdConfig struct {
	Healthy   Duration `json:"healthy,omitempty"`
	Degraded  Duration `json:"degraded,omitempty"`
	Unhealthy Duration `json:"unhealthy,omitempty"`
}

func (c *ServiceCheckConfig) Validate() error {
	if c.Name == "" {
		return errCheckNameRequired
	}

	switch c.Type {
	case ServiceTypePostgres, ServiceTypeAIAPI, ServiceTypeVectorStore, ServiceTypeBotAPI:
	default:
		return fmt.Errorf("%w: %q", errCheckTypeUnknown, c.Type)
	}

	if c.Interval == 0 {
		c.Interval = Duration(30 * time.Second)
	}

	if c.Timeout == 0 {
		c.Timeout = Duration(10 * time.Second)
	}

	return nil
}

// AlertRuleConfig declares one threshold rule evaluated against the
// metrics snapshot.
type AlertRuleConfig struct {
	Name      string        `json:"name"`
	Metric    string        `json:"metric"`
	Operator  string        `json:"operator"` // gt, gte, lt, lte, eq
	Threshold float64       `json:"threshold"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message,omitempty"`
}

func (r *AlertRuleConfig) Validate() error {
	if r.Name == "" {
		return errRuleNameRequired
	}

	if r.Metric == "" {
		return errRuleMetricRequired
	}

	switch r.Operator {
	case "gt", "gte", "lt", "lte", "eq":
	default:
		return fmt.Errorf("%w: %q", errRuleOperatorInvalid, r.Operator)
	}

	if r.Severity == "" {
		r.Severity = AlertWarning
	}

	return nil
}

// WebhookConfig represents a webhook notification configuration.
type WebhookConfig struct {
	Enabled  bool     `json:"enabled"`
	URL      string   `json:"url"`
	Secret   string   `json:"secret,omitempty"` // HMAC-SHA256 signing key
	Cooldown Duration `json:"cooldown,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"`
	Headers  []Header `json:"headers,omitempty"` // Optional custom headers
}

// Header represents a custom HTTP header.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (w *WebhookConfig) Validate() error {
	if w.Enabled && w.URL == "" {
		return errWebhookURLRequired
	}

	return nil
}

// RecoveryConfig bounds the automated recovery policy.
type RecoveryConfig struct {
	Cooldown    Duration `json:"cooldown,omitempty"`     // default 300s
	MaxAttempts int      `json:"max_attempts,omitempty"` // default 3
}

// LogsConfig configures the log ingestion pipeline.
type LogsConfig struct {
	WatchPaths      []string `json:"watch_paths,omitempty"`
	DBPath          string   `json:"db_path,omitempty"`
	QueueSize       int      `json:"queue_size,omitempty"`
	Workers         int      `json:"workers,omitempty"`
	RetentionDays   int      `json:"retention_days,omitempty"`
	CleanupInterval Duration `json:"cleanup_interval,omitempty"`
}

// AggregationConfig configures the periodic log aggregation loop.
type AggregationConfig struct {
	Interval Duration            `json:"interval,omitempty"`
	Periods  []AggregationPeriod `json:"periods,omitempty"`
}

// ReportConfig configures periodic health report snapshots.
type ReportConfig struct {
	Interval Duration `json:"interval,omitempty"`
	Dir      string   `json:"dir,omitempty"`
}

// CoreServiceConfig is the top-level configuration for the vitals core.
type CoreServiceConfig struct {
	ListenAddr            string               `json:"listen_addr,omitempty"`
	ServiceName           string               `json:"service_name"`
	Services              []ServiceCheckConfig `json:"services"`
	AlertRules            []AlertRuleConfig    `json:"alert_rules,omitempty"`
	Webhooks              []WebhookConfig      `json:"webhooks,omitempty"`
	NATS                  *NATSConfig          `json:"nats,omitempty"`
	Events                *EventsConfig        `json:"events,omitempty"`
	Recovery              RecoveryConfig       `json:"recovery,omitempty"`
	Logs                  LogsConfig           `json:"logs,omitempty"`
	Aggregation           AggregationConfig    `json:"aggregation,omitempty"`
	SystemMetricsInterval Duration             `json:"system_metrics_interval,omitempty"`
	Report                ReportConfig         `json:"report,omitempty"`
	Logging               *logger.Config       `json:"logging,omitempty"`
}

func (c *CoreServiceConfig) Validate() error {
	if c.ServiceName == "" {
		return errServiceNameRequired
	}

	if len(c.Services) == 0 {
		return errNoServicesConfigured
	}

	for i := range c.Services {
		if err := c.Services[i].Validate(); err != nil {
			return fmt.Errorf("service %d: %w", i, err)
		}
	}

	for i := range c.AlertRules {
		if err := c.AlertRules[i].Validate(); err != nil {
			return fmt.Errorf("alert rule %d: %w", i, err)
		}
	}

	for i := range c.Webhooks {
		if err := c.Webhooks[i].Validate(); err != nil {
			return fmt.Errorf("webhook %d: %w", i, err)
		}
	}

	if c.NATS != nil {
		if err := c.NATS.Validate(); err != nil {
			return err
		}
	}

	if c.Events != nil {
		if err := c.Events.Validate(); err != nil {
			return err
		}
	}

	c.applyDefaults()

	return nil
}

func (c *CoreServiceConfig) applyDefaults() {
	if c.Recovery.Cooldown == 0 {
		c.Recovery.Cooldown = Duration(5 * time.Minute)
	}

	if c.Recovery.MaxAttempts == 0 {
		c.Recovery.MaxAttempts = 3
	}

	if c.Logs.DBPath == "" {
		c.Logs.DBPath = "/var/lib/vitals/logs.db"
	}

	if c.Logs.QueueSize == 0 {
		c.Logs.QueueSize = 10000
	}

	if c.Logs.Workers == 0 {
		c.Logs.Workers = 3
	}

	if c.Logs.RetentionDays == 0 {
		c.Logs.RetentionDays = 30
	}

	if c.Logs.CleanupInterval == 0 {
		c.Logs.CleanupInterval = Duration(6 * time.Hour)
	}

	if c.Aggregation.Interval == 0 {
		c.Aggregation.Interval = Duration(time.Minute)
	}

	if len(c.Aggregation.Periods) == 0 {
		c.Aggregation.Periods = []AggregationPeriod{PeriodMinute, PeriodHour, PeriodDay, PeriodWeek}
	}

	if c.SystemMetricsInterval == 0 {
		c.SystemMetricsInterval = Duration(30 * time.Second)
	}

	if c.Report.Interval == 0 {
		c.Report.Interval = Duration(5 * time.Minute)
	}

	if c.Report.Dir == "" {
		c.Report.Dir = "/var/lib/vitals/reports"
	}
}
