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

// AlertSeverity grades how urgent an alert is.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertError    AlertSeverity = "error"
	AlertCritical AlertSeverity = "critical"
)

// Alert is one active or resolved alert. At most one active alert exists
// per rule name; repeated triggers bump TriggerCount instead of creating
// duplicates.
type Alert struct {
	ID            string        `json:"id"`
	RuleName      string        `json:"rule_name"`
	Severity      AlertSeverity `json:"severity"`
	Message       string        `json:"message"`
	CreatedAt     time.Time     `json:"created_at"`
	LastTriggered time.Time     `json:"last_triggered"`
	TriggerCount  int           `json:"trigger_count"`
	Acknowledged  bool          `json:"acknowledged"`
	Resolved      bool          `json:"resolved"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}
