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

package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

func highCPURule() Rule {
	return Rule{
		Name:     "high_cpu",
		Severity: models.AlertWarning,
		Message:  "CPU usage above 90%",
		Predicate: func(snapshot MetricsSnapshot) bool {
			return snapshot["cpu_percent"] > 90
		},
	}
}

func TestManagerEvaluateFiresOnce(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	m := NewManager([]Rule{highCPURule()}, logger.NewTestLogger(), WithManagerClock(clock))

	fired := m.Evaluate(MetricsSnapshot{"cpu_percent": 95})
	require.Len(t, fired, 1)
	assert.Equal(t, "high_cpu", fired[0].RuleName)
	assert.Equal(t, models.AlertWarning, fired[0].Severity)
	assert.Equal(t, 1, fired[0].TriggerCount)
	assert.Equal(t, "high_cpu-1748779200", fired[0].ID)

	// The same condition on the next evaluation updates the active alert
	// instead of creating a duplicate.
	current = current.Add(time.Minute)

	fired = m.Evaluate(MetricsSnapshot{"cpu_percent": 97})
	assert.Empty(t, fired)

	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].TriggerCount)
	assert.Equal(t, current, active[0].LastTriggered)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestManagerEvaluateDoesNotFireBelowThreshold(t *testing.T) {
	m := NewManager([]Rule{highCPURule()}, logger.NewTestLogger())

	fired := m.Evaluate(MetricsSnapshot{"cpu_percent": 40})
	assert.Empty(t, fired)
	assert.Zero(t, m.ActiveCount())
}

func TestManagerEvaluatePanickingRuleIsolated(t *testing.T) {
	panicking := Rule{
		Name:     "broken",
		Severity: models.AlertError,
		Predicate: func(MetricsSnapshot) bool {
			panic("boom")
		},
	}

	m := NewManager([]Rule{panicking, highCPURule()}, logger.NewTestLogger())

	fired := m.Evaluate(MetricsSnapshot{"cpu_percent": 99})
	require.Len(t, fired, 1)
	assert.Equal(t, "high_cpu", fired[0].RuleName)
}

func TestManagerAcknowledgeAndResolve(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	m := NewManager([]Rule{highCPURule()}, logger.NewTestLogger(), WithManagerClock(clock))

	fired := m.Evaluate(MetricsSnapshot{"cpu_percent": 95})
	require.Len(t, fired, 1)

	id := fired[0].ID

	require.NoError(t, m.Acknowledge(id))
	assert.True(t, m.Active()[0].Acknowledged)

	require.NoError(t, m.Resolve(id))
	assert.Zero(t, m.ActiveCount())
	assert.True(t, fired[0].Resolved)
	require.NotNil(t, fired[0].ResolvedAt)

	assert.ErrorIs(t, m.Acknowledge("missing"), errAlertNotFound)
	assert.ErrorIs(t, m.Resolve(id), errAlertNotFound)

	// After an explicit resolve the rule may fire a fresh alert.
	current = current.Add(time.Hour)

	fired = m.Evaluate(MetricsSnapshot{"cpu_percent": 95})
	require.Len(t, fired, 1)
	assert.NotEqual(t, id, fired[0].ID)
}

func TestRulesFromConfigOperators(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		value    float64
		want     bool
	}{
		{"gt fires above", "gt", 6, true},
		{"gt holds at threshold", "gt", 5, false},
		{"gte fires at threshold", "gte", 5, true},
		{"lt fires below", "lt", 4, true},
		{"lte fires at threshold", "lte", 5, true},
		{"eq fires on match", "eq", 5, true},
		{"eq holds on mismatch", "eq", 5.1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := RulesFromConfig([]models.AlertRuleConfig{{
				Name:      "rule",
				Metric:    "value",
				Operator:  tt.operator,
				Threshold: 5,
				Severity:  models.AlertWarning,
			}})
			require.Len(t, rules, 1)

			assert.Equal(t, tt.want, rules[0].Predicate(MetricsSnapshot{"value": tt.value}))
		})
	}
}

func TestRulesFromConfigMissingMetricNeverFires(t *testing.T) {
	rules := RulesFromConfig([]models.AlertRuleConfig{{
		Name:      "slow_response",
		Metric:    "ai_api_response_seconds",
		Operator:  "gt",
		Threshold: 5.0,
		Severity:  models.AlertWarning,
	}})
	require.Len(t, rules, 1)

	assert.False(t, rules[0].Predicate(MetricsSnapshot{"other_metric": 100}))
}

func TestRulesFromConfigDefaultMessage(t *testing.T) {
	rules := RulesFromConfig([]models.AlertRuleConfig{{
		Name:      "slow_response",
		Metric:    "response_seconds",
		Operator:  "gt",
		Threshold: 5,
	}})
	require.Len(t, rules, 1)

	assert.Equal(t, "response_seconds gt 5", rules[0].Message)
}
