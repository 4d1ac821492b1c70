package alerts

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

var errAlertNotFound = errors.New("alert not found")

// MetricsSnapshot is the flat metric view rules evaluate against.
type MetricsSnapshot map[string]float64

// Rule fires an alert when its predicate matches a metrics snapshot.
type Rule struct {
	Name      string
	Severity  models.AlertSeverity
	Message   string
	Predicate func(MetricsSnapshot) bool
}

// Manager owns the active alert set. At most one active alert exists per
// rule name; re-triggers update the existing alert instead of duplicating
// it. Alerts leave the active set only through an explicit Resolve.
type Manager struct {
	mu     sync.Mutex
	rules  []Rule
	active map[string]*models.Alert
	logger logger.Logger
	now    func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides the time source, used by tests.
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = clock
	}
}

// NewManager creates an alert manager over a fixed rule set.
func NewManager(rules []Rule, log logger.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		rules:  rules,
		active: make(map[string]*models.Alert),
		logger: log,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Evaluate runs every rule against the snapshot and returns the alerts
// that fired for the first time. A rule that already has an active alert
// only bumps its trigger count. A panicking predicate is logged and
// skipped without blocking the remaining rules.
func (m *Manager) Evaluate(snapshot MetricsSnapshot) []*models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fired []*models.Alert

	for i := range m.rules {
		rule := m.rules[i]

		if !m.eval(rule, snapshot) {
			continue
		}

		now := m.now()

		if existing, ok := m.active[rule.Name]; ok {
			existing.LastTriggered = now
			existing.TriggerCount++

			continue
		}

		alert := &models.Alert{
			ID:            fmt.Sprintf("%s-%d", rule.Name, now.Unix()),
			RuleName:      rule.Name,
			Severity:      rule.Severity,
			Message:       rule.Message,
			CreatedAt:     now,
			LastTriggered: now,
			TriggerCount:  1,
		}

		m.active[rule.Name] = alert
		fired = append(fired, alert)

		m.logger.Warn().
			Str("rule", rule.Name).
			Str("severity", string(rule.Severity)).
			Str("alert_id", alert.ID).
			Msg("Alert triggered")
	}

	return fired
}

func (m *Manager) eval(rule Rule, snapshot MetricsSnapshot) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("rule", rule.Name).
				Interface("panic", r).
				Msg("Alert rule predicate panicked")

			fired = false
		}
	}()

	if rule.Predicate == nil {
		return false
	}

	return rule.Predicate(snapshot)
}

// Active returns the active alerts ordered by creation time.
func (m *Manager) Active() []*models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Alert, 0, len(m.active))
	for _, alert := range m.active {
		out = append(out, alert)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

// ActiveCount returns the number of active alerts.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.active)
}

// Acknowledge marks an active alert as seen. It stays active until
// resolved.
func (m *Manager) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, alert := range m.active {
		if alert.ID == id {
			alert.Acknowledged = true
			return nil
		}
	}

	return fmt.Errorf("%w: %s", errAlertNotFound, id)
}

// Resolve closes an active alert. The rule may fire a fresh alert on a
// later evaluation.
func (m *Manager) Resolve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, alert := range m.active {
		if alert.ID == id {
			now := m.now()
			alert.Resolved = true
			alert.ResolvedAt = &now
			delete(m.active, name)

			m.logger.Info().
				Str("rule", name).
				Str("alert_id", id).
				Msg("Alert resolved")

			return nil
		}
	}

	return fmt.Errorf("%w: %s", errAlertNotFound, id)
}

// RulesFromConfig compiles configured threshold rules into predicates.
// A metric absent from the snapshot never fires its rule.
func RulesFromConfig(configs []models.AlertRuleConfig) []Rule {
	rules := make([]Rule, 0, len(configs))

	for _, rc := range configs {
		rc := rc

		message := rc.Message
		if message == "" {
			message = fmt.Sprintf("%s %s %g", rc.Metric, rc.Operator, rc.Threshold)
		}

		rules = append(rules, Rule{
			Name:     rc.Name,
			Severity: rc.Severity,
			Message:  message,
			Predicate: func(snapshot MetricsSnapshot) bool {
				value, ok := snapshot[rc.Metric]
				if !ok {
					return false
				}

				return compare(value, rc.Operator, rc.Threshold)
			},
		})
	}

	return rules
}

func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	default:
		return false
	}
}
