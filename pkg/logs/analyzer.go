package logs

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	errorRateWarning  = 0.10
	errorRateCritical = 0.25
	memoryAnomalyMin  = 3
	topErrorClusters  = 10
)

var digitRun = regexp.MustCompile(`\d+`)

// ErrorCluster groups error messages that differ only in embedded
// numbers (ids, ports, byte counts).
type ErrorCluster struct {
	Pattern string `json:"pattern"`
	Count   int64  `json:"count"`
	Sample  string `json:"sample"`
}

// UserActivity summarizes per-user volume in the analyzed window.
type UserActivity struct {
	UniqueUsers   int64   `json:"unique_users"`
	EventsPerUser float64 `json:"events_per_user"`
}

// TraceStats summarizes the traces observed in the analyzed window.
// Duration is measured first entry to last entry per trace.
type TraceStats struct {
	TraceCount       int64         `json:"trace_count"`
	AvgSpansPerTrace float64       `json:"avg_spans_per_trace"`
	AvgDuration      time.Duration `json:"avg_duration"`
}

// Anomaly is a single detector finding over the analyzed window.
type Anomaly struct {
	Detector string               `json:"detector"`
	Severity models.AlertSeverity `json:"severity"`
	Message  string               `json:"message"`
	Value    float64              `json:"value"`
}

// AnalysisReport is the output of one Analyze pass.
type AnalysisReport struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	TotalEntries  int64            `json:"total_entries"`
	LevelCounts   map[string]int64 `json:"level_counts"`
	ErrorRate     float64          `json:"error_rate"`
	ServiceCounts map[string]int64 `json:"service_counts"`
	TopErrors     []ErrorCluster   `json:"top_errors,omitempty"`
	UserActivity  UserActivity     `json:"user_activity"`
	TraceStats    TraceStats       `json:"trace_stats"`
	HourHistogram [24]int64        `json:"hour_histogram"`
	DayHistogram  [7]int64         `json:"day_histogram"`
	Anomalies     []Anomaly        `json:"anomalies,omitempty"`
}

type anomalyDetector struct {
	name string
	fn   func(report *AnalysisReport, entries []*models.LogEntry) *Anomaly
}

// Analyzer derives window-level statistics and anomaly findings from
// stored log entries.
type Analyzer struct {
	storage   *Storage
	logger    logger.Logger
	detectors []anomalyDetector
}

// NewAnalyzer creates an analyzer with the built-in detector set.
func NewAnalyzer(storage *Storage, log logger.Logger) *Analyzer {
	return &Analyzer{
		storage: storage,
		logger:  log,
		detectors: []anomalyDetector{
			{name: "error_rate", fn: detectErrorRate},
			{name: "memory_pressure", fn: detectMemoryPressure},
			{name: "security_events", fn: detectSecurityEvents},
		},
	}
}

// Analyze builds a report over [start, end) and runs every anomaly
// detector against it. A detector that panics is logged and skipped
// without affecting the others.
func (a *Analyzer) Analyze(ctx context.Context, start, end time.Time) (*AnalysisReport, error) {
	entries, err := a.storage.EntriesInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries for analysis: %w", err)
	}

	report := buildReport(start, end, entries)

	for _, detector := range a.detectors {
		if anomaly := a.runDetector(detector, report, entries); anomaly != nil {
			report.Anomalies = append(report.Anomalies, *anomaly)
		}
	}

	return report, nil
}

func (a *Analyzer) runDetector(d anomalyDetector, report *AnalysisReport, entries []*models.LogEntry) (anomaly *Anomaly) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Str("detector", d.name).
				Interface("panic", r).
				Msg("Anomaly detector panicked")

			anomaly = nil
		}
	}()

	return d.fn(report, entries)
}

func buildReport(start, end time.Time, entries []*models.LogEntry) *AnalysisReport {
	report := &AnalysisReport{
		Start:         start,
		End:           end,
		TotalEntries:  int64(len(entries)),
		LevelCounts:   make(map[string]int64),
		ServiceCounts: make(map[string]int64),
	}

	type traceAgg struct {
		spans int64
		first time.Time
		last  time.Time
	}

	clusters := make(map[string]*ErrorCluster)
	users := make(map[string]struct{})
	traces := make(map[string]*traceAgg)

	var errorEntries, userEvents int64

	for _, entry := range entries {
		report.LevelCounts[entry.Level]++

		if entry.Service != "" {
			report.ServiceCounts[entry.Service]++
		}

		ts := entry.Timestamp.UTC()
		report.HourHistogram[ts.Hour()]++
		report.DayHistogram[int(ts.Weekday())]++

		if isErrorLevel(entry.Level) {
			errorEntries++

			addCluster(clusters, entry)
		}

		if entry.UserID != "" {
			users[entry.UserID] = struct{}{}
			userEvents++
		}

		if entry.TraceID != "" {
			trace, ok := traces[entry.TraceID]
			if !ok {
				trace = &traceAgg{first: entry.Timestamp, last: entry.Timestamp}
				traces[entry.TraceID] = trace
			}

			trace.spans++

			if entry.Timestamp.Before(trace.first) {
				trace.first = entry.Timestamp
			}

			if entry.Timestamp.After(trace.last) {
				trace.last = entry.Timestamp
			}
		}
	}

	if report.TotalEntries > 0 {
		report.ErrorRate = float64(errorEntries) / float64(report.TotalEntries)
	}

	report.TopErrors = topClusters(clusters)

	report.UserActivity.UniqueUsers = int64(len(users))
	if len(users) > 0 {
		report.UserActivity.EventsPerUser = float64(userEvents) / float64(len(users))
	}

	report.TraceStats.TraceCount = int64(len(traces))

	if len(traces) > 0 {
		var totalSpans int64

		var totalDuration time.Duration

		for _, trace := range traces {
			totalSpans += trace.spans
			totalDuration += trace.last.Sub(trace.first)
		}

		report.TraceStats.AvgSpansPerTrace = float64(totalSpans) / float64(len(traces))
		report.TraceStats.AvgDuration = totalDuration / time.Duration(len(traces))
	}

	return report
}

func isErrorLevel(level string) bool {
	switch level {
	case "error", "fatal", "panic", "critical":
		return true
	default:
		return false
	}
}

func addCluster(clusters map[string]*ErrorCluster, entry *models.LogEntry) {
	message := entry.Message
	if message == "" {
		message = entry.RawLine
	}

	pattern := digitRun.ReplaceAllString(message, "#")

	cluster, ok := clusters[pattern]
	if !ok {
		cluster = &ErrorCluster{Pattern: pattern, Sample: message}
		clusters[pattern] = cluster
	}

	cluster.Count++
}

func topClusters(clusters map[string]*ErrorCluster) []ErrorCluster {
	if len(clusters) == 0 {
		return nil
	}

	out := make([]ErrorCluster, 0, len(clusters))
	for _, cluster := range clusters {
		out = append(out, *cluster)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}

		return out[i].Pattern < out[j].Pattern
	})

	if len(out) > topErrorClusters {
		out = out[:topErrorClusters]
	}

	return out
}

func patternByName(name string) *Pattern {
	for i := range detectionPatterns {
		if detectionPatterns[i].Name == name {
			return &detectionPatterns[i]
		}
	}

	return nil
}

func countPatternMatches(pattern *Pattern, entries []*models.LogEntry) int64 {
	var matches int64

	for _, entry := range entries {
		subject := entry.Message
		if subject == "" {
			subject = entry.RawLine
		}

		if pattern.re.MatchString(subject) {
			matches++
		}
	}

	return matches
}

func detectErrorRate(report *AnalysisReport, _ []*models.LogEntry) *Anomaly {
	if report.ErrorRate < errorRateWarning {
		return nil
	}

	severity := models.AlertWarning
	if report.ErrorRate >= errorRateCritical {
		severity = models.AlertCritical
	}

	return &Anomaly{
		Detector: "error_rate",
		Severity: severity,
		Message:  fmt.Sprintf("error rate %.1f%% across %d entries", report.ErrorRate*100, report.TotalEntries),
		Value:    report.ErrorRate,
	}
}

func detectMemoryPressure(_ *AnalysisReport, entries []*models.LogEntry) *Anomaly {
	pattern := patternByName("memory_exhaustion")
	if pattern == nil {
		return nil
	}

	matches := countPatternMatches(pattern, entries)
	if matches < memoryAnomalyMin {
		return nil
	}

	return &Anomaly{
		Detector: "memory_pressure",
		Severity: models.AlertCritical,
		Message:  fmt.Sprintf("%d memory exhaustion messages in window", matches),
		Value:    float64(matches),
	}
}

func detectSecurityEvents(_ *AnalysisReport, entries []*models.LogEntry) *Anomaly {
	pattern := patternByName("security_event")
	if pattern == nil {
		return nil
	}

	matches := countPatternMatches(pattern, entries)
	if matches == 0 {
		return nil
	}

	return &Anomaly{
		Detector: "security_events",
		Severity: models.AlertCritical,
		Message:  fmt.Sprintf("%d security-related messages in window", matches),
		Value:    float64(matches),
	}
}
