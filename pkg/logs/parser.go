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

// Package logs ingests application log files into the embedded store and
// derives aggregate statistics and anomalies from them.
package logs

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

// plainLinePattern matches classic formatter output such as
// "2025-06-01 12:00:00,123 [INFO] bot.handlers: message text".
var plainLinePattern = regexp.MustCompile(`^(\S+(?:[ T]\S+)?)\s+\[(\w+)\]\s+([\w.\-]+):\s+(.*)$`)

var lineTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05,000",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// metricKeySuffixes marks structured fields that belong in the entry's
// metrics map rather than its context map.
var metricKeySuffixes = []string{"_time", "_count", "_seconds", "_ms", "_rate"}

// Pattern is one entry of the fixed detection table. Matching is
// case-insensitive over the message, falling back to the raw line.
type Pattern struct {
	Name     string
	Severity models.AlertSeverity
	re       *regexp.Regexp
}

var detectionPatterns = []Pattern{
	{Name: "database_connection_failure", Severity: models.AlertCritical,
		re: regexp.MustCompile(`(?i)connection refused|could not connect|connection reset|pool exhausted|database is locked`)},
	{Name: "memory_exhaustion", Severity: models.AlertCritical,
		re: regexp.MustCompile(`(?i)out of memory|oom.killed|memory limit exceeded|cannot allocate memory`)},
	{Name: "timeout", Severity: models.AlertWarning,
		re: regexp.MustCompile(`(?i)timed out|timeout|deadline exceeded`)},
	{Name: "rate_limited", Severity: models.AlertWarning,
		re: regexp.MustCompile(`(?i)rate limit|too many requests|quota exceeded`)},
	{Name: "auth_failure", Severity: models.AlertWarning,
		re: regexp.MustCompile(`(?i)unauthorized|authentication failed|invalid token|permission denied`)},
	{Name: "security_event", Severity: models.AlertCritical,
		re: regexp.MustCompile(`(?i)sql injection|suspicious activity|intrusion|brute.force`)},
}

// Parser turns raw log lines into LogEntry values. Parsing never fails:
// a line that matches no known shape degrades to a raw info entry.
type Parser struct {
	service string
	logger  logger.Logger
	now     func() time.Time
}

// NewParser creates a parser that stamps entries lacking a service field
// with the given default.
func NewParser(service string, log logger.Logger) *Parser {
	return &Parser{
		service: service,
		logger:  log,
		now:     time.Now,
	}
}

// Parse converts one line. JSON lines are decoded structurally, classic
// formatter lines by pattern, and anything else wraps the input verbatim
// at info level. Returns nil only for blank input.
func (p *Parser) Parse(line string) *models.LogEntry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "{") {
		if entry := p.parseStructured(trimmed, line); entry != nil {
			return entry
		}
	}

	if entry := p.parsePlain(trimmed, line); entry != nil {
		return entry
	}

	return &models.LogEntry{
		Timestamp: p.now(),
		Level:     "info",
		Message:   trimmed,
		Service:   p.service,
		RawLine:   line,
	}
}

func (p *Parser) parseStructured(trimmed, raw string) *models.LogEntry {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil
	}

	entry := &models.LogEntry{
		Timestamp: p.now(),
		Level:     "info",
		Service:   p.service,
		RawLine:   raw,
	}

	for key, value := range fields {
		switch key {
		case "timestamp", "time", "ts":
			if ts, ok := parseTimeValue(value); ok {
				entry.Timestamp = ts
				continue
			}
		case "level", "severity":
			if s, ok := value.(string); ok {
				entry.Level = strings.ToLower(s)
				continue
			}
		case "logger", "name":
			if s, ok := value.(string); ok {
				entry.Logger = s
				continue
			}
		case "message", "msg":
			if s, ok := value.(string); ok {
				entry.Message = s
				continue
			}
		case "service":
			if s, ok := value.(string); ok {
				entry.Service = s
				continue
			}
		case "user_id":
			if s, ok := value.(string); ok {
				entry.UserID = s
				continue
			}
		case "trace_id":
			if s, ok := value.(string); ok {
				entry.TraceID = s
				continue
			}
		case "span_id":
			if s, ok := value.(string); ok {
				entry.SpanID = s
				continue
			}
		case "error_code":
			if s, ok := value.(string); ok {
				entry.ErrorCode = s
				continue
			}
		case "event_type":
			if s, ok := value.(string); ok {
				entry.EventType = s
				continue
			}
		}

		if num, ok := value.(float64); ok && isMetricKey(key) {
			if entry.Metrics == nil {
				entry.Metrics = make(map[string]float64)
			}

			entry.Metrics[key] = num

			continue
		}

		if entry.Context == nil {
			entry.Context = make(map[string]interface{})
		}

		entry.Context[key] = value
	}

	return entry
}

func (p *Parser) parsePlain(trimmed, raw string) *models.LogEntry {
	match := plainLinePattern.FindStringSubmatch(trimmed)
	if match == nil {
		return nil
	}

	entry := &models.LogEntry{
		Timestamp: p.now(),
		Level:     strings.ToLower(match[2]),
		Logger:    match[3],
		Message:   match[4],
		Service:   p.service,
		RawLine:   raw,
	}

	if ts, ok := parseTimeString(match[1]); ok {
		entry.Timestamp = ts
	}

	return entry
}

func parseTimeValue(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		return parseTimeString(v)
	case float64:
		// Unix seconds, possibly fractional.
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))

		return time.Unix(sec, nsec).UTC(), true
	}

	return time.Time{}, false
}

func parseTimeString(value string) (time.Time, bool) {
	for _, format := range lineTimeFormats {
		if ts, err := time.Parse(format, value); err == nil {
			return ts, true
		}
	}

	return time.Time{}, false
}

func isMetricKey(key string) bool {
	for _, suffix := range metricKeySuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}

	return false
}

// DetectPatterns matches the entry against the fixed pattern table and
// returns every match, not just the first.
func (p *Parser) DetectPatterns(entry *models.LogEntry) []Pattern {
	if entry == nil {
		return nil
	}

	subject := entry.Message
	if subject == "" {
		subject = entry.RawLine
	}

	var matches []Pattern

	for _, pattern := range detectionPatterns {
		if pattern.re.MatchString(subject) {
			matches = append(matches, pattern)
		}
	}

	return matches
}
