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

package logs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const defaultQueryLimit = 100

const storageSchema = `
CREATE TABLE IF NOT EXISTS log_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	level TEXT NOT NULL,
	logger TEXT,
	message TEXT NOT NULL,
	service TEXT,
	user_id TEXT,
	trace_id TEXT,
	span_id TEXT,
	error_code TEXT,
	event_type TEXT,
	context TEXT,
	metrics TEXT,
	raw_line TEXT
);
CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_log_entries_level ON log_entries(level, timestamp);
CREATE INDEX IF NOT EXISTS idx_log_entries_trace ON log_entries(trace_id);

CREATE TABLE IF NOT EXISTS log_aggregations (
	period TEXT NOT NULL,
	bucket_time INTEGER NOT NULL,
	total_entries INTEGER NOT NULL,
	level_counts TEXT,
	service_counts TEXT,
	logger_counts TEXT,
	error_code_counts TEXT,
	unique_users INTEGER NOT NULL,
	unique_traces INTEGER NOT NULL,
	avg_response_time REAL NOT NULL,
	PRIMARY KEY (period, bucket_time)
);
`

// Storage is the embedded SQLite store for log entries and their
// aggregations. Access is serialized through a single connection;
// SQLite has one writer anyway and a second connection only adds
// SQLITE_BUSY churn.
type Storage struct {
	db     *sql.DB
	logger logger.Logger
}

// NewStorage opens (creating if needed) the database at path and ensures
// the schema. The parent directory is created when missing.
func NewStorage(path string, log logger.Logger) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log storage directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open log storage: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(storageSchema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("apply log storage schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Log storage opened")

	return &Storage{db: db, logger: log}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert persists one parsed entry.
func (s *Storage) Insert(ctx context.Context, entry *models.LogEntry) error {
	contextJSON, err := marshalMap(entry.Context)
	if err != nil {
		return fmt.Errorf("marshal entry context: %w", err)
	}

	metricsJSON, err := marshalMap(entry.Metrics)
	if err != nil {
		return fmt.Errorf("marshal entry metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO log_entries
		(timestamp, level, logger, message, service, user_id, trace_id,
		 span_id, error_code, event_type, context, metrics, raw_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UnixNano(),
		entry.Level,
		entry.Logger,
		entry.Message,
		entry.Service,
		entry.UserID,
		entry.TraceID,
		entry.SpanID,
		entry.ErrorCode,
		entry.EventType,
		contextJSON,
		metricsJSON,
		entry.RawLine,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	return nil
}

// Query returns entries matching the filter, newest first.
func (s *Storage) Query(ctx context.Context, filter models.LogFilter) ([]*models.LogEntry, error) {
	var conditions []string

	var args []interface{}

	if !filter.Start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Start.UnixNano())
	}

	if !filter.End.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.End.UnixNano())
	}

	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, strings.ToLower(filter.Level))
	}

	if filter.Service != "" {
		conditions = append(conditions, "service = ?")
		args = append(args, filter.Service)
	}

	if filter.TraceID != "" {
		conditions = append(conditions, "trace_id = ?")
		args = append(args, filter.TraceID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := `SELECT timestamp, level, logger, message, service, user_id,
		trace_id, span_id, error_code, event_type, context, metrics, raw_line
		FROM log_entries`

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	return s.scanEntries(ctx, query, args...)
}

// EntriesInRange returns every entry in [start, end) in ascending
// timestamp order, used by aggregation and analysis.
func (s *Storage) EntriesInRange(ctx context.Context, start, end time.Time) ([]*models.LogEntry, error) {
	query := `SELECT timestamp, level, logger, message, service, user_id,
		trace_id, span_id, error_code, event_type, context, metrics, raw_line
		FROM log_entries
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`

	return s.scanEntries(ctx, query, start.UnixNano(), end.UnixNano())
}

func (s *Storage) scanEntries(ctx context.Context, query string, args ...interface{}) ([]*models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query log entries: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var entries []*models.LogEntry

	for rows.Next() {
		var (
			entry       models.LogEntry
			timestamp   int64
			contextJSON sql.NullString
			metricsJSON sql.NullString
		)

		if err := rows.Scan(
			&timestamp,
			&entry.Level,
			&entry.Logger,
			&entry.Message,
			&entry.Service,
			&entry.UserID,
			&entry.TraceID,
			&entry.SpanID,
			&entry.ErrorCode,
			&entry.EventType,
			&contextJSON,
			&metricsJSON,
			&entry.RawLine,
		); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}

		entry.Timestamp = time.Unix(0, timestamp).UTC()

		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &entry.Context); err != nil {
				return nil, fmt.Errorf("unmarshal entry context: %w", err)
			}
		}

		if metricsJSON.Valid && metricsJSON.String != "" {
			if err := json.Unmarshal([]byte(metricsJSON.String), &entry.Metrics); err != nil {
				return nil, fmt.Errorf("unmarshal entry metrics: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}

	return entries, nil
}

// CleanupBefore deletes entries older than the cutoff and reports how
// many were removed.
func (s *Storage) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM log_entries WHERE timestamp < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cleanup log entries: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count removed log entries: %w", err)
	}

	return removed, nil
}

// EntryCount returns the total number of stored entries.
func (s *Storage) EntryCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("count log entries: %w", err)
	}

	return count, nil
}

// SaveAggregation upserts one bucket keyed by (period, bucket_time),
// making repeated aggregation of the same window idempotent.
func (s *Storage) SaveAggregation(ctx context.Context, agg *models.LogAggregation) error {
	levelJSON, err := marshalCounts(agg.LevelCounts)
	if err != nil {
		return fmt.Errorf("marshal level counts: %w", err)
	}

	serviceJSON, err := marshalCounts(agg.ServiceCounts)
	if err != nil {
		return fmt.Errorf("marshal service counts: %w", err)
	}

	loggerJSON, err := marshalCounts(agg.LoggerCounts)
	if err != nil {
		return fmt.Errorf("marshal logger counts: %w", err)
	}

	errorCodeJSON, err := marshalCounts(agg.ErrorCodeCounts)
	if err != nil {
		return fmt.Errorf("marshal error code counts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO log_aggregations
		(period, bucket_time, total_entries, level_counts, service_counts,
		 logger_counts, error_code_counts, unique_users, unique_traces, avg_response_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(period, bucket_time) DO UPDATE SET
			total_entries = excluded.total_entries,
			level_counts = excluded.level_counts,
			service_counts = excluded.service_counts,
			logger_counts = excluded.logger_counts,
			error_code_counts = excluded.error_code_counts,
			unique_users = excluded.unique_users,
			unique_traces = excluded.unique_traces,
			avg_response_time = excluded.avg_response_time`,
		string(agg.Period),
		agg.BucketTime.UnixNano(),
		agg.TotalEntries,
		levelJSON,
		serviceJSON,
		loggerJSON,
		errorCodeJSON,
		agg.UniqueUsers,
		agg.UniqueTraces,
		agg.AvgResponseTime,
	)
	if err != nil {
		return fmt.Errorf("save aggregation: %w", err)
	}

	return nil
}

// Aggregations returns stored buckets for a period within [start, end),
// oldest first.
func (s *Storage) Aggregations(ctx context.Context, period models.AggregationPeriod, start, end time.Time) ([]*models.LogAggregation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket_time, total_entries,
		level_counts, service_counts, logger_counts, error_code_counts,
		unique_users, unique_traces, avg_response_time
		FROM log_aggregations
		WHERE period = ? AND bucket_time >= ? AND bucket_time < ?
		ORDER BY bucket_time ASC`,
		string(period), start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query aggregations: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var aggs []*models.LogAggregation

	for rows.Next() {
		agg := &models.LogAggregation{Period: period}

		var (
			bucketTime    int64
			levelJSON     sql.NullString
			serviceJSON   sql.NullString
			loggerJSON    sql.NullString
			errorCodeJSON sql.NullString
		)

		if err := rows.Scan(
			&bucketTime,
			&agg.TotalEntries,
			&levelJSON,
			&serviceJSON,
			&loggerJSON,
			&errorCodeJSON,
			&agg.UniqueUsers,
			&agg.UniqueTraces,
			&agg.AvgResponseTime,
		); err != nil {
			return nil, fmt.Errorf("scan aggregation: %w", err)
		}

		agg.BucketTime = time.Unix(0, bucketTime).UTC()

		if agg.LevelCounts, err = unmarshalCounts(levelJSON); err != nil {
			return nil, err
		}

		if agg.ServiceCounts, err = unmarshalCounts(serviceJSON); err != nil {
			return nil, err
		}

		if agg.LoggerCounts, err = unmarshalCounts(loggerJSON); err != nil {
			return nil, err
		}

		if agg.ErrorCodeCounts, err = unmarshalCounts(errorCodeJSON); err != nil {
			return nil, err
		}

		aggs = append(aggs, agg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregations: %w", err)
	}

	return aggs, nil
}

func marshalMap[V any](m map[string]V) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	return string(data), nil
}

func marshalCounts(counts map[string]int64) (interface{}, error) {
	return marshalMap(counts)
}

func unmarshalCounts(value sql.NullString) (map[string]int64, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}

	var counts map[string]int64
	if err := json.Unmarshal([]byte(value.String), &counts); err != nil {
		return nil, fmt.Errorf("unmarshal counts: %w", err)
	}

	return counts, nil
}
