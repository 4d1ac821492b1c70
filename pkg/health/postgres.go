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

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	// pgProbeMaxConns caps the probe pool; health checks share the
	// dependency read-only and must never starve business connections.
	pgProbeMaxConns = 2

	// pgActiveConnWarn floors the status at degraded when the server
	// reports this many active backends.
	pgActiveConnWarn = 50
)

// pgActivityQuery doubles as the liveness probe and the load signal.
const pgActivityQuery = `
SELECT count(*) FILTER (WHERE state = 'active'),
       count(*) FILTER (WHERE state = 'active' AND now() - query_start > interval '30 seconds')
FROM pg_stat_activity`

// PostgresChecker probes the relational store through a dedicated pgx
// pool.
type PostgresChecker struct {
	cfg        models.ServiceCheckConfig
	pool       *pgxpool.Pool
	thresholds thresholds
	logger     logger.Logger
}

// NewPostgresChecker dials the store named by the check's endpoint
// connection string.
func NewPostgresChecker(ctx context.Context, cfg models.ServiceCheckConfig, log logger.Logger) (*PostgresChecker, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("postgres checker: failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = pgProbeMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres checker: failed to initialize pool: %w", err)
	}

	log.Info().
		Str("service", cfg.Name).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Postgres health checker connected")

	return &PostgresChecker{
		cfg:        cfg,
		pool:       pool,
		thresholds: resolveThresholds(cfg.Thresholds),
		logger:     log,
	}, nil
}

// Check runs one bounded round trip against pg_stat_activity and
// classifies the result by latency with an active-connection floor.
func (c *PostgresChecker) Check(ctx context.Context) *models.HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout.Std())
	defer cancel()

	start := time.Now()

	var active, longRunning int64

	err := c.pool.QueryRow(ctx, pgActivityQuery).Scan(&active, &longRunning)

	elapsed := time.Since(start)

	if err != nil {
		return criticalResult(c.cfg, elapsed, fmt.Sprintf("probe failed: %v", err))
	}

	status := c.thresholds.classify(elapsed)
	if status == models.HealthHealthy && active >= pgActiveConnWarn {
		status = models.HealthDegraded
	}

	result := newResult(c.cfg, status, elapsed)
	result.Details["active_connections"] = active
	result.Details["long_running_queries"] = longRunning
	result.Metrics["active_connections"] = float64(active)
	result.Metrics["long_running_queries"] = float64(longRunning)

	if status == models.HealthDegraded && active >= pgActiveConnWarn {
		result.ErrorMessage = fmt.Sprintf("%d active connections", active)
	}

	return result
}

// Close releases the probe pool.
func (c *PostgresChecker) Close() error {
	c.pool.Close()
	return nil
}
