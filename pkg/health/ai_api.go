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
	"io"
	"net/http"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const probeBodyLimit = 64 * 1024

// AIChecker probes the AI completion API through its model listing
// endpoint. A reachable but slow API degrades instead of failing; only
// transport errors are critical.
type AIChecker struct {
	cfg       models.ServiceCheckConfig
	client    *http.Client
	slowAfter time.Duration
	logger    logger.Logger
}

// NewAIChecker creates a checker for the configured AI API endpoint.
func NewAIChecker(cfg models.ServiceCheckConfig, log logger.Logger) *AIChecker {
	return &AIChecker{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout.Std()},
		slowAfter: slowAfter(cfg.Thresholds),
		logger:    log,
	}
}

// Check performs one bounded GET with the configured bearer key.
func (c *AIChecker) Check(ctx context.Context) *models.HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout.Std())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return criticalResult(c.cfg, 0, fmt.Sprintf("create probe request: %v", err))
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()

	resp, err := c.client.Do(req)

	elapsed := time.Since(start)

	if err != nil {
		return criticalResult(c.cfg, elapsed, fmt.Sprintf("probe failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, probeBodyLimit))

	result := newResult(c.cfg, models.HealthHealthy, elapsed)
	result.Details["status_code"] = resp.StatusCode

	switch {
	case resp.StatusCode >= http.StatusBadRequest:
		result.Status = models.HealthUnhealthy
		result.ErrorMessage = resp.Status
	case elapsed > c.slowAfter:
		result.Status = models.HealthDegraded
		result.ErrorMessage = fmt.Sprintf("response time %s above %s threshold", elapsed, c.slowAfter)
	}

	return result
}
