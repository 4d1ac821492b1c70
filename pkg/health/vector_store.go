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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

// VectorChecker probes the vector store's readiness endpoint. When the
// endpoint answers with a Qdrant-style collection listing, the
// collection count is recorded as a detail.
type VectorChecker struct {
	cfg       models.ServiceCheckConfig
	client    *http.Client
	slowAfter time.Duration
	logger    logger.Logger
}

type vectorCollectionsResponse struct {
	Result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	} `json:"result"`
}

// NewVectorChecker creates a checker for the configured vector store.
func NewVectorChecker(cfg models.ServiceCheckConfig, log logger.Logger) *VectorChecker {
	return &VectorChecker{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout.Std()},
		slowAfter: slowAfter(cfg.Thresholds),
		logger:    log,
	}
}

// Check performs one bounded GET against the readiness endpoint.
func (c *VectorChecker) Check(ctx context.Context) *models.HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout.Std())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return criticalResult(c.cfg, 0, fmt.Sprintf("create probe request: %v", err))
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	start := time.Now()

	resp, err := c.client.Do(req)

	elapsed := time.Since(start)

	if err != nil {
		return criticalResult(c.cfg, elapsed, fmt.Sprintf("probe failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, probeBodyLimit))

	result := newResult(c.cfg, models.HealthHealthy, elapsed)
	result.Details["status_code"] = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		result.Status = models.HealthUnhealthy
		result.ErrorMessage = resp.Status

		return result
	}

	var collections vectorCollectionsResponse
	if err := json.Unmarshal(body, &collections); err == nil && len(collections.Result.Collections) > 0 {
		result.Details["collections"] = len(collections.Result.Collections)
		result.Metrics["collections"] = float64(len(collections.Result.Collections))
	}

	if elapsed > c.slowAfter {
		result.Status = models.HealthDegraded
		result.ErrorMessage = fmt.Sprintf("response time %s above %s threshold", elapsed, c.slowAfter)
	}

	return result
}
