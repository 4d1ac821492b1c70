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
	"strings"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

// BotChecker probes the Telegram Bot API with a getMe call. The probe
// URL is the configured endpoint plus the bot token when an API key is
// set, or the endpoint verbatim otherwise.
type BotChecker struct {
	cfg       models.ServiceCheckConfig
	url       string
	client    *http.Client
	slowAfter time.Duration
	logger    logger.Logger
}

type botMeResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		Username string `json:"username"`
	} `json:"result"`
}

// NewBotChecker creates a checker for the configured bot API.
func NewBotChecker(cfg models.ServiceCheckConfig, log logger.Logger) *BotChecker {
	url := cfg.Endpoint
	if cfg.APIKey != "" {
		url = strings.TrimRight(cfg.Endpoint, "/") + "/bot" + cfg.APIKey + "/getMe"
	}

	return &BotChecker{
		cfg:       cfg,
		url:       url,
		client:    &http.Client{Timeout: cfg.Timeout.Std()},
		slowAfter: slowAfter(cfg.Thresholds),
		logger:    log,
	}
}

// Check performs one bounded getMe round trip.
func (c *BotChecker) Check(ctx context.Context) *models.HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout.Std())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return criticalResult(c.cfg, 0, fmt.Sprintf("create probe request: %v", err))
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

	var me botMeResponse
	if err := json.Unmarshal(body, &me); err != nil {
		result.Status = models.HealthUnhealthy
		result.ErrorMessage = fmt.Sprintf("malformed getMe response: %v", err)

		return result
	}

	switch {
	case resp.StatusCode != http.StatusOK || !me.OK:
		result.Status = models.HealthUnhealthy

		result.ErrorMessage = me.Description
		if result.ErrorMessage == "" {
			result.ErrorMessage = resp.Status
		}
	case elapsed > c.slowAfter:
		result.Status = models.HealthDegraded
		result.ErrorMessage = fmt.Sprintf("response time %s above %s threshold", elapsed, c.slowAfter)
	default:
		if me.Result.Username != "" {
			result.Details["username"] = me.Result.Username
		}
	}

	return result
}
