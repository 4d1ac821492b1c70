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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

func aiCheckConfig(endpoint string) models.ServiceCheckConfig {
	cfg := models.ServiceCheckConfig{
		Name:     "ai_api",
		Type:     models.ServiceTypeAIAPI,
		Endpoint: endpoint,
		APIKey:   "sk-test",
		Timeout:  models.Duration(5 * time.Second),
	}

	return cfg
}

func TestAICheckerHealthy(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewAIChecker(aiCheckConfig(server.URL), logger.NewTestLogger())

	result := checker.Check(context.Background())
	require.NotNil(t, result)
	assert.Equal(t, models.HealthHealthy, result.Status)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, http.StatusOK, result.Details["status_code"])
	assert.Greater(t, result.ResponseTime, time.Duration(0))
}

func TestAICheckerErrorStatusIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checker := NewAIChecker(aiCheckConfig(server.URL), logger.NewTestLogger())

	result := checker.Check(context.Background())
	assert.Equal(t, models.HealthUnhealthy, result.Status)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestAICheckerSlowResponseIsDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := aiCheckConfig(server.URL)
	cfg.Thresholds = &models.ThresholdConfig{Degraded: models.Duration(time.Nanosecond)}

	checker := NewAIChecker(cfg, logger.NewTestLogger())

	result := checker.Check(context.Background())
	assert.Equal(t, models.HealthDegraded, result.Status)
	assert.Contains(t, result.ErrorMessage, "above")
}

func TestAICheckerUnreachableIsCritical(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	server.Close()

	checker := NewAIChecker(aiCheckConfig(server.URL), logger.NewTestLogger())

	result := checker.Check(context.Background())
	assert.Equal(t, models.HealthCritical, result.Status)
	assert.NotEmpty(t, result.ErrorMessage)
}
