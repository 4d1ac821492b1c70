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

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

func botCheckConfig(endpoint, token string) models.ServiceCheckConfig {
	return models.ServiceCheckConfig{
		Name:     "bot_api",
		Type:     models.ServiceTypeBotAPI,
		Endpoint: endpoint,
		APIKey:   token,
		Timeout:  models.Duration(5 * time.Second),
	}
}

func TestBotCheckerComposesGetMeURL(t *testing.T) {
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"username":"mindhaven_bot"}}`))
	}))
	defer server.Close()

	checker := NewBotChecker(botCheckConfig(server.URL, "123:abc"), logger.NewTestLogger())

	result := checker.Check(context.Background())
	assert.Equal(t, "/bot123:abc/getMe", gotPath)
	assert.Equal(t, models.HealthHealthy, result.Status)
	assert.Equal(t, "mindhaven_bot", result.Details["username"])
}

func TestBotCheckerNotOKIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer server.Close()

	checker := NewBotChecker(botCheckConfig(server.URL, "bad-token"), logger.NewTestLogger())

	result := checker.Check(context.Background())
	assert.Equal(t, models.HealthUnhealthy, result.Status)
	assert.Equal(t, "Unauthorized", result.ErrorMessage)
}

func TestBotCheckerMalformedBodyIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	checker := NewBotChecker(botCheckConfig(server.URL, "123:abc"), logger.NewTestLogger())

	result := checker.Check(context.Background())
	assert.Equal(t, models.HealthUnhealthy, result.Status)
	assert.Contains(t, result.ErrorMessage, "malformed")
}

func TestBotCheckerUsesEndpointVerbatimWithoutToken(t *testing.T) {
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	checker := NewBotChecker(botCheckConfig(server.URL+"/custom/getMe", ""), logger.NewTestLogger())

	result := checker.Check(context.Background())
	assert.Equal(t, "/custom/getMe", gotPath)
	assert.Equal(t, models.HealthHealthy, result.Status)
}
