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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

func TestReporterWritesTimestampedReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")

	r, err := NewReporter(dir, logger.NewTestLogger())
	require.NoError(t, err)

	report := &models.HealthReport{
		GeneratedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		OverallStatus: models.HealthHealthy,
		Services: map[string]*models.HealthCheckResult{
			"postgres": probeResult("postgres", models.HealthHealthy, 10*time.Millisecond),
		},
		ActiveAlerts: 1,
	}

	require.NoError(t, r.Write(report))

	data, err := os.ReadFile(filepath.Join(dir, "health_report_20250601T120000Z.json"))
	require.NoError(t, err)

	var decoded models.HealthReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, models.HealthHealthy, decoded.OverallStatus)
	assert.Equal(t, 1, decoded.ActiveAlerts)
	assert.Contains(t, decoded.Services, "postgres")
}

func TestNewReporterRejectsUnwritableDir(t *testing.T) {
	base := t.TempDir()

	// A regular file where the directory should go.
	blocker := filepath.Join(base, "reports")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := NewReporter(filepath.Join(blocker, "nested"), logger.NewTestLogger())
	assert.Error(t, err)
}
