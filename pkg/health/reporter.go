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
	"fmt"
	"os"
	"path/filepath"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const reportTimeFormat = "20060102T150405Z"

// Reporter persists health reports as timestamped JSON files.
type Reporter struct {
	dir    string
	logger logger.Logger
}

// NewReporter creates the report directory if needed.
func NewReporter(dir string, log logger.Logger) (*Reporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}

	return &Reporter{dir: dir, logger: log}, nil
}

// Write persists one report. The filename is derived from the report's
// generation time.
func (r *Reporter) Write(report *models.HealthReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health report: %w", err)
	}

	name := fmt.Sprintf("health_report_%s.json", report.GeneratedAt.UTC().Format(reportTimeFormat))
	path := filepath.Join(r.dir, name)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write health report: %w", err)
	}

	r.logger.Debug().Str("path", path).Msg("Persisted health report")

	return nil
}
