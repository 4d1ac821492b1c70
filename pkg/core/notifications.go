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

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mindhaven/vitals/pkg/alerts"
	"github.com/mindhaven/vitals/pkg/models"
	"github.com/mindhaven/vitals/pkg/version"
)

const unknownHostname = "unknown"

func (s *Server) sendAlert(ctx context.Context, alert *alerts.WebhookAlert) error {
	var errs []error

	s.logger.Info().
		Str("alert_message", alert.Message).
		Msg("Sending alert")

	for _, webhook := range s.webhooks {
		if err := webhook.Alert(ctx, alert); err != nil {
			if errors.Is(err, alerts.ErrWebhookCooldown) {
				s.logger.Debug().
					Str("alert_title", alert.Title).
					Msg("Webhook in cooldown, skipping")

				continue
			}

			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", errFailedToSendAlerts, errs)
	}

	return nil
}

func (s *Server) sendStartupNotification(ctx context.Context) error {
	if len(s.webhooks) == 0 {
		return nil
	}

	alert := &alerts.WebhookAlert{
		Level:       models.AlertInfo,
		Title:       "Monitoring Core Started",
		Message:     fmt.Sprintf("%s monitoring core initialized at %s", s.config.ServiceName, s.now().Format(time.RFC3339)),
		ServiceName: s.config.ServiceName,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		Details: map[string]any{
			"version":  version.GetVersion(),
			"hostname": getHostname(),
		},
	}

	return s.sendAlert(ctx, alert)
}

func (s *Server) sendShutdownNotification(ctx context.Context) error {
	if len(s.webhooks) == 0 {
		return nil
	}

	alert := &alerts.WebhookAlert{
		Level: models.AlertWarning,
		Title: "Monitoring Core Stopping",
		Message: fmt.Sprintf("%s monitoring core shutting down at %s",
			s.config.ServiceName, s.now().Format(time.RFC3339)),
		ServiceName: s.config.ServiceName,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		Details: map[string]any{
			"hostname": getHostname(),
		},
	}

	return s.sendAlert(ctx, alert)
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return unknownHostname
	}

	return hostname
}
