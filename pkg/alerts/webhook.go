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

// Package alerts evaluates alert rules and delivers notifications to
// configured webhook sinks.
package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	// signatureHeader carries the hex HMAC-SHA256 digest of the request
	// body, computed with the webhook secret.
	signatureHeader = "X-Vitals-Signature"

	defaultWebhookTimeout = 10 * time.Second

	breakerFailureLimit = 3
	breakerOpenDuration = 60 * time.Second
)

var (
	// ErrWebhookCooldown is returned when an alert is suppressed because
	// the same alert was delivered within the cooldown window.
	ErrWebhookCooldown = errors.New("webhook in cooldown period")

	errWebhookDisabled = errors.New("webhook alerter is disabled")
	errWebhookStatus   = errors.New("webhook returned error status")
)

// WebhookAlert is the notification payload posted to webhook receivers.
type WebhookAlert struct {
	Level       models.AlertSeverity `json:"level"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	ServiceName string               `json:"service_name,omitempty"`
	Timestamp   string               `json:"timestamp"`
	Details     map[string]any       `json:"details,omitempty"`
}

// AlertService sends alert notifications to an external receiver.
type AlertService interface {
	Alert(ctx context.Context, alert *WebhookAlert) error
}

// WebhookAlerter delivers alerts to a single webhook URL as signed JSON
// POST requests. Delivery runs behind a circuit breaker so a dead
// receiver does not stall callers on every alert.
type WebhookAlerter struct {
	config  models.WebhookConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// WebhookOption customizes a WebhookAlerter.
type WebhookOption func(*WebhookAlerter)

// WithWebhookClock overrides the time source, used by tests.
func WithWebhookClock(clock func() time.Time) WebhookOption {
	return func(w *WebhookAlerter) {
		w.now = clock
	}
}

// NewWebhookAlerter creates an alerter for one webhook configuration.
func NewWebhookAlerter(config models.WebhookConfig, log logger.Logger, opts ...WebhookOption) *WebhookAlerter {
	timeout := config.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	w := &WebhookAlerter{
		config:   config,
		client:   &http.Client{Timeout: timeout},
		logger:   log,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}

	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "webhook:" + config.URL,
		Timeout: breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureLimit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn().
				Str("webhook", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Webhook circuit breaker state changed")
		},
	})

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Alert delivers a notification, applying the cooldown window and the
// circuit breaker. A suppressed alert returns ErrWebhookCooldown.
func (w *WebhookAlerter) Alert(ctx context.Context, alert *WebhookAlert) error {
	if !w.config.Enabled {
		return errWebhookDisabled
	}

	if err := w.checkCooldown(alert); err != nil {
		return err
	}

	if alert.Timestamp == "" {
		alert.Timestamp = w.now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	_, err = w.breaker.Execute(func() (any, error) {
		return nil, w.post(ctx, payload)
	})
	if err != nil {
		return fmt.Errorf("deliver alert %q: %w", alert.Title, err)
	}

	w.logger.Debug().
		Str("title", alert.Title).
		Str("level", string(alert.Level)).
		Msg("Delivered webhook alert")

	return nil
}

// checkCooldown suppresses repeats of an alert inside the configured
// window. The window is keyed per service and title so distinct alerts
// never suppress each other. Cooldown is attempt-based to avoid
// hammering a failing receiver.
func (w *WebhookAlerter) checkCooldown(alert *WebhookAlert) error {
	cooldown := w.config.Cooldown.Std()
	if cooldown <= 0 {
		return nil
	}

	key := alert.ServiceName + ":" + alert.Title
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if last, ok := w.lastSent[key]; ok && now.Sub(last) < cooldown {
		return fmt.Errorf("%w: %s", ErrWebhookCooldown, alert.Title)
	}

	w.lastSent[key] = now

	return nil
}

func (w *WebhookAlerter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for _, header := range w.config.Headers {
		req.Header.Set(header.Key, header.Value)
	}

	if w.config.Secret != "" {
		req.Header.Set(signatureHeader, signPayload(w.config.Secret, payload))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		message := readErrorBody(resp.Body)
		if message == "" {
			message = resp.Status
		}

		return fmt.Errorf("%w: %s", errWebhookStatus, message)
	}

	return nil
}

// signPayload computes the hex HMAC-SHA256 digest receivers use to
// verify the request body.
func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}

func readErrorBody(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}
