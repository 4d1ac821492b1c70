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

package telemetry

import (
	"context"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/rs/zerolog"
)

// Core bundles the tracer, error tracker, and profiler behind the
// fire-and-forget surface the business layer emits into. One Core is
// constructed at process start and passed by reference to every
// component; there are no package-level instances.
type Core struct {
	tracer   *Tracer
	errors   *ErrorTracker
	profiler *Profiler
	logger   logger.Logger
}

// CoreOption customises the telemetry Core.
type CoreOption func(*coreSettings)

type coreSettings struct {
	tracerOpts   []TracerOption
	errorOpts    []ErrorTrackerOption
	profilerOpts []ProfilerOption
}

// WithTracerOptions forwards options to the Core's Tracer.
func WithTracerOptions(opts ...TracerOption) CoreOption {
	return func(s *coreSettings) {
		s.tracerOpts = append(s.tracerOpts, opts...)
	}
}

// WithErrorTrackerOptions forwards options to the Core's ErrorTracker.
func WithErrorTrackerOptions(opts ...ErrorTrackerOption) CoreOption {
	return func(s *coreSettings) {
		s.errorOpts = append(s.errorOpts, opts...)
	}
}

// WithProfilerOptions forwards options to the Core's Profiler.
func WithProfilerOptions(opts ...ProfilerOption) CoreOption {
	return func(s *coreSettings) {
		s.profilerOpts = append(s.profilerOpts, opts...)
	}
}

// NewCore constructs the telemetry core.
func NewCore(log logger.Logger, opts ...CoreOption) *Core {
	var settings coreSettings

	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	return &Core{
		tracer:   NewTracer(log, settings.tracerOpts...),
		errors:   NewErrorTracker(log, settings.errorOpts...),
		profiler: NewProfiler(log, settings.profilerOpts...),
		logger:   log,
	}
}

// Tracer returns the span tracer.
func (c *Core) Tracer() *Tracer { return c.tracer }

// Errors returns the error tracker.
func (c *Core) Errors() *ErrorTracker { return c.errors }

// Profiler returns the performance profiler.
func (c *Core) Profiler() *Profiler { return c.profiler }

// UserAction logs a user-initiated action with correlation fields.
func (c *Core) UserAction(ctx context.Context, userID, action string, fields map[string]interface{}) {
	event := c.logger.Info().
		Str("event_type", "user_action").
		Str("user_id", userID).
		Str("action", action)

	c.withCorrelation(ctx, event).Fields(fields).Msg("User action")
}

// Error records and logs an application error. It never blocks and never
// reports failure back to the caller.
func (c *Core) Error(ctx context.Context, code, message string, fields map[string]interface{}) {
	c.errors.Track(code, message, fields)

	event := c.logger.Error().
		Str("error_code", code)

	c.withCorrelation(ctx, event).Fields(fields).Msg(message)
}

// Performance records an operation timing and logs it at debug level.
func (c *Core) Performance(ctx context.Context, operation string, duration time.Duration, fields map[string]interface{}) {
	c.profiler.Record(operation, duration, fields)

	event := c.logger.Debug().
		Str("operation", operation).
		Dur("duration", duration)

	c.withCorrelation(ctx, event).Fields(fields).Msg("Operation timed")
}

// BusinessEvent logs a domain event such as a completed assessment.
func (c *Core) BusinessEvent(ctx context.Context, name string, fields map[string]interface{}) {
	event := c.logger.Info().
		Str("event_type", "business_event").
		Str("event", name)

	c.withCorrelation(ctx, event).Fields(fields).Msg("Business event")
}

// withCorrelation stamps trace, span, and user identifiers from ctx onto
// the log event when present.
func (c *Core) withCorrelation(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	ref := TraceFromContext(ctx)

	if ref.TraceID != "" {
		event = event.Str("trace_id", ref.TraceID)
	}

	if ref.SpanID != "" {
		event = event.Str("span_id", ref.SpanID)
	}

	if userID := UserIDFromContext(ctx); userID != "" {
		event = event.Str("user_id", userID)
	}

	return event
}
