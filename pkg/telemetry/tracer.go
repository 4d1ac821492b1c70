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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const defaultSpanHistorySize = 10000

// TracerOption customises the behaviour of the Tracer.
type TracerOption func(*Tracer)

// Tracer owns the span lifecycle: active spans live in a map keyed by
// span id, finished spans move to a fixed-size FIFO history that evicts
// the oldest entry on overflow.
type Tracer struct {
	mu       sync.Mutex
	active   map[string]*models.Span
	history  []*models.Span
	pos      int
	stored   int
	capacity int
	finished uint64
	logger   logger.Logger
	now      func() time.Time
	newID    func() string
}

// NewTracer constructs a Tracer with the default history capacity.
func NewTracer(log logger.Logger, opts ...TracerOption) *Tracer {
	t := &Tracer{
		active:   make(map[string]*models.Span),
		capacity: defaultSpanHistorySize,
		logger:   log,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	t.history = make([]*models.Span, t.capacity)

	return t
}

// WithTracerClock injects a deterministic clock (used for tests).
func WithTracerClock(clock func() time.Time) TracerOption {
	return func(t *Tracer) {
		if clock != nil {
			t.now = clock
		}
	}
}

// WithHistorySize overrides the finished-span history capacity.
func WithHistorySize(size int) TracerOption {
	return func(t *Tracer) {
		if size > 0 {
			t.capacity = size
		}
	}
}

// SpanOption customises a span at start time.
type SpanOption func(*spanSettings)

type spanSettings struct {
	parentSpanID string
	userID       string
	tags         map[string]string
}

// WithParent nests the new span under an already active span. The child
// inherits the parent's trace id.
func WithParent(spanID string) SpanOption {
	return func(s *spanSettings) {
		s.parentSpanID = spanID
	}
}

// WithUser attributes the span to a user.
func WithUser(userID string) SpanOption {
	return func(s *spanSettings) {
		s.userID = userID
	}
}

// WithTags attaches initial tags to the span.
func WithTags(tags map[string]string) SpanOption {
	return func(s *spanSettings) {
		s.tags = tags
	}
}

// StartSpan opens a new span. The trace id comes from the parent span if
// one was given, else from the context, else a fresh one is created. The
// returned context carries the new span's identity for the call chain.
func (t *Tracer) StartSpan(ctx context.Context, operation string, opts ...SpanOption) (context.Context, *models.Span) {
	var settings spanSettings

	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ref := TraceFromContext(ctx)

	traceID := ref.TraceID
	parentSpanID := settings.parentSpanID

	if parentSpanID != "" {
		if parent, ok := t.active[parentSpanID]; ok {
			traceID = parent.TraceID
		}
	} else if ref.SpanID != "" {
		parentSpanID = ref.SpanID
	}

	if traceID == "" {
		traceID = t.newID()
	}

	userID := settings.userID
	if userID == "" {
		userID = UserIDFromContext(ctx)
	}

	span := &models.Span{
		TraceID:       traceID,
		SpanID:        t.newID(),
		ParentSpanID:  parentSpanID,
		OperationName: operation,
		UserID:        userID,
		StartTime:     t.now(),
		Tags:          copyTags(settings.tags),
	}

	t.active[span.SpanID] = span

	ctx = WithTrace(ctx, span.TraceID, span.SpanID)
	ctx = WithOperation(ctx, operation)

	if userID != "" {
		ctx = WithUserID(ctx, userID)
	}

	return ctx, span
}

// FinishSpan closes an active span, stamps its duration, and moves it to
// the history buffer. Finishing an unknown span id is a no-op and returns
// nil so double-finishes never disturb the caller.
func (t *Tracer) FinishSpan(spanID string, tags map[string]string) *models.Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	span, ok := t.active[spanID]
	if !ok {
		t.logger.Debug().
			Str("span_id", spanID).
			Msg("Finish called for unknown span")

		return nil
	}

	delete(t.active, spanID)

	span.Duration = t.now().Sub(span.StartTime)
	span.Finished = true

	if len(tags) > 0 {
		if span.Tags == nil {
			span.Tags = make(map[string]string, len(tags))
		}

		for k, v := range tags {
			span.Tags[k] = v
		}
	}

	t.history[t.pos] = span
	t.pos = (t.pos + 1) % t.capacity

	if t.stored < t.capacity {
		t.stored++
	}

	t.finished++

	return span
}

// TraceSpans returns the finished spans of one trace in finish order.
func (t *Tracer) TraceSpans(traceID string) []*models.Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	var spans []*models.Span

	start := (t.pos - t.stored + t.capacity) % t.capacity
	for i := 0; i < t.stored; i++ {
		span := t.history[(start+i)%t.capacity]
		if span.TraceID == traceID {
			spans = append(spans, span)
		}
	}

	return spans
}

// ActiveCount returns the number of spans currently open.
func (t *Tracer) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.active)
}

// FinishedCount returns the total number of spans ever finished,
// including ones already evicted from history.
func (t *Tracer) FinishedCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.finished
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}

	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}

	return cp
}
