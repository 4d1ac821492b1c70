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

// Package telemetry implements the in-process observability core: span
// tracing with correlation propagation, error tracking, and performance
// profiling. Correlation identifiers travel on the context.Context of the
// call chain, never through globals, so concurrent operations stay
// isolated from each other.
package telemetry

import "context"

type contextKey int

const (
	traceKey contextKey = iota
	userIDKey
	operationKey
)

// TraceRef identifies the current span within its trace.
type TraceRef struct {
	TraceID string
	SpanID  string
}

// WithTrace returns a context carrying the given trace and span ids.
func WithTrace(ctx context.Context, traceID, spanID string) context.Context {
	return context.WithValue(ctx, traceKey, TraceRef{TraceID: traceID, SpanID: spanID})
}

// TraceFromContext returns the trace reference carried by ctx. Absent
// values read as zero, never panic.
func TraceFromContext(ctx context.Context) TraceRef {
	if ref, ok := ctx.Value(traceKey).(TraceRef); ok {
		return ref
	}

	return TraceRef{}
}

// WithUserID returns a context carrying the acting user's id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the user id carried by ctx, or "" when absent.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}

	return ""
}

// WithOperation returns a context carrying the current operation name.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey, operation)
}

// OperationFromContext returns the operation name carried by ctx, or ""
// when absent.
func OperationFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok {
		return op
	}

	return ""
}
