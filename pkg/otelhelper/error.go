package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// NodeVisited adds a node event to the span carried by ctx.
func NodeVisited(ctx context.Context, nodeID, nodeType, handle string) {
	trace.SpanFromContext(ctx).AddEvent("node.visited", trace.WithAttributes(
		attribute.String(NodeIDKey, nodeID),
		attribute.String(NodeTypeKey, nodeType),
		attribute.String(HandleKey, handle),
	))
}

// NodeFailed records a node failure on the span carried by ctx. The span status is left
// untouched: a failed node is retried or fails the execution, the step itself succeeds.
func NodeFailed(ctx context.Context, nodeID, nodeType string, err error) {
	trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(
		attribute.String(NodeIDKey, nodeID),
		attribute.String(NodeTypeKey, nodeType),
	))
}
