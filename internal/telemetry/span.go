package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
)

// Span represents a single named and timed operation.
type Span struct {
	recorder *Recorder
	ctx      context.Context
	span     trace.Span
	attrs    []Attr
}

// StartSpan starts a new span. The span's name is prefixed with the name of
// the recorder's subsystem.
func (r *Recorder) StartSpan(
	ctx context.Context,
	name string,
	attrs ...Attr,
) (context.Context, *Span) {
	ctx, span := r.tracer.Start(
		ctx,
		r.name+"."+name,
		trace.WithAttributes(asAttrKeyValues(attrs)...),
	)

	return ctx, &Span{
		recorder: r,
		ctx:      ctx,
		span:     span,
		attrs:    attrs,
	}
}

// End completes the span.
func (s *Span) End() {
	s.span.End()
}

// SetAttributes sets attributes on the span. They are also included in any
// subsequent log messages.
func (s *Span) SetAttributes(attrs ...Attr) {
	s.attrs = append(s.attrs, attrs...)
	s.span.SetAttributes(asAttrKeyValues(attrs)...)
}

// Debug logs a debug message within the span.
func (s *Span) Debug(message string, attrs ...Attr) {
	s.recorder.log(s.ctx, log.SeverityDebug, "debug", message, nil, s.body(attrs))
}

// Info logs an informational message within the span.
func (s *Span) Info(message string, attrs ...Attr) {
	s.recorder.log(s.ctx, log.SeverityInfo, "info", message, nil, s.body(attrs))
}

// Warn logs a warning message within the span.
func (s *Span) Warn(message string, attrs ...Attr) {
	s.recorder.log(s.ctx, log.SeverityWarn, "warning", message, nil, s.body(attrs))
}

// Error logs an error message within the span and marks the span as failed.
func (s *Span) Error(message string, err error, attrs ...Attr) {
	s.recorder.Error(s.ctx, "error", err, s.body(append(attrs, String("message", message)))...)
}

func (s *Span) body(attrs []Attr) []Attr {
	if len(attrs) == 0 {
		return s.attrs
	}
	return append(append([]Attr(nil), s.attrs...), attrs...)
}
