package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
)

// minSeverity is the lowest severity that is emitted by any [Recorder].
var minSeverity atomic.Int32

func init() {
	minSeverity.Store(int32(log.SeverityInfo))
}

// SetLevel sets the minimum level of log messages that are emitted by all
// recorders in the process.
func SetLevel(l slog.Level) {
	minSeverity.Store(int32(severityOf(l)))
}

// severityOf maps an slog level to the equivalent OpenTelemetry severity.
func severityOf(l slog.Level) log.Severity {
	switch {
	case l < slog.LevelInfo:
		return log.SeverityDebug
	case l < slog.LevelWarn:
		return log.SeverityInfo
	case l < slog.LevelError:
		return log.SeverityWarn
	default:
		return log.SeverityError
	}
}

// Debug logs a debug message to the log and as a span event.
func (r *Recorder) Debug(ctx context.Context, event, message string, body ...Attr) {
	r.log(ctx, log.SeverityDebug, event, message, nil, body)
}

// Info logs an informational message to the log and as a span event.
func (r *Recorder) Info(ctx context.Context, event, message string, body ...Attr) {
	r.log(ctx, log.SeverityInfo, event, message, nil, body)
}

// Warn logs a warning message to the log and as a span event.
func (r *Recorder) Warn(ctx context.Context, event, message string, body ...Attr) {
	r.log(ctx, log.SeverityWarn, event, message, nil, body)
}

// Error logs an error message to the log and as a span event.
//
// It marks the span as an error and increments the "errors" metric.
func (r *Recorder) Error(ctx context.Context, event string, err error, body ...Attr) {
	r.log(ctx, log.SeverityError, event, err.Error(), err, body)
	r.errorCount(ctx, 1)

	span := trace.SpanFromContext(ctx)
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}

func (r *Recorder) log(
	ctx context.Context,
	severity log.Severity,
	event, message string,
	err error,
	body []Attr,
) {
	if int32(severity) < minSeverity.Load() {
		return
	}

	trace.SpanFromContext(ctx).AddEvent(
		event,
		trace.WithAttributes(attribute.String("message", message)),
		trace.WithAttributes(asAttrKeyValues(body)...),
	)

	if !r.logger.Enabled(
		ctx,
		log.EnabledParameters{
			Severity: severity,
		},
	) {
		return
	}

	var rec log.Record
	rec.SetEventName(event)
	rec.SetSeverity(severity)
	rec.AddAttributes(log.String("message", message))

	if err != nil {
		rec.AddAttributes(log.String("error", err.Error()))
	}

	if len(body) != 0 {
		rec.SetBody(log.MapValue(asLogKeyValues(body)...))
	}

	r.logger.Emit(ctx, rec)
}
