package journal_test

import (
	"testing"

	"github.com/dogmatiq/logkit/driver/memory/memoryjournal"
	"github.com/dogmatiq/logkit/internal/telemetry"
	. "github.com/dogmatiq/logkit/journal"
	nooplog "go.opentelemetry.io/otel/log/noop"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

func TestWithTelemetry(t *testing.T) {
	RunTests(
		t,
		WithTelemetry(
			&memoryjournal.Store{},
			telemetry.Provider{
				TracerProvider: nooptrace.NewTracerProvider(),
				MeterProvider:  noopmetric.NewMeterProvider(),
				LoggerProvider: nooplog.NewLoggerProvider(),
			},
		),
	)
}
