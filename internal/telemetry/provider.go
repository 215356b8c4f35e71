package telemetry

import (
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Provider provides Recorder instances scoped to particular subsystems.
//
// Any nil provider falls back to the corresponding OpenTelemetry global
// provider.
type Provider struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	LoggerProvider log.LoggerProvider

	// Attrs is a set of attributes added to every recorder.
	Attrs []Attr
}

// Recorder records traces, metrics and logs for a particular subsystem.
type Recorder struct {
	name    string
	tracer  trace.Tracer
	meter   metric.Meter
	logger  log.Logger
	attrKVs attribute.Set

	errorCount Instrument[int64]
}

// Recorder returns a new Recorder instance.
//
// pkg is the path to the Go package that is performing the instrumentation. If
// it is an internal package, use the package path of the public parent package
// instead. name is a short name for the subsystem, used as a prefix for span
// names.
func (p *Provider) Recorder(pkg, name string, attrs ...Attr) *Recorder {
	tp := p.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	mp := p.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	lp := p.LoggerProvider
	if lp == nil {
		lp = global.GetLoggerProvider()
	}

	attrs = append(attrs, p.Attrs...)
	kvs := asAttrKeyValues(attrs)

	r := &Recorder{
		name: name,
		tracer: tp.Tracer(
			pkg,
			tracerVersion,
			trace.WithInstrumentationAttributes(kvs...),
		),
		meter: mp.Meter(
			pkg,
			meterVersion,
			metric.WithInstrumentationAttributes(kvs...),
		),
		logger: lp.Logger(
			pkg,
			logVersion,
			log.WithInstrumentationAttributes(kvs...),
		),
		attrKVs: attribute.NewSet(kvs...),
	}

	r.errorCount = r.Counter("errors", "{error}", "The number of errors that have occurred.")

	return r
}

var (
	tracerVersion trace.TracerOption
	meterVersion  metric.MeterOption
	logVersion    log.LoggerOption
)

func init() {
	const modulePath = "github.com/dogmatiq/logkit"
	version := "unknown"

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Path == modulePath {
			version = info.Main.Version
		}

		for _, dep := range info.Deps {
			if dep.Path == modulePath {
				version = dep.Version
				break
			}
		}
	}

	tracerVersion = trace.WithInstrumentationVersion(version)
	meterVersion = metric.WithInstrumentationVersion(version)
	logVersion = log.WithInstrumentationVersion(version)
}
