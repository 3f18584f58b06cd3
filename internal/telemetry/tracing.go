// Package telemetry wires the OpenTelemetry trace/metric APIs used to
// instrument the Execution-Rule Store and Watch-Item Engine's hot paths.
// santa-core has no composition root that terminates a network protocol, so
// (per DESIGN.md) it never wires a concrete trace/metric exporter: Tracer
// returns spans against whatever global TracerProvider the embedding binary
// installs (the OTel SDK default is a no-op), and SetupNoopMeter registers a
// no-op MeterProvider purely to demonstrate the metric API is live.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name every santa-core span is recorded
// under.
const TracerName = "github.com/santa-policy/core"

// Tracer returns the process-wide santa-core tracer. Spans are no-ops until
// an embedding binary installs a concrete TracerProvider via otel.SetTracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// SetupNoopMeter installs the OTel SDK's no-op MeterProvider as the global
// provider. This is a deliberate placeholder (§ DESIGN.md): santa-core
// exposes the metric API surface without committing to an exporter.
func SetupNoopMeter() {
	otel.SetMeterProvider(noop.NewMeterProvider())
}
