// Package telemetry wires OpenTelemetry tracing and metrics for the
// taskforge daemon.
//
// # Overview
//
// Telemetry owns the TracerProvider and MeterProvider, exporting over
// OTLP (gRPC by default, HTTP/protobuf optionally). Initialization
// failures never crash the daemon: a provider that cannot start leaves
// telemetry degraded and the affected signal falls back to the no-op
// globals. Pipeline runs keep working either way.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err // config error, not exporter failure
//	}
//	defer tel.Shutdown(context.Background())
//
// Subsystems pick up the globals through otel.Tracer / otel.Meter, so
// nothing else needs a handle on this type. Tests use NewTestTelemetry
// for in-memory span and metric capture.
package telemetry
