// Package telemetry wires OpenTelemetry tracing and metrics for contextdb.
//
// Traces and metrics are exported over OTLP, using gRPC or HTTP/protobuf:
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Packages never import telemetry directly. They obtain tracers and meters
// from the otel globals, which New installs when telemetry is enabled. With
// telemetry disabled the globals stay no-op.
//
// Exporter failures never stop the server: New marks the instance degraded
// and logs the reason.
package telemetry
