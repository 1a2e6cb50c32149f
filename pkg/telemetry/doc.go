// Package telemetry provides logging, tracing and metrics for kitdeploy.
//
// # Logging
//
// Logs are structured zerolog events, console formatted on stderr by
// default so command output on stdout stays clean:
//
//	logger := tel.Logger.NewComponentLogger("deploy")
//	logger.Info().Str("stage", "app").Msg("Stage started")
//
// # Tracing
//
// New installs an OpenTelemetry SDK provider as the global tracer
// provider. The engine, the HTTP resource client (otelhttp) and the CLI
// all start spans from it. Exporters: none, stdout (pretty JSON on
// stderr) and otlp (gRPC).
//
// # Metrics
//
// Metrics implements engine.Recorder and provider.CallObserver:
//
//   - kitdeploy_reconciliations_total{kind,operation,outcome}
//   - kitdeploy_reconcile_duration_seconds{kind,operation}
//   - kitdeploy_poll_ticks_total{kind,status}
//   - kitdeploy_fatal_errors_total{code}
//   - kitdeploy_orphan_revisions_deleted_total{kind}
//   - kitdeploy_remote_calls_total{kind,method}
//   - kitdeploy_remote_call_errors_total{kind,method,class}
//   - kitdeploy_remote_call_duration_seconds{kind,method}
//   - kitdeploy_runs_total{command,status}
//   - kitdeploy_policy_violations_total{policy,severity}
//
// Serve exposes them over HTTP for long-running commands such as watch.
package telemetry
