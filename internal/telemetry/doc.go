// Package telemetry bootstraps the OpenTelemetry SDK for sgaflow: OTLP gRPC
// trace and metric exporters installed as the global providers, which the
// workflow spans and the job counter report through. When disabled the
// global providers stay noop and nothing connects out.
package telemetry
