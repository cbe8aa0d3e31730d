// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package main is the SGAFlow service entry point.

# Overview

cmd/sgaflow runs the document-retrieval engine. serve starts the Redis
message-channel intake and the HTTP intake according to intake.mode, scrape
runs one job from the command line and prints its result, health checks a
running instance and version prints build information.

# Core types

  - Server: owns the listeners, the Redis intake, the workflow engine and
    the fatal-fault supervisor
  - Middleware: func(http.Handler) http.Handler

# Capabilities

  - Middleware chain: Recovery, RequestID, OTelTracing, MetricsMiddleware,
    SecurityHeaders, RequestLogger, CORS, RateLimiter (per IP) and
    APIKeyAuth (X-API-Key)
  - Separate metrics listener exposing /metrics
  - Supervisor: a panic in a pool worker, the subscription loop or an HTTP
    handler is logged with its stack, triggers the SIGTERM shutdown bounded
    by server.shutdown_timeout and exits with status 1
  - Build info: Version, BuildTime and GitCommit are set with ldflags
*/
package main
