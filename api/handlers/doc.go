// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package handlers implements the sgaflow HTTP endpoints.

# Core types

  - ScrapeHandler: POST /scrape, one synchronous job per request
  - HealthHandler: /health, /ready and /version
  - Response and ErrorInfo: the envelope of non-scrape endpoints
  - ResponseWriter: wraps http.ResponseWriter to record status and size
  - HealthCheck: pluggable readiness check; PingCheck adapts Redis

# Status mapping

HTTPStatus maps a *types.Error to a status. Job failures
(NAVIGATION_TIMEOUT, ELEMENT_NOT_FOUND, DOWNLOAD_TIMEOUT, INFERENCE_ERROR,
SESSION_ERROR) are always 500. Request problems map to 4xx and an exhausted
service to 503.
*/
package handlers
