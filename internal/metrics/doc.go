// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package metrics registers the service's Prometheus metrics.

# Overview

Collector registers every metric through promauto on the default registry,
grouped under one namespace (sgaflow in production). The /metrics endpoint
served by cmd/sgaflow exposes them.

# Metric groups

  - HTTP: request count, duration, request and response size, by
    method/path, with status classes 2xx/3xx/4xx/5xx.
  - Jobs: jobs_total{status,code} and job_duration_seconds{status}.
  - Workflow: workflow_state_transitions_total{from,to}.
  - Inference: inference_requests_total{kind,status} and duration by kind,
    where kind is challenge or document.
  - Browser: browser_sessions_active and browser_sessions_total{event}.
  - Downloads: download_bytes histogram.
  - Intake: intake_messages_total{result}.

A nil *Collector is valid and records nothing, so components can run
without metrics in tests.
*/
package metrics
