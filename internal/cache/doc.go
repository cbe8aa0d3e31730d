// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package cache wraps the go-redis client used by the Redis intake.

# Overview

Manager owns one connection pool. NewManager pings the server before
returning, and an optional background loop keeps pinging at
HealthCheckInterval, logging failures through zap.

# Capabilities

  - keyed entries: Set and the SetJSON helper. A zero TTL keeps the entry
    until it is deleted.
  - publish/subscribe: Publish and Subscribe. Subscribe returns only after
    the server confirmed the subscription.
  - errors: a failed Redis round trip is a retryable SERVICE_UNAVAILABLE
    types.Error, an unencodable value is a non-retryable INTERNAL_ERROR,
    and ErrClosed is returned after Close.
*/
package cache
