// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package server manages the lifecycle of the HTTP servers: the API surface
carrying POST /scrape and the health endpoints, and the Prometheus metrics
listener.

Manager.Start binds the listener and serves in the background. Serve
failures arrive on Errors. Shutdown drains in-flight requests within
ShutdownTimeout. Signal handling belongs to the caller.
*/
package server
