// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

// Package tlsutil builds the hardened HTTP client used for inference calls:
// TLS 1.2 or newer with AEAD cipher suites only.
package tlsutil
