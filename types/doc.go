// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package types holds the shared value types of the retrieval engine.

# Overview

types sits at the bottom of the dependency graph. workflow, browser,
inference, intake and the HTTP handlers all exchange these values, so
nothing here imports another package of the module.

# Core types

  - Job: job id plus protocol number, immutable after intake
  - JobResult: the single outcome of a job (success or typed failure)
  - ChallengeImage: decoded captcha bytes and mime type
  - Document: downloaded file bytes, already unstaged
  - Error / ErrorCode: structured error with code, HTTP status, retryable flag and workflow state

# Error codes

Job failures use NAVIGATION_TIMEOUT, ELEMENT_NOT_FOUND, DOWNLOAD_TIMEOUT,
INFERENCE_ERROR and SESSION_ERROR. Transports add INVALID_REQUEST,
UNAUTHORIZED, RATE_LIMITED, SERVICE_UNAVAILABLE and INTERNAL_ERROR.
*/
package types
