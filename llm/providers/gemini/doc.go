// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package gemini is a small client for the Gemini generateContent REST endpoint.

A request is a single user turn: one text prompt followed by any number of
binary attachments, sent as base64 inlineData parts. The client returns the
text of the first candidate.

Every failure is reported as a *types.Error with code INFERENCE_ERROR. HTTP
429 and 5xx responses and transport failures are marked retryable; callers
decide whether to act on that.
*/
package gemini
