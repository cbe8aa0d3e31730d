// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package intake serves jobs published on a Redis channel.

# Protocol

Producers publish {"job_id": "...", "protocol": "..."} on the job channel
(default pdf-scraping). For every admitted job id the service publishes one
message on the completion channel (default pdf-complete):

	{"job_id": "...", "status": "completed", "timestamp": 1718000000000}
	{"job_id": "...", "status": "failed", "error": "Scraping failed: ...", "timestamp": 1718000000000}

A successful job first stores its result at <prefix><job_id> (default
prefix pdf-result:) as

	{"success": true, "message": "Scraping completed", "data": {"pdfBase64": "...", "condicionamento": "..."}}

Messages that are not JSON are logged and dropped. A message with a job id
but no protocol is answered with a failed completion. When every worker is
busy and the queue is full the job is answered with a failed completion
rather than dropped.

# Concurrency

Service.Run runs the subscription loop and the dispatcher in one errgroup
and feeds jobs to a bounded pool. Jobs inherit the Run context. Result
delivery retries with backoff and is not cancelled with the job, so a job
interrupted by shutdown still publishes its completion.
*/
package intake
