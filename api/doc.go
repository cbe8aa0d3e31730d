// Package api holds the wire types of the sgaflow HTTP surface.
//
// # Endpoints
//
//	POST /scrape    run one retrieval job synchronously
//	GET  /health    liveness
//	GET  /ready     readiness, including Redis when the Redis intake runs
//	GET  /version   build information
//
// # Authentication
//
// When server.api_keys is set, /scrape requires the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// # Responses
//
// POST /scrape answers 200 with {"success":true,"data":{"pdfBase64":...,
// "condicionamento":...},"timestamp":...} once the job completes, 400 for a
// malformed body and 500 with {"success":false,"error":"Scraping failed:
// ...","timestamp":...} when the job fails.
package api
