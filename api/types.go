package api

import (
	"time"

	"github.com/BaSui01/sgaflow/types"
)

// ScrapeRequest is the body of POST /scrape.
// @Description Document retrieval request
type ScrapeRequest struct {
	// Protocol number as printed on the licensing process
	NumeroProtocolo string `json:"numero_protocolo" example:"17.120.535-2" binding:"required"`
}

// ScrapeResponse is returned by POST /scrape once the job has finished.
// @Description Document retrieval result
type ScrapeResponse struct {
	Success bool `json:"success"`
	// Present on success
	Data *types.ResultData `json:"data,omitempty"`
	// "Scraping failed: <reason>" on failure
	Error string `json:"error,omitempty"`
	// Error code on failure, e.g. DOWNLOAD_TIMEOUT
	Code      string    `json:"code,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// VersionInfo is returned by GET /version.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}
