package types

import (
	"encoding/base64"
	"strings"
	"time"
)

// Job is one retrieval request. It is immutable once admitted.
type Job struct {
	ID             string `json:"job_id"`
	ProtocolNumber string `json:"protocol"`
}

// Validate checks the fields every transport must supply.
func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return NewError(ErrInvalidRequest, "job_id is required")
	}
	if strings.TrimSpace(j.ProtocolNumber) == "" {
		return NewError(ErrInvalidRequest, "protocol number is required")
	}
	return nil
}

// ChallengeImage is the decoded captcha image.
type ChallengeImage struct {
	Data     []byte
	MimeType string
}

// Document is a retrieved file, already removed from its staging location.
type Document struct {
	Name     string
	MimeType string
	Data     []byte
}

// JobResult is the single outcome of a job.
type JobResult struct {
	JobID         string    `json:"job_id"`
	Success       bool      `json:"success"`
	ExtractedText string    `json:"extracted_text,omitempty"`
	Document      []byte    `json:"-"`
	Error         *Error    `json:"error,omitempty"`
	FinalState    string    `json:"final_state"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Duration returns the wall time of the run.
func (r *JobResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ErrorMessage returns the failure text reported to callers, or "" on success.
func (r *JobResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	if r.Error.Cause != nil {
		return r.Error.Message + ": " + r.Error.Cause.Error()
	}
	return r.Error.Message
}

// FailureMessage is the error text published to intake callers.
func (r *JobResult) FailureMessage() string {
	return "Scraping failed: " + r.ErrorMessage()
}

// ResultData is the payload delivered for a successful job on every
// transport.
type ResultData struct {
	PDFBase64       string `json:"pdfBase64"`
	Condicionamento string `json:"condicionamento"`
}

// Data builds the delivered payload from a successful result.
func (r *JobResult) Data() ResultData {
	return ResultData{
		PDFBase64:       base64.StdEncoding.EncodeToString(r.Document),
		Condicionamento: r.ExtractedText,
	}
}
