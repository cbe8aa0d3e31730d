package intake

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/sgaflow/types"
)

// Completion statuses published on the completion channel.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// jobMessage is the payload published on the job channel.
type jobMessage struct {
	JobID    string `json:"job_id"`
	Protocol string `json:"protocol"`
}

func (m jobMessage) job() types.Job {
	return types.Job{ID: m.JobID, ProtocolNumber: m.Protocol}
}

// Completion is published once per admitted job id.
type Completion struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// StoredResult is the value written at <prefix><job_id> for a successful job.
type StoredResult struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    types.ResultData `json:"data"`
}

// decodeJob parses a job message. Whenever a job id can be read, it is
// returned with the error so the caller can answer it, including when
// another field has the wrong type.
func decodeJob(payload string) (types.Job, error) {
	var m jobMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		var id struct {
			JobID string `json:"job_id"`
		}
		_ = json.Unmarshal([]byte(payload), &id)
		return types.Job{ID: id.JobID}, types.NewError(types.ErrInvalidRequest, "malformed job message").WithCause(err)
	}
	job := m.job()
	if err := job.Validate(); err != nil {
		return job, err
	}
	return job, nil
}

func newCompletion(jobID string, errMsg string, now time.Time) Completion {
	c := Completion{JobID: jobID, Status: StatusCompleted, Timestamp: now.UnixMilli()}
	if errMsg != "" {
		c.Status = StatusFailed
		c.Error = errMsg
	}
	return c
}

func storedResult(r *types.JobResult) StoredResult {
	return StoredResult{
		Success: true,
		Message: "Scraping completed",
		Data:    r.Data(),
	}
}
