package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/sgaflow/api"
	"github.com/BaSui01/sgaflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobRunner executes one job and always returns its result.
type JobRunner interface {
	Run(ctx context.Context, job types.Job) *types.JobResult
}

// ScrapeHandler serves POST /scrape: one synchronous job per request.
type ScrapeHandler struct {
	runner JobRunner
	logger *zap.Logger
	newID  func() string
	now    func() time.Time
}

// NewScrapeHandler creates the scrape handler.
func NewScrapeHandler(runner JobRunner, logger *zap.Logger) *ScrapeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapeHandler{
		runner: runner,
		logger: logger.With(zap.String("component", "scrape_handler")),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// HandleScrape runs the job and answers once it has finished. A client
// disconnect cancels the job.
// @Summary Retrieve a document
// @Tags scrape
// @Accept json
// @Produce json
// @Param request body api.ScrapeRequest true "protocol number"
// @Success 200 {object} api.ScrapeResponse
// @Failure 400 {object} api.ScrapeResponse
// @Failure 500 {object} api.ScrapeResponse
// @Router /scrape [post]
func (h *ScrapeHandler) HandleScrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeFailure(w, "", types.NewError(types.ErrInvalidRequest, "method not allowed").
			WithHTTPStatus(http.StatusMethodNotAllowed), "")
		return
	}

	if err := ValidateContentType(r); err != nil {
		h.writeFailure(w, "", err, err.Message)
		return
	}

	var req api.ScrapeRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		h.writeFailure(w, "", err, err.Message)
		return
	}
	if strings.TrimSpace(req.NumeroProtocolo) == "" {
		err := types.NewError(types.ErrInvalidRequest, "numero_protocolo is required")
		h.writeFailure(w, "", err, err.Message)
		return
	}

	job := types.Job{ID: h.newID(), ProtocolNumber: strings.TrimSpace(req.NumeroProtocolo)}
	logger := h.logger.With(zap.String("job_id", job.ID), zap.String("protocol", job.ProtocolNumber))
	if reqID, ok := types.RequestID(r.Context()); ok {
		logger = logger.With(zap.String("request_id", reqID))
	}
	logger.Info("scrape request accepted")

	result := h.runner.Run(r.Context(), job)
	if !result.Success {
		if result.Error == nil {
			result.Error = types.NewError(types.ErrInternalError, "job failed without an error")
		}
		logger.Warn("scrape request failed",
			zap.String("code", string(result.Error.Code)),
			zap.String("final_state", result.FinalState),
		)
		h.writeFailure(w, job.ID, result.Error, result.FailureMessage())
		return
	}

	data := result.Data()
	logger.Info("scrape request completed", zap.Duration("duration", result.Duration()))
	WriteJSON(w, http.StatusOK, api.ScrapeResponse{
		Success:   true,
		Data:      &data,
		JobID:     job.ID,
		Timestamp: h.now(),
	})
}

func (h *ScrapeHandler) writeFailure(w http.ResponseWriter, jobID string, err *types.Error, msg string) {
	if msg == "" {
		msg = err.Message
	}
	WriteJSON(w, HTTPStatus(err), api.ScrapeResponse{
		Success:   false,
		Error:     msg,
		Code:      string(err.Code),
		JobID:     jobID,
		Timestamp: h.now(),
	})
}
