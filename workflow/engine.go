package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BaSui01/sgaflow/config"
	"github.com/BaSui01/sgaflow/inference"
	"github.com/BaSui01/sgaflow/internal/metrics"
	"github.com/BaSui01/sgaflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/sgaflow/workflow"

// =============================================================================
// Collaborators
// =============================================================================

// Session is the browser surface a run drives. *browser.Session implements it.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Type(ctx context.Context, selector, text string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	ClickByLabel(ctx context.Context, tag, label string, timeout time.Duration) error
	ReadAttribute(ctx context.Context, selector, attr string, timeout time.Duration) (string, error)
	DownloadStarted() <-chan string
	Close() error
}

// SessionFactory opens a fresh session whose downloads land in downloadDir.
type SessionFactory func(ctx context.Context, downloadDir string) (Session, error)

// ChallengeSolver reads a captcha image.
type ChallengeSolver interface {
	Solve(ctx context.Context, img types.ChallengeImage) (string, error)
}

// DocumentInterpreter extracts text from a retrieved document.
type DocumentInterpreter interface {
	Extract(ctx context.Context, doc types.Document) (string, error)
}

// DownloadCapture waits for a file to land in dir.
type DownloadCapture interface {
	Await(ctx context.Context, dir string, deadline time.Duration, hint <-chan string) (types.Document, error)
}

// =============================================================================
// Engine
// =============================================================================

// Options are the per-step limits and the portal layout.
type Options struct {
	Portal            Portal
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	DownloadDeadline  time.Duration
	InferenceTimeout  time.Duration
	// StagingDir is the parent of per-job directories; empty means os.TempDir.
	StagingDir string
	// ChallengeRetries is how many times a submission that produced no
	// download is retried with a freshly read challenge.
	ChallengeRetries int
}

// OptionsFromConfig maps the workflow config section onto Options.
func OptionsFromConfig(cfg config.WorkflowConfig, inferenceTimeout time.Duration) Options {
	portal := DefaultPortal()
	if cfg.PortalURL != "" {
		portal.URL = cfg.PortalURL
	}
	return Options{
		Portal:            portal,
		NavigationTimeout: cfg.NavigationTimeout,
		ElementTimeout:    cfg.ElementTimeout,
		DownloadDeadline:  cfg.DownloadDeadline,
		InferenceTimeout:  inferenceTimeout,
		StagingDir:        cfg.StagingDir,
		ChallengeRetries:  cfg.ChallengeRetries,
	}
}

// Dependencies are the collaborators an Engine drives.
type Dependencies struct {
	OpenSession SessionFactory
	Solver      ChallengeSolver
	Interpreter DocumentInterpreter
	Capture     DownloadCapture
	Metrics     *metrics.Collector // optional
	Logger      *zap.Logger        // optional
}

// Engine runs retrieval jobs. It holds no per-job state, so one Engine
// serves any number of concurrent runs.
type Engine struct {
	opts   Options
	deps   Dependencies
	tracer trace.Tracer
	jobs   metric.Int64Counter
	logger *zap.Logger
}

// NewEngine validates the dependencies and creates an engine.
func NewEngine(opts Options, deps Dependencies) (*Engine, error) {
	switch {
	case deps.OpenSession == nil:
		return nil, errors.New("workflow: session factory is required")
	case deps.Solver == nil:
		return nil, errors.New("workflow: challenge solver is required")
	case deps.Interpreter == nil:
		return nil, errors.New("workflow: document interpreter is required")
	case deps.Capture == nil:
		return nil, errors.New("workflow: download capture is required")
	}
	if opts.Portal.URL == "" {
		opts.Portal = DefaultPortal()
	}
	if opts.ChallengeRetries < 0 {
		opts.ChallengeRetries = 0
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	jobs, err := otel.Meter(instrumentationName).Int64Counter("sgaflow.jobs",
		metric.WithDescription("Finished retrieval jobs"),
		metric.WithUnit("{job}"))
	if err != nil {
		logger.Warn("otel job counter unavailable", zap.Error(err))
		jobs, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("sgaflow.jobs")
	}

	return &Engine{
		opts:   opts,
		deps:   deps,
		tracer: otel.Tracer(instrumentationName),
		jobs:   jobs,
		logger: logger.With(zap.String("component", "workflow")),
	}, nil
}

// JobDeadline bounds a whole run: navigation, six element waits, the
// download deadline and two inference calls, plus the same again for every
// configured challenge retry.
func (e *Engine) JobDeadline() time.Duration {
	o := e.opts
	d := o.NavigationTimeout + 6*o.ElementTimeout + o.DownloadDeadline + 2*o.InferenceTimeout
	retry := 3*o.ElementTimeout + o.InferenceTimeout + o.DownloadDeadline
	return d + time.Duration(o.ChallengeRetries)*retry
}

// Run executes one job and returns its single result. It never returns nil,
// and the job's session is closed before it returns.
func (e *Engine) Run(ctx context.Context, job types.Job) *types.JobResult {
	r := &run{
		engine:  e,
		job:     job,
		state:   StateInit,
		started: time.Now(),
		logger:  e.logger.With(zap.String("job_id", job.ID), zap.String("protocol", job.ProtocolNumber)),
	}

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.protocol", job.ProtocolNumber),
	))
	defer span.End()

	ctx = types.WithJobID(ctx, job.ID)
	ctx, cancel := context.WithTimeout(ctx, e.JobDeadline())
	defer cancel()

	r.logger.Info("job started", zap.Duration("deadline", e.JobDeadline()))
	err := r.execute(ctx)
	result := r.finish(err)

	if result.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.ErrorMessage())
	}
	span.SetAttributes(attribute.String("job.final_state", result.FinalState))
	return result
}

// =============================================================================
// Run
// =============================================================================

// run is the mutable state of a single job.
type run struct {
	engine  *Engine
	job     types.Job
	state   State
	started time.Time
	logger  *zap.Logger

	dir       string
	session   Session
	challenge types.ChallengeImage
	doc       types.Document
	text      string
}

func (r *run) execute(ctx context.Context) error {
	if err := r.job.Validate(); err != nil {
		return err
	}

	dir, err := os.MkdirTemp(r.engine.opts.StagingDir, "sgaflow-job-")
	if err != nil {
		return types.NewError(types.ErrSession, "failed to create staging directory").WithCause(err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove staging directory", zap.String("dir", dir), zap.Error(err))
		}
	}()
	r.dir = dir

	session, err := r.engine.deps.OpenSession(ctx, dir)
	if err != nil {
		return classify(err, types.ErrSession, "failed to open browser session")
	}
	if session == nil {
		return types.NewError(types.ErrSession, "session factory returned no session")
	}
	// Runs before the staging directory is removed.
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("session close reported an error", zap.Error(err))
		}
	}()
	r.session = session

	if err := r.step(ctx, StateNavigated, types.ErrNavigationTimeout, r.navigate); err != nil {
		return err
	}
	if err := r.step(ctx, StateSearched, types.ErrElementNotFound, r.search); err != nil {
		return err
	}
	if err := r.step(ctx, StateResultSelected, types.ErrElementNotFound, r.selectResult); err != nil {
		return err
	}

	retries := r.engine.opts.ChallengeRetries
	for attempt := 0; ; attempt++ {
		first := attempt == 0
		if err := r.step(ctx, StateChallengePresented, types.ErrElementNotFound, func(ctx context.Context) error {
			return r.presentChallenge(ctx, first)
		}); err != nil {
			return err
		}
		if err := r.step(ctx, StateChallengeSolved, types.ErrInference, r.solveChallenge); err != nil {
			return err
		}

		err := r.submitAndCapture(ctx)
		if err == nil {
			break
		}
		if attempt >= retries || ctx.Err() != nil || !types.IsErrorCode(err, types.ErrDownloadTimeout) {
			return err
		}
		r.logger.Warn("no download after submission, retrying challenge",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", retries))
	}

	if err := r.step(ctx, StateExtracted, types.ErrInference, r.extract); err != nil {
		return err
	}
	return r.advance(StateDone)
}

// step runs fn in its own span and advances to `to` on success.
func (r *run) step(ctx context.Context, to State, code types.ErrorCode, fn func(ctx context.Context) error) error {
	ctx, span := r.engine.tracer.Start(ctx, "workflow."+string(to),
		trace.WithAttributes(attribute.String("workflow.from", string(r.state))))
	defer span.End()

	if err := fn(ctx); err != nil {
		typed := classify(err, code, fmt.Sprintf("%s step failed", to))
		span.RecordError(typed)
		span.SetStatus(codes.Error, typed.Message)
		return typed
	}
	return r.advance(to)
}

func (r *run) advance(to State) error {
	if !CanTransition(r.state, to) {
		return types.NewError(types.ErrInternalError, "workflow state machine violated").
			WithCause(ErrInvalidTransition{From: r.state, To: to})
	}
	r.engine.deps.Metrics.RecordStateTransition(string(r.state), string(to))
	r.logger.Debug("state transition", zap.String("from", string(r.state)), zap.String("to", string(to)))
	r.state = to
	return nil
}

// finish builds the job's only result.
func (r *run) finish(err error) *types.JobResult {
	result := &types.JobResult{
		JobID:      r.job.ID,
		StartedAt:  r.started,
		FinishedAt: time.Now(),
	}

	status := "completed"
	var code types.ErrorCode
	if err == nil {
		result.Success = true
		result.ExtractedText = r.text
		result.Document = r.doc.Data
		result.FinalState = string(StateDone)
	} else {
		typed := *classify(err, types.ErrInternalError, "job failed")
		typed.State = string(r.state)
		result.Error = &typed
		result.FinalState = string(StateFailed)
		r.engine.deps.Metrics.RecordStateTransition(string(r.state), string(StateFailed))
		status, code = "failed", typed.Code
	}

	r.engine.deps.Metrics.RecordJob(status, string(code), result.Duration())
	r.engine.jobs.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("code", string(code)),
	))

	if result.Success {
		r.logger.Info("job completed",
			zap.Duration("duration", result.Duration()),
			zap.Int("document_bytes", len(result.Document)))
	} else {
		r.logger.Warn("job failed",
			zap.String("code", string(code)),
			zap.String("state", result.Error.State),
			zap.String("error", result.ErrorMessage()),
			zap.Duration("duration", result.Duration()))
	}
	return result
}

// =============================================================================
// Steps
// =============================================================================

func (r *run) navigate(ctx context.Context) error {
	return r.session.Navigate(ctx, r.engine.opts.Portal.URL, r.engine.opts.NavigationTimeout)
}

func (r *run) search(ctx context.Context) error {
	p, timeout := r.engine.opts.Portal, r.engine.opts.ElementTimeout
	if err := r.session.WaitFor(ctx, p.ProtocolInput, timeout); err != nil {
		return err
	}
	if err := r.session.Type(ctx, p.ProtocolInput, r.job.ProtocolNumber, timeout); err != nil {
		return err
	}
	return r.session.Click(ctx, p.SearchButton, timeout)
}

func (r *run) selectResult(ctx context.Context) error {
	p, timeout := r.engine.opts.Portal, r.engine.opts.ElementTimeout
	if err := r.session.WaitFor(ctx, p.ResultLink, timeout); err != nil {
		return err
	}
	return r.session.Click(ctx, p.ResultLink, timeout)
}

// presentChallenge opens the document-request page on the first attempt and
// reads the challenge image.
func (r *run) presentChallenge(ctx context.Context, first bool) error {
	p, timeout := r.engine.opts.Portal, r.engine.opts.ElementTimeout
	if first {
		if err := r.session.Click(ctx, p.DocumentButton, timeout); err != nil {
			return err
		}
	}
	if err := r.session.WaitFor(ctx, p.ChallengeImage, timeout); err != nil {
		return err
	}
	src, err := r.session.ReadAttribute(ctx, p.ChallengeImage, p.ChallengeAttr, timeout)
	if err != nil {
		return err
	}
	img, err := inference.DecodeDataURL(src)
	if err != nil {
		return types.NewError(types.ErrElementNotFound, "challenge image is unreadable").WithCause(err)
	}
	r.challenge = img
	return nil
}

func (r *run) solveChallenge(ctx context.Context) error {
	ictx, cancel := r.inferenceContext(ctx)
	raw, err := r.engine.deps.Solver.Solve(ictx, r.challenge)
	cancel()
	if err != nil {
		return err
	}

	answer := Sanitize(raw)
	r.logger.Debug("challenge answered", zap.String("raw", raw), zap.String("answer", answer))
	if answer == "" {
		return types.NewError(types.ErrInference, "challenge answer has no alphanumeric characters")
	}
	p := r.engine.opts.Portal
	return r.session.Type(ctx, p.AnswerInput, answer, r.engine.opts.ElementTimeout)
}

type captureOutcome struct {
	doc      types.Document
	err      error
	panicked any
}

// submitAndCapture starts the capture, then clicks submit. Both the
// Submitted and Downloaded transitions happen here.
func (r *run) submitAndCapture(ctx context.Context) error {
	captureCtx, cancelCapture := context.WithCancel(ctx)
	defer cancelCapture()

	done := make(chan captureOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- captureOutcome{panicked: p}
			}
		}()
		doc, err := r.engine.deps.Capture.Await(captureCtx, r.dir, r.engine.opts.DownloadDeadline, r.session.DownloadStarted())
		done <- captureOutcome{doc: doc, err: err}
	}()

	wait := func() captureOutcome {
		out := <-done
		if out.panicked != nil {
			// Re-raise on the job's goroutine so the worker's handler sees it.
			panic(out.panicked)
		}
		return out
	}

	p := r.engine.opts.Portal
	if err := r.step(ctx, StateSubmitted, types.ErrElementNotFound, func(ctx context.Context) error {
		return r.session.ClickByLabel(ctx, p.SubmitTag, p.SubmitLabel, r.engine.opts.ElementTimeout)
	}); err != nil {
		cancelCapture()
		wait()
		return err
	}

	return r.step(ctx, StateDownloaded, types.ErrDownloadTimeout, func(context.Context) error {
		out := wait()
		if out.err != nil {
			return out.err
		}
		r.doc = out.doc
		return nil
	})
}

func (r *run) extract(ctx context.Context) error {
	ictx, cancel := r.inferenceContext(ctx)
	defer cancel()

	text, err := r.engine.deps.Interpreter.Extract(ictx, r.doc)
	if err != nil {
		return err
	}
	// Passed through verbatim: placeholder filtering belongs to the prompt.
	r.text = text
	return nil
}

func (r *run) inferenceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.engine.opts.InferenceTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.engine.opts.InferenceTimeout)
}

// classify returns err as a *types.Error, using code for untyped errors.
func classify(err error, code types.ErrorCode, msg string) *types.Error {
	if typed, ok := types.AsError(err); ok {
		return typed
	}
	return types.NewError(code, msg).WithCause(err)
}
