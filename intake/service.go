package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/BaSui01/sgaflow/config"
	"github.com/BaSui01/sgaflow/internal/cache"
	"github.com/BaSui01/sgaflow/internal/metrics"
	"github.com/BaSui01/sgaflow/internal/pool"
	"github.com/BaSui01/sgaflow/llm/retry"
	"github.com/BaSui01/sgaflow/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// deliveryTimeout bounds result delivery, which outlives cancellation of the
// job itself so a cancelled job still publishes its completion.
const deliveryTimeout = 10 * time.Second

// Broker is the Redis surface used by the intake. *cache.Manager satisfies it.
type Broker interface {
	Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error)
	Publish(ctx context.Context, channel string, message []byte) (int64, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// deliveryRetryable decides whether a failed SET or PUBLISH is attempted
// again. A typed error carries its own verdict; an untyped one is assumed
// to be a transport fault.
func deliveryRetryable(err error) bool {
	if errors.Is(err, cache.ErrClosed) {
		return false
	}
	if types.GetErrorCode(err) != "" {
		return types.IsRetryable(err)
	}
	return true
}

// Runner executes one job and always returns its result.
type Runner interface {
	Run(ctx context.Context, job types.Job) *types.JobResult
}

// Config configures the message-channel intake.
type Config struct {
	JobChannel        string
	CompletionChannel string
	ResultKeyPrefix   string
	ResultTTL         time.Duration
	Workers           int
	QueueSize         int
	DeliveryRetries   int
	DeliveryBackoff   time.Duration
}

// ConfigFrom maps the intake config section.
func ConfigFrom(cfg config.IntakeConfig) Config {
	return Config{
		JobChannel:        cfg.JobChannel,
		CompletionChannel: cfg.CompletionChannel,
		ResultKeyPrefix:   cfg.ResultKeyPrefix,
		ResultTTL:         cfg.ResultTTL,
		Workers:           cfg.Workers,
		QueueSize:         cfg.QueueSize,
		DeliveryRetries:   cfg.DeliveryRetries,
		DeliveryBackoff:   cfg.DeliveryBackoff,
	}
}

// Options carries the optional collaborators.
type Options struct {
	Metrics *metrics.Collector
	Logger  *zap.Logger
	// OnFatal receives panics raised by a job or the subscription loop.
	OnFatal pool.PanicHandler
}

// Service subscribes to the job channel and runs each admitted job on a
// bounded pool. Every admitted job id gets exactly one completion.
type Service struct {
	cfg     Config
	broker  Broker
	runner  Runner
	pool    *pool.Pool
	retryer retry.Retryer
	metrics *metrics.Collector
	logger  *zap.Logger
	onFatal pool.PanicHandler
	now     func() time.Time
}

// NewService creates the intake service.
func NewService(cfg Config, broker Broker, runner Runner, opts Options) (*Service, error) {
	if broker == nil {
		return nil, errors.New("intake: broker is required")
	}
	if runner == nil {
		return nil, errors.New("intake: runner is required")
	}
	if cfg.JobChannel == "" || cfg.CompletionChannel == "" {
		return nil, errors.New("intake: job and completion channels are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "intake"))

	onFatal := opts.OnFatal
	if onFatal == nil {
		onFatal = func(recovered any, stack []byte) {
			logger.Error("job panicked", zap.Any("panic", recovered), zap.ByteString("stack", stack))
		}
	}

	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = cfg.DeliveryRetries
	if cfg.DeliveryBackoff > 0 {
		policy.InitialDelay = cfg.DeliveryBackoff
	}
	policy.Retryable = deliveryRetryable

	return &Service{
		cfg:    cfg,
		broker: broker,
		runner: runner,
		pool: pool.New(pool.Config{
			Workers: cfg.Workers,
			Backlog: cfg.QueueSize,
			OnPanic: onFatal,
		}),
		retryer: retry.NewBackoffRetryer(policy, logger),
		metrics: opts.Metrics,
		logger:  logger,
		onFatal: onFatal,
		now:     time.Now,
	}, nil
}

// Run subscribes and serves until ctx is cancelled or the subscription
// fails. On return no job is running: in-flight jobs are cancelled, publish
// their completions and finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	ps, err := s.broker.Subscribe(ctx, s.cfg.JobChannel)
	if err != nil {
		return fmt.Errorf("intake: subscribe %s: %w", s.cfg.JobChannel, err)
	}
	s.logger.Info("subscribed", zap.String("channel", s.cfg.JobChannel))

	payloads := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(payloads)
		return s.receive(gctx, ps.Channel(), payloads)
	})
	g.Go(func() error {
		return s.dispatch(gctx, payloads)
	})

	err = g.Wait()
	_ = ps.Close()
	s.pool.Close()

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	stats := s.pool.Stats()
	s.logger.Info("intake stopped",
		zap.Int64("accepted", stats.Accepted),
		zap.Int64("rejected", stats.Rejected),
		zap.Int64("panicked", stats.Panicked),
		zap.Error(err))
	return err
}

// receive forwards payloads from the subscription. A panic here is fatal.
func (s *Service) receive(ctx context.Context, msgs <-chan *redis.Message, out chan<- string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.onFatal(r, debug.Stack())
			err = fmt.Errorf("intake: subscription loop panicked: %v", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("intake: subscription closed")
			}
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// dispatch admits each payload to the pool. Jobs run on ctx, so they are
// cancelled together with the service.
func (s *Service) dispatch(ctx context.Context, payloads <-chan string) error {
	for payload := range payloads {
		s.handleMessage(ctx, payload)
	}
	return ctx.Err()
}

func (s *Service) handleMessage(ctx context.Context, payload string) {
	job, err := decodeJob(payload)
	if err != nil {
		if job.ID == "" {
			s.logger.Warn("dropping malformed job message", zap.String("payload", payload), zap.Error(err))
			s.metrics.RecordIntakeMessage("malformed")
			return
		}
		s.logger.Warn("rejecting invalid job", zap.String("job_id", job.ID), zap.Error(err))
		s.metrics.RecordIntakeMessage("invalid")
		s.publishFailure(ctx, job.ID, err)
		return
	}

	err = s.pool.Submit(ctx, func(ctx context.Context) {
		s.process(ctx, job)
	})
	if err != nil {
		s.logger.Warn("job rejected", zap.String("job_id", job.ID), zap.Error(err))
		s.metrics.RecordIntakeMessage("rejected")
		s.publishFailure(ctx, job.ID,
			types.NewError(types.ErrServiceUnavailable, "job queue is full").WithCause(err))
		return
	}

	s.logger.Info("job accepted", zap.String("job_id", job.ID), zap.String("protocol", job.ProtocolNumber))
	s.metrics.RecordIntakeMessage("accepted")
}

// process runs one job and delivers its result. If the job panics the
// failure is still published before the panic reaches the pool.
func (s *Service) process(ctx context.Context, job types.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.publishFailure(ctx, job.ID, types.NewError(types.ErrInternalError, fmt.Sprintf("job panicked: %v", r)))
			panic(r)
		}
	}()

	result := s.runner.Run(ctx, job)
	s.deliver(ctx, result)
}

// deliver stores a successful result and publishes the completion.
func (s *Service) deliver(ctx context.Context, result *types.JobResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	logger := s.logger.With(zap.String("job_id", result.JobID))

	if !result.Success {
		s.publish(ctx, newCompletion(result.JobID, result.FailureMessage(), s.now()))
		return
	}

	key := s.cfg.ResultKeyPrefix + result.JobID
	err := s.retryer.Do(ctx, func() error {
		return s.broker.SetJSON(ctx, key, storedResult(result), s.cfg.ResultTTL)
	})
	if err != nil {
		logger.Error("failed to store result", zap.String("key", key), zap.Error(err))
		s.publish(ctx, newCompletion(result.JobID, "Scraping failed: "+err.Error(), s.now()))
		return
	}

	logger.Info("result stored", zap.String("key", key), zap.Int("document_bytes", len(result.Document)))
	s.publish(ctx, newCompletion(result.JobID, "", s.now()))
}

func (s *Service) publishFailure(ctx context.Context, jobID string, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	msg := err.Error()
	if e, ok := types.AsError(err); ok {
		msg = (&types.JobResult{Error: e}).ErrorMessage()
	}
	s.publish(ctx, newCompletion(jobID, "Scraping failed: "+msg, s.now()))
}

func (s *Service) publish(ctx context.Context, c Completion) {
	payload, err := json.Marshal(c)
	if err != nil {
		s.logger.Error("failed to encode completion", zap.String("job_id", c.JobID), zap.Error(err))
		return
	}

	receivers, err := retry.DoWithResultTyped(s.retryer, ctx, func() (int64, error) {
		return s.broker.Publish(ctx, s.cfg.CompletionChannel, payload)
	})
	if err != nil {
		s.logger.Error("failed to publish completion",
			zap.String("job_id", c.JobID),
			zap.String("status", c.Status),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("completion published",
		zap.String("job_id", c.JobID),
		zap.String("status", c.Status),
		zap.Int64("receivers", receivers),
	)
}
