package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/BaSui01/sgaflow/api/handlers"
	"github.com/BaSui01/sgaflow/browser"
	"github.com/BaSui01/sgaflow/config"
	"github.com/BaSui01/sgaflow/inference"
	"github.com/BaSui01/sgaflow/intake"
	"github.com/BaSui01/sgaflow/internal/cache"
	"github.com/BaSui01/sgaflow/internal/metrics"
	"github.com/BaSui01/sgaflow/internal/server"
	"github.com/BaSui01/sgaflow/internal/telemetry"
	"github.com/BaSui01/sgaflow/llm/providers/gemini"
	"github.com/BaSui01/sgaflow/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// Server
// =============================================================================

// fault is a panic reported to the supervisor.
type fault struct {
	source    string
	recovered any
	stack     []byte
}

// Server owns every long-lived component of the serve command and the
// supervisor that stops them.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// Listeners
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	scrapeHandler *handlers.ScrapeHandler

	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	cache  *cache.Manager
	engine *workflow.Engine
	intake *intake.Service

	intakeCancel context.CancelFunc
	intakeErr    chan error

	rateLimiterCancel context.CancelFunc

	faults       chan fault
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer creates a server. otelProviders may be nil.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
		intakeErr:     make(chan error, 1),
		faults:        make(chan fault, 1),
	}
}

// =============================================================================
// Startup
// =============================================================================

// Start builds the components and starts every enabled intake.
func (s *Server) Start() error {
	// 1. Metrics collector
	s.metricsCollector = metrics.NewCollector("sgaflow", s.logger)

	// 2. Workflow engine
	engine, err := buildEngine(s.cfg, s.metricsCollector, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build workflow engine: %w", err)
	}
	s.engine = engine

	// 3. Redis, only when the message-channel intake runs
	if s.cfg.Intake.RedisEnabled() {
		mgr, err := cache.NewManager(cache.ConfigFrom(s.cfg.Redis), s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		s.cache = mgr
	}

	// 4. Handlers
	s.initHandlers()

	// 5. HTTP server
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. Metrics server
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 7. Redis intake
	if s.cache != nil {
		if err := s.startIntake(); err != nil {
			return fmt.Errorf("failed to start intake: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("redis_intake", s.cfg.Intake.RedisEnabled()),
		zap.Bool("http_intake", s.cfg.Intake.HTTPEnabled()),
		zap.Duration("job_deadline", s.engine.JobDeadline()),
	)

	return nil
}

// buildEngine wires the browser, the Gemini client and the two inference
// adapters into a workflow engine.
func buildEngine(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*workflow.Engine, error) {
	client := gemini.NewClient(gemini.Config{
		APIKey:          cfg.Gemini.APIKey,
		BaseURL:         cfg.Gemini.BaseURL,
		Model:           cfg.Gemini.Model,
		Timeout:         cfg.Gemini.Timeout,
		Temperature:     float32(cfg.Gemini.Temperature),
		TopP:            float32(cfg.Gemini.TopP),
		TopK:            cfg.Gemini.TopK,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
	}, logger)

	controller := browser.NewController(cfg.Browser, cfg.Workflow.PortalHost(), collector, logger)
	openSession := func(ctx context.Context, downloadDir string) (workflow.Session, error) {
		sess, err := controller.Open(ctx, downloadDir)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	return workflow.NewEngine(
		workflow.OptionsFromConfig(cfg.Workflow, cfg.Gemini.Timeout),
		workflow.Dependencies{
			OpenSession: openSession,
			Solver:      inference.NewChallengeSolver(client, collector, logger),
			Interpreter: inference.NewDocumentInterpreter(client, collector, logger),
			Capture:     browser.NewCapture(cfg.Workflow.SettleDelay, cfg.Workflow.PollInterval, collector, logger),
			Metrics:     collector,
			Logger:      logger,
		},
	)
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}

	if s.cfg.Intake.HTTPEnabled() {
		s.scrapeHandler = handlers.NewScrapeHandler(s.engine, s.logger)
	}

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// HTTP server
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	if s.scrapeHandler != nil {
		mux.HandleFunc("/scrape", s.scrapeHandler.HandleScrape)
		s.logger.Info("Scrape route registered")
	}

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger, s.reportFault("http")),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger),
	)

	s.httpManager = server.NewManager("api", handler, apiServerConfig(s.cfg, s.engine.JobDeadline()), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// responseMargin is write time left after the job deadline for classifying
// the failure and encoding the reply.
const responseMargin = 30 * time.Second

// apiServerConfig lets a synchronous /scrape run to its job deadline and
// still deliver its 200 or 500.
func apiServerConfig(cfg *config.Config, jobDeadline time.Duration) server.Config {
	return server.ConfigFrom(cfg.Server, cfg.Server.HTTPPort).
		WithMinWriteTimeout(jobDeadline + responseMargin)
}

// =============================================================================
// Metrics server
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager("metrics", mux, server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// Redis intake
// =============================================================================

func (s *Server) startIntake() error {
	svc, err := intake.NewService(intake.ConfigFrom(s.cfg.Intake), s.cache, s.engine, intake.Options{
		Metrics: s.metricsCollector,
		Logger:  s.logger,
		OnFatal: s.reportFault("intake"),
	})
	if err != nil {
		return err
	}
	s.intake = svc

	ctx, cancel := context.WithCancel(context.Background())
	s.intakeCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.intakeErr <- svc.Run(ctx)
	}()
	return nil
}

// =============================================================================
// Supervisor
// =============================================================================

// reportFault returns the panic hook handed to the pool, the subscription
// loop and the recovery middleware. Only the first fault is kept.
func (s *Server) reportFault(source string) func(recovered any, stack []byte) {
	return func(recovered any, stack []byte) {
		if stack == nil {
			stack = debug.Stack()
		}
		select {
		case s.faults <- fault{source: source, recovered: recovered, stack: stack}:
		default:
		}
	}
}

// Wait blocks until a signal, a fault or a dead listener, runs the orderly
// shutdown and returns the process exit code.
func (s *Server) Wait() int {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpErrs, metricsErrs <-chan error
	if s.httpManager != nil {
		httpErrs = s.httpManager.Errors()
	}
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}

	code := 0
	select {
	case <-sigCtx.Done():
		s.logger.Info("Shutdown signal received")
	case f := <-s.faults:
		s.logger.Error("Fatal fault, shutting down",
			zap.String("source", f.source),
			zap.Any("panic", f.recovered),
			zap.ByteString("stack", f.stack),
		)
		code = 1
	case err := <-httpErrs:
		s.logger.Error("HTTP server failed", zap.Error(err))
		code = 1
	case err := <-metricsErrs:
		s.logger.Error("Metrics server failed", zap.Error(err))
		code = 1
	case err := <-s.intakeErr:
		// Run only returns early when the subscription is lost.
		s.logger.Error("Intake stopped", zap.Error(err))
		code = 1
	}

	if code != 0 {
		s.shutdownBounded()
	} else {
		s.Shutdown()
	}
	return code
}

// shutdownBounded runs Shutdown but gives up after ShutdownTimeout, so a
// wedged component cannot keep a faulted process alive.
func (s *Server) shutdownBounded() {
	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	grace := s.cfg.Server.ShutdownTimeout
	if grace <= 0 {
		grace = time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Error("Shutdown did not finish in time", zap.Duration("grace", grace))
	}
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown stops the intake, closes the listeners, flushes telemetry and
// closes Redis. Calling it again is a no-op.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. Rate limiter cleanup goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. Intake: cancels in-flight jobs, which still publish their completions
	if s.intakeCancel != nil {
		s.intakeCancel()
	}

	// 2. HTTP server
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. Metrics server
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. Wait for the intake loop to return
	s.wg.Wait()
	select {
	case err := <-s.intakeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Intake stopped with error", zap.Error(err))
		}
	default:
	}

	// 5. Telemetry flush
	if s.otelProviders != nil {
		flushCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		if err := s.otelProviders.Shutdown(flushCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	// 6. Redis
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
