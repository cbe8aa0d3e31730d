// =============================================================================
// SGAFlow entry point
// =============================================================================
// Service entry: job intake over Redis and HTTP, health checks, Prometheus
// metrics, and a one-shot CLI run.
//
// Usage:
//
//	sgaflow serve                         # start the service
//	sgaflow serve --config config.yaml    # with a config file
//	sgaflow scrape --protocol 12345678    # run one job and print the result
//	sgaflow health                        # check a running instance
//	sgaflow version                       # print version information
// =============================================================================

// @title SGAFlow API
// @version 1.0.0
// @description Retrieves licensing-process documents from the SGA portal and extracts their conditions.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/sgaflow/config"
	"github.com/BaSui01/sgaflow/internal/metrics"
	"github.com/BaSui01/sgaflow/internal/telemetry"
	"github.com/BaSui01/sgaflow/types"
)

// =============================================================================
// Version information (set at build time)
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// Main
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "scrape":
		os.Exit(runScrape(os.Args[2:]))
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// serve
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting SGAFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("intake_mode", cfg.Intake.Mode),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv := NewServer(cfg, logger, otelProviders)
	if err := srv.Start(); err != nil {
		logger.Error("Failed to start server", zap.Error(err))
		srv.Shutdown()
		return 1
	}

	code := srv.Wait()
	logger.Info("SGAFlow stopped", zap.Int("exit_code", code))
	return code
}

// =============================================================================
// scrape
// =============================================================================

// scrapeOutput is the JSON printed by the scrape command.
type scrapeOutput struct {
	*types.JobResult
	Data *types.ResultData `json:"data,omitempty"`
}

func runScrape(args []string) int {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	protocol := fs.String("protocol", "", "Protocol number to retrieve")
	_ = fs.Parse(args)

	if strings.TrimSpace(*protocol) == "" {
		fmt.Fprintln(os.Stderr, "--protocol is required")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Logs go to stderr so stdout carries only the result.
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	engine, err := buildEngine(cfg, metrics.NewCollector("sgaflow", logger), logger)
	if err != nil {
		logger.Error("Failed to build workflow engine", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := engine.Run(ctx, types.Job{ID: uuid.NewString(), ProtocolNumber: strings.TrimSpace(*protocol)})

	out := scrapeOutput{JobResult: result}
	if result.Success {
		data := result.Data()
		out.Data = &data
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("Failed to write result", zap.Error(err))
		return 1
	}

	if !result.Success {
		return 1
	}
	return 0
}

// =============================================================================
// health
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// version and help
// =============================================================================

func printVersion() {
	fmt.Printf("SGAFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`SGAFlow - SGA portal document retrieval

Usage:
  sgaflow <command> [options]

Commands:
  serve     Start the intake service
  scrape    Retrieve one document and print the result as JSON
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)

Options for 'scrape':
  --config <path>     Path to configuration file (YAML)
  --protocol <n>      Protocol number to retrieve

Examples:
  sgaflow serve
  sgaflow serve --config /etc/sgaflow/config.yaml
  sgaflow scrape --protocol 12345678
  sgaflow health --addr http://localhost:8080
  sgaflow version`)
}

// =============================================================================
// Logger
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
