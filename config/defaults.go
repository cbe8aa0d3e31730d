// =============================================================================
// SGAFlow default configuration
// =============================================================================
package config

import "time"

// DefaultPortalURL is the licensing-process search page of the SGA portal.
const DefaultPortalURL = "http://www.sga.pr.gov.br/sga-iap/consultarProcessoLicenciamento.do?action=iniciar"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Intake:    DefaultIntakeConfig(),
		Gemini:    DefaultGeminiConfig(),
		Browser:   DefaultBrowserConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server config
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
	}
}

// DefaultRedisConfig returns the default Redis config
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// DefaultIntakeConfig returns the default intake config
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{
		Mode:              IntakeModeRedis,
		JobChannel:        "pdf-scraping",
		CompletionChannel: "pdf-complete",
		ResultKeyPrefix:   "pdf-result:",
		ResultTTL:         0,
		Workers:           2,
		QueueSize:         16,
		DeliveryRetries:   3,
		DeliveryBackoff:   500 * time.Millisecond,
	}
}

// DefaultGeminiConfig returns the default Gemini config
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		APIKey:          "",
		BaseURL:         "https://generativelanguage.googleapis.com",
		Model:           "gemini-2.0-flash",
		Timeout:         60 * time.Second,
		Temperature:     0.9,
		TopP:            1,
		TopK:            1,
		MaxOutputTokens: 4096,
	}
}

// DefaultBrowserConfig returns the default browser config
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:             true,
		WindowWidth:          1280,
		WindowHeight:         800,
		AllowInsecureContent: true,
	}
}

// DefaultWorkflowConfig returns the default workflow config
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		PortalURL:         DefaultPortalURL,
		NavigationTimeout: 30 * time.Second,
		ElementTimeout:    30 * time.Second,
		SettleDelay:       2 * time.Second,
		DownloadDeadline:  30 * time.Second,
		PollInterval:      250 * time.Millisecond,
		StagingDir:        "",
		ChallengeRetries:  0,
	}
}

// DefaultLogConfig returns the default log config
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns the default telemetry config
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "sgaflow",
		SampleRate:   0.1,
	}
}
