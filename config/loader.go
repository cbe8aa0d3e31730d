// =============================================================================
// SGAFlow configuration loader
// =============================================================================
// Unified config loading: YAML file plus environment overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SGAFLOW").
//	    Load()
//
// Precedence: defaults -> YAML file -> bare credential vars -> prefixed env
// =============================================================================
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Core configuration
// =============================================================================

// Config is the complete SGAFlow configuration.
type Config struct {
	// Server HTTP and metrics listeners
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis connection shared by intake and the result store
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Intake job transports
	Intake IntakeConfig `yaml:"intake" env:"INTAKE"`

	// Gemini inference service
	Gemini GeminiConfig `yaml:"gemini" env:"GEMINI"`

	// Browser launch options
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`

	// Workflow portal and step timing
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Log logging
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OpenTelemetry export
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout must cover a full synchronous /scrape run.
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// APIKeys guards /scrape when non-empty.
	APIKeys            []string `yaml:"api_keys" env:"API_KEYS"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       int      `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// RedisConfig Redis connection
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// Intake modes
const (
	IntakeModeRedis = "redis"
	IntakeModeHTTP  = "http"
	IntakeModeBoth  = "both"
)

// IntakeConfig job intake settings
type IntakeConfig struct {
	// Mode: redis, http, both
	Mode              string `yaml:"mode" env:"MODE"`
	JobChannel        string `yaml:"job_channel" env:"JOB_CHANNEL"`
	CompletionChannel string `yaml:"completion_channel" env:"COMPLETION_CHANNEL"`
	ResultKeyPrefix   string `yaml:"result_key_prefix" env:"RESULT_KEY_PREFIX"`
	// ResultTTL of zero keeps results until a consumer deletes them.
	ResultTTL       time.Duration `yaml:"result_ttl" env:"RESULT_TTL"`
	Workers         int           `yaml:"workers" env:"WORKERS"`
	QueueSize       int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	DeliveryRetries int           `yaml:"delivery_retries" env:"DELIVERY_RETRIES"`
	DeliveryBackoff time.Duration `yaml:"delivery_backoff" env:"DELIVERY_BACKOFF"`
}

// RedisEnabled reports whether the message-channel transport runs.
func (c IntakeConfig) RedisEnabled() bool {
	return c.Mode == IntakeModeRedis || c.Mode == IntakeModeBoth
}

// HTTPEnabled reports whether POST /scrape is served.
func (c IntakeConfig) HTTPEnabled() bool {
	return c.Mode == IntakeModeHTTP || c.Mode == IntakeModeBoth
}

// GeminiConfig inference service settings
type GeminiConfig struct {
	APIKey          string        `yaml:"api_key" env:"API_KEY"`
	BaseURL         string        `yaml:"base_url" env:"BASE_URL"`
	Model           string        `yaml:"model" env:"MODEL"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Temperature     float64       `yaml:"temperature" env:"TEMPERATURE"`
	TopP            float64       `yaml:"top_p" env:"TOP_P"`
	TopK            int           `yaml:"top_k" env:"TOP_K"`
	MaxOutputTokens int           `yaml:"max_output_tokens" env:"MAX_OUTPUT_TOKENS"`
}

// BrowserConfig browser launch options
type BrowserConfig struct {
	ExecPath     string `yaml:"exec_path" env:"EXEC_PATH"`
	Headless     bool   `yaml:"headless" env:"HEADLESS"`
	UserAgent    string `yaml:"user_agent" env:"USER_AGENT"`
	WindowWidth  int    `yaml:"window_width" env:"WINDOW_WIDTH"`
	WindowHeight int    `yaml:"window_height" env:"WINDOW_HEIGHT"`
	// AllowInsecureContent enables the mixed-content flag set the portal needs.
	AllowInsecureContent bool     `yaml:"allow_insecure_content" env:"ALLOW_INSECURE_CONTENT"`
	ExtraFlags           []string `yaml:"extra_flags" env:"EXTRA_FLAGS"`
}

// WorkflowConfig portal location and step timing
type WorkflowConfig struct {
	PortalURL         string        `yaml:"portal_url" env:"PORTAL_URL"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" env:"NAVIGATION_TIMEOUT"`
	ElementTimeout    time.Duration `yaml:"element_timeout" env:"ELEMENT_TIMEOUT"`
	SettleDelay       time.Duration `yaml:"settle_delay" env:"SETTLE_DELAY"`
	DownloadDeadline  time.Duration `yaml:"download_deadline" env:"DOWNLOAD_DEADLINE"`
	PollInterval      time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// StagingDir is the parent of the per-job download directories.
	StagingDir       string `yaml:"staging_dir" env:"STAGING_DIR"`
	ChallengeRetries int    `yaml:"challenge_retries" env:"CHALLENGE_RETRIES"`
}

// LogConfig logging
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig OpenTelemetry export
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// Loader
// =============================================================================

// credentialFallbacks are read without prefix so existing deployments that
// export API_KEY keep working. Later entries win.
var credentialFallbacks = []string{"API_KEY", "GEMINI_API_KEY"}

// Loader builds a Config (builder pattern)
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the SGAFLOW env prefix
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SGAFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the env prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validator run at the end of Load
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	for _, key := range credentialFallbacks {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			cfg.Gemini.APIKey = v
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct recursively using env tags
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// comma separated string slices
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads the config and panics on failure
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the whole configuration and reports every problem at once.
// A missing inference credential is an error here so the process stops at
// startup instead of failing its first job.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	switch c.Intake.Mode {
	case IntakeModeRedis, IntakeModeHTTP, IntakeModeBoth:
	default:
		errs = append(errs, fmt.Sprintf("intake mode must be one of redis, http, both (got %q)", c.Intake.Mode))
	}
	if c.Intake.RedisEnabled() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis addr is required for redis intake")
		}
		if c.Intake.JobChannel == "" || c.Intake.CompletionChannel == "" {
			errs = append(errs, "intake channels must be set")
		}
	}
	if c.Intake.Workers <= 0 {
		errs = append(errs, "intake workers must be positive")
	}

	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		errs = append(errs, "gemini api key is required (set API_KEY or SGAFLOW_GEMINI_API_KEY)")
	}
	if c.Gemini.Model == "" {
		errs = append(errs, "gemini model is required")
	}

	if u, err := url.Parse(c.Workflow.PortalURL); err != nil || u.Host == "" {
		errs = append(errs, "workflow portal_url must be an absolute URL")
	}
	if c.Workflow.NavigationTimeout <= 0 || c.Workflow.ElementTimeout <= 0 {
		errs = append(errs, "workflow timeouts must be positive")
	}
	if c.Workflow.SettleDelay <= 0 {
		errs = append(errs, "settle_delay must be positive")
	}
	if c.Workflow.DownloadDeadline < c.Workflow.SettleDelay {
		errs = append(errs, "download_deadline must not be shorter than settle_delay")
	}
	if c.Workflow.ChallengeRetries < 0 || c.Workflow.ChallengeRetries > 3 {
		errs = append(errs, "challenge_retries must be between 0 and 3")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PortalHost returns the host of the portal URL, used for the browser allowlist.
func (c *WorkflowConfig) PortalHost() string {
	u, err := url.Parse(c.PortalURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
