// Package cache provides internal Redis access.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/sgaflow/config"
	"github.com/BaSui01/sgaflow/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// Manager
// =============================================================================

// Manager owns the Redis client shared by the intake: keyed result entries
// plus publish/subscribe.
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Config is the Redis connection config.
type Config struct {
	Addr                string        `yaml:"addr" json:"addr"`
	Password            string        `yaml:"password" json:"password"`
	DB                  int           `yaml:"db" json:"db"`
	PoolSize            int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns        int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	DialTimeout         time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig returns the default connection config.
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		DialTimeout:         5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// ConfigFrom maps the redis config section.
func ConfigFrom(cfg config.RedisConfig) Config {
	c := DefaultConfig()
	c.Addr = cfg.Addr
	c.Password = cfg.Password
	c.DB = cfg.DB
	if cfg.PoolSize > 0 {
		c.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		c.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		c.DialTimeout = cfg.DialTimeout
	}
	return c
}

// NewManager connects and pings Redis within five seconds.
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		done:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("redis connected",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
	)

	return m, nil
}

// =============================================================================
// Keyed entries
// =============================================================================

// Set stores value at key. A zero ttl keeps the entry until it is deleted.
func (m *Manager) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	if err := m.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		m.logger.Error("redis set failed", zap.String("key", key), zap.Error(err))
		return unavailable("set", err)
	}

	return nil
}

// SetJSON encodes value and stores it at key.
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return types.NewError(types.ErrInternalError, fmt.Sprintf("failed to encode value for %s", key)).WithCause(err)
	}

	return m.Set(ctx, key, string(data), ttl)
}

// =============================================================================
// Publish / subscribe
// =============================================================================

// Publish sends message on channel and returns the number of receivers.
func (m *Manager) Publish(ctx context.Context, channel string, message []byte) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	n, err := m.redis.Publish(ctx, channel, message).Result()
	if err != nil {
		m.logger.Error("redis publish failed", zap.String("channel", channel), zap.Error(err))
		return 0, unavailable("publish", err)
	}
	return n, nil
}

// Subscribe subscribes to channels and waits for the confirmation, so no
// message published after it returns is missed. The caller closes the
// returned PubSub.
func (m *Manager) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	ps := m.redis.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}
	return ps, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Ping checks the connection.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	return m.redis.Ping(ctx).Err()
}

// Close closes the client. Calling it again is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.done)
	m.logger.Info("closing redis client")

	return m.redis.Close()
}

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Error("redis health check failed", zap.Error(err))
		} else {
			m.logger.Debug("redis health check passed")
		}
		cancel()
	}
}

// =============================================================================
// Errors
// =============================================================================

// ErrClosed is returned after Close. It is never retryable.
var ErrClosed = errors.New("cache manager is closed")

// unavailable marks a failed Redis round trip as retryable.
func unavailable(op string, err error) error {
	return types.NewError(types.ErrServiceUnavailable, "redis "+op+" failed").
		WithCause(err).
		WithRetryable(true)
}
