package transport

import (
	"fmt"
	"time"

	"github.com/benchio/dutlink/logger"
)

const (
	// DefaultFlushTimeout bounds the wait for queued bytes to leave
	// the UART after a write.
	DefaultFlushTimeout = 1000 * time.Millisecond

	// defaultPollTimeout is the read timeout of the receive loop. It
	// trades off CPU usage against close latency.
	defaultPollTimeout = 50 * time.Millisecond

	// defaultReadBufferSize is the size of the receive loop's read
	// buffer. Frames on this bus are tiny; 256 bytes is generous.
	defaultReadBufferSize = 256
)

// Config holds serial transport configuration. Create it with
// [NewConfig] and functional options.
type Config struct {
	flushTimeout   time.Duration
	pollTimeout    time.Duration
	readBufferSize int
	logger         logger.Logger
}

// NewConfig creates a transport Config with default values, applying
// the provided options. It returns an error if any option fails
// validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		flushTimeout:   DefaultFlushTimeout,
		pollTimeout:    defaultPollTimeout,
		readBufferSize: defaultReadBufferSize,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// FlushTimeout returns the bounded flush wait applied after writes.
func (c *Config) FlushTimeout() time.Duration { return c.flushTimeout }

// PollTimeout returns the read timeout of the receive loop.
func (c *Config) PollTimeout() time.Duration { return c.pollTimeout }

// ReadBufferSize returns the receive loop's buffer size.
func (c *Config) ReadBufferSize() int { return c.readBufferSize }

// Logger returns the configured logger.
func (c *Config) Logger() logger.Logger { return c.logger }

// ConfigOption configures a transport Config.
type ConfigOption interface {
	apply(cfg *Config) error
}

type optFunc func(cfg *Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithFlushTimeout sets the bounded flush wait applied after each
// write. The timeout must be positive.
func WithFlushTimeout(timeout time.Duration) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid flush timeout: %v", timeout)
		}
		cfg.flushTimeout = timeout
		return nil
	})
}

// WithPollTimeout sets the receive loop's read timeout. The timeout
// must be positive.
func WithPollTimeout(timeout time.Duration) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid poll timeout: %v", timeout)
		}
		cfg.pollTimeout = timeout
		return nil
	})
}

// WithReadBufferSize sets the receive loop's buffer size in bytes.
func WithReadBufferSize(size int) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if size <= 0 {
			return fmt.Errorf("invalid read buffer size: %d", size)
		}
		cfg.readBufferSize = size
		return nil
	})
}

// WithLogger sets the logger used by the transport.
func WithLogger(l logger.Logger) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("logger is nil")
		}
		cfg.logger = l
		return nil
	})
}
