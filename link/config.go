package link

import (
	"fmt"
	"time"

	"github.com/benchio/dutlink/logger"
)

const (
	// DefaultConfirmTimeout is how long the link waits for a
	// confirmation before retrying or failing the command.
	DefaultConfirmTimeout = 5000 * time.Millisecond

	// DefaultMaxRetries is how many times a timed-out command is
	// retransmitted before it fails (3 attempts total).
	DefaultMaxRetries = 2

	// DefaultWriteTimeout bounds each transport write.
	DefaultWriteTimeout = 1000 * time.Millisecond
)

// Config holds command link configuration. Create it with [NewConfig]
// and functional options.
type Config struct {
	confirmTimeout time.Duration
	writeTimeout   time.Duration
	maxRetries     int
	logger         logger.Logger
}

// NewConfig creates a link Config with default values, applying the
// provided options. It returns an error if any option fails
// validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		confirmTimeout: DefaultConfirmTimeout,
		writeTimeout:   DefaultWriteTimeout,
		maxRetries:     DefaultMaxRetries,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ConfirmTimeout returns the per-attempt confirmation timeout.
func (c *Config) ConfirmTimeout() time.Duration { return c.confirmTimeout }

// WriteTimeout returns the transport write timeout.
func (c *Config) WriteTimeout() time.Duration { return c.writeTimeout }

// MaxRetries returns the retransmission budget after the first
// attempt.
func (c *Config) MaxRetries() int { return c.maxRetries }

// Logger returns the configured logger.
func (c *Config) Logger() logger.Logger { return c.logger }

// ConfigOption configures a link Config.
type ConfigOption interface {
	apply(cfg *Config) error
}

type optFunc func(cfg *Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithConfirmTimeout sets the per-attempt confirmation timeout. The
// timeout must be positive.
func WithConfirmTimeout(timeout time.Duration) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid confirm timeout: %v", timeout)
		}
		cfg.confirmTimeout = timeout
		return nil
	})
}

// WithWriteTimeout sets the transport write timeout. The timeout must
// be positive.
func WithWriteTimeout(timeout time.Duration) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid write timeout: %v", timeout)
		}
		cfg.writeTimeout = timeout
		return nil
	})
}

// WithMaxRetries sets the retransmission budget. Zero disables
// retries.
func WithMaxRetries(n int) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if n < 0 {
			return fmt.Errorf("invalid retry count: %d", n)
		}
		cfg.maxRetries = n
		return nil
	})
}

// WithLogger sets the logger used by the link.
func WithLogger(l logger.Logger) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("logger is nil")
		}
		cfg.logger = l
		return nil
	})
}
