package sequence

import (
	"fmt"
	"time"

	"github.com/benchio/dutlink/logger"
)

const (
	// DefaultStepTimeout bounds a whole step when the step itself does
	// not specify a timeout.
	DefaultStepTimeout = 60000 * time.Millisecond

	// DefaultMeasurementTimeout is how long a current check waits for
	// a measurement.
	DefaultMeasurementTimeout = 5000 * time.Millisecond

	// DefaultAckTimeout is how long the runner waits for a device
	// command confirmation.
	DefaultAckTimeout = 5000 * time.Millisecond

	// DefaultActionDelay is the settle time inserted between
	// consecutive actions.
	DefaultActionDelay = 100 * time.Millisecond
)

// Config holds runner configuration. Create it with [NewConfig] and
// functional options.
type Config struct {
	stepTimeout        time.Duration
	measurementTimeout time.Duration
	ackTimeout         time.Duration
	actionDelay        time.Duration
	logger             logger.Logger
}

// NewConfig creates a runner Config with default values, applying the
// provided options. It returns an error if any option fails
// validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		stepTimeout:        DefaultStepTimeout,
		measurementTimeout: DefaultMeasurementTimeout,
		ackTimeout:         DefaultAckTimeout,
		actionDelay:        DefaultActionDelay,
		logger:             logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// StepTimeout returns the default per-step timeout.
func (c *Config) StepTimeout() time.Duration { return c.stepTimeout }

// MeasurementTimeout returns the current check measurement timeout.
func (c *Config) MeasurementTimeout() time.Duration { return c.measurementTimeout }

// AckTimeout returns the command confirmation timeout.
func (c *Config) AckTimeout() time.Duration { return c.ackTimeout }

// ActionDelay returns the settle time between consecutive actions.
func (c *Config) ActionDelay() time.Duration { return c.actionDelay }

// Logger returns the configured logger.
func (c *Config) Logger() logger.Logger { return c.logger }

// ConfigOption configures a runner Config.
type ConfigOption interface {
	apply(cfg *Config) error
}

type optFunc func(cfg *Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithStepTimeout sets the default per-step timeout. The timeout must
// be positive.
func WithStepTimeout(timeout time.Duration) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid step timeout: %v", timeout)
		}
		cfg.stepTimeout = timeout
		return nil
	})
}

// WithMeasurementTimeout sets the current check measurement timeout.
// The timeout must be positive.
func WithMeasurementTimeout(timeout time.Duration) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid measurement timeout: %v", timeout)
		}
		cfg.measurementTimeout = timeout
		return nil
	})
}

// WithAckTimeout sets the command confirmation timeout. The timeout
// must be positive.
func WithAckTimeout(timeout time.Duration) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid ack timeout: %v", timeout)
		}
		cfg.ackTimeout = timeout
		return nil
	})
}

// WithActionDelay sets the settle time between consecutive actions.
// Zero disables the gap.
func WithActionDelay(d time.Duration) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("invalid action delay: %v", d)
		}
		cfg.actionDelay = d
		return nil
	})
}

// WithLogger sets the logger used by the runner.
func WithLogger(l logger.Logger) ConfigOption {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("logger is nil")
		}
		cfg.logger = l
		return nil
	})
}
