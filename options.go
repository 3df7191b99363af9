// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"google.golang.org/grpc/backoff"
	"gopkg.in/yaml.v3"
)

// Framing selects how messages are recovered from the byte stream.
type Framing string

const (
	// FramingJSON scans for balanced top-level JSON objects and tolerates
	// messages split across reads.
	FramingJSON Framing = "json"
	// FramingLines splits on newlines only.
	FramingLines Framing = "lines"
)

// RetryExhaustion selects what happens once MaxRetryAttempts have failed.
type RetryExhaustion string

const (
	// GiveUp leaves the connection Failed until the next Send or Read
	// starts a new cycle.
	GiveUp RetryExhaustion = "give-up"
	// CoolDown waits RetryCooldown and starts a new cycle.
	CoolDown RetryExhaustion = "cool-down"
)

// BreakerOptions configures a CircuitBreaker.
type BreakerOptions struct {
	FailureThreshold int           `yaml:"failure-threshold"`
	OpenTimeout      time.Duration `yaml:"open-timeout"`
	SuccessThreshold int           `yaml:"success-threshold"`
}

// HealthOptions configures a HealthMonitor.
type HealthOptions struct {
	CheckInterval    time.Duration `yaml:"check-interval"`
	HealthyThreshold time.Duration `yaml:"healthy-threshold"`
}

// Options is the full configuration surface of a connection and client.
type Options struct {
	ConnectionTimeout     time.Duration   `yaml:"connection-timeout"`
	MaxRetryAttempts      int             `yaml:"max-retry-attempts"`
	HealthCheckInterval   time.Duration   `yaml:"health-check-interval"`
	EnableAutoReconnect   bool            `yaml:"enable-auto-reconnect"`
	ReconnectDelay        time.Duration   `yaml:"reconnect-delay"`
	MaxReconnectDelay     time.Duration   `yaml:"max-reconnect-delay"`
	UseExponentialBackoff bool            `yaml:"use-exponential-backoff"`
	EnableVerboseLogging  bool            `yaml:"enable-verbose-logging"`
	BufferSize            int             `yaml:"buffer-size"`
	RetryExhaustion       RetryExhaustion `yaml:"retry-exhaustion"`
	RetryCooldown         time.Duration   `yaml:"retry-cooldown"`
	ReconnectOnUnhealthy  bool            `yaml:"reconnect-on-unhealthy"`

	QueueSize        int           `yaml:"queue-size"`
	Consumers        int           `yaml:"consumers"`
	MaxMessageSize   int           `yaml:"max-message-size"`
	Framing          Framing       `yaml:"framing"`
	ReadPollInterval time.Duration `yaml:"read-poll-interval"`
	RequestTimeout   time.Duration `yaml:"request-timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown-timeout"`

	CircuitBreaker BreakerOptions `yaml:"circuit-breaker"`
	Health         HealthOptions  `yaml:"health"`

	// Clock is the time source; tests substitute a testclock.
	Clock clock.Clock `yaml:"-"`
	// Dialer opens sockets; defaults to a net.Dialer.
	Dialer Dialer `yaml:"-"`
}

// DefaultOptions returns the defaults for every option.
func DefaultOptions() Options {
	return Options{
		ConnectionTimeout:     5 * time.Second,
		MaxRetryAttempts:      3,
		HealthCheckInterval:   30 * time.Second,
		EnableAutoReconnect:   true,
		ReconnectDelay:        time.Second,
		MaxReconnectDelay:     30 * time.Second,
		UseExponentialBackoff: true,
		BufferSize:            1024,
		RetryExhaustion:       GiveUp,
		RetryCooldown:         time.Minute,

		QueueSize:        100,
		Consumers:        1,
		MaxMessageSize:   1 << 20,
		Framing:          FramingJSON,
		ReadPollInterval: time.Second,
		RequestTimeout:   30 * time.Second,
		ShutdownTimeout:  5 * time.Second,

		CircuitBreaker: DefaultBreakerOptions(),
		Health:         DefaultHealthOptions(),
	}
}

// DefaultBreakerOptions returns failureThreshold 5, openTimeout 60s and
// successThreshold 3.
func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
		SuccessThreshold: 3,
	}
}

// DefaultHealthOptions returns checkInterval 10s and healthyThreshold 30s.
func DefaultHealthOptions() HealthOptions {
	return HealthOptions{
		CheckInterval:    10 * time.Second,
		HealthyThreshold: 30 * time.Second,
	}
}

// Validate reports the first invalid setting.
func (o Options) Validate() error {
	switch {
	case o.ConnectionTimeout <= 0:
		return errors.NotValidf("connection timeout %v", o.ConnectionTimeout)
	case o.MaxRetryAttempts <= 0:
		return errors.NotValidf("max retry attempts %d", o.MaxRetryAttempts)
	case o.ReconnectDelay <= 0:
		return errors.NotValidf("reconnect delay %v", o.ReconnectDelay)
	case o.MaxReconnectDelay < o.ReconnectDelay:
		return errors.NotValidf("max reconnect delay %v below reconnect delay %v", o.MaxReconnectDelay, o.ReconnectDelay)
	case o.BufferSize <= 0:
		return errors.NotValidf("buffer size %d", o.BufferSize)
	case o.QueueSize <= 0:
		return errors.NotValidf("queue size %d", o.QueueSize)
	case o.Consumers <= 0:
		return errors.NotValidf("consumer count %d", o.Consumers)
	case o.ReadPollInterval <= 0:
		return errors.NotValidf("read poll interval %v", o.ReadPollInterval)
	case o.HealthCheckInterval <= 0:
		return errors.NotValidf("health check interval %v", o.HealthCheckInterval)
	case o.RequestTimeout < 0:
		return errors.NotValidf("request timeout %v", o.RequestTimeout)
	case o.Framing != FramingJSON && o.Framing != FramingLines:
		return errors.NotValidf("framing %q", o.Framing)
	case o.RetryExhaustion != GiveUp && o.RetryExhaustion != CoolDown:
		return errors.NotValidf("retry exhaustion policy %q", o.RetryExhaustion)
	case o.RetryExhaustion == CoolDown && o.RetryCooldown <= 0:
		return errors.NotValidf("retry cooldown %v", o.RetryCooldown)
	}
	if err := o.CircuitBreaker.Validate(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(o.Health.Validate())
}

// Validate reports the first invalid breaker setting.
func (o BreakerOptions) Validate() error {
	switch {
	case o.FailureThreshold <= 0:
		return errors.NotValidf("circuit breaker failure threshold %d", o.FailureThreshold)
	case o.SuccessThreshold <= 0:
		return errors.NotValidf("circuit breaker success threshold %d", o.SuccessThreshold)
	case o.OpenTimeout <= 0:
		return errors.NotValidf("circuit breaker open timeout %v", o.OpenTimeout)
	}
	return nil
}

// Validate reports the first invalid health setting.
func (o HealthOptions) Validate() error {
	switch {
	case o.CheckInterval <= 0:
		return errors.NotValidf("health check interval %v", o.CheckInterval)
	case o.HealthyThreshold <= 0:
		return errors.NotValidf("healthy threshold %v", o.HealthyThreshold)
	}
	return nil
}

// Backoff returns the reconnect delay policy. Without exponential backoff
// the multiplier is 1 and every wait is ReconnectDelay.
func (o Options) Backoff() backoff.Config {
	cfg := backoff.Config{
		BaseDelay:  o.ReconnectDelay,
		Multiplier: 1,
		MaxDelay:   o.MaxReconnectDelay,
	}
	if o.UseExponentialBackoff {
		cfg.Multiplier = 2
	}
	return cfg
}

func (o Options) clock() clock.Clock {
	if o.Clock == nil {
		return clock.WallClock
	}
	return o.Clock
}

func (o Options) dialer() Dialer {
	if o.Dialer == nil {
		return defaultDialer()
	}
	return o.Dialer
}

// ParseOptions decodes YAML over the defaults.
func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.Annotate(err, "parsing options")
	}
	if err := opts.Validate(); err != nil {
		return Options{}, errors.Trace(err)
	}
	return opts, nil
}

// LoadOptions reads and decodes a YAML options file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Annotatef(err, "reading options file %q", path)
	}
	return ParseOptions(data)
}

// Option configures Options.
type Option func(*Options)

// WithOptions replaces the whole configuration.
func WithOptions(o Options) Option {
	return func(opts *Options) { *opts = o }
}

// WithAutoReconnect enables or disables automatic reconnection.
func WithAutoReconnect(enabled bool) Option {
	return func(o *Options) { o.EnableAutoReconnect = enabled }
}

// WithRetry sets the attempt limit and the reconnect delay bounds.
func WithRetry(attempts int, delay, maxDelay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetryAttempts = attempts
		o.ReconnectDelay = delay
		o.MaxReconnectDelay = maxDelay
	}
}

// WithExponentialBackoff toggles doubling of the reconnect delay.
func WithExponentialBackoff(enabled bool) Option {
	return func(o *Options) { o.UseExponentialBackoff = enabled }
}

// WithRetryExhaustion sets the policy applied after the last failed attempt.
func WithRetryExhaustion(policy RetryExhaustion, cooldown time.Duration) Option {
	return func(o *Options) {
		o.RetryExhaustion = policy
		o.RetryCooldown = cooldown
	}
}

// WithCircuitBreaker sets the breaker thresholds.
func WithCircuitBreaker(b BreakerOptions) Option {
	return func(o *Options) { o.CircuitBreaker = b }
}

// WithHealth sets the health monitor intervals.
func WithHealth(h HealthOptions) Option {
	return func(o *Options) { o.Health = h }
}

// WithRequestTimeout bounds how long a call waits for its response.
// Zero disables the timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}

// WithFraming selects the message framing.
func WithFraming(f Framing) Option {
	return func(o *Options) { o.Framing = f }
}

// WithQueue sets the pipeline queue capacity and consumer count.
func WithQueue(size, consumers int) Option {
	return func(o *Options) {
		o.QueueSize = size
		o.Consumers = consumers
	}
}

// WithVerboseLogging logs every payload sent and received.
func WithVerboseLogging(enabled bool) Option {
	return func(o *Options) { o.EnableVerboseLogging = enabled }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithDialer sets the socket dialer.
func WithDialer(d Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}

func buildOptions(options []Option) (Options, error) {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, errors.Trace(err)
	}
	return opts, nil
}
