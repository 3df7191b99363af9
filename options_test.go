// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsAreValid(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
	require.Equal(t, 5*time.Second, opts.ConnectionTimeout)
	require.Equal(t, 3, opts.MaxRetryAttempts)
	require.True(t, opts.EnableAutoReconnect)
	require.Equal(t, 5, opts.CircuitBreaker.FailureThreshold)
	require.Equal(t, 60*time.Second, opts.CircuitBreaker.OpenTimeout)
	require.Equal(t, 3, opts.CircuitBreaker.SuccessThreshold)
	require.Equal(t, 10*time.Second, opts.Health.CheckInterval)
	require.Equal(t, 30*time.Second, opts.Health.HealthyThreshold)
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions([]byte(`
connection-timeout: 2s
max-retry-attempts: 7
enable-auto-reconnect: false
reconnect-delay: 250ms
max-reconnect-delay: 4s
retry-exhaustion: cool-down
retry-cooldown: 90s
framing: lines
circuit-breaker:
  failure-threshold: 2
  open-timeout: 15s
  success-threshold: 1
health:
  healthy-threshold: 45s
`))
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, opts.ConnectionTimeout)
	require.Equal(t, 7, opts.MaxRetryAttempts)
	require.False(t, opts.EnableAutoReconnect)
	require.Equal(t, 250*time.Millisecond, opts.ReconnectDelay)
	require.Equal(t, CoolDown, opts.RetryExhaustion)
	require.Equal(t, 90*time.Second, opts.RetryCooldown)
	require.Equal(t, FramingLines, opts.Framing)
	require.Equal(t, BreakerOptions{FailureThreshold: 2, OpenTimeout: 15 * time.Second, SuccessThreshold: 1}, opts.CircuitBreaker)
	require.Equal(t, 45*time.Second, opts.Health.HealthyThreshold)

	// Unset keys keep their defaults.
	require.Equal(t, 10*time.Second, opts.Health.CheckInterval)
	require.Equal(t, 1024, opts.BufferSize)
}

func TestParseOptionsRejectsInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"zero timeout", "connection-timeout: 0s"},
		{"no attempts", "max-retry-attempts: 0"},
		{"max below base delay", "reconnect-delay: 5s\nmax-reconnect-delay: 1s"},
		{"unknown framing", "framing: xml"},
		{"unknown exhaustion policy", "retry-exhaustion: forever"},
		{"breaker threshold", "circuit-breaker:\n  failure-threshold: 0"},
		{"health threshold", "health:\n  healthy-threshold: -1s"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseOptions([]byte(tc.yaml))
			require.Error(t, err)
			require.True(t, errors.Is(err, errors.NotValid), "got %v", err)
		})
	}
}

func TestParseOptionsMalformed(t *testing.T) {
	_, err := ParseOptions([]byte("connection-timeout: [not a duration"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "parsing options")
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max-retry-attempts: 9\n"), 0o600))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	require.Equal(t, 9, opts.MaxRetryAttempts)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestOptionFunctions(t *testing.T) {
	opts, err := buildOptions([]Option{
		WithAutoReconnect(false),
		WithRetry(4, time.Second, 8*time.Second),
		WithExponentialBackoff(false),
		WithRequestTimeout(0),
		WithQueue(10, 2),
	})
	require.NoError(t, err)
	require.False(t, opts.EnableAutoReconnect)
	require.Equal(t, 4, opts.MaxRetryAttempts)
	require.Zero(t, opts.RequestTimeout)
	require.Equal(t, 2, opts.Consumers)

	_, err = buildOptions([]Option{WithQueue(0, 1)})
	require.True(t, errors.Is(err, errors.NotValid))
}

func TestBackoffPolicy(t *testing.T) {
	opts := DefaultOptions()
	opts.ReconnectDelay = time.Second
	opts.MaxReconnectDelay = 5 * time.Second

	next := reconnectBackoff(opts.Backoff())
	delay := next(0, 1)
	require.Equal(t, time.Second, delay)
	var got []time.Duration
	for attempt := 2; attempt <= 5; attempt++ {
		delay = next(delay, attempt)
		got = append(got, delay)
	}
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)

	opts.UseExponentialBackoff = false
	next = reconnectBackoff(opts.Backoff())
	require.Equal(t, time.Second, next(time.Second, 3))
}
