// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail() error    { return errBoom }
func succeed() error { return nil }

func newTestBreaker(t *testing.T, name string) (*CircuitBreaker, *testclock.Clock, *[]BreakerChange) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewCircuitBreaker(name, BreakerOptions{
		FailureThreshold: 3,
		OpenTimeout:      10 * time.Second,
		SuccessThreshold: 2,
	}, clk)
	var changes []BreakerChange
	b.OnStateChange(func(ch BreakerChange) { changes = append(changes, ch) })
	return b, clk, &changes
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _, changes := newTestBreaker(t, t.Name())

	require.ErrorIs(t, b.Execute(fail), errBoom)
	require.ErrorIs(t, b.Execute(fail), errBoom)
	require.Equal(t, BreakerClosed, b.State())
	require.Equal(t, 2, b.Stats().FailureCount)

	require.ErrorIs(t, b.Execute(fail), errBoom)
	require.Equal(t, BreakerOpen, b.State())
	require.Equal(t, []BreakerChange{{Old: BreakerClosed, New: BreakerOpen}}, *changes)
	require.Equal(t, 3, b.Stats().TripFailures)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _, _ := newTestBreaker(t, t.Name())

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	require.NoError(t, b.Execute(succeed))
	require.Zero(t, b.Stats().FailureCount)

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	require.Equal(t, BreakerClosed, b.State())
}

func TestBreakerNoOutcomeLeavesCounters(t *testing.T) {
	b, _, changes := newTestBreaker(t, t.Name())
	idle := func() error { return errNoOutcome }

	require.ErrorIs(t, b.Execute(fail), errBoom)
	require.NoError(t, b.Execute(idle))
	require.ErrorIs(t, b.Execute(fail), errBoom)
	require.NoError(t, b.Execute(idle))
	require.Equal(t, 2, b.Stats().FailureCount)

	require.ErrorIs(t, b.Execute(fail), errBoom)
	require.Equal(t, BreakerOpen, b.State())
	require.Equal(t, []BreakerChange{{Old: BreakerClosed, New: BreakerOpen}}, *changes)
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b, clk, _ := newTestBreaker(t, t.Name())
	for i := 0; i < 3; i++ {
		_ = b.Execute(fail)
	}

	ran := false
	clk.Advance(4 * time.Second)
	err := b.Execute(func() error {
		ran = true
		return nil
	})
	require.False(t, ran)
	require.True(t, errors.Is(err, ErrCircuitOpen), "got %v", err)

	var openErr *CircuitOpenError
	require.True(t, errors.As(err, &openErr))
	require.Equal(t, 3, openErr.Failures)
	require.Equal(t, 4*time.Second, openErr.OpenFor)
	require.Equal(t, float64(1), testutil.ToFloat64(breakerRejections.WithLabelValues(t.Name())))
}

func TestBreakerHalfOpenCloses(t *testing.T) {
	b, clk, changes := newTestBreaker(t, t.Name())
	for i := 0; i < 3; i++ {
		_ = b.Execute(fail)
	}
	clk.Advance(10 * time.Second)

	require.NoError(t, b.Execute(succeed))
	require.Equal(t, BreakerHalfOpen, b.State())
	require.NoError(t, b.Execute(succeed))
	require.Equal(t, BreakerClosed, b.State())

	require.Equal(t, []BreakerChange{
		{Old: BreakerClosed, New: BreakerOpen},
		{Old: BreakerOpen, New: BreakerHalfOpen},
		{Old: BreakerHalfOpen, New: BreakerClosed},
	}, *changes)
	require.Equal(t, float64(BreakerClosed), testutil.ToFloat64(breakerStateGauge.WithLabelValues(t.Name())))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clk, changes := newTestBreaker(t, t.Name())
	for i := 0; i < 3; i++ {
		_ = b.Execute(fail)
	}
	clk.Advance(11 * time.Second)

	require.NoError(t, b.Execute(succeed))
	require.ErrorIs(t, b.Execute(fail), errBoom)
	require.Equal(t, BreakerOpen, b.State())
	require.Equal(t, BreakerChange{Old: BreakerHalfOpen, New: BreakerOpen}, (*changes)[len(*changes)-1])

	// The open timeout restarts from the reopening.
	clk.Advance(5 * time.Second)
	require.True(t, errors.Is(b.Execute(succeed), ErrCircuitOpen))
	require.Equal(t, 1, b.Stats().TripFailures)
}

func TestBreakerReset(t *testing.T) {
	b, clk, changes := newTestBreaker(t, t.Name())
	for i := 0; i < 3; i++ {
		_ = b.Execute(fail)
	}
	clk.Advance(time.Second)

	b.Reset()
	stats := b.Stats()
	require.Equal(t, BreakerClosed, stats.State)
	require.Zero(t, stats.FailureCount)
	require.Zero(t, stats.TripFailures)
	require.True(t, stats.LastFailureTime.IsZero())
	require.Zero(t, stats.TimeSinceLastFailure)
	require.Equal(t, BreakerChange{Old: BreakerOpen, New: BreakerClosed}, (*changes)[len(*changes)-1])

	// Resetting a closed breaker is silent.
	n := len(*changes)
	b.Reset()
	require.Len(t, *changes, n)
	require.NoError(t, b.Execute(succeed))
}

func TestBreakerStats(t *testing.T) {
	b, clk, _ := newTestBreaker(t, t.Name())
	_ = b.Execute(fail)
	clk.Advance(3 * time.Second)

	stats := b.Stats()
	require.Equal(t, 1, stats.FailureCount)
	require.Equal(t, 3*time.Second, stats.TimeSinceLastFailure)
	require.Equal(t, 3*time.Second, stats.TimeInCurrentState)
	require.Contains(t, stats.String(), "state: closed")
}

func TestBreakerUnsubscribe(t *testing.T) {
	b, _, _ := newTestBreaker(t, t.Name())
	calls := 0
	unsubscribe := b.OnStateChange(func(BreakerChange) { calls++ })
	unsubscribe()
	unsubscribe()

	for i := 0; i < 3; i++ {
		_ = b.Execute(fail)
	}
	require.Zero(t, calls)
}
