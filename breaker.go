// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var breakerLogger = loggo.GetLogger("snapcast.breaker")

// errNoOutcome is returned by an operation that neither succeeded nor
// failed, such as a read that timed out on an idle socket. Execute leaves
// the counters untouched and returns nil.
const errNoOutcome = errors.ConstError("no outcome")

// CircuitBreaker stops running an operation after FailureThreshold
// consecutive failures and lets a trial call through once OpenTimeout has
// elapsed. Counters are reset on every state transition.
type CircuitBreaker struct {
	name  string
	opts  BreakerOptions
	clock clock.Clock

	mu              sync.Mutex
	state           BreakerState
	failures        int
	successes       int
	tripFailures    int
	lastFailure     time.Time
	lastStateChange time.Time

	changes signal[BreakerChange]
}

// BreakerStats is a snapshot of a CircuitBreaker. TripFailures is the
// consecutive failure count that last opened the circuit.
type BreakerStats struct {
	State                BreakerState
	FailureCount         int
	SuccessCount         int
	TripFailures         int
	LastFailureTime      time.Time
	LastStateChangeTime  time.Time
	TimeSinceLastFailure time.Duration
	TimeInCurrentState   time.Duration
}

func (s BreakerStats) String() string {
	return fmt.Sprintf("state: %s, failures: %d, successes: %d, time in state: %.1fs, since last failure: %.1fs",
		s.State, s.FailureCount, s.SuccessCount, s.TimeInCurrentState.Seconds(), s.TimeSinceLastFailure.Seconds())
}

// NewCircuitBreaker returns a closed breaker. A nil clock uses the wall clock.
func NewCircuitBreaker(name string, opts BreakerOptions, clk clock.Clock) *CircuitBreaker {
	if clk == nil {
		clk = clock.WallClock
	}
	b := &CircuitBreaker{
		name:            name,
		opts:            opts,
		clock:           clk,
		lastStateChange: clk.Now(),
	}
	breakerStateGauge.WithLabelValues(name).Set(float64(BreakerClosed))
	breakerLogger.Debugf("circuit breaker %q: failure threshold %d, open timeout %v", name, opts.FailureThreshold, opts.OpenTimeout)
	return b
}

// Execute runs op unless the circuit is open. The lock is not held while
// op runs. A rejected call returns a *CircuitOpenError.
func (b *CircuitBreaker) Execute(op func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	if err := op(); err != nil {
		if errors.Is(err, errNoOutcome) {
			return nil
		}
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

// OnStateChange subscribes fn to state transitions.
func (b *CircuitBreaker) OnStateChange(fn func(BreakerChange)) (unsubscribe func()) {
	return b.changes.Subscribe(fn)
}

// State returns the current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a point-in-time snapshot.
func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *CircuitBreaker) statsLocked() BreakerStats {
	now := b.clock.Now()
	stats := BreakerStats{
		State:               b.state,
		FailureCount:        b.failures,
		SuccessCount:        b.successes,
		TripFailures:        b.tripFailures,
		LastFailureTime:     b.lastFailure,
		LastStateChangeTime: b.lastStateChange,
		TimeInCurrentState:  now.Sub(b.lastStateChange),
	}
	if !b.lastFailure.IsZero() {
		stats.TimeSinceLastFailure = now.Sub(b.lastFailure)
	}
	return stats
}

// Reset forces the breaker closed with zero counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	old := b.state
	b.transitionLocked(BreakerClosed)
	b.tripFailures = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()

	breakerLogger.Infof("circuit breaker %q reset", b.name)
	b.notify(old, BreakerClosed)
}

func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if b.clock.Now().Sub(b.lastStateChange) < b.opts.OpenTimeout {
			stats := b.statsLocked()
			b.mu.Unlock()

			breakerRejections.WithLabelValues(b.name).Inc()
			breakerLogger.Debugf("circuit breaker %q rejected call: %v", b.name, stats)
			return &CircuitOpenError{
				Failures: stats.TripFailures,
				OpenFor:  stats.TimeInCurrentState,
			}
		}
		b.transitionLocked(BreakerHalfOpen)
		b.mu.Unlock()

		breakerLogger.Infof("circuit breaker %q half-open, allowing trial call", b.name)
		b.notify(BreakerOpen, BreakerHalfOpen)
		return nil
	default:
		b.mu.Unlock()
		return nil
	}
}

func (b *CircuitBreaker) onSuccess() {
	b.mu.Lock()
	switch b.state {
	case BreakerClosed:
		b.failures = 0
		b.mu.Unlock()
	case BreakerHalfOpen:
		b.successes++
		if b.successes < b.opts.SuccessThreshold {
			b.mu.Unlock()
			return
		}
		b.transitionLocked(BreakerClosed)
		b.mu.Unlock()

		breakerLogger.Infof("circuit breaker %q closed", b.name)
		b.notify(BreakerHalfOpen, BreakerClosed)
	default:
		b.mu.Unlock()
	}
}

func (b *CircuitBreaker) onFailure(err error) {
	b.mu.Lock()
	b.lastFailure = b.clock.Now()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures < b.opts.FailureThreshold {
			failures := b.failures
			b.mu.Unlock()
			breakerLogger.Debugf("circuit breaker %q: failure %d/%d: %v", b.name, failures, b.opts.FailureThreshold, err)
			return
		}
		b.tripFailures = b.failures
		b.transitionLocked(BreakerOpen)
		b.mu.Unlock()

		breakerLogger.Warningf("circuit breaker %q opened after %d consecutive failures, retry after %v: %v",
			b.name, b.opts.FailureThreshold, b.opts.OpenTimeout, err)
		b.notify(BreakerClosed, BreakerOpen)
	case BreakerHalfOpen:
		b.tripFailures = 1
		b.transitionLocked(BreakerOpen)
		b.mu.Unlock()

		breakerLogger.Warningf("circuit breaker %q reopened, trial call failed: %v", b.name, err)
		b.notify(BreakerHalfOpen, BreakerOpen)
	default:
		b.mu.Unlock()
	}
}

func (b *CircuitBreaker) transitionLocked(to BreakerState) {
	b.state = to
	b.failures = 0
	b.successes = 0
	b.lastStateChange = b.clock.Now()
}

func (b *CircuitBreaker) notify(from, to BreakerState) {
	if from == to {
		return
	}
	breakerStateGauge.WithLabelValues(b.name).Set(float64(to))
	b.changes.Notify(BreakerChange{Old: from, New: to})
}
