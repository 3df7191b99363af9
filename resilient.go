// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"
	"github.com/juju/worker/v4"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/backoff"
	"gopkg.in/tomb.v2"
)

var resilientLogger = loggo.GetLogger("snapcast.resilient")

// ResilientConnection presents the Transport contract over a socket that
// may be lost. At most one reconnection cycle runs at a time; the circuit
// breaker and health monitor outlive individual sockets.
type ResilientConnection struct {
	addr    string
	opts    Options
	clock   clock.Clock
	dialer  Dialer
	breaker *CircuitBreaker
	health  *HealthMonitor
	gate    *semaphore.Weighted
	unsubs  []func()

	// tomb owns background reconnection cycles. A keeper goroutine holds
	// it open until Close.
	tomb tomb.Tomb

	mu         sync.Mutex
	state      ConnectionState
	conn       *Connection
	connSubs   []func()
	closed     bool
	processing bool
	procCtx    context.Context

	stateChanges signal[StateChange]
	attempts     signal[ReconnectAttempt]
	messages     signal[[]byte]
	procErrors   signal[error]
}

// NewResilientConnection returns a Disconnected connection to addr. Call
// Connect, or let the first Send or Read trigger a connection.
func NewResilientConnection(addr string, options ...Option) (*ResilientConnection, error) {
	opts, err := buildOptions(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	clk := opts.clock()
	r := &ResilientConnection{
		addr:    addr,
		opts:    opts,
		clock:   clk,
		dialer:  opts.dialer(),
		breaker: NewCircuitBreaker(addr, opts.CircuitBreaker, clk),
		health:  NewHealthMonitor(addr, opts.Health, clk),
		gate:    semaphore.NewWeighted(1),
	}
	r.tomb.Go(func() error {
		<-r.tomb.Dying()
		return nil
	})
	r.unsubs = []func(){
		r.breaker.OnStateChange(r.onBreakerChange),
		r.health.OnHealthChange(r.onHealthChange),
	}
	recordConnectionState(addr, Disconnected)
	return r, nil
}

// Connect runs one connection cycle and returns its outcome. It fails with
// ErrReconnecting if a cycle is already running.
func (r *ResilientConnection) Connect(ctx context.Context) error {
	if _, err := r.current(); err != nil {
		return err
	}
	if !r.gate.TryAcquire(1) {
		return errors.Trace(ErrReconnecting)
	}
	err := r.connectCycle(ctx)
	r.gate.Release(1)

	if err != nil && ctx.Err() == nil && !errors.Is(err, ErrClosed) &&
		r.opts.EnableAutoReconnect && r.opts.RetryExhaustion == CoolDown {
		r.reconnect(true)
	}
	return err
}

// connectCycle makes up to MaxRetryAttempts attempts, or one attempt with
// auto-reconnect disabled. The caller holds the gate.
func (r *ResilientConnection) connectCycle(ctx context.Context) error {
	attempts := r.opts.MaxRetryAttempts
	if !r.opts.EnableAutoReconnect {
		attempts = 1
	}
	policy := r.opts.Backoff()

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return r.attempt(ctx)
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, ErrClosed)
		},
		NotifyFunc: func(err error, attempt int) {
			resilientLogger.Warningf("connection attempt %d/%d to %s failed: %v", attempt, attempts, r.addr, err)
			recordReconnectAttempt(r.addr)
			r.attempts.Notify(ReconnectAttempt{Attempt: attempt, Err: err})
			if attempt < attempts {
				r.setState(Reconnecting)
			}
		},
		Attempts:    attempts,
		Delay:       policy.BaseDelay,
		MaxDelay:    policy.MaxDelay,
		BackoffFunc: reconnectBackoff(policy),
		Clock:       r.clock,
		Stop:        ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err):
		r.setState(Failed)
		return errors.Annotatef(retry.LastError(err), "connecting to %s failed after %d attempt(s)", r.addr, attempts)
	case retry.IsRetryStopped(err):
		r.setStateIf(Disconnected, Reconnecting)
		return errors.Annotatef(ctx.Err(), "connecting to %s", r.addr)
	default:
		return errors.Trace(err)
	}
}

// reconnectBackoff returns the wait before the next attempt: BaseDelay
// first, then the previous wait times Multiplier, capped at MaxDelay.
func reconnectBackoff(policy backoff.Config) func(time.Duration, int) time.Duration {
	return func(delay time.Duration, attempt int) time.Duration {
		if attempt <= 1 {
			return policy.BaseDelay
		}
		next := time.Duration(float64(delay) * policy.Multiplier)
		if next > policy.MaxDelay {
			next = policy.MaxDelay
		}
		return next
	}
}

func (r *ResilientConnection) attempt(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	stale, staleSubs := r.conn, r.connSubs
	r.conn, r.connSubs = nil, nil
	r.mu.Unlock()

	r.setState(Connecting)
	if stale != nil {
		r.dispose(stale, staleSubs)
	}

	dctx, cancel := context.WithTimeout(ctx, r.opts.ConnectionTimeout)
	nc, err := r.dialer.DialContext(dctx, "tcp", r.addr)
	cancel()
	if err != nil {
		return errors.Annotatef(err, "dialing %s", r.addr)
	}

	conn := newConnection(nc, r.addr, r.opts, r.breaker, r.health)
	subs := []func(){
		conn.OnMessage(r.messages.Notify),
		conn.OnProcessingError(r.onProcessingError),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.dispose(conn, subs)
		return ErrClosed
	}
	r.conn, r.connSubs = conn, subs
	processing, pctx := r.processing, r.procCtx
	r.mu.Unlock()

	r.health.touch()
	if processing {
		if err := conn.StartMessageProcessing(pctx); err != nil {
			resilientLogger.Errorf("restarting message processing on %s: %v", r.addr, err)
		}
	}
	r.setState(Connected)
	return nil
}

// reconnect starts a background cycle unless one is running.
func (r *ResilientConnection) reconnect(coolDownFirst bool) {
	if !r.gate.TryAcquire(1) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.gate.Release(1)
		return
	}
	ctx := r.tomb.Context(nil)
	r.tomb.Go(func() error {
		defer r.gate.Release(1)
		r.runCycles(ctx, coolDownFirst)
		return nil
	})
}

func (r *ResilientConnection) runCycles(ctx context.Context, coolDownFirst bool) {
	for {
		if coolDownFirst {
			resilientLogger.Infof("retrying %s in %v", r.addr, r.opts.RetryCooldown)
			select {
			case <-ctx.Done():
				return
			case <-r.clock.After(r.opts.RetryCooldown):
			}
		}
		err := r.connectCycle(ctx)
		if err == nil || ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return
		}
		if r.opts.RetryExhaustion != CoolDown {
			resilientLogger.Errorf("giving up on %s: %v", r.addr, err)
			return
		}
		coolDownFirst = true
	}
}

func (r *ResilientConnection) dispose(conn *Connection, subs []func()) {
	for _, unsub := range subs {
		unsub()
	}
	if err := conn.Close(); err != nil {
		resilientLogger.Debugf("disposing stale connection to %s: %v", r.addr, err)
	}
}

func (r *ResilientConnection) current() (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.conn, nil
}

func (r *ResilientConnection) hasConn() bool {
	conn, err := r.current()
	return err == nil && conn != nil
}

// unavailable is the error for an operation arriving with no socket. With
// auto-reconnect it also starts a cycle.
func (r *ResilientConnection) unavailable() error {
	if !r.opts.EnableAutoReconnect {
		return errors.Trace(ErrNotConnected)
	}
	r.reconnect(false)
	return errors.Trace(ErrReconnecting)
}

// Send writes data on the current socket. It never waits for a
// reconnection: with no socket it fails at once with ErrReconnecting, or
// ErrNotConnected when auto-reconnect is disabled.
func (r *ResilientConnection) Send(ctx context.Context, data []byte) error {
	conn, err := r.current()
	if err != nil {
		return err
	}
	if conn == nil {
		return r.unavailable()
	}
	if err := conn.Send(ctx, data); err != nil {
		r.onIOError(err)
		return errors.Trace(err)
	}
	return nil
}

// Read returns the next message from the current socket. It returns nil,
// nil rather than an error while a reconnection is under way, and
// ErrClosed once closed.
func (r *ResilientConnection) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	conn, err := r.current()
	if err != nil {
		return nil, err
	}
	if conn == nil {
		if err := r.unavailable(); !errors.Is(err, ErrReconnecting) {
			return nil, err
		}
		return nil, nil
	}

	msg, err := conn.Read(ctx, timeout)
	switch {
	case err == nil:
		return msg, nil
	case errors.Is(err, ErrProcessingActive), ctx.Err() != nil:
		return nil, err
	case errors.Is(err, ErrClosed):
		// The socket was replaced or this connection closed under us.
		if _, cerr := r.current(); cerr != nil {
			return nil, cerr
		}
		return nil, nil
	}
	r.onIOError(err)
	if r.opts.EnableAutoReconnect && !errors.Is(err, ErrCircuitOpen) {
		return nil, nil
	}
	return nil, errors.Trace(err)
}

func (r *ResilientConnection) onIOError(err error) {
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if r.setStateIf(Degraded, Connected) {
		if isTransientError(err) {
			resilientLogger.Warningf("connection to %s degraded: %v", r.addr, err)
		} else {
			resilientLogger.Errorf("connection to %s degraded: %v", r.addr, err)
		}
	}
	if errors.Is(err, ErrCircuitOpen) || !r.opts.EnableAutoReconnect {
		return
	}
	r.reconnect(false)
}

func (r *ResilientConnection) onProcessingError(err error) {
	r.procErrors.Notify(err)
	r.onIOError(err)
}

func (r *ResilientConnection) onBreakerChange(change BreakerChange) {
	switch change.New {
	case BreakerOpen:
		r.setStateIf(Degraded, Connected)
	case BreakerClosed:
		if r.hasConn() && r.health.IsHealthy() {
			r.setStateIf(Connected, Degraded)
		}
	}
}

func (r *ResilientConnection) onHealthChange(healthy bool) {
	if healthy {
		if r.hasConn() && r.breaker.State() != BreakerOpen {
			r.setStateIf(Connected, Degraded)
		}
		return
	}
	r.setStateIf(Degraded, Connected)
	if r.opts.ReconnectOnUnhealthy && r.opts.EnableAutoReconnect && r.hasConn() {
		resilientLogger.Infof("reconnecting silent connection to %s", r.addr)
		r.reconnect(false)
	}
}

func (r *ResilientConnection) setState(to ConnectionState) {
	r.transition(to, func(ConnectionState) bool { return true })
}

// setStateIf moves to to only from the given state.
func (r *ResilientConnection) setStateIf(to, from ConnectionState) bool {
	return r.transition(to, func(s ConnectionState) bool { return s == from })
}

func (r *ResilientConnection) transition(to ConnectionState, allowed func(ConnectionState) bool) bool {
	r.mu.Lock()
	from := r.state
	if from == to || !allowed(from) {
		r.mu.Unlock()
		return false
	}
	r.state = to
	r.mu.Unlock()

	recordConnectionState(r.addr, to)
	resilientLogger.Debugf("%s: %s -> %s", r.addr, from, to)
	r.stateChanges.Notify(StateChange{Old: from, New: to})
	return true
}

// State returns the current connection state.
func (r *ResilientConnection) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Addr returns the server address.
func (r *ResilientConnection) Addr() string {
	return r.addr
}

// OnStateChange subscribes fn to state transitions.
func (r *ResilientConnection) OnStateChange(fn func(StateChange)) (unsubscribe func()) {
	return r.stateChanges.Subscribe(fn)
}

// OnReconnectAttempt subscribes fn to failed connection attempts.
func (r *ResilientConnection) OnReconnectAttempt(fn func(ReconnectAttempt)) (unsubscribe func()) {
	return r.attempts.Subscribe(fn)
}

// OnMessage subscribes fn to messages from whichever socket is current.
func (r *ResilientConnection) OnMessage(fn func(msg []byte)) (unsubscribe func()) {
	return r.messages.Subscribe(fn)
}

// OnProcessingError subscribes fn to read loop errors.
func (r *ResilientConnection) OnProcessingError(fn func(err error)) (unsubscribe func()) {
	return r.procErrors.Subscribe(fn)
}

// CircuitBreaker returns the breaker shared by every socket.
func (r *ResilientConnection) CircuitBreaker() *CircuitBreaker {
	return r.breaker
}

// HealthMonitor returns the monitor shared by every socket.
func (r *ResilientConnection) HealthMonitor() *HealthMonitor {
	return r.health
}

// StartMessageProcessing starts the pipeline on the current socket and on
// every socket opened later, until StopMessageProcessing.
func (r *ResilientConnection) StartMessageProcessing(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.processing, r.procCtx = true, ctx
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	return errors.Trace(conn.StartMessageProcessing(ctx))
}

// StopMessageProcessing stops the pipeline on the current socket.
func (r *ResilientConnection) StopMessageProcessing(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.processing, r.procCtx = false, nil
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.StopMessageProcessing(ctx); err != nil && !errors.Is(err, ErrClosed) {
		return errors.Trace(err)
	}
	return nil
}

// Diagnostics returns the state together with pipeline, breaker and
// health snapshots.
func (r *ResilientConnection) Diagnostics() Diagnostics {
	r.mu.Lock()
	state, conn := r.state, r.conn
	r.mu.Unlock()

	d := Diagnostics{
		State:   state,
		Breaker: r.breaker.Stats(),
		Health:  r.health.Stats(),
	}
	if conn != nil {
		d.Processing = conn.ProcessingStats()
	}
	d.IsHealthy = state == Connected && d.Breaker.State != BreakerOpen && d.Health.IsHealthy
	return d
}

// Close cancels any reconnection cycle, closes the socket and stops the
// health monitor. It is safe to call more than once.
func (r *ResilientConnection) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn, subs := r.conn, r.connSubs
	r.conn, r.connSubs = nil, nil
	r.mu.Unlock()

	r.tomb.Kill(nil)
	err := r.tomb.Wait()
	if conn != nil {
		r.dispose(conn, subs)
	}
	for _, unsub := range r.unsubs {
		unsub()
	}
	if herr := worker.Stop(r.health); err == nil {
		err = herr
	}
	r.setState(Disconnected)
	resilientLogger.Infof("closed connection to %s", r.addr)
	return errors.Trace(err)
}
