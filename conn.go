// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
)

var connLogger = loggo.GetLogger("snapcast.conn")

// aLongTimeAgo is a read deadline that unblocks a pending Read at once.
var aLongTimeAgo = time.Unix(1, 0)

// Connection owns one socket. Reads pass through a Framer and every socket
// operation runs under the circuit breaker. The zero value is not usable;
// see DialConnection.
type Connection struct {
	endpoint   string
	opts       Options
	clock      clock.Clock
	conn       net.Conn
	breaker    *CircuitBreaker
	health     *HealthMonitor
	ownsHealth bool

	writeMu sync.Mutex

	readMu sync.Mutex
	framer *Framer
	buf    []byte

	closed atomic.Bool

	pmu      sync.Mutex
	pipeline *pipeline

	messages   signal[[]byte]
	procErrors signal[error]
}

// DialConnection connects to addr with its own circuit breaker and health
// monitor.
func DialConnection(ctx context.Context, addr string, options ...Option) (*Connection, error) {
	opts, err := buildOptions(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	dctx, cancel := context.WithTimeout(ctx, opts.ConnectionTimeout)
	defer cancel()

	nc, err := opts.dialer().DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "dialing %s", addr)
	}
	breaker := NewCircuitBreaker(addr, opts.CircuitBreaker, opts.clock())
	health := NewHealthMonitor(addr, opts.Health, opts.clock())
	c := newConnection(nc, addr, opts, breaker, health)
	c.ownsHealth = true
	return c, nil
}

func newConnection(nc net.Conn, endpoint string, opts Options, breaker *CircuitBreaker, health *HealthMonitor) *Connection {
	connLogger.Infof("connected to %s", endpoint)
	return &Connection{
		endpoint: endpoint,
		opts:     opts,
		clock:    opts.clock(),
		conn:     nc,
		breaker:  breaker,
		health:   health,
		framer:   NewFramer(opts.Framing, opts.MaxMessageSize),
		buf:      make([]byte, opts.BufferSize),
	}
}

// Send writes data and a trailing newline. Without a deadline on ctx the
// write is bounded by ConnectionTimeout.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, data...)
	payload = append(payload, '\n')

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.ConnectionTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := c.breaker.Execute(func() error {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return errors.Annotate(err, "setting write deadline")
		}
		_, err := c.conn.Write(payload)
		return errors.Annotatef(err, "writing to %s", c.endpoint)
	})
	if err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return err
	}
	if c.opts.EnableVerboseLogging {
		connLogger.Debugf("sent to %s: %s", c.endpoint, data)
	}
	return nil
}

// Read returns the next framed message, or nil, nil if none completed
// within timeout. A timeout counts as neither a breaker success nor a
// failure.
func (c *Connection) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.isProcessing() {
		return nil, ErrProcessingActive
	}
	return c.readMessage(ctx, timeout)
}

func (c *Connection) readMessage(ctx context.Context, timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		msg, err := c.framer.Next()
		if err != nil {
			c.framer.Reset()
			return nil, errors.Trace(err)
		}
		if msg != nil {
			c.received(msg)
			return msg, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		n, err := c.fill(ctx, deadline)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
	}
}

// fill performs one socket read into the framer. It returns 0, nil when
// the deadline passes without data.
func (c *Connection) fill(ctx context.Context, deadline time.Time) (int, error) {
	var n int
	err := c.breaker.Execute(func() error {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return errors.Annotate(err, "setting read deadline")
		}
		stop := context.AfterFunc(ctx, func() {
			_ = c.conn.SetReadDeadline(aLongTimeAgo)
		})
		defer stop()

		var err error
		n, err = c.conn.Read(c.buf)
		switch {
		case n > 0:
			return nil
		case err == nil, errors.Is(err, io.EOF):
			return ErrRemoteClosed
		case isTimeout(err):
			return errNoOutcome
		default:
			return errors.Annotatef(err, "reading from %s", c.endpoint)
		}
	})
	if n > 0 {
		_, _ = c.framer.Write(c.buf[:n])
	}
	switch {
	case err != nil && c.closed.Load():
		return 0, ErrClosed
	case err != nil:
		return 0, err
	case n == 0 && ctx.Err() != nil:
		return 0, errors.Trace(ctx.Err())
	}
	return n, nil
}

func (c *Connection) received(msg []byte) {
	messagesReceivedTotal.WithLabelValues(c.endpoint).Inc()
	c.health.RecordMessageReceived()
	if c.opts.EnableVerboseLogging {
		connLogger.Debugf("received from %s: %s", c.endpoint, msg)
	}
}

// OnMessage subscribes fn to messages delivered by the pipeline.
func (c *Connection) OnMessage(fn func(msg []byte)) (unsubscribe func()) {
	return c.messages.Subscribe(fn)
}

// OnProcessingError subscribes fn to errors seen by the pipeline's read loop.
func (c *Connection) OnProcessingError(fn func(err error)) (unsubscribe func()) {
	return c.procErrors.Subscribe(fn)
}

// CircuitBreaker returns the breaker guarding this connection.
func (c *Connection) CircuitBreaker() *CircuitBreaker {
	return c.breaker
}

// HealthMonitor returns the monitor fed by this connection.
func (c *Connection) HealthMonitor() *HealthMonitor {
	return c.health
}

// Close stops message processing, waiting up to ShutdownTimeout, then
// closes the socket. It is safe to call more than once.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
	defer cancel()
	if err := c.stopProcessing(ctx); err != nil {
		connLogger.Warningf("stopping message processing for %s: %v", c.endpoint, err)
	}

	err := c.conn.Close()
	if c.ownsHealth {
		_ = worker.Stop(c.health)
	}
	connLogger.Infof("closed connection to %s", c.endpoint)
	return errors.Annotatef(err, "closing connection to %s", c.endpoint)
}
