// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"
)

// pipeline is one run of message processing: a producer that is the only
// reader of the socket, consumers draining a bounded queue, and a liveness
// task. A full queue blocks the producer and so the socket reads.
type pipeline struct {
	tomb  *tomb.Tomb
	queue chan []byte

	queued      atomic.Int64
	lastMessage atomic.Int64
	alive       atomic.Bool
}

// ProcessingStats describes the message pipeline.
type ProcessingStats struct {
	IsProcessing    bool
	LastMessageTime time.Time
	IsHealthy       bool
	QueuedMessages  int
}

// Diagnostics is a combined snapshot of a transport. IsHealthy is false
// when disconnected, when the circuit is open or when the health monitor
// reports silence.
type Diagnostics struct {
	State      ConnectionState
	Processing ProcessingStats
	Breaker    BreakerStats
	Health     HealthStats
	IsHealthy  bool
}

// StartMessageProcessing starts the pipeline. It is a no-op if the pipeline
// is already running.
func (c *Connection) StartMessageProcessing(ctx context.Context) error {
	c.pmu.Lock()
	defer c.pmu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if c.pipeline != nil && c.pipeline.tomb.Alive() {
		return nil
	}

	t, pctx := tomb.WithContext(ctx)
	p := &pipeline{
		tomb:  t,
		queue: make(chan []byte, c.opts.QueueSize),
	}
	p.lastMessage.Store(c.clock.Now().UnixNano())
	p.alive.Store(true)
	c.pipeline = p

	for i := 0; i < c.opts.Consumers; i++ {
		p.tomb.Go(func() error { return c.consume(p) })
	}
	p.tomb.Go(func() error { return c.watchLiveness(p) })
	p.tomb.Go(func() error { return c.produce(pctx, p) })

	connLogger.Debugf("message processing started for %s with %d consumer(s)", c.endpoint, c.opts.Consumers)
	return nil
}

// StopMessageProcessing stops the pipeline and waits for all of its tasks.
// No message is delivered once it returns.
func (c *Connection) StopMessageProcessing(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.stopProcessing(ctx)
}

func (c *Connection) stopProcessing(ctx context.Context) error {
	c.pmu.Lock()
	p := c.pipeline
	c.pipeline = nil
	c.pmu.Unlock()
	if p == nil {
		return nil
	}

	p.tomb.Kill(nil)
	select {
	case <-p.tomb.Dead():
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "waiting for message processing on %s", c.endpoint)
	}
	if n := p.queued.Swap(0); n > 0 {
		messageQueueDepth.WithLabelValues(c.endpoint).Sub(float64(n))
		connLogger.Debugf("discarded %d queued message(s) for %s", n, c.endpoint)
	}
	connLogger.Debugf("message processing stopped for %s", c.endpoint)

	err := p.tomb.Err()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return errors.Trace(err)
}

func (c *Connection) isProcessing() bool {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	return c.pipeline != nil && c.pipeline.tomb.Alive()
}

func (c *Connection) produce(ctx context.Context, p *pipeline) error {
	for {
		msg, err := c.readMessage(ctx, c.opts.ReadPollInterval)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrCircuitOpen):
			c.procErrors.Notify(err)
			select {
			case <-p.tomb.Dying():
				return nil
			case <-c.clock.After(c.opts.ReadPollInterval):
			}
			continue
		default:
			connLogger.Warningf("read loop for %s stopped: %v", c.endpoint, err)
			c.procErrors.Notify(err)
			return errors.Trace(err)
		}
		if msg == nil {
			continue
		}

		p.lastMessage.Store(c.clock.Now().UnixNano())
		select {
		case p.queue <- msg:
			p.queued.Add(1)
			messageQueueDepth.WithLabelValues(c.endpoint).Inc()
		case <-p.tomb.Dying():
			return nil
		}
	}
}

func (c *Connection) consume(p *pipeline) error {
	for {
		select {
		case <-p.tomb.Dying():
			return nil
		case msg := <-p.queue:
			p.queued.Add(-1)
			messageQueueDepth.WithLabelValues(c.endpoint).Dec()
			if !p.tomb.Alive() {
				return nil
			}
			c.messages.Notify(msg)
		}
	}
}

// watchLiveness tracks whether the producer has queued anything within the
// healthy threshold. It is independent of the HealthMonitor.
func (c *Connection) watchLiveness(p *pipeline) error {
	for {
		select {
		case <-p.tomb.Dying():
			return nil
		case <-c.clock.After(c.opts.HealthCheckInterval):
			last := time.Unix(0, p.lastMessage.Load())
			alive := c.clock.Now().Sub(last) <= c.opts.Health.HealthyThreshold
			if p.alive.Swap(alive) != alive {
				connLogger.Debugf("message flow on %s alive: %t", c.endpoint, alive)
			}
		}
	}
}

// ProcessingStats returns a snapshot of the pipeline.
func (c *Connection) ProcessingStats() ProcessingStats {
	c.pmu.Lock()
	p := c.pipeline
	c.pmu.Unlock()
	if p == nil {
		return ProcessingStats{}
	}
	return ProcessingStats{
		IsProcessing:    p.tomb.Alive(),
		LastMessageTime: time.Unix(0, p.lastMessage.Load()),
		IsHealthy:       p.alive.Load(),
		QueuedMessages:  int(p.queued.Load()),
	}
}

// Diagnostics returns the pipeline, breaker and health snapshots.
func (c *Connection) Diagnostics() Diagnostics {
	d := Diagnostics{
		State:      Connected,
		Processing: c.ProcessingStats(),
		Breaker:    c.breaker.Stats(),
		Health:     c.health.Stats(),
	}
	if c.closed.Load() {
		d.State = Disconnected
	}
	d.IsHealthy = d.State == Connected && d.Breaker.State != BreakerOpen && d.Health.IsHealthy
	return d
}
