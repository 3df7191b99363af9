// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"
)

var healthLogger = loggo.GetLogger("snapcast.health")

var _ worker.Worker = (*HealthMonitor)(nil)

// HealthMonitor decides whether a connection is receiving traffic. Health
// is re-evaluated on each CheckInterval tick, never by RecordMessageReceived.
type HealthMonitor struct {
	name  string
	opts  HealthOptions
	clock clock.Clock
	tomb  tomb.Tomb

	mu              sync.Mutex
	started         time.Time
	lastMessage     time.Time
	healthy         bool
	healthyChecks   int64
	unhealthyChecks int64
	totalMessages   int64
	downtime        time.Duration
	downSince       time.Time

	changes signal[bool]
}

// HealthStats is a snapshot of a HealthMonitor.
type HealthStats struct {
	IsHealthy            bool
	LastMessageReceived  time.Time
	TimeSinceLastMessage time.Duration
	TotalMessages        int64
	HealthyChecks        int64
	UnhealthyChecks      int64
	TotalDowntime        time.Duration
	UptimePercent        float64
	MonitoringDuration   time.Duration
}

func (s HealthStats) String() string {
	return fmt.Sprintf("healthy: %t, uptime: %.1f%%, messages: %d, since last message: %.1fs, downtime: %.1fs",
		s.IsHealthy, s.UptimePercent, s.TotalMessages, s.TimeSinceLastMessage.Seconds(), s.TotalDowntime.Seconds())
}

// NewHealthMonitor starts a monitor that checks every opts.CheckInterval.
// Stop it with worker.Stop.
func NewHealthMonitor(name string, opts HealthOptions, clk clock.Clock) *HealthMonitor {
	if clk == nil {
		clk = clock.WallClock
	}
	now := clk.Now()
	h := &HealthMonitor{
		name:        name,
		opts:        opts,
		clock:       clk,
		started:     now,
		lastMessage: now,
		healthy:     true,
	}
	recordHealth(name, true)
	h.tomb.Go(h.loop)
	return h
}

func (h *HealthMonitor) loop() error {
	for {
		select {
		case <-h.tomb.Dying():
			return tomb.ErrDying
		case <-h.clock.After(h.opts.CheckInterval):
			h.Check()
		}
	}
}

// Kill is part of the worker.Worker interface.
func (h *HealthMonitor) Kill() {
	h.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (h *HealthMonitor) Wait() error {
	return h.tomb.Wait()
}

// OnHealthChange subscribes fn to health flips.
func (h *HealthMonitor) OnHealthChange(fn func(healthy bool)) (unsubscribe func()) {
	return h.changes.Subscribe(fn)
}

// RecordMessageReceived marks traffic on the connection.
func (h *HealthMonitor) RecordMessageReceived() {
	h.mu.Lock()
	h.lastMessage = h.clock.Now()
	h.totalMessages++
	h.mu.Unlock()
}

// touch restarts the silence window without counting a message, so a fresh
// socket is not judged on the previous one's silence.
func (h *HealthMonitor) touch() {
	h.mu.Lock()
	h.lastMessage = h.clock.Now()
	h.mu.Unlock()
}

// Check evaluates health now and returns the result. Subscribers are
// notified only when the result differs from the previous check.
func (h *HealthMonitor) Check() bool {
	h.mu.Lock()
	now := h.clock.Now()
	silence := now.Sub(h.lastMessage)
	healthy := silence <= h.opts.HealthyThreshold
	if healthy {
		h.healthyChecks++
	} else {
		h.unhealthyChecks++
	}
	changed := healthy != h.healthy
	if changed {
		if healthy {
			h.downtime += now.Sub(h.downSince)
			h.downSince = time.Time{}
		} else {
			h.downSince = now
		}
		h.healthy = healthy
	}
	h.mu.Unlock()

	if !changed {
		return healthy
	}
	if healthy {
		healthLogger.Infof("%s healthy again", h.name)
	} else {
		healthLogger.Warningf("%s unhealthy: no message for %v (threshold %v)", h.name, silence, h.opts.HealthyThreshold)
	}
	recordHealth(h.name, healthy)
	h.changes.Notify(healthy)
	return healthy
}

// IsHealthy returns the result of the last check.
func (h *HealthMonitor) IsHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// Stats returns a snapshot. Downtime includes the current unhealthy
// interval, and uptime is 100% before the first check.
func (h *HealthMonitor) Stats() HealthStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	downtime := h.downtime
	if !h.healthy {
		downtime += now.Sub(h.downSince)
	}
	uptime := 100.0
	if checks := h.healthyChecks + h.unhealthyChecks; checks > 0 {
		uptime = float64(h.healthyChecks) / float64(checks) * 100
	}
	return HealthStats{
		IsHealthy:            h.healthy,
		LastMessageReceived:  h.lastMessage,
		TimeSinceLastMessage: now.Sub(h.lastMessage),
		TotalMessages:        h.totalMessages,
		HealthyChecks:        h.healthyChecks,
		UnhealthyChecks:      h.unhealthyChecks,
		TotalDowntime:        downtime,
		UptimePercent:        uptime,
		MonitoringDuration:   now.Sub(h.started),
	}
}

// Reset clears all counters and marks the connection healthy.
func (h *HealthMonitor) Reset() {
	h.mu.Lock()
	now := h.clock.Now()
	wasHealthy := h.healthy
	h.started = now
	h.lastMessage = now
	h.healthy = true
	h.healthyChecks = 0
	h.unhealthyChecks = 0
	h.totalMessages = 0
	h.downtime = 0
	h.downSince = time.Time{}
	h.mu.Unlock()

	healthLogger.Debugf("%s health statistics reset", h.name)
	if !wasHealthy {
		recordHealth(h.name, true)
		h.changes.Notify(true)
	}
}
