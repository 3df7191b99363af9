// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

// ConnectionState is the lifecycle state of a ResilientConnection.
type ConnectionState int

const (
	// Disconnected: no socket and no attempt in progress.
	Disconnected ConnectionState = iota
	// Connecting: a dial is in flight.
	Connecting
	// Connected: the socket is up.
	Connected
	// Degraded: the socket is up but an I/O error, an open circuit or a
	// silent connection has been observed.
	Degraded
	// Reconnecting: waiting between connection attempts.
	Reconnecting
	// Failed: all attempts of the last cycle failed.
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChange is delivered to connection state subscribers.
type StateChange struct {
	Old, New ConnectionState
}

// ReconnectAttempt is delivered after every failed connection attempt.
type ReconnectAttempt struct {
	Attempt int
	Err     error
}

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerChange is delivered to circuit breaker state subscribers.
type BreakerChange struct {
	Old, New BreakerState
}
