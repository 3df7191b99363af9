// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"fmt"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/juju/errors"
)

const (
	// ErrClosed is returned by any operation on a connection or client
	// that has been closed.
	ErrClosed = errors.ConstError("snapcast: closed")

	// ErrNotConnected is returned by Send when no socket is available and
	// auto-reconnect is disabled.
	ErrNotConnected = errors.ConstError("snapcast: not connected")

	// ErrReconnecting is returned by Send when no socket is available and
	// a reconnection cycle is running.
	ErrReconnecting = errors.ConstError("snapcast: connection unavailable, reconnecting")

	// ErrCircuitOpen is the cause of every CircuitOpenError.
	ErrCircuitOpen = errors.ConstError("snapcast: circuit breaker is open")

	// ErrRequestTimeout is delivered to a pending call whose response did
	// not arrive within the request timeout.
	ErrRequestTimeout = errors.ConstError("snapcast: request timed out")

	// ErrMessageTooLarge is returned when an unterminated message grows
	// beyond the configured maximum size.
	ErrMessageTooLarge = errors.ConstError("snapcast: message exceeds maximum size")

	// ErrRemoteClosed is returned when the server closes the stream.
	ErrRemoteClosed = errors.ConstError("snapcast: connection closed by remote")

	// ErrProcessingActive is returned by Read while the message pipeline
	// owns the socket.
	ErrProcessingActive = errors.ConstError("snapcast: message processing is active")
)

// RPCError is an error reported by the server in a response's error member.
type RPCError = json2.Error

// CircuitOpenError is returned when the circuit breaker rejects an operation
// without running it.
type CircuitOpenError struct {
	Failures int
	OpenFor  time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s (failures: %d, open for %.1fs)", ErrCircuitOpen, e.Failures, e.OpenFor.Seconds())
}

// Is reports ErrCircuitOpen as the cause of e.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// IsRPCError reports whether err carries a server-reported error and
// returns it.
func IsRPCError(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
