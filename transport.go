// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"context"
	"io"
	"net"
	"time"
)

// Transport is a message-oriented connection to a server. Both
// *Connection and *ResilientConnection implement it.
type Transport interface {
	io.Closer

	// Send writes one message followed by a newline.
	Send(ctx context.Context, data []byte) error

	// Read returns the next framed message, or nil if none arrived within
	// timeout. It fails with ErrProcessingActive while message processing
	// is running.
	Read(ctx context.Context, timeout time.Duration) ([]byte, error)

	// StartMessageProcessing starts delivering messages to OnMessage
	// subscribers until ctx is done or StopMessageProcessing is called.
	StartMessageProcessing(ctx context.Context) error

	// StopMessageProcessing stops delivery and waits for the background
	// tasks to exit.
	StopMessageProcessing(ctx context.Context) error

	OnMessage(fn func(msg []byte)) (unsubscribe func())
	OnProcessingError(fn func(err error)) (unsubscribe func())

	Diagnostics() Diagnostics
}

// Dialer opens stream sockets. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

func defaultDialer() Dialer {
	return &net.Dialer{KeepAlive: 30 * time.Second}
}

var (
	_ Transport = (*Connection)(nil)
	_ Transport = (*ResilientConnection)(nil)
)
