// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"context"

	"github.com/juju/errors"
)

// Dial connects a resilient transport to addr and returns a client that
// owns it. The initial connection cycle must succeed.
func Dial(ctx context.Context, addr string, options ...Option) (*Client, error) {
	rc, err := NewResilientConnection(addr, options...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := rc.Connect(ctx); err != nil {
		_ = rc.Close()
		return nil, errors.Trace(err)
	}
	client, err := NewClient(rc, options...)
	if err != nil {
		_ = rc.Close()
		return nil, errors.Trace(err)
	}
	return client, nil
}

// DialDirect connects a single socket with no reconnection and returns a
// client that owns it.
func DialDirect(ctx context.Context, addr string, options ...Option) (*Client, error) {
	conn, err := DialConnection(ctx, addr, options...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	client, err := NewClient(conn, options...)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Trace(err)
	}
	return client, nil
}
