// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package snapcast is a client for the Snapcast JSON-RPC control protocol:
// newline-terminated JSON-RPC 2.0 objects over a plain TCP stream.
//
// # Usage
//
//	client, err := snapcast.Dial(ctx, "localhost:1705")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	version, err := client.ServerGetRPCVersion(ctx)
//
//	client.OnClientVolumeChanged(func(ev snapcast.ClientVolumeChange) {
//	    log.Printf("%s volume %d%%", ev.ID, ev.Volume.Percent)
//	})
//
// Connection events are available from the transport:
//
//	rc, err := snapcast.NewResilientConnection(addr, snapcast.WithRetry(5, time.Second, 30*time.Second))
//	rc.OnStateChange(func(ch snapcast.StateChange) { ... })
//	err = rc.Connect(ctx)
//	client, err := snapcast.NewClient(rc)
//
// # Architecture
//
// Layers, lowest first:
//
//   - frame.go: Framer recovers whole JSON objects from arbitrary reads
//   - breaker.go: CircuitBreaker guards every socket operation
//   - health.go: HealthMonitor flags connections that go silent
//   - conn.go, pipeline.go: Connection owns one socket and its
//     producer/consumer message pipeline
//   - resilient.go: ResilientConnection reconnects with backoff, one
//     cycle at a time
//   - client.go: Client correlates responses by id and routes
//     notifications by method
//   - commands.go, params.go, models.go: typed protocol methods
//
// # Configuration
//
// Options may be built with Option functions or loaded from YAML with
// LoadOptions. Durations use Go syntax:
//
//	connection-timeout: 5s
//	max-retry-attempts: 3
//	reconnect-delay: 1s
//	max-reconnect-delay: 30s
//	retry-exhaustion: cool-down
//	circuit-breaker:
//	  failure-threshold: 5
//	  open-timeout: 60s
//
// # Notifications
//
// Subscribers registered with Subscribe or the OnXxx helpers run one at a
// time, in the order the server sent the notifications, on a goroutine
// owned by the Client. A subscriber may call Client methods.
//
// # Errors
//
// Server errors are *RPCError values carrying Code, Message and Data. An
// operation rejected by an open circuit fails with a *CircuitOpenError,
// which matches ErrCircuitOpen under errors.Is.
package snapcast
