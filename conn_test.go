// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// waitClosed blocks until the peer closes the connection.
func waitClosed(r *bufio.Reader) {
	_, _ = io.Copy(io.Discard, r)
}

func dialTest(t *testing.T, addr string, extra ...Option) *Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := DialConnection(ctx, addr, testOptions(extra...)...)
	require.NoError(t, err)
	return conn
}

func TestConnectionSendAppendsNewline(t *testing.T) {
	lines := make(chan string, 2)
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			lines <- line
		}
	})

	conn := dialTest(t, srv.Addr())
	defer conn.Close()

	ctx := context.Background()
	require.NoError(t, conn.Send(ctx, []byte(`{"id":0,"method":"Server.GetRPCVersion"}`)))
	require.NoError(t, conn.Send(ctx, []byte(`{"id":1}`)))

	require.Equal(t, `{"id":0,"method":"Server.GetRPCVersion"}`+"\n", <-lines)
	require.Equal(t, `{"id":1}`+"\n", <-lines)
}

func TestConnectionReadReassemblesChunks(t *testing.T) {
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) {
		_, _ = conn.Write([]byte(`{"id":1,"result":{"s":"}"`))
		time.Sleep(50 * time.Millisecond)
		_, _ = conn.Write([]byte(`}}` + "\n" + `{"id":2,"result":null}` + "\n"))
		waitClosed(r)
	})

	conn := dialTest(t, srv.Addr())
	defer conn.Close()

	ctx := context.Background()
	msg, err := conn.Read(ctx, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"id":1,"result":{"s":"}"}}`, string(msg))

	msg, err = conn.Read(ctx, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"id":2,"result":null}`, string(msg))

	require.Equal(t, float64(2), testutil.ToFloat64(messagesReceivedTotal.WithLabelValues(srv.Addr())))
	require.EqualValues(t, 2, conn.HealthMonitor().Stats().TotalMessages)
}

func TestConnectionReadTimeoutIsNotAFailure(t *testing.T) {
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) { waitClosed(r) })

	conn := dialTest(t, srv.Addr(), WithCircuitBreaker(BreakerOptions{
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
		SuccessThreshold: 1,
	}))
	defer conn.Close()

	msg, err := conn.Read(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
	require.Equal(t, BreakerClosed, conn.CircuitBreaker().State())
}

func TestConnectionReadTimeoutKeepsFailureCount(t *testing.T) {
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) { waitClosed(r) })

	conn := dialTest(t, srv.Addr(), WithCircuitBreaker(BreakerOptions{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		SuccessThreshold: 1,
	}))
	defer conn.Close()
	breaker := conn.CircuitBreaker()

	require.ErrorIs(t, breaker.Execute(fail), errBoom)
	msg, err := conn.Read(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
	require.Equal(t, 1, breaker.Stats().FailureCount)

	require.ErrorIs(t, breaker.Execute(fail), errBoom)
	require.Equal(t, BreakerOpen, breaker.State())
}

func TestConnectionReadHonoursContext(t *testing.T) {
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) { waitClosed(r) })
	conn := dialTest(t, srv.Addr())
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	_, err := conn.Read(ctx, 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestConnectionRemoteClose(t *testing.T) {
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) {})
	conn := dialTest(t, srv.Addr())
	defer conn.Close()

	_, err := conn.Read(context.Background(), 2*time.Second)
	require.True(t, errors.Is(err, ErrRemoteClosed), "got %v", err)
	require.True(t, isTransientError(err))
}

func TestConnectionMessageProcessing(t *testing.T) {
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) {
		for i := 0; i < 5; i++ {
			_, _ = conn.Write([]byte(`{"jsonrpc":"2.0","method":"Client.OnConnect","params":{"seq":`))
			_, _ = conn.Write([]byte{'0' + byte(i), '}', '}', '\n'})
		}
		waitClosed(r)
	})

	conn := dialTest(t, srv.Addr())
	defer conn.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	conn.OnMessage(func(msg []byte) {
		mu.Lock()
		got = append(got, string(msg))
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, conn.StartMessageProcessing(ctx))
	require.NoError(t, conn.StartMessageProcessing(ctx))

	_, err := conn.Read(ctx, time.Millisecond)
	require.ErrorIs(t, err, ErrProcessingActive)

	eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, "five messages")

	mu.Lock()
	for i, msg := range got {
		require.Equal(t, `{"jsonrpc":"2.0","method":"Client.OnConnect","params":{"seq":`+string(rune('0'+i))+`}}`, msg)
	}
	mu.Unlock()

	stats := conn.ProcessingStats()
	require.True(t, stats.IsProcessing)
	require.True(t, stats.IsHealthy)

	require.NoError(t, conn.StopMessageProcessing(ctx))
	require.False(t, conn.ProcessingStats().IsProcessing)

	msg, err := conn.Read(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestConnectionProcessingErrorOnRemoteClose(t *testing.T) {
	release := make(chan struct{})
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) {
		<-release
	})

	conn := dialTest(t, srv.Addr())
	defer conn.Close()

	errs := make(chan error, 1)
	conn.OnProcessingError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	require.NoError(t, conn.StartMessageProcessing(context.Background()))
	close(release)

	select {
	case err := <-errs:
		require.True(t, errors.Is(err, ErrRemoteClosed), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no processing error after remote close")
	}
	eventually(t, 5*time.Second, func() bool {
		return !conn.ProcessingStats().IsProcessing
	}, "read loop to stop")
}

func TestConnectionClose(t *testing.T) {
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) { waitClosed(r) })
	conn := dialTest(t, srv.Addr())

	require.NoError(t, conn.StartMessageProcessing(context.Background()))
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	ctx := context.Background()
	require.ErrorIs(t, conn.Send(ctx, []byte(`{}`)), ErrClosed)
	_, err := conn.Read(ctx, time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, conn.StartMessageProcessing(ctx), ErrClosed)
	require.ErrorIs(t, conn.StopMessageProcessing(ctx), ErrClosed)

	d := conn.Diagnostics()
	require.Equal(t, Disconnected, d.State)
	require.False(t, d.IsHealthy)
}

func TestConnectionDiagnostics(t *testing.T) {
	srv := newTestServer(t, func(conn net.Conn, r *bufio.Reader) { waitClosed(r) })
	conn := dialTest(t, srv.Addr())
	defer conn.Close()

	d := conn.Diagnostics()
	require.Equal(t, Connected, d.State)
	require.Equal(t, BreakerClosed, d.Breaker.State)
	require.True(t, d.Health.IsHealthy)
	require.True(t, d.IsHealthy)
	require.False(t, d.Processing.IsProcessing)
}

func TestDialConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = DialConnection(context.Background(), addr, testOptions()...)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dialing "+addr)
}
