// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gopkg.in/tomb.v2"
)

var rpcLogger = loggo.GetLogger("snapcast.rpc")

// Client correlates JSON-RPC requests with their responses over a
// Transport and routes server notifications to subscribers.
type Client struct {
	transport Transport
	opts      Options
	clock     clock.Clock
	pending   pendingTable

	subsMu sync.Mutex
	subs   map[string]*signal[json.RawMessage]
	notes  *notifier

	unsubscribe func()
	closed      atomic.Bool
}

// pendingCall is a request waiting for its response. Exactly one of
// onSuccess and onError is invoked, at most once.
type pendingCall struct {
	method    string
	sent      time.Time
	onSuccess func(result json.RawMessage)
	onError   func(err error)
	timer     clock.Timer
}

// pendingTable owns the id counter and the outstanding calls under one lock.
type pendingTable struct {
	mu     sync.Mutex
	nextID uint32
	calls  map[uint32]*pendingCall
}

// allocate registers call under the next free id. Ids wrap around and
// skip any id still outstanding. If timeout is positive, expire is
// scheduled for the new id.
func (p *pendingTable) allocate(call *pendingCall, clk clock.Clock, timeout time.Duration, expire func(uint32)) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.calls == nil {
		p.calls = make(map[uint32]*pendingCall)
	}
	id := p.nextID
	for {
		if _, busy := p.calls[id]; !busy {
			break
		}
		id++
	}
	p.nextID = id + 1
	p.calls[id] = call
	if timeout > 0 {
		call.timer = clk.AfterFunc(timeout, func() { expire(id) })
	}
	rpcPendingRequests.Set(float64(len(p.calls)))
	return id
}

// resolve removes and returns the call for id.
func (p *pendingTable) resolve(id uint32) (*pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[id]
	if !ok {
		return nil, false
	}
	delete(p.calls, id)
	if call.timer != nil {
		call.timer.Stop()
	}
	rpcPendingRequests.Set(float64(len(p.calls)))
	return call, true
}

// drain removes and returns every outstanding call.
func (p *pendingTable) drain() map[uint32]*pendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()

	calls := p.calls
	p.calls = nil
	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
	}
	rpcPendingRequests.Set(0)
	return calls
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// notification is a server notification waiting for its subscribers.
type notification struct {
	subscribers *signal[json.RawMessage]
	params      json.RawMessage
}

// notifier delivers notifications in arrival order on its own goroutine,
// apart from response dispatch, so a subscriber can call the client and
// still receive the reply. The queue is unbounded so a slow subscriber
// never stalls the read loop.
type notifier struct {
	tomb tomb.Tomb
	wake chan struct{}

	mu    sync.Mutex
	queue []notification
}

func newNotifier() *notifier {
	n := &notifier{wake: make(chan struct{}, 1)}
	n.tomb.Go(n.loop)
	return n
}

func (n *notifier) push(subscribers *signal[json.RawMessage], params json.RawMessage) {
	n.mu.Lock()
	n.queue = append(n.queue, notification{subscribers: subscribers, params: params})
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) next() (notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		return notification{}, false
	}
	next := n.queue[0]
	n.queue[0] = notification{}
	n.queue = n.queue[1:]
	return next, true
}

func (n *notifier) loop() error {
	for {
		select {
		case <-n.tomb.Dying():
			return nil
		case <-n.wake:
		}
		for {
			next, ok := n.next()
			if !ok {
				break
			}
			if !n.tomb.Alive() {
				return nil
			}
			next.subscribers.Notify(next.params)
		}
	}
}

// stop discards undelivered notifications and waits for a running
// subscriber to return, at most until ctx is done.
func (n *notifier) stop(ctx context.Context) error {
	n.tomb.Kill(nil)
	select {
	case <-n.tomb.Dead():
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), "waiting for notification subscriber")
	}
	n.mu.Lock()
	dropped := len(n.queue)
	n.queue = nil
	n.mu.Unlock()
	if dropped > 0 {
		rpcLogger.Debugf("discarded %d undelivered notification(s)", dropped)
	}
	return nil
}

// NewClient starts message processing on t and returns a client that owns
// it. Closing the client closes t.
func NewClient(t Transport, options ...Option) (*Client, error) {
	opts, err := buildOptions(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c := &Client{
		transport: t,
		opts:      opts,
		clock:     opts.clock(),
		subs:      make(map[string]*signal[json.RawMessage]),
		notes:     newNotifier(),
	}
	c.unsubscribe = t.OnMessage(c.handleMessage)
	if err := t.StartMessageProcessing(context.Background()); err != nil {
		c.unsubscribe()
		_ = c.notes.stop(context.Background())
		return nil, errors.Annotate(err, "starting message processing")
	}
	return c, nil
}

// Transport returns the underlying transport.
func (c *Client) Transport() Transport {
	return c.transport
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	return c.pending.len()
}

// Execute sends method with params and returns the request id. Exactly one
// of onSuccess or onError runs later, on a message processing goroutine.
// If the send fails the request is withdrawn and the error is returned
// here instead.
func (c *Client) Execute(
	ctx context.Context,
	method string,
	params interface{},
	onSuccess func(result json.RawMessage),
	onError func(err error),
) (uint32, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	call := &pendingCall{
		method:    method,
		sent:      c.clock.Now(),
		onSuccess: onSuccess,
		onError:   onError,
	}
	id := c.pending.allocate(call, c.clock, c.opts.RequestTimeout, c.expire)

	data, err := encodeRequest(id, method, params)
	if err != nil {
		c.pending.resolve(id)
		return 0, err
	}
	if err := c.transport.Send(ctx, data); err != nil {
		if _, ok := c.pending.resolve(id); ok {
			recordRequest(method, statusSendError, 0)
		}
		return 0, errors.Annotatef(err, "sending %s", method)
	}
	rpcLogger.Tracef("sent %s (id %d)", method, id)
	return id, nil
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Call sends method and waits for its response, decoding the result into
// reply. Server errors are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params, reply interface{}) error {
	done := make(chan callResult, 1)
	id, err := c.Execute(ctx, method, params,
		func(result json.RawMessage) { done <- callResult{result: result} },
		func(err error) { done <- callResult{err: err} },
	)
	if err != nil {
		return err
	}

	select {
	case res := <-done:
		if res.err != nil {
			return res.err
		}
		return decodeResult(method, res.result, reply)
	case <-ctx.Done():
		if _, ok := c.pending.resolve(id); ok {
			recordRequest(method, statusCancelled, 0)
		}
		return errors.Annotatef(ctx.Err(), "waiting for %s (id %d)", method, id)
	}
}

func (c *Client) expire(id uint32) {
	call, ok := c.pending.resolve(id)
	if !ok {
		return
	}
	recordRequest(call.method, statusTimeout, 0)
	rpcLogger.Warningf("%s (id %d) timed out after %v", call.method, id, c.opts.RequestTimeout)
	call.onError(errors.Annotatef(ErrRequestTimeout, "%s (id %d) after %v", call.method, id, c.opts.RequestTimeout))
}

// handleMessage dispatches every top-level JSON value in data, in order.
// A framed message is one object, which may span lines; in line framing a
// read may carry several objects.
func (c *Client) handleMessage(data []byte) {
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			rpcLogger.Errorf("dropping undecodable message %q: %v", data, err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg []byte) {
	env, err := peekEnvelope(msg)
	if err != nil {
		rpcLogger.Errorf("dropping undecodable message %q: %v", msg, err)
		return
	}

	switch {
	case env.ID != nil:
		call, ok := c.pending.resolve(*env.ID)
		if !ok {
			rpcLogger.Warningf("dropping response for unknown request id %d", *env.ID)
			return
		}
		elapsed := c.clock.Now().Sub(call.sent)
		result, err := decodeResponse(msg)
		if err != nil {
			recordRequest(call.method, statusRPCError, elapsed)
			rpcLogger.Debugf("%s (id %d) failed: %v", call.method, *env.ID, err)
			call.onError(err)
			return
		}
		recordRequest(call.method, statusOK, elapsed)
		call.onSuccess(result)

	case env.Method != "":
		notificationsTotal.WithLabelValues(env.Method).Inc()
		c.subsMu.Lock()
		s := c.subs[env.Method]
		c.subsMu.Unlock()
		if s == nil {
			rpcLogger.Tracef("ignoring notification %s", env.Method)
			return
		}
		c.notes.push(s, env.Params)

	default:
		rpcLogger.Warningf("dropping message with neither id nor method: %s", msg)
	}
}

// Subscribe registers fn for notifications named method. Notifications
// with no subscriber are ignored. Subscribers run one at a time, in
// arrival order, on a goroutine of their own: they may call the client,
// but a subscriber that never returns holds back later notifications.
func (c *Client) Subscribe(method string, fn func(params json.RawMessage)) (unsubscribe func()) {
	c.subsMu.Lock()
	s, ok := c.subs[method]
	if !ok {
		s = &signal[json.RawMessage]{}
		c.subs[method] = s
	}
	c.subsMu.Unlock()
	return s.Subscribe(fn)
}

// subscribe decodes notification params into T before calling fn.
func subscribe[T any](c *Client, method string, fn func(T)) (unsubscribe func()) {
	return c.Subscribe(method, func(params json.RawMessage) {
		var v T
		if err := json.Unmarshal(params, &v); err != nil {
			rpcLogger.Errorf("decoding %s notification: %v", method, err)
			return
		}
		fn(v)
	})
}

// Close stops message processing and notification delivery, fails
// outstanding calls with ErrClosed and closes the transport. Called from a
// subscriber, it gives up waiting for that subscriber after
// ShutdownTimeout. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
	defer cancel()
	if err := c.transport.StopMessageProcessing(ctx); err != nil && !errors.Is(err, ErrClosed) {
		rpcLogger.Debugf("stopping message processing: %v", err)
	}
	c.unsubscribe()
	if err := c.notes.stop(ctx); err != nil {
		rpcLogger.Warningf("stopping notifications: %v", err)
	}

	for id, call := range c.pending.drain() {
		recordRequest(call.method, statusClosed, 0)
		call.onError(errors.Annotatef(ErrClosed, "%s (id %d)", call.method, id))
	}
	return errors.Trace(c.transport.Close())
}
