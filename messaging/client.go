// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/bureau-foundation/eventmesh/lib/clock"
)

const (
	// DefaultInboxCapacity is the inbox bound when none is configured.
	DefaultInboxCapacity = 1000

	// listenerRetryDelay is the pause after a receive error that left
	// the connection open.
	listenerRetryDelay = time.Second
)

// ErrorSink receives failures that happen on listener goroutines, where
// there is no caller to return them to.
type ErrorSink func(binding string, err error)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Registry supplies endpoints. Required. The Client takes ownership:
	// Client.Close closes it.
	Registry *Registry

	// InboxCapacity defaults to DefaultInboxCapacity.
	InboxCapacity int

	// CloseGrace bounds how long StopReceiving waits for an in-flight
	// delivery. Defaults to DefaultCloseGrace.
	CloseGrace time.Duration

	// ErrorSink defaults to logging at error level.
	ErrorSink ErrorSink

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger

	Metrics        *Metrics
	TracerProvider trace.TracerProvider
}

// Client sends to and receives from configured bindings and buffers
// listener deliveries in its Inbox.
//
// Per binding, receiving is Idle, Listening (StartReceiving until
// StopReceiving) or Draining (for the duration of DrainOnce or
// Receive). Listening and Draining exclude each other. All methods are
// safe for concurrent use.
type Client struct {
	registry *Registry
	inbox    *Inbox
	grace    time.Duration
	sink     ErrorSink
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	mu           sync.Mutex
	listeners    map[string]*listener
	receiveLocks map[string]*sync.Mutex
	closed       bool
}

type listener struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a Client. No connection is opened until the first
// operation on a binding.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Registry == nil {
		return nil, errors.New("messaging: client requires a Registry")
	}
	capacity := config.InboxCapacity
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	grace := config.CloseGrace
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := config.ErrorSink
	if sink == nil {
		sink = func(binding string, err error) {
			logger.Error("listener error", "binding", binding, "error", err)
		}
	}

	return &Client{
		registry:     config.Registry,
		inbox:        NewInbox(capacity, config.Metrics),
		grace:        grace,
		sink:         sink,
		clock:        clk,
		logger:       logger,
		metrics:      config.Metrics,
		tracer:       tracerFrom(config.TracerProvider),
		listeners:    make(map[string]*listener),
		receiveLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Inbox returns the client's inbox.
func (c *Client) Inbox() *Inbox { return c.inbox }

// Registry returns the client's registry.
func (c *Client) Registry() *Registry { return c.registry }

// Send sends text as the message body to binding and returns the event
// describing it. Resolution failures are returned unchanged; transport
// failures are a *SendError. There is no retry.
func (c *Client) Send(ctx context.Context, binding, text string) (event MessageEvent, err error) {
	ctx, span := startSpan(ctx, c.tracer, "eventmesh.client.send", binding)
	defer func() { endSpan(span, err) }()

	event = NewMessageEvent(text, c.clock.Now())
	if err := c.send(ctx, binding, []byte(text)); err != nil {
		return MessageEvent{}, err
	}
	c.logger.Debug("message sent", "binding", binding, "id", event.ID)
	return event, nil
}

// SendEvent sends event in its delimited form, which receivers turn
// back into an event with the same ID and timestamp.
func (c *Client) SendEvent(ctx context.Context, binding string, event MessageEvent) (err error) {
	ctx, span := startSpan(ctx, c.tracer, "eventmesh.client.send", binding)
	defer func() { endSpan(span, err) }()

	if err := c.send(ctx, binding, []byte(event.Delimited())); err != nil {
		return err
	}
	c.logger.Debug("event sent", "binding", binding, "id", event.ID)
	return nil
}

func (c *Client) send(ctx context.Context, binding string, body []byte) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	endpoint, err := c.registry.Resolve(ctx, binding)
	if err != nil {
		return err
	}
	if err := endpoint.Send(ctx, body); err != nil {
		c.metrics.sendFailed(binding)
		return &SendError{Binding: binding, Err: err}
	}
	c.metrics.messageSent(binding)
	return nil
}

// StartReceiving installs a listener on binding that decodes every
// delivery, appends it to the Inbox and acknowledges it. Calling it
// again while the listener runs returns true without installing a
// second one. Each binding gets its own listener, so starting a second
// binding installs a second listener feeding the same Inbox.
func (c *Client) StartReceiving(ctx context.Context, binding string) (bool, error) {
	lock, err := c.receiveLock(binding)
	if err != nil {
		return false, err
	}
	lock.Lock()
	defer lock.Unlock()

	if c.Receiving(binding) {
		c.logger.Debug("listener already installed", "binding", binding)
		return true, nil
	}

	endpoint, err := c.registry.Resolve(ctx, binding)
	if err != nil {
		return false, err
	}
	receiver, err := endpoint.Receiver(ctx)
	if err != nil {
		return false, &ReceiveError{Binding: binding, Err: err}
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active := &listener{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return false, ErrClientClosed
	}
	c.listeners[binding] = active
	c.mu.Unlock()

	go c.listen(listenCtx, binding, endpoint, receiver, active)
	c.logger.Info("listener installed", "binding", binding, "target", endpoint.Binding().Target())
	return true, nil
}

// listen is the delivery loop of one listener. It ends when the
// listener is stopped or the endpoint fails; in the latter case the
// binding returns to Idle.
func (c *Client) listen(ctx context.Context, binding string, endpoint *Endpoint, receiver Receiver, self *listener) {
	defer close(self.done)
	for {
		delivery, err := receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.report(binding, &ReceiveError{Binding: binding, Err: err})
			if endpoint.Closed() || errors.Is(err, ErrEndpointClosed) {
				c.logger.Warn("listener stopped: endpoint failed", "binding", binding)
				c.detach(binding, self)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(listenerRetryDelay):
			}
			continue
		}
		c.deliver(binding, delivery)
	}
}

// deliver handles one listener delivery. A panic is reported, not
// propagated, so the listener survives it.
func (c *Client) deliver(binding string, delivery *Delivery) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.report(binding, errors.Errorf("listener panic: %v", recovered))
		}
	}()

	event := c.decode(binding, delivery.Body, pathListener)
	c.inbox.Append(event)

	// Acknowledgment outlives StopReceiving's cancellation by at most
	// the grace period.
	ackCtx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()
	if err := delivery.Accept(ackCtx); err != nil {
		c.report(binding, errors.Wrap(err, "acknowledging delivery"))
	}
}

func (c *Client) decode(binding string, body []byte, path string) MessageEvent {
	framed := IsFramed(body)
	event := ParseMessageEvent(DecodePayload(body), c.clock.Now())
	c.metrics.messageReceived(binding, path, framed)
	c.logger.Debug("message received", "binding", binding, "id", event.ID, "framed", framed, "path", path)
	return event
}

func (c *Client) report(binding string, err error) {
	c.metrics.listenerError(binding)
	c.sink(binding, err)
}

// detach removes self from the listener table if it is still the
// installed listener for binding.
func (c *Client) detach(binding string, self *listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners[binding] == self {
		delete(c.listeners, binding)
	}
}

// Receiving reports whether a listener is installed on binding.
func (c *Client) Receiving(binding string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.listeners[binding]
	return ok
}

// Listening returns the bindings with an installed listener, sorted.
func (c *Client) Listening() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	bindings := make([]string, 0, len(c.listeners))
	for binding := range c.listeners {
		bindings = append(bindings, binding)
	}
	sort.Strings(bindings)
	return bindings
}

// StopReceiving stops the listener on binding, if any, and releases the
// binding's endpoint. An in-flight delivery gets the grace period to
// finish before the endpoint is closed underneath it.
func (c *Client) StopReceiving(ctx context.Context, binding string) error {
	lock, err := c.receiveLock(binding)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()
	return c.stopLocked(ctx, binding)
}

func (c *Client) stopLocked(ctx context.Context, binding string) error {
	c.mu.Lock()
	active := c.listeners[binding]
	delete(c.listeners, binding)
	c.mu.Unlock()

	if active != nil {
		active.cancel()
		select {
		case <-active.done:
		case <-c.clock.After(c.grace):
			c.logger.Warn("listener did not stop within grace period, closing endpoint", "binding", binding, "grace", c.grace)
		}
		c.logger.Info("listener removed", "binding", binding)
	}
	return c.registry.Release(ctx, binding)
}

// DrainOnce collects every message immediately available on binding
// without waiting for more. An active listener on binding is stopped
// first. If the transport fails after some messages were collected,
// those are returned without error; a failure before the first message
// is a *ReceiveError. Drained events do not enter the Inbox.
func (c *Client) DrainOnce(ctx context.Context, binding string) (batch []MessageEvent, err error) {
	ctx, span := startSpan(ctx, c.tracer, "eventmesh.client.drain", binding)
	defer func() { endSpan(span, err) }()

	lock, err := c.receiveLock(binding)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	if c.Receiving(binding) {
		c.logger.Info("stopping listener before drain", "binding", binding)
		if err := c.stopLocked(ctx, binding); err != nil {
			c.logger.Warn("releasing listener endpoint before drain", "binding", binding, "error", err)
		}
	}

	endpoint, err := c.registry.Resolve(ctx, binding)
	if err != nil {
		return nil, err
	}
	receiver, err := endpoint.Receiver(ctx)
	if err != nil {
		return nil, &ReceiveError{Binding: binding, Err: err}
	}

	partial := func(cause error) ([]MessageEvent, error) {
		if len(batch) > 0 {
			c.logger.Warn("drain interrupted, returning partial batch",
				"binding", binding, "collected", len(batch), "error", cause)
			return batch, nil
		}
		return nil, &ReceiveError{Binding: binding, Err: cause}
	}

	for {
		delivery, err := receiver.ReceiveNoWait(ctx)
		if err != nil {
			return partial(err)
		}
		if delivery == nil {
			c.logger.Debug("drain complete", "binding", binding, "collected", len(batch))
			return batch, nil
		}
		event := c.decode(binding, delivery.Body, pathDrain)
		if err := delivery.Accept(ctx); err != nil {
			return partial(errors.Wrap(err, "acknowledging delivery"))
		}
		batch = append(batch, event)
	}
}

// Receive blocks until one message arrives on binding or timeout
// elapses, then acknowledges and returns it. timeout must be positive.
// It fails with ErrListenerActive while a listener owns binding; a
// timeout is a *ReceiveError wrapping context.DeadlineExceeded.
func (c *Client) Receive(ctx context.Context, binding string, timeout time.Duration) (event MessageEvent, err error) {
	ctx, span := startSpan(ctx, c.tracer, "eventmesh.client.receive", binding)
	defer func() { endSpan(span, err) }()

	if timeout <= 0 {
		return MessageEvent{}, errors.Errorf("messaging: receive timeout must be positive, got %s", timeout)
	}
	lock, err := c.receiveLock(binding)
	if err != nil {
		return MessageEvent{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	if c.Receiving(binding) {
		return MessageEvent{}, ErrListenerActive
	}

	endpoint, err := c.registry.Resolve(ctx, binding)
	if err != nil {
		return MessageEvent{}, err
	}
	receiver, err := endpoint.Receiver(ctx)
	if err != nil {
		return MessageEvent{}, &ReceiveError{Binding: binding, Err: err}
	}

	receiveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	delivery, err := receiver.Receive(receiveCtx)
	if err != nil {
		return MessageEvent{}, &ReceiveError{Binding: binding, Err: err}
	}
	event = c.decode(binding, delivery.Body, pathReceive)
	if err := delivery.Accept(ctx); err != nil {
		return MessageEvent{}, &ReceiveError{Binding: binding, Err: errors.Wrap(err, "acknowledging delivery")}
	}
	return event, nil
}

// PeekInbox returns a copy of the inbox contents in arrival order.
func (c *Client) PeekInbox() []MessageEvent {
	return c.inbox.Snapshot()
}

// ClearInbox empties the inbox and returns how many events it held.
func (c *Client) ClearInbox() int {
	return c.inbox.Clear()
}

// Close stops every listener and closes the registry. Later operations
// fail with ErrClientClosed.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	bindings := make([]string, 0, len(c.listeners))
	for binding := range c.listeners {
		bindings = append(bindings, binding)
	}
	c.mu.Unlock()

	for _, binding := range bindings {
		lock := c.bindingLock(binding)
		lock.Lock()
		if err := c.stopLocked(ctx, binding); err != nil {
			c.logger.Warn("stopping listener on close", "binding", binding, "error", err)
		}
		lock.Unlock()
	}
	return c.registry.Close(ctx)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// receiveLock returns the receive-side lock of binding, or
// ErrClientClosed.
func (c *Client) receiveLock(binding string) (*sync.Mutex, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	return c.bindingLock(binding), nil
}

func (c *Client) bindingLock(binding string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.receiveLocks[binding]
	if !ok {
		lock = &sync.Mutex{}
		c.receiveLocks[binding] = lock
	}
	return lock
}
