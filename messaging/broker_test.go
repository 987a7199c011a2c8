// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/eventmesh/lib/clock"
	"github.com/bureau-foundation/eventmesh/lib/secret"
)

// fakeBroker is an in-memory broker: one buffered channel per address,
// shared by every connection. Failure knobs are read under mu at the
// moment of use.
type fakeBroker struct {
	mu          sync.Mutex
	queues      map[string]chan []byte
	connections []*fakeConnection
	tokens      []string
	receivers   int
	accepted    int

	senderLinks   []*fakeSender
	receiverLinks []*fakeReceiver

	connectDelay    time.Duration
	connectErr      error
	sendErr         error
	acceptErr       error
	sessionCloseErr error
	connCloseErr    error
	// drainFailAfter makes ReceiveNoWait fail after that many
	// deliveries per receiver. Zero disables it.
	drainFailAfter int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: make(map[string]chan []byte)}
}

func (b *fakeBroker) queue(address string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	queue, ok := b.queues[address]
	if !ok {
		queue = make(chan []byte, 256)
		b.queues[address] = queue
	}
	return queue
}

func (b *fakeBroker) publish(address string, body []byte) {
	b.queue(address) <- body
}

func (b *fakeBroker) connectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.connections)
}

func (b *fakeBroker) connection(index int) *fakeConnection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connections[index]
}

func (b *fakeBroker) receiverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receivers
}

// lastReceiver returns the most recently opened receiving link.
func (b *fakeBroker) lastReceiver() *fakeReceiver {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receiverLinks[len(b.receiverLinks)-1]
}

// detachSenders simulates the peer ending every open sending link while
// the connections stay up.
func (b *fakeBroker) detachSenders() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sender := range b.senderLinks {
		sender.detached = true
	}
}

func (b *fakeBroker) set(apply func(b *fakeBroker)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	apply(b)
}

func (b *fakeBroker) Connect(ctx context.Context, token *secret.Buffer) (Connection, error) {
	b.mu.Lock()
	delay, err := b.connectDelay, b.connectErr
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	connection := &fakeConnection{broker: b, done: make(chan struct{})}
	b.mu.Lock()
	b.connections = append(b.connections, connection)
	b.tokens = append(b.tokens, token.String())
	b.mu.Unlock()
	return connection, nil
}

type fakeConnection struct {
	broker *fakeBroker
	done   chan struct{}
	once   sync.Once
}

// fail simulates the peer dropping the connection.
func (c *fakeConnection) fail() {
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConnection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConnection) Close() error {
	c.once.Do(func() { close(c.done) })
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.broker.connCloseErr
}

func (c *fakeConnection) NewSession(ctx context.Context) (Session, error) {
	if c.Closed() {
		return nil, ErrEndpointClosed
	}
	return &fakeSession{connection: c}, nil
}

type fakeSession struct {
	connection *fakeConnection
}

func (s *fakeSession) NewSender(ctx context.Context, address string) (Sender, error) {
	broker := s.connection.broker
	sender := &fakeSender{connection: s.connection, queue: broker.queue(address)}
	broker.mu.Lock()
	broker.senderLinks = append(broker.senderLinks, sender)
	broker.mu.Unlock()
	return sender, nil
}

func (s *fakeSession) NewReceiver(ctx context.Context, address string) (Receiver, error) {
	broker := s.connection.broker
	queue := broker.queue(address)
	receiver := &fakeReceiver{connection: s.connection, queue: queue, closed: make(chan struct{})}
	broker.mu.Lock()
	broker.receivers++
	broker.receiverLinks = append(broker.receiverLinks, receiver)
	broker.mu.Unlock()
	return receiver, nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.connection.broker.mu.Lock()
	defer s.connection.broker.mu.Unlock()
	return s.connection.broker.sessionCloseErr
}

type fakeSender struct {
	connection *fakeConnection
	queue      chan []byte
	// detached is guarded by the broker's mu.
	detached bool
}

func (s *fakeSender) Send(ctx context.Context, body []byte) error {
	if s.connection.Closed() {
		return ErrEndpointClosed
	}
	s.connection.broker.mu.Lock()
	err, detached := s.connection.broker.sendErr, s.detached
	s.connection.broker.mu.Unlock()
	if detached {
		return ErrEndpointClosed
	}
	if err != nil {
		return err
	}
	s.queue <- append([]byte(nil), body...)
	return nil
}

func (s *fakeSender) Close(ctx context.Context) error { return nil }

type fakeReceiver struct {
	connection *fakeConnection
	queue      chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	delivered  int
}

func (r *fakeReceiver) delivery(body []byte) *Delivery {
	broker := r.connection.broker
	return NewDelivery(body, func(context.Context) error {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		if broker.acceptErr != nil {
			return broker.acceptErr
		}
		broker.accepted++
		return nil
	})
}

func (r *fakeReceiver) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case body := <-r.queue:
		return r.delivery(body), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.closed:
		return nil, ErrEndpointClosed
	case <-r.connection.done:
		return nil, ErrEndpointClosed
	}
}

func (r *fakeReceiver) ReceiveNoWait(ctx context.Context) (*Delivery, error) {
	if r.connection.Closed() {
		return nil, ErrEndpointClosed
	}
	r.connection.broker.mu.Lock()
	failAfter := r.connection.broker.drainFailAfter
	r.connection.broker.mu.Unlock()
	if failAfter > 0 && r.delivered >= failAfter {
		return nil, errTransport
	}
	select {
	case body := <-r.queue:
		r.delivered++
		return r.delivery(body), nil
	default:
		return nil, nil
	}
}

func (r *fakeReceiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

var errTransport = errors.New("link detached by peer")

// fakeTokenSource counts fetches and hands out fixed tokens.
type fakeTokenSource struct {
	mu    sync.Mutex
	calls int
	err   error
	value string
}

func (s *fakeTokenSource) FetchToken(ctx context.Context, settings AuthSettings) (*secret.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, &AuthError{TokenURL: settings.TokenURL, Err: s.err}
	}
	return secret.NewFromString(s.value)
}

func (s *fakeTokenSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeTokenSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

var testBindings = []Binding{
	{Name: "in_queue", Address: "orders/in", Kind: KindQueue},
	{Name: "out_queue", Address: "orders/out", Kind: KindQueue},
	{Name: "events", Address: "topic:orders/events", Kind: KindTopic},
	{Name: "unset", Address: "  "},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuth(t *testing.T) AuthSettings {
	t.Helper()
	clientSecret, err := secret.NewFromString("client-secret")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	t.Cleanup(func() { clientSecret.Close() })
	return AuthSettings{
		GrantType:    GrantClientCredentials,
		TokenURL:     "https://auth.example/oauth/token",
		ClientID:     "client",
		ClientSecret: clientSecret,
	}
}

type testEnv struct {
	broker   *fakeBroker
	tokens   *fakeTokenSource
	clock    *clock.FakeClock
	registry *Registry
}

func newTestRegistry(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		broker: newFakeBroker(),
		tokens: &fakeTokenSource{value: "access-token"},
		clock:  clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	registry, err := NewRegistry(RegistryConfig{
		Bindings:   testBindings,
		Connector:  env.broker,
		Tokens:     env.tokens,
		Auth:       testAuth(t),
		CloseGrace: time.Second,
		Clock:      env.clock,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { registry.Close(context.Background()) })
	env.registry = registry
	return env
}

// eventually polls condition until it holds or five seconds pass.
func eventually(t *testing.T, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", message)
		}
		time.Sleep(time.Millisecond)
	}
}
