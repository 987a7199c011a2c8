// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// Endpoint is the live send/receive channel of one binding: a
// connection, a session on it, and links created on first use. The
// Registry owns it; callers borrow it for one operation.
type Endpoint struct {
	binding    Binding
	connection Connection
	session    Session
	created    time.Time
	grace      time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	sender   Sender
	receiver Receiver
	closed   bool
	// failed is set once a link or the session reports the peer ended
	// it; the connection may still be open.
	failed bool
}

// Binding returns the binding this endpoint serves.
func (e *Endpoint) Binding() Binding { return e.binding }

// Created returns when the endpoint was opened.
func (e *Endpoint) Created() time.Time { return e.created }

// Closed reports whether the endpoint was closed, one of its links or
// its session was ended by the peer, or its connection has ended. A
// closed endpoint is never usable again.
func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed || e.failed || e.connection.Closed()
}

// observe marks the endpoint failed when err says the peer ended a
// link, the session or the connection, so the Registry replaces it.
func (e *Endpoint) observe(err error) error {
	if err == nil || !errors.Is(err, ErrEndpointClosed) {
		return err
	}
	e.mu.Lock()
	first := !e.failed && !e.closed
	e.failed = true
	e.mu.Unlock()
	if first {
		e.logger.Info("endpoint link ended by peer", "binding", e.binding.Name, "error", err)
	}
	return err
}

// Send sends body on the endpoint's sending link.
func (e *Endpoint) Send(ctx context.Context, body []byte) error {
	sender, err := e.senderLink(ctx)
	if err != nil {
		return err
	}
	return e.observe(sender.Send(ctx, body))
}

func (e *Endpoint) senderLink(ctx context.Context) (Sender, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.failed {
		return nil, ErrEndpointClosed
	}
	if e.sender == nil {
		sender, err := e.session.NewSender(ctx, e.binding.Target())
		if err != nil {
			if errors.Is(err, ErrEndpointClosed) {
				e.failed = true
			}
			return nil, errors.Wrapf(err, "opening sender on %s", e.binding.Target())
		}
		e.sender = sender
	}
	return e.sender, nil
}

// Receiver returns the endpoint's receiving link, opening it on first
// use.
func (e *Endpoint) Receiver(ctx context.Context) (Receiver, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.failed {
		return nil, ErrEndpointClosed
	}
	if e.receiver == nil {
		receiver, err := e.session.NewReceiver(ctx, e.binding.Target())
		if err != nil {
			if errors.Is(err, ErrEndpointClosed) {
				e.failed = true
			}
			return nil, errors.Wrapf(err, "opening receiver on %s", e.binding.Target())
		}
		e.receiver = &endpointReceiver{Receiver: receiver, endpoint: e}
	}
	return e.receiver, nil
}

// endpointReceiver reports link failures back to its endpoint.
type endpointReceiver struct {
	Receiver
	endpoint *Endpoint
}

func (r *endpointReceiver) Receive(ctx context.Context) (*Delivery, error) {
	delivery, err := r.Receiver.Receive(ctx)
	return delivery, r.endpoint.observe(err)
}

func (r *endpointReceiver) ReceiveNoWait(ctx context.Context) (*Delivery, error) {
	delivery, err := r.Receiver.ReceiveNoWait(ctx)
	return delivery, r.endpoint.observe(err)
}

// Close closes the links, the session and the connection. The links
// and the session get the grace period; the connection is closed
// afterwards regardless, which force-closes anything still pending.
// Session and connection failures are reported together in a
// *CloseError. Closing twice returns nil.
func (e *Endpoint) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sender, receiver := e.sender, e.receiver
	e.sender, e.receiver = nil, nil
	e.mu.Unlock()

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.grace)
	defer cancel()

	if sender != nil {
		if err := sender.Close(graceCtx); err != nil {
			e.logger.Debug("closing sender", "binding", e.binding.Name, "error", err)
		}
	}
	if receiver != nil {
		if err := receiver.Close(graceCtx); err != nil {
			e.logger.Debug("closing receiver", "binding", e.binding.Name, "error", err)
		}
	}

	var closeErr CloseError
	if err := e.session.Close(graceCtx); err != nil && !errors.Is(err, ErrEndpointClosed) {
		closeErr.Session = err
	}
	if err := e.connection.Close(); err != nil && !errors.Is(err, ErrEndpointClosed) {
		closeErr.Connection = err
	}
	if closeErr.Session != nil || closeErr.Connection != nil {
		closeErr.Binding = e.binding.Name
		return &closeErr
	}
	return nil
}
