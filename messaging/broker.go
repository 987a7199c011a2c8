// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"sync"

	"github.com/bureau-foundation/eventmesh/lib/secret"
)

// Connector opens broker connections. transport.AMQPConnector is the
// production implementation.
type Connector interface {
	// Connect opens one connection authenticated with token. The token
	// is borrowed for the duration of the call.
	Connect(ctx context.Context, token *secret.Buffer) (Connection, error)
}

// Connection is one broker connection.
type Connection interface {
	NewSession(ctx context.Context) (Session, error)
	// Closed reports whether the connection has ended, locally or
	// because the peer or the network went away.
	Closed() bool
	// Close releases the connection. Closing a closed connection
	// returns nil.
	Close() error
}

// Session groups the links of one endpoint.
type Session interface {
	NewSender(ctx context.Context, address string) (Sender, error)
	NewReceiver(ctx context.Context, address string) (Receiver, error)
	Close(ctx context.Context) error
}

// Sender is a sending link.
type Sender interface {
	Send(ctx context.Context, body []byte) error
	Close(ctx context.Context) error
}

// Receiver is a receiving link.
type Receiver interface {
	// Receive blocks until a delivery arrives or ctx ends.
	Receive(ctx context.Context) (*Delivery, error)
	// ReceiveNoWait returns a delivery that is already available, or
	// nil when none is. Implementations may wait a short, bounded
	// window for credit already granted, never for ctx's lifetime.
	ReceiveNoWait(ctx context.Context) (*Delivery, error)
	Close(ctx context.Context) error
}

// Delivery is one received message awaiting acknowledgment.
type Delivery struct {
	Body []byte

	acceptOnce sync.Once
	accept     func(context.Context) error
	acceptErr  error
}

// NewDelivery wraps body; accept settles it with the broker and may be
// nil for transports without settlement.
func NewDelivery(body []byte, accept func(context.Context) error) *Delivery {
	return &Delivery{Body: body, accept: accept}
}

// Accept acknowledges the delivery. Repeated calls return the first
// result.
func (d *Delivery) Accept(ctx context.Context) error {
	d.acceptOnce.Do(func() {
		if d.accept != nil {
			d.acceptErr = d.accept(ctx)
		}
	})
	return d.acceptErr
}
