// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/go-faster/errors"

	"github.com/bureau-foundation/eventmesh/lib/netutil"
	"github.com/bureau-foundation/eventmesh/messaging"
)

var (
	_ messaging.Connection = (*connection)(nil)
	_ messaging.Session    = (*session)(nil)
	_ messaging.Sender     = (*sender)(nil)
	_ messaging.Receiver   = (*receiver)(nil)
)

const textContentType = "text/plain; charset=utf-8"

type connection struct {
	conn        *amqp.Conn
	credit      int32
	drainWindow time.Duration
}

func (c *connection) NewSession(ctx context.Context) (messaging.Session, error) {
	amqpSession, err := c.conn.NewSession(ctx, nil)
	if err != nil {
		return nil, classify(err, "opening session")
	}
	return &session{session: amqpSession, credit: c.credit, drainWindow: c.drainWindow}, nil
}

func (c *connection) Closed() bool {
	select {
	case <-c.conn.Done():
		return true
	default:
		return false
	}
}

func (c *connection) Close() error {
	if c.Closed() {
		return nil
	}
	err := c.conn.Close()
	var connErr *amqp.ConnError
	if errors.As(err, &connErr) && connErr.RemoteErr == nil {
		// Locally initiated close completed.
		return nil
	}
	return err
}

type session struct {
	session     *amqp.Session
	credit      int32
	drainWindow time.Duration
}

func (s *session) NewSender(ctx context.Context, address string) (messaging.Sender, error) {
	amqpSender, err := s.session.NewSender(ctx, address, nil)
	if err != nil {
		return nil, classify(err, "attaching sender to "+address)
	}
	return &sender{sender: amqpSender}, nil
}

func (s *session) NewReceiver(ctx context.Context, address string) (messaging.Receiver, error) {
	var options *amqp.ReceiverOptions
	if s.credit > 0 {
		options = &amqp.ReceiverOptions{Credit: s.credit}
	}
	amqpReceiver, err := s.session.NewReceiver(ctx, address, options)
	if err != nil {
		return nil, classify(err, "attaching receiver to "+address)
	}
	return &receiver{receiver: amqpReceiver, drainWindow: s.drainWindow}, nil
}

func (s *session) Close(ctx context.Context) error {
	return classify(s.session.Close(ctx), "closing session")
}

type sender struct {
	sender *amqp.Sender
}

func (s *sender) Send(ctx context.Context, body []byte) error {
	message := amqp.NewMessage(body)
	contentType := textContentType
	message.Properties = &amqp.MessageProperties{ContentType: &contentType}
	message.Header = &amqp.MessageHeader{Durable: true}
	return classify(s.sender.Send(ctx, message, nil), "sending")
}

func (s *sender) Close(ctx context.Context) error {
	return classify(s.sender.Close(ctx), "closing sender")
}

type receiver struct {
	receiver    *amqp.Receiver
	drainWindow time.Duration
}

func (r *receiver) Receive(ctx context.Context) (*messaging.Delivery, error) {
	message, err := r.receiver.Receive(ctx, nil)
	if err != nil {
		return nil, classify(err, "receiving")
	}
	return r.delivery(message), nil
}

// ReceiveNoWait returns a prefetched message if one is buffered. On an
// empty buffer it waits at most the drain window for credit already
// granted to be answered, and reports nothing when the window passes.
func (r *receiver) ReceiveNoWait(ctx context.Context) (*messaging.Delivery, error) {
	if message := r.receiver.Prefetched(); message != nil {
		return r.delivery(message), nil
	}
	if r.drainWindow <= 0 {
		return nil, nil
	}

	windowCtx, cancel := context.WithTimeout(ctx, r.drainWindow)
	defer cancel()
	message, err := r.receiver.Receive(windowCtx, nil)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, classify(err, "receiving")
	}
	return r.delivery(message), nil
}

func (r *receiver) Close(ctx context.Context) error {
	return classify(r.receiver.Close(ctx), "closing receiver")
}

func (r *receiver) delivery(message *amqp.Message) *messaging.Delivery {
	return messaging.NewDelivery(messageBody(message), func(ctx context.Context) error {
		return classify(r.receiver.AcceptMessage(ctx, message), "accepting")
	})
}

// messageBody returns the payload bytes: all data sections joined, or
// an amqp-value string or binary. Other value types yield nil.
func messageBody(message *amqp.Message) []byte {
	if message == nil {
		return nil
	}
	switch len(message.Data) {
	case 0:
	case 1:
		return message.Data[0]
	default:
		return bytes.Join(message.Data, nil)
	}
	switch value := message.Value.(type) {
	case string:
		return []byte(value)
	case []byte:
		return value
	}
	return nil
}

// closedError marks a failure caused by a closed connection, session or
// link. It matches messaging.ErrEndpointClosed and unwraps to the
// go-amqp error.
type closedError struct {
	op  string
	err error
}

func (e *closedError) Error() string {
	return "transport: " + e.op + ": " + messaging.ErrEndpointClosed.Error() + ": " + e.err.Error()
}

func (e *closedError) Unwrap() []error {
	return []error{messaging.ErrEndpointClosed, e.err}
}

// classify wraps err with op, marking closure errors (go-amqp closure
// types, or the underlying socket going away) so that
// errors.Is(err, messaging.ErrEndpointClosed) holds. Context errors
// pass through unwrapped.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		connErr    *amqp.ConnError
		sessionErr *amqp.SessionError
		linkErr    *amqp.LinkError
	)
	if errors.As(err, &connErr) || errors.As(err, &sessionErr) || errors.As(err, &linkErr) ||
		netutil.IsExpectedCloseError(err) {
		return &closedError{op: op, err: err}
	}
	return errors.Wrap(err, "transport: "+op)
}
