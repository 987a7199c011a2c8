// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the eventmesh client runtime: it authenticates
// against an OAuth2 token endpoint, keeps one live broker endpoint per
// logical binding, and buffers received messages for concurrent
// readers.
//
// The pieces, leaves first:
//
//   - [TokenClient] performs the client-credentials grant. [TokenCache]
//     fetches the token once per registry lifetime.
//   - [DecodePayload] strips the 5-byte AMQP value-section header some
//     publishers put in front of a UTF-8 body.
//   - [Registry] maps binding names ("in_queue", "out_queue") to
//     [Endpoint] handles, creating them on first use and replacing them
//     once their connection has closed.
//   - [Client] sends, installs per-binding listeners, drains bindings
//     without a listener, and owns the [Inbox].
//
// The broker itself sits behind [Connector]; package transport
// provides the AMQP 1.0 implementation. Tests in this package use an
// in-memory broker.
//
// Failures are typed. Callers branch with errors.As on [*AuthError],
// [*BindingNotConfiguredError], [*SendError], [*ReceiveError] and
// [*CloseError], and with errors.Is on the sentinel errors.
package messaging
