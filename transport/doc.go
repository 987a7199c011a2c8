// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport connects the messaging runtime to an AMQP 1.0
// broker.
//
// [AMQPConnector] implements [messaging.Connector]. The broker URI
// scheme selects the wire: amqp:// and amqps:// dial TCP (with TLS for
// amqps) through github.com/Azure/go-amqp and authenticate with SASL
// ANONYMOUS, PLAIN or XOAUTH2. ws:// and wss:// open a WebSocket with
// the "amqp" subprotocol through github.com/coder/websocket, presenting
// the OAuth2 access token as a bearer credential in the upgrade
// request, and run the AMQP connection over the resulting net.Conn.
//
// Each Connect returns one connection. Sessions, senders and receivers
// are thin adapters over the go-amqp types; failures caused by a closed
// connection, session or link match [messaging.ErrEndpointClosed] so the
// endpoint registry can replace the handle.
package transport
