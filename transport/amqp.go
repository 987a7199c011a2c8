// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/coder/websocket"
	"github.com/go-faster/errors"

	"github.com/bureau-foundation/eventmesh/lib/secret"
	"github.com/bureau-foundation/eventmesh/lib/version"
	"github.com/bureau-foundation/eventmesh/messaging"
)

// Compile-time interface check.
var _ messaging.Connector = (*AMQPConnector)(nil)

// SASL mechanisms accepted in AMQPConnector.SASL.
const (
	SASLAnonymous = "anonymous"
	SASLPlain     = "plain"
	SASLXOAuth2   = "xoauth2"
)

// WebSocketSubprotocol is the subprotocol negotiated for AMQP over
// WebSocket.
const WebSocketSubprotocol = "amqp"

// DefaultDrainWindow bounds how long ReceiveNoWait waits when the
// prefetch buffer is empty.
const DefaultDrainWindow = 200 * time.Millisecond

// AMQPConnector dials AMQP 1.0 connections. The zero value is not
// usable; URI must be set.
type AMQPConnector struct {
	// URI is the broker address: amqp://, amqps://, ws:// or wss://.
	URI string

	// SASL selects the mechanism for amqp:// and amqps://. Empty means
	// anonymous. WebSocket connections authenticate in the upgrade
	// request and always use SASL ANONYMOUS.
	SASL string

	// Username and Password are the PLAIN credentials. An empty
	// Password sends the access token instead. XOAUTH2 uses Username
	// with the token.
	Username string
	Password string

	// ConnectTimeout bounds the dial and AMQP open. Zero means only the
	// context deadline applies.
	ConnectTimeout time.Duration

	// IdleTimeout is advertised to the broker. Zero uses the go-amqp
	// default.
	IdleTimeout time.Duration

	// Credit is the receiver link credit. Zero uses the go-amqp
	// default.
	Credit int32

	// DrainWindow is how long ReceiveNoWait waits for the broker to
	// answer outstanding credit when nothing is prefetched. Zero means
	// DefaultDrainWindow; negative means never wait.
	DrainWindow time.Duration

	// TLSConfig applies to amqps:// and wss://. Nil uses system roots.
	TLSConfig *tls.Config

	Logger *slog.Logger
}

// Connect opens one connection authenticated with token.
func (c *AMQPConnector) Connect(ctx context.Context, token *secret.Buffer) (messaging.Connection, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if token == nil || token.Closed() {
		return nil, errors.New("transport: access token is not available")
	}

	brokerURL, err := url.Parse(c.URI)
	if err != nil {
		return nil, errors.Wrap(err, "transport: parsing broker URI")
	}
	if brokerURL.Host == "" {
		return nil, errors.Errorf("transport: broker URI %q has no host", c.URI)
	}

	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}

	var conn *amqp.Conn
	switch strings.ToLower(brokerURL.Scheme) {
	case "amqp", "amqps":
		options, err := c.connOptions(brokerURL, token)
		if err != nil {
			return nil, err
		}
		conn, err = amqp.Dial(ctx, c.URI, options)
		if err != nil {
			return nil, errors.Wrapf(err, "transport: dialing %s", brokerURL.Redacted())
		}
	case "ws", "wss":
		conn, err = c.dialWebSocket(ctx, brokerURL, token)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("transport: unsupported broker scheme %q", brokerURL.Scheme)
	}

	logger.Debug("broker connection opened", "broker", brokerURL.Redacted(), "scheme", brokerURL.Scheme)
	return &connection{conn: conn, credit: c.Credit, drainWindow: c.drainWindow()}, nil
}

func (c *AMQPConnector) dialWebSocket(ctx context.Context, brokerURL *url.URL, token *secret.Buffer) (*amqp.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token.String())
	header.Set("User-Agent", version.UserAgent())

	wsConn, response, err := websocket.Dial(ctx, brokerURL.String(), &websocket.DialOptions{
		HTTPClient:   c.httpClient(),
		HTTPHeader:   header,
		Subprotocols: []string{WebSocketSubprotocol},
	})
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "transport: websocket upgrade to %s", brokerURL.Redacted())
	}
	if wsConn.Subprotocol() != WebSocketSubprotocol {
		wsConn.Close(websocket.StatusProtocolError, "amqp subprotocol required")
		return nil, errors.Errorf("transport: broker negotiated subprotocol %q, want %q", wsConn.Subprotocol(), WebSocketSubprotocol)
	}

	// The net.Conn lives as long as the AMQP connection, not the dial.
	netConn := websocket.NetConn(context.Background(), wsConn, websocket.MessageBinary)

	options := c.baseOptions(brokerURL)
	options.SASLType = amqp.SASLTypeAnonymous()
	conn, err := amqp.NewConn(ctx, netConn, options)
	if err != nil {
		netConn.Close()
		return nil, errors.Wrapf(err, "transport: opening AMQP over websocket to %s", brokerURL.Redacted())
	}
	return conn, nil
}

func (c *AMQPConnector) baseOptions(brokerURL *url.URL) *amqp.ConnOptions {
	return &amqp.ConnOptions{
		HostName:    brokerURL.Hostname(),
		IdleTimeout: c.IdleTimeout,
		TLSConfig:   c.TLSConfig,
		Properties: map[string]any{
			"product": version.Product,
			"version": version.Version,
		},
	}
}

func (c *AMQPConnector) connOptions(brokerURL *url.URL, token *secret.Buffer) (*amqp.ConnOptions, error) {
	options := c.baseOptions(brokerURL)
	sasl, err := saslType(c.SASL, c.Username, c.Password, token)
	if err != nil {
		return nil, err
	}
	options.SASLType = sasl
	return options, nil
}

func (c *AMQPConnector) httpClient() *http.Client {
	if c.TLSConfig == nil {
		return nil
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = c.TLSConfig
	return &http.Client{Transport: transport}
}

func (c *AMQPConnector) drainWindow() time.Duration {
	switch {
	case c.DrainWindow == 0:
		return DefaultDrainWindow
	case c.DrainWindow < 0:
		return 0
	default:
		return c.DrainWindow
	}
}

// saslType maps a mechanism name to its go-amqp option.
func saslType(mechanism, username, password string, token *secret.Buffer) (amqp.SASLType, error) {
	switch strings.ToLower(strings.TrimSpace(mechanism)) {
	case "", SASLAnonymous:
		return amqp.SASLTypeAnonymous(), nil
	case SASLPlain:
		if username == "" {
			return nil, errors.New("transport: SASL PLAIN requires a username")
		}
		if password == "" {
			password = token.String()
		}
		return amqp.SASLTypePlain(username, password), nil
	case SASLXOAuth2:
		return amqp.SASLTypeXOAUTH2(username, token.String(), 0), nil
	default:
		return nil, errors.Errorf("transport: unsupported SASL mechanism %q", mechanism)
	}
}
