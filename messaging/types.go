// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"log/slog"
	"strings"

	"github.com/go-faster/errors"

	"github.com/bureau-foundation/eventmesh/lib/secret"
)

// GrantType names an OAuth2 grant. Only client credentials is
// supported.
type GrantType string

// GrantClientCredentials is the OAuth2 client-credentials grant.
const GrantClientCredentials GrantType = "client_credentials"

// AuthSettings are the inputs of one token request. Pass by value; the
// secret buffer is owned by whoever constructed the settings.
type AuthSettings struct {
	GrantType    GrantType
	TokenURL     string
	ClientID     string
	ClientSecret *secret.Buffer
}

// Validate reports the first missing or unsupported field. An
// unsupported grant type wraps ErrUnsupportedGrantType.
func (s AuthSettings) Validate() error {
	if s.GrantType != GrantClientCredentials {
		return errors.Wrapf(ErrUnsupportedGrantType, "grant type %q", s.GrantType)
	}
	if strings.TrimSpace(s.TokenURL) == "" {
		return errors.New("token URL is empty")
	}
	if s.ClientID == "" {
		return errors.New("client ID is empty")
	}
	if s.ClientSecret == nil || s.ClientSecret.Closed() {
		return errors.New("client secret is not set")
	}
	return nil
}

// LogValue keeps the secret out of logs.
func (s AuthSettings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("grant_type", string(s.GrantType)),
		slog.String("token_url", s.TokenURL),
		slog.String("client_id", s.ClientID),
		slog.String("client_secret", "[redacted]"),
	)
}

// EndpointKind distinguishes queues from topics.
type EndpointKind string

const (
	KindQueue EndpointKind = "queue"
	KindTopic EndpointKind = "topic"
)

// ParseEndpointKind maps "" and "queue" to KindQueue and "topic" to
// KindTopic.
func ParseEndpointKind(value string) (EndpointKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(KindQueue):
		return KindQueue, nil
	case string(KindTopic):
		return KindTopic, nil
	default:
		return "", errors.Errorf("unknown endpoint kind %q", value)
	}
}

// Binding maps a logical name to a broker address.
type Binding struct {
	Name    string
	Address string
	Kind    EndpointKind
}

// Target returns the address with its "queue:" or "topic:" prefix, the
// form the broker expects in link source and target addresses. An
// address that already carries either prefix is returned unchanged.
func (b Binding) Target() string {
	if strings.HasPrefix(b.Address, "queue:") || strings.HasPrefix(b.Address, "topic:") {
		return b.Address
	}
	kind := b.Kind
	if kind == "" {
		kind = KindQueue
	}
	return string(kind) + ":" + b.Address
}

// PropertyLookup supplies JVM-style system properties such as
// http.proxyHost. config.Properties implements it.
type PropertyLookup interface {
	Lookup(key string) (string, bool)
}

// Properties is a map-backed PropertyLookup.
type Properties map[string]string

// Lookup returns the trimmed value of key if it is set and non-blank.
func (p Properties) Lookup(key string) (string, bool) {
	value := strings.TrimSpace(p[key])
	return value, value != ""
}
