// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/jsonc"
)

// WebSocketProtocol is the service key protocol name of AMQP 1.0 over
// WebSocket, the only messaging protocol this client speaks.
const WebSocketProtocol = "amqp10ws"

// ServiceKey is the subset of a messaging service key the client uses.
type ServiceKey struct {
	Namespace string                `json:"namespace"`
	XSAppName string                `json:"xsappname"`
	Messaging []ServiceKeyMessaging `json:"messaging"`
}

// ServiceKeyMessaging is one entry of the service key messaging array.
type ServiceKeyMessaging struct {
	OAuth2   ServiceKeyOAuth2 `json:"oa2"`
	Protocol []string         `json:"protocol"`
	URI      string           `json:"uri"`
}

// ServiceKeyOAuth2 holds the client-credentials settings of one entry.
type ServiceKeyOAuth2 struct {
	ClientID      string `json:"clientid"`
	ClientSecret  string `json:"clientsecret"`
	TokenEndpoint string `json:"tokenendpoint"`
	GrantType     string `json:"granttype"`
}

// ParseServiceKey parses a service key. Comments and trailing commas
// are accepted.
func ParseServiceKey(data []byte) (*ServiceKey, error) {
	var key ServiceKey
	if err := json.Unmarshal(jsonc.ToJSON(data), &key); err != nil {
		return nil, fmt.Errorf("parsing service key: %w", err)
	}
	return &key, nil
}

// LoadServiceKey reads and parses the service key at path.
func LoadServiceKey(path string) (*ServiceKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading service key: %w", err)
	}
	key, err := ParseServiceKey(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return key, nil
}

// Entry returns the messaging entry for protocol.
func (k *ServiceKey) Entry(protocol string) (ServiceKeyMessaging, bool) {
	for _, entry := range k.Messaging {
		if slices.Contains(entry.Protocol, protocol) {
			return entry, true
		}
	}
	return ServiceKeyMessaging{}, false
}

// applyServiceKey fills auth and broker fields the file left empty
// from the key's amqp10ws entry.
func (c *Config) applyServiceKey(key *ServiceKey) error {
	entry, ok := key.Entry(WebSocketProtocol)
	if !ok {
		return fmt.Errorf("config: service key has no %s messaging entry", WebSocketProtocol)
	}
	if c.Auth.ClientID == "" {
		c.Auth.ClientID = entry.OAuth2.ClientID
	}
	if c.Auth.ClientSecret == "" && c.Auth.ClientSecretFile == "" {
		c.Auth.ClientSecret = entry.OAuth2.ClientSecret
	}
	if c.Auth.TokenURL == "" {
		c.Auth.TokenURL = entry.OAuth2.TokenEndpoint
	}
	if entry.OAuth2.GrantType != "" {
		c.Auth.GrantType = entry.OAuth2.GrantType
	}
	if c.Broker.URI == "" {
		c.Broker.URI = entry.URI
	}
	return nil
}
