// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/eventmesh/lib/secret"
)

// TokenSource fetches an access token. *TokenClient implements it.
type TokenSource interface {
	FetchToken(ctx context.Context, settings AuthSettings) (*secret.Buffer, error)
}

// TokenCache holds the one access token of a registry. The first Token
// call fetches it; concurrent callers share that fetch. A failed fetch
// is not remembered, so the next call tries again. There is no expiry:
// the token lives until Close.
type TokenCache struct {
	source   TokenSource
	settings AuthSettings

	group singleflight.Group

	mu     sync.Mutex
	token  *secret.Buffer
	closed bool
}

// NewTokenCache creates a cache fetching from source with settings.
func NewTokenCache(source TokenSource, settings AuthSettings) *TokenCache {
	return &TokenCache{source: source, settings: settings}
}

// Token returns the cached token, fetching it on first use. The buffer
// stays owned by the cache; do not close it or retain it past Close.
func (c *TokenCache) Token(ctx context.Context) (*secret.Buffer, error) {
	if token, err := c.cached(); token != nil || err != nil {
		return token, err
	}

	// The fetch runs detached from the first caller's cancellation so
	// that one impatient caller does not fail every waiter.
	results := c.group.DoChan("token", func() (any, error) {
		if token, err := c.cached(); token != nil || err != nil {
			return token, err
		}
		token, err := c.source.FetchToken(context.WithoutCancel(ctx), c.settings)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			token.Close()
			return nil, ErrClientClosed
		}
		c.token = token
		return token, nil
	})

	select {
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*secret.Buffer), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fetched reports whether a token is currently held.
func (c *TokenCache) Fetched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != nil
}

func (c *TokenCache) cached() (*secret.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	return c.token, nil
}

// Close zeroes and releases the token. Later Token calls fail with
// ErrClientClosed.
func (c *TokenCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.token == nil {
		return nil
	}
	err := c.token.Close()
	c.token = nil
	return err
}
