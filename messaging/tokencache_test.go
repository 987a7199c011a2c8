// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/eventmesh/lib/secret"
)

// gatedTokenSource blocks every fetch until release is closed.
type gatedTokenSource struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (s *gatedTokenSource) FetchToken(ctx context.Context, settings AuthSettings) (*secret.Buffer, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-s.release
	return secret.NewFromString("shared-token")
}

func TestTokenCacheCollapsesConcurrentFetches(t *testing.T) {
	source := &gatedTokenSource{release: make(chan struct{})}
	cache := NewTokenCache(source, testAuth(t))
	defer cache.Close()

	const callers = 16
	tokens := make([]*secret.Buffer, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = cache.Token(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(source.release)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Fatalf("caller %d got a different buffer", i)
		}
	}
	if source.calls != 1 {
		t.Errorf("fetches = %d, want 1", source.calls)
	}
	if got := tokens[0].String(); got != "shared-token" {
		t.Errorf("token = %q", got)
	}
}

func TestTokenCacheFailureNotCached(t *testing.T) {
	source := &fakeTokenSource{value: "second-try", err: errors.New("timeout")}
	cache := NewTokenCache(source, testAuth(t))
	defer cache.Close()

	if _, err := cache.Token(context.Background()); !IsAuthError(err) {
		t.Fatalf("Token error = %v, want *AuthError", err)
	}
	if cache.Fetched() {
		t.Error("failed fetch left a token behind")
	}

	source.setErr(nil)
	token, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token after recovery: %v", err)
	}
	if token.String() != "second-try" {
		t.Errorf("token = %q", token.String())
	}
	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("cached Token: %v", err)
	}
	if got := source.callCount(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestTokenCacheWaiterCancellation(t *testing.T) {
	source := &gatedTokenSource{release: make(chan struct{})}
	cache := NewTokenCache(source, testAuth(t))
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cache.Token(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Token with cancelled context = %v", err)
	}

	// The detached fetch still completes for the next caller.
	close(source.release)
	token, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token.String() != "shared-token" {
		t.Errorf("token = %q", token.String())
	}
}

func TestTokenCacheClose(t *testing.T) {
	source := &fakeTokenSource{value: "short-lived"}
	cache := NewTokenCache(source, testAuth(t))

	token, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !token.Closed() {
		t.Error("token buffer not released by Close")
	}
	if _, err := cache.Token(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Token after Close = %v, want ErrClientClosed", err)
	}
	if err := cache.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
