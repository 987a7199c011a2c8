// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bureau-foundation/eventmesh/lib/clock"
)

// DefaultCloseGrace bounds how long an endpoint close may wait for the
// broker before the connection is force-closed.
const DefaultCloseGrace = 3 * time.Second

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Bindings is the binding table. Names must be unique.
	Bindings []Binding

	// Connector opens broker connections. Required.
	Connector Connector

	// Tokens and Auth obtain the access token, once per registry
	// lifetime. Required.
	Tokens TokenSource
	Auth   AuthSettings

	// CloseGrace defaults to DefaultCloseGrace.
	CloseGrace time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger

	Metrics        *Metrics
	TracerProvider trace.TracerProvider
}

// Registry maps binding names to live endpoints. An endpoint is created
// on first Resolve and returned by every later Resolve until it
// reports Closed, because its connection ended or the peer ended one of
// its links; the next Resolve then replaces it.
//
// Resolve and Release are serialized per binding name, so concurrent
// callers never open two connections for one binding.
type Registry struct {
	bindings  map[string]Binding
	connector Connector
	tokens    *TokenCache
	grace     time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	locks     map[string]*sync.Mutex
	closed    bool
}

// NewRegistry validates config and creates a Registry. Nothing is
// fetched or connected until the first Resolve.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Connector == nil {
		return nil, fmt.Errorf("messaging: registry requires a Connector")
	}
	if config.Tokens == nil {
		return nil, fmt.Errorf("messaging: registry requires a TokenSource")
	}

	bindings := make(map[string]Binding, len(config.Bindings))
	for _, binding := range config.Bindings {
		if binding.Name == "" {
			return nil, fmt.Errorf("messaging: binding with address %q has no name", binding.Address)
		}
		if _, duplicate := bindings[binding.Name]; duplicate {
			return nil, fmt.Errorf("messaging: duplicate binding %q", binding.Name)
		}
		bindings[binding.Name] = binding
	}

	grace := config.CloseGrace
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		bindings:  bindings,
		connector: config.Connector,
		tokens:    NewTokenCache(config.Tokens, config.Auth),
		grace:     grace,
		clock:     clk,
		logger:    logger,
		metrics:   config.Metrics,
		tracer:    tracerFrom(config.TracerProvider),
		endpoints: make(map[string]*Endpoint),
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// Binding returns the configured binding for name.
func (r *Registry) Binding(name string) (Binding, error) {
	binding, ok := r.bindings[name]
	if !ok || strings.TrimSpace(binding.Address) == "" {
		return Binding{}, &BindingNotConfiguredError{Binding: name}
	}
	return binding, nil
}

// Bindings returns the configured binding names, sorted.
func (r *Registry) Bindings() []string {
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the live endpoint for name, creating it if there is
// none or the stored one has closed. A missing binding is a
// *BindingNotConfiguredError; token and connection failures are
// returned as the token source and connector reported them.
func (r *Registry) Resolve(ctx context.Context, name string) (endpoint *Endpoint, err error) {
	ctx, span := startSpan(ctx, r.tracer, "eventmesh.registry.resolve", name)
	defer func() { endSpan(span, err) }()

	binding, err := r.Binding(name)
	if err != nil {
		return nil, err
	}

	if endpoint, err := r.current(name); err != nil || (endpoint != nil && !endpoint.Closed()) {
		return endpoint, err
	}

	lock := r.bindingLock(name)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have created it while we waited for the lock.
	stale, err := r.current(name)
	if err != nil {
		return nil, err
	}
	if stale != nil {
		if !stale.Closed() {
			return stale, nil
		}
		r.logger.Info("replacing closed endpoint", "binding", name)
		r.mu.Lock()
		delete(r.endpoints, name)
		r.mu.Unlock()
		if err := stale.Close(ctx); err != nil {
			r.logger.Debug("closing stale endpoint", "binding", name, "error", err)
		}
	}

	endpoint, err = r.open(ctx, binding)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		endpoint.Close(ctx)
		return nil, ErrClientClosed
	}
	r.endpoints[name] = endpoint
	r.mu.Unlock()
	return endpoint, nil
}

func (r *Registry) current(name string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClientClosed
	}
	return r.endpoints[name], nil
}

func (r *Registry) open(ctx context.Context, binding Binding) (*Endpoint, error) {
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	connection, err := r.connector.Connect(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("messaging: connecting for binding %q: %w", binding.Name, err)
	}
	session, err := connection.NewSession(ctx)
	if err != nil {
		if closeErr := connection.Close(); closeErr != nil {
			r.logger.Debug("closing connection after session failure", "binding", binding.Name, "error", closeErr)
		}
		return nil, fmt.Errorf("messaging: opening session for binding %q: %w", binding.Name, err)
	}

	r.metrics.endpointCreated(binding.Name)
	r.logger.Info("endpoint created", "binding", binding.Name, "target", binding.Target())
	return &Endpoint{
		binding:    binding,
		connection: connection,
		session:    session,
		created:    r.clock.Now(),
		grace:      r.grace,
		logger:     r.logger,
	}, nil
}

// Release closes and forgets the endpoint of name, if any. Errors from
// closing the session and the connection are aggregated in a
// *CloseError. Releasing an absent or already closed endpoint returns
// nil.
func (r *Registry) Release(ctx context.Context, name string) error {
	lock := r.bindingLock(name)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	endpoint := r.endpoints[name]
	delete(r.endpoints, name)
	r.mu.Unlock()

	if endpoint == nil {
		return nil
	}
	r.logger.Info("releasing endpoint", "binding", name)
	return endpoint.Close(ctx)
}

// Close releases every endpoint and zeroes the access token. Later
// Resolve calls fail with ErrClientClosed.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := r.Release(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.tokens.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EndpointState describes one configured binding.
type EndpointState struct {
	Binding string
	Target  string
	// Live is true when an open endpoint exists.
	Live bool
	// Since is when the live endpoint was created.
	Since time.Time
}

// State reports every configured binding and whether it currently has
// a live endpoint.
func (r *Registry) State() []EndpointState {
	r.mu.RLock()
	endpoints := make(map[string]*Endpoint, len(r.endpoints))
	for name, endpoint := range r.endpoints {
		endpoints[name] = endpoint
	}
	r.mu.RUnlock()

	states := make([]EndpointState, 0, len(r.bindings))
	for _, name := range r.Bindings() {
		state := EndpointState{Binding: name, Target: r.bindings[name].Target()}
		if endpoint := endpoints[name]; endpoint != nil && !endpoint.Closed() {
			state.Live = true
			state.Since = endpoint.Created()
		}
		states = append(states, state)
	}
	return states
}

// Authenticated reports whether the access token has been fetched.
func (r *Registry) Authenticated() bool {
	return r.tokens.Fetched()
}

func (r *Registry) bindingLock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[name] = lock
	}
	return lock
}
