// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"os"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bureau-foundation/eventmesh/lib/config"
	"github.com/bureau-foundation/eventmesh/lib/secret"
	"github.com/bureau-foundation/eventmesh/lib/version"
	"github.com/bureau-foundation/eventmesh/messaging"
	"github.com/bureau-foundation/eventmesh/transport"
)

// runtime is everything a command needs: configuration, the message
// client and the observability plumbing. Close releases all of it.
type runtime struct {
	config       *config.Config
	logger       *slog.Logger
	clientSecret *secret.Buffer
	auth         messaging.AuthSettings
	tokens       *messaging.TokenClient
	client       *messaging.Client
	metrics      *messaging.Metrics

	shutdowns []func(context.Context) error
}

// loadConfig loads dotenv files and the configuration file, applies
// --property and --client-secret-file, and validates the result.
func loadConfig(options *globalOptions) (*config.Config, error) {
	if _, err := config.LoadDotEnv(options.envFiles...); err != nil {
		return nil, &usageError{err: err}
	}

	var (
		cfg *config.Config
		err error
	)
	if options.configPath != "" {
		cfg, err = config.LoadFile(options.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &usageError{err: err}
	}

	for key, value := range options.properties {
		cfg.Properties[key] = value
	}
	if options.clientSecretFile != "" {
		cfg.Auth.ClientSecretFile = options.clientSecretFile
		cfg.Auth.ClientSecret = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, &usageError{err: errors.Wrap(err, "invalid configuration")}
	}
	return cfg, nil
}

// openRuntime builds the message client from options. Nothing touches
// the network until a command resolves a binding.
func openRuntime(ctx context.Context, options *globalOptions, stdin *os.File, stderr io.Writer) (rt *runtime, err error) {
	logger, err := newLogger(stderr, options.logFormat, options.logLevel)
	if err != nil {
		return nil, &usageError{err: err}
	}
	cfg, err := loadConfig(options)
	if err != nil {
		return nil, err
	}

	rt = &runtime{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.Close(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = messaging.NewMetrics(registerer)
	if options.metricsAddress != "" {
		shutdown, err := serveMetrics(options.metricsAddress, registerer, logger)
		if err != nil {
			return nil, err
		}
		rt.shutdowns = append(rt.shutdowns, shutdown)
	}

	tracerProvider, shutdown, err := setupTracing(ctx, options.otlpEndpoint)
	if err != nil {
		return nil, err
	}
	rt.shutdowns = append(rt.shutdowns, shutdown)

	rt.clientSecret, err = loadClientSecret(cfg.Auth, stdin, stderr)
	if err != nil {
		return nil, &usageError{err: err}
	}
	rt.auth = messaging.AuthSettings{
		GrantType:    messaging.GrantType(cfg.Auth.GrantType),
		TokenURL:     cfg.Auth.TokenURL,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: rt.clientSecret,
	}
	logger.Debug("configuration loaded", "environment", cfg.Environment, "auth", rt.auth, "broker", cfg.Broker.URI)

	rt.tokens, err = messaging.NewTokenClient(messaging.TokenClientConfig{
		Properties:     cfg.Properties,
		Timeout:        cfg.Auth.Timeout,
		UserAgent:      version.UserAgent(),
		Logger:         logger,
		Metrics:        rt.metrics,
		TracerProvider: tracerProvider,
	})
	if err != nil {
		return nil, &usageError{err: err}
	}

	bindings, err := bindingsFromConfig(cfg)
	if err != nil {
		return nil, &usageError{err: err}
	}
	registry, err := messaging.NewRegistry(messaging.RegistryConfig{
		Bindings:       bindings,
		Connector:      connectorFromConfig(cfg.Broker, logger),
		Tokens:         rt.tokens,
		Auth:           rt.auth,
		CloseGrace:     cfg.Client.CloseGrace,
		Logger:         logger,
		Metrics:        rt.metrics,
		TracerProvider: tracerProvider,
	})
	if err != nil {
		return nil, err
	}
	rt.client, err = messaging.NewClient(messaging.ClientConfig{
		Registry:      registry,
		InboxCapacity: cfg.Client.InboxCapacity,
		CloseGrace:    cfg.Client.CloseGrace,
		ErrorSink: func(binding string, err error) {
			logger.Warn("listener error", "binding", binding, "error", err)
		},
		Logger:         logger,
		Metrics:        rt.metrics,
		TracerProvider: tracerProvider,
	})
	if err != nil {
		registry.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// Close stops the client, then flushes telemetry. Errors are logged;
// the first is returned.
func (rt *runtime) Close(ctx context.Context) error {
	var first error
	record := func(what string, err error) {
		if err == nil {
			return
		}
		rt.logger.Warn("shutdown", "component", what, "error", err)
		if first == nil {
			first = err
		}
	}
	if rt.client != nil {
		record("client", rt.client.Close(ctx))
	}
	if rt.clientSecret != nil {
		record("client secret", rt.clientSecret.Close())
	}
	for i := len(rt.shutdowns) - 1; i >= 0; i-- {
		record("telemetry", rt.shutdowns[i](ctx))
	}
	return first
}

func bindingsFromConfig(cfg *config.Config) ([]messaging.Binding, error) {
	bindings := make([]messaging.Binding, 0, len(cfg.Bindings))
	for _, name := range cfg.BindingNames() {
		entry := cfg.Bindings[name]
		kind, err := messaging.ParseEndpointKind(entry.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "binding %s", name)
		}
		bindings = append(bindings, messaging.Binding{Name: name, Address: entry.Address, Kind: kind})
	}
	return bindings, nil
}

func connectorFromConfig(broker config.BrokerConfig, logger *slog.Logger) *transport.AMQPConnector {
	connector := &transport.AMQPConnector{
		URI:            broker.URI,
		SASL:           broker.SASL,
		Username:       broker.Username,
		Password:       broker.Password,
		ConnectTimeout: broker.ConnectTimeout,
		IdleTimeout:    broker.IdleTimeout,
		Credit:         int32(broker.Credit),
		Logger:         logger,
	}
	if broker.InsecureSkipVerify {
		connector.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return connector
}
