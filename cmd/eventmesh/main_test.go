// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/eventmesh/lib/config"
	"github.com/bureau-foundation/eventmesh/lib/process"
	"github.com/bureau-foundation/eventmesh/lib/version"
	"github.com/bureau-foundation/eventmesh/messaging"
)

const testConfig = `
environment: development
auth:
  token_url: https://auth.example/oauth/token
  client_id: cli
  client_secret: s3cret
broker:
  uri: wss://broker.example/protocols/amqp10ws
bindings:
  out_queue:
    address: orders/out
  events:
    address: orders/events
    kind: topic
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	require.NoError(t, err)
	require.Equal(t, version.Product+" "+version.Info()+"\n", stdout)
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus"}},
		{"send without binding", []string{"send"}},
		{"send without text", []string{"send", "out_queue"}},
		{"send with both text and stdin", []string{"send", "--stdin", "out_queue", "hello"}},
		{"bad output format", []string{"drain", "-o", "xml", "in_queue"}},
		{"drain with two bindings", []string{"drain", "a", "b"}},
		{"negative receive timeout", []string{"receive", "--timeout", "-1s", "in_queue"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := runCLI(t, test.args...)
			require.Error(t, err)
			require.Equal(t, exitUsage, process.Code(err), "error: %v", err)
		})
	}
}

func TestInvalidConfiguration(t *testing.T) {
	path := writeConfig(t, "broker:\n  uri: amqp://broker.example\n")
	_, _, err := runCLI(t, "--config", path, "bindings")
	require.Error(t, err)
	require.Equal(t, exitUsage, process.Code(err))
	require.ErrorContains(t, err, "auth.token_url is required")
}

func TestBindingsCommand(t *testing.T) {
	path := writeConfig(t, testConfig)

	t.Run("json", func(t *testing.T) {
		stdout, _, err := runCLI(t, "--config", path, "bindings", "--json")
		require.NoError(t, err)

		var rows []bindingRow
		require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
		require.Equal(t, []bindingRow{
			{Binding: "events", Target: "topic:orders/events"},
			{Binding: "out_queue", Target: "queue:orders/out"},
		}, rows)
	})

	t.Run("table", func(t *testing.T) {
		stdout, _, err := runCLI(t, "--config", path, "--log-format", "text", "bindings")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		require.Len(t, lines, 3)
		require.True(t, strings.HasPrefix(lines[0], "BINDING"))
		require.Contains(t, lines[2], "queue:orders/out")
	})
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), 1},
		{usagef("bad flag"), exitUsage},
		{&messaging.AuthError{TokenURL: "https://auth.example", Err: errors.New("401")}, exitAuth},
		{errors.Wrap(&messaging.BindingNotConfiguredError{Binding: "x"}, "resolving"), exitNotConfigured},
		{&messaging.SendError{Binding: "x", Err: errors.New("detached")}, exitTransport},
		{&messaging.ReceiveError{Binding: "x", Err: context.DeadlineExceeded}, exitTransport},
		{process.WithCode(7, errors.New("custom")), 7},
	}
	for _, test := range tests {
		if got := exitCode(test.err); got != test.want {
			t.Errorf("exitCode(%v) = %d, want %d", test.err, got, test.want)
		}
	}
}

func TestWriteEvent(t *testing.T) {
	event := messaging.MessageEvent{
		ID:        uuid.MustParse("6f1c2b1e-8a3d-4c6e-9f0a-1b2c3d4e5f60"),
		Text:      "line one\nline two",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	render := func(format string) string {
		var buffer bytes.Buffer
		require.NoError(t, writeEvent(&buffer, format, event))
		return buffer.String()
	}

	require.Equal(t,
		"2026-03-01T12:00:00Z  6f1c2b1e-8a3d-4c6e-9f0a-1b2c3d4e5f60  line one\\nline two\n",
		render(formatText))
	require.Equal(t, event.Delimited()+"\n", render(formatDelimited))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(render(formatJSON)), &decoded))
	require.Equal(t, "line one\nline two", decoded["message"])

	require.Contains(t, render(formatCBOR), `"message"`)

	require.Error(t, writeEvent(&bytes.Buffer{}, "xml", event))
}

func TestLoadClientSecret(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		buffer, err := loadClientSecret(config.AuthConfig{ClientSecret: "inline"}, nil, nil)
		require.NoError(t, err)
		defer buffer.Close()
		require.Equal(t, "inline", buffer.String())
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "secret")
		require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
		buffer, err := loadClientSecret(config.AuthConfig{ClientSecret: "ignored", ClientSecretFile: path}, nil, nil)
		require.NoError(t, err)
		defer buffer.Close()
		require.Equal(t, "from-file", buffer.String())
	})

	t.Run("piped stdin", func(t *testing.T) {
		reader, writer, err := os.Pipe()
		require.NoError(t, err)
		defer reader.Close()
		_, err = writer.WriteString("from-stdin\n")
		require.NoError(t, err)
		writer.Close()

		buffer, err := loadClientSecret(config.AuthConfig{ClientSecretFile: "-"}, reader, &bytes.Buffer{})
		require.NoError(t, err)
		defer buffer.Close()
		require.Equal(t, "from-stdin", buffer.String())
	})

	t.Run("missing", func(t *testing.T) {
		_, err := loadClientSecret(config.AuthConfig{}, nil, nil)
		require.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := newLogger(&buffer, "json", "warn")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "binding", "in_queue")
	require.NotContains(t, buffer.String(), "hidden")
	require.Contains(t, buffer.String(), `"binding":"in_queue"`)

	_, err = newLogger(&buffer, "xml", "info")
	require.Error(t, err)
	_, err = newLogger(&buffer, "text", "loud")
	require.Error(t, err)
}
