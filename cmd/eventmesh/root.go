// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/eventmesh/lib/process"
	"github.com/bureau-foundation/eventmesh/messaging"
)

// Exit codes beyond the generic failure (1).
const (
	exitUsage         = 2
	exitAuth          = 3
	exitNotConfigured = 4
	exitTransport     = 5
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath       string
	envFiles         []string
	properties       map[string]string
	clientSecretFile string
	logFormat        string
	logLevel         string
	metricsAddress   string
	otlpEndpoint     string
}

func (o *globalOptions) bind(flags *pflag.FlagSet) {
	flags.StringVarP(&o.configPath, "config", "c", "", "configuration file (default $EVENTMESH_CONFIG)")
	flags.StringSliceVar(&o.envFiles, "env-file", []string{".env", ".env.local"}, "dotenv files loaded before the configuration; missing files are skipped")
	flags.StringToStringVarP(&o.properties, "property", "D", nil, "system property key=value, e.g. -D http.proxyHost=proxy.internal")
	flags.StringVar(&o.clientSecretFile, "client-secret-file", "", `read the client secret from this file ("-" for stdin)`)
	flags.StringVar(&o.logFormat, "log-format", "auto", "log format: auto, text or json")
	flags.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&o.metricsAddress, "metrics-address", "", "serve Prometheus metrics on this address, e.g. :9464")
	flags.StringVar(&o.otlpEndpoint, "otlp-endpoint", "", "export traces to this OTLP/HTTP endpoint URL")
}

// newLogger builds the command logger. "auto" writes text to a
// terminal and JSON otherwise.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Errorf("invalid --log-level %q", level)
	}
	options := &slog.HandlerOptions{Level: slogLevel}

	switch strings.ToLower(format) {
	case "auto":
		if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			return slog.New(slog.NewTextHandler(w, options)), nil
		}
		return slog.New(slog.NewJSONHandler(w, options)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, errors.Errorf("invalid --log-format %q", format)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	options := &globalOptions{}
	root := &cobra.Command{
		Use:           "eventmesh",
		Short:         "Send and receive messages on an AMQP 1.0 event mesh",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	options.bind(root.PersistentFlags())

	root.AddCommand(
		newTokenCommand(options),
		newSendCommand(options),
		newListenCommand(options),
		newDrainCommand(options),
		newReceiveCommand(options),
		newBindingsCommand(options),
		newVersionCommand(),
	)
	return root
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	return process.WithCode(exitCode(err), err)
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	var (
		usage   *usageError
		send    *messaging.SendError
		receive *messaging.ReceiveError
	)
	switch {
	case errors.As(err, &usage):
		return exitUsage
	case messaging.IsAuthError(err):
		return exitAuth
	case messaging.IsBindingNotConfigured(err):
		return exitNotConfigured
	case errors.As(err, &send), errors.As(err, &receive):
		return exitTransport
	default:
		return process.Code(err)
	}
}

// usageError marks invalid flags and configuration.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: errors.Errorf(format, args...)}
}

// usageArgs marks positional-argument errors from validate as usage
// errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}
