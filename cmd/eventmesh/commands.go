// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/bureau-foundation/eventmesh/lib/netutil"
	"github.com/bureau-foundation/eventmesh/lib/version"
	"github.com/bureau-foundation/eventmesh/messaging"
)

// shutdownTimeout bounds runtime teardown after a command finishes.
const shutdownTimeout = 10 * time.Second

// maxStdinMessage bounds a message body read from stdin.
const maxStdinMessage = 1 << 20

// listenerCheckInterval is how often listen checks that at least one
// listener is still installed.
var listenerCheckInterval = 500 * time.Millisecond

var errListenersStopped = errors.New("every listener stopped after a transport failure")

// withRuntime opens the runtime, runs fn and closes the runtime. A
// teardown failure is returned only when fn succeeded.
func withRuntime(cmd *cobra.Command, options *globalOptions, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, options, os.Stdin, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	err = fn(ctx, rt)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if closeErr := rt.Close(closeCtx); err == nil {
		err = closeErr
	}
	return err
}

func newTokenCommand(options *globalOptions) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch an access token and print its fingerprint",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, options, func(ctx context.Context, rt *runtime) error {
				token, err := rt.tokens.FetchToken(ctx, rt.auth)
				if err != nil {
					return err
				}
				defer token.Close()

				out := cmd.OutOrStdout()
				if show {
					_, err = fmt.Fprintln(out, token.String())
					return err
				}
				return json.NewEncoder(out).Encode(struct {
					TokenURL    string `json:"token_url"`
					ClientID    string `json:"client_id"`
					Fingerprint string `json:"fingerprint"`
					Length      int    `json:"length"`
				}{rt.auth.TokenURL, rt.auth.ClientID, messaging.Fingerprint(token), token.Len()})
			})
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "print the token itself instead of its fingerprint")
	return cmd
}

func newSendCommand(options *globalOptions) *cobra.Command {
	var (
		format    string
		fromStdin bool
	)
	cmd := &cobra.Command{
		Use:   "send <binding> [text...]",
		Short: "Send one message",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			binding := args[0]
			text := strings.Join(args[1:], " ")
			switch {
			case fromStdin && len(args) > 1:
				return usagef("--stdin and message text are mutually exclusive")
			case fromStdin:
				data, err := netutil.ReadBounded(cmd.InOrStdin(), maxStdinMessage)
				if err != nil {
					return errors.Wrap(err, "reading message from stdin")
				}
				text = strings.TrimSuffix(string(data), "\n")
			case len(args) == 1:
				return usagef("no message text given (use --stdin to read it)")
			}

			return withRuntime(cmd, options, func(ctx context.Context, rt *runtime) error {
				event, err := rt.client.Send(ctx, binding, text)
				if err != nil {
					return err
				}
				return writeEvent(cmd.OutOrStdout(), format, event)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatJSON, "output format: text, json, delimited or cbor")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the message text from stdin")
	return cmd
}

func newListenCommand(options *globalOptions) *cobra.Command {
	var (
		format   string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "listen <binding>...",
		Short: "Print messages as they arrive until interrupted",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			return withRuntime(cmd, options, func(ctx context.Context, rt *runtime) error {
				return listen(ctx, rt, args, duration, format, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "output format: text, json, delimited or cbor")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 listens until interrupted)")
	return cmd
}

// listen prints listener deliveries until ctx ends, or until every
// listener has stopped, which is reported as a *messaging.ReceiveError.
func listen(ctx context.Context, rt *runtime, bindings []string, duration time.Duration, format string, out io.Writer) error {
	for _, binding := range bindings {
		if _, err := rt.client.StartReceiving(ctx, binding); err != nil {
			return err
		}
		rt.logger.Info("listening", "binding", binding)
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	inbox := rt.client.Inbox()
	ticker := time.NewTicker(listenerCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-inbox.Notify():
			if err := writeEvents(out, format, inbox.Take()); err != nil {
				return err
			}
		case <-ticker.C:
			if len(rt.client.Listening()) > 0 {
				continue
			}
			if err := writeEvents(out, format, inbox.Take()); err != nil {
				return err
			}
			return &messaging.ReceiveError{
				Binding: strings.Join(bindings, ","),
				Err:     errListenersStopped,
			}
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			for _, binding := range bindings {
				if err := rt.client.StopReceiving(stopCtx, binding); err != nil {
					rt.logger.Warn("stopping listener", "binding", binding, "error", err)
				}
			}
			if dropped := inbox.Dropped(); dropped > 0 {
				rt.logger.Warn("inbox overflowed", "dropped", dropped)
			}
			return writeEvents(out, format, inbox.Take())
		}
	}
}

func newDrainCommand(options *globalOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "drain <binding>",
		Short: "Print every message currently queued on a binding",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			return withRuntime(cmd, options, func(ctx context.Context, rt *runtime) error {
				batch, err := rt.client.DrainOnce(ctx, args[0])
				if err != nil {
					return err
				}
				rt.logger.Info("drained", "binding", args[0], "count", len(batch))
				return writeEvents(cmd.OutOrStdout(), format, batch)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "output format: text, json, delimited or cbor")
	return cmd
}

func newReceiveCommand(options *globalOptions) *cobra.Command {
	var (
		format  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "receive <binding>",
		Short: "Wait for one message",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			if timeout < 0 {
				return usagef("--timeout must not be negative")
			}
			return withRuntime(cmd, options, func(ctx context.Context, rt *runtime) error {
				wait := timeout
				if wait == 0 {
					wait = rt.config.Client.ReceiveTimeout
				}
				event, err := rt.client.Receive(ctx, args[0], wait)
				if err != nil {
					return err
				}
				return writeEvent(cmd.OutOrStdout(), format, event)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "output format: text, json, delimited or cbor")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait (default client.receive_timeout)")
	return cmd
}

func newBindingsCommand(options *globalOptions) *cobra.Command {
	var (
		asJSON  bool
		connect bool
	)
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "List configured bindings and their endpoint state",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, options, func(ctx context.Context, rt *runtime) error {
				registry := rt.client.Registry()
				if connect {
					for _, name := range registry.Bindings() {
						if _, err := registry.Resolve(ctx, name); err != nil {
							return err
						}
					}
				}
				return writeBindings(cmd.OutOrStdout(), registry.State(), asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&connect, "connect", false, "open an endpoint for every binding first")
	return cmd
}

type bindingRow struct {
	Binding string     `json:"binding"`
	Target  string     `json:"target"`
	Live    bool       `json:"live"`
	Since   *time.Time `json:"since,omitempty"`
}

func writeBindings(w io.Writer, states []messaging.EndpointState, asJSON bool) error {
	rows := make([]bindingRow, 0, len(states))
	for _, state := range states {
		row := bindingRow{Binding: state.Binding, Target: state.Target, Live: state.Live}
		if state.Live {
			since := state.Since
			row.Since = &since
		}
		rows = append(rows, row)
	}

	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	}

	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "BINDING\tTARGET\tLIVE\tSINCE")
	for _, row := range rows {
		since := "-"
		if row.Since != nil {
			since = row.Since.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(table, "%s\t%s\t%t\t%s\n", row.Binding, row.Target, row.Live, since)
	}
	return table.Flush()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Product, version.Info())
			return err
		},
	}
}
