// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// eventmesh is a command-line client for an AMQP 1.0 event mesh. It
// authenticates with the OAuth2 client-credentials grant, then sends,
// listens, drains and receives on the bindings named in its
// configuration file.
package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/eventmesh/lib/process"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		process.Fatal(err)
	}
}
