// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/go-faster/errors"
	"golang.org/x/term"

	"github.com/bureau-foundation/eventmesh/lib/config"
	"github.com/bureau-foundation/eventmesh/lib/secret"
)

// loadClientSecret moves the client secret into protected memory. A
// secret file of "-" reads stdin, prompting without echo when stdin is
// a terminal.
func loadClientSecret(auth config.AuthConfig, stdin *os.File, prompt io.Writer) (*secret.Buffer, error) {
	switch {
	case auth.ClientSecretFile == "-" && stdin != nil && term.IsTerminal(int(stdin.Fd())):
		fmt.Fprint(prompt, "Client secret: ")
		data, err := term.ReadPassword(int(stdin.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return nil, errors.Wrap(err, "reading client secret")
		}
		defer secret.Zero(data)
		return secret.ReadFrom(bytes.NewReader(data))
	case auth.ClientSecretFile == "-" && stdin != nil:
		return secret.ReadFrom(stdin)
	case auth.ClientSecretFile != "":
		buffer, err := secret.ReadFromPath(auth.ClientSecretFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading client secret file")
		}
		return buffer, nil
	case auth.ClientSecret != "":
		return secret.NewFromString(auth.ClientSecret)
	default:
		return nil, errors.New("no client secret configured")
	}
}
