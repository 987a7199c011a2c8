// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the eventmesh client.
//
// Values are injected at build time:
//
//	go build -ldflags "-X github.com/bureau-foundation/eventmesh/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags.
var (
	GitCommit = "unknown"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Product is the client name sent in the User-Agent of outbound
// requests.
const Product = "eventmesh-client"

// Info returns "<version> (<commit>, <build time>)" for --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// UserAgent identifies this client to the token endpoint, e.g.
// "eventmesh-client/0.1.0-dev (linux/amd64)".
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s/%s)", Product, Version, runtime.GOOS, runtime.GOARCH)
}
