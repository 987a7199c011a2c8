// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	agent := UserAgent()
	if !strings.HasPrefix(agent, Product+"/"+Version+" (") {
		t.Fatalf("UserAgent() = %q, want prefix %q", agent, Product+"/"+Version)
	}
}

func TestInfo(t *testing.T) {
	if got := Info(); !strings.Contains(got, Version) || !strings.Contains(got, GitCommit) {
		t.Fatalf("Info() = %q, missing version or commit", got)
	}
}
