// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// maxSecretFileSize bounds credential files. Client secrets and tokens
// are a few hundred bytes; anything larger is the wrong file.
const maxSecretFileSize = 64 << 10

// ReadFromPath reads a secret from path, or from stdin when path is "-".
// Surrounding whitespace (the trailing newline editors add) is trimmed.
// An empty result is an error.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return ReadFrom(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadFrom(file)
}

// ReadFrom reads at most 64 KiB from reader into a protected buffer,
// trimming surrounding whitespace.
func ReadFrom(reader io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxSecretFileSize+1))
	if err != nil {
		Zero(data)
		return nil, fmt.Errorf("secret: reading: %w", err)
	}
	if len(data) > maxSecretFileSize {
		Zero(data)
		return nil, fmt.Errorf("secret: source exceeds %d bytes", maxSecretFileSize)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret: source is empty")
	}
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
