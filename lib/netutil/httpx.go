// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides the I/O helpers shared by the token client
// and the broker transport: size-bounded response reads, charset-aware
// decoding of response text, and classification of errors that mean
// "the peer went away" rather than "something broke".
package netutil

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrTooLarge is wrapped by ReadBounded when the body exceeds its limit.
var ErrTooLarge = errors.New("response body exceeds limit")

// ReadBounded reads all of body, failing with ErrTooLarge when it holds
// more than limit bytes. One extra byte is read to tell "exactly limit"
// apart from "more than limit".
func ReadBounded(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}

// Charset names the decoding DecodeText applies.
type Charset string

const (
	CharsetUTF8     Charset = "utf-8"
	CharsetLatin1   Charset = "iso-8859-1"
	CharsetUSASCII  Charset = "us-ascii"
	defaultCharset          = CharsetUSASCII
)

// CharsetFromContentType picks the charset parameter of a Content-Type
// header. Only UTF-8 and ISO-8859-1 are recognized; anything else,
// including a missing or unparsable header, is US-ASCII.
func CharsetFromContentType(contentType string) Charset {
	if contentType == "" {
		return defaultCharset
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return defaultCharset
	}
	switch strings.ToLower(strings.TrimSpace(params["charset"])) {
	case "utf-8", "utf8":
		return CharsetUTF8
	case "iso-8859-1", "latin1", "iso8859-1":
		return CharsetLatin1
	default:
		return defaultCharset
	}
}

// DecodeText converts data to a Go string under charset. Malformed
// input never fails: invalid UTF-8 and non-ASCII bytes under US-ASCII
// become U+FFFD.
func DecodeText(data []byte, charset Charset) string {
	switch charset {
	case CharsetUTF8:
		return strings.ToValidUTF8(string(data), string(utf8.RuneError))
	case CharsetLatin1:
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			// ISO-8859-1 maps every byte; unreachable in practice.
			return strings.ToValidUTF8(string(data), string(utf8.RuneError))
		}
		return string(decoded)
	default:
		var builder strings.Builder
		builder.Grow(len(data))
		for _, b := range data {
			if b < utf8.RuneSelf {
				builder.WriteByte(b)
			} else {
				builder.WriteRune(utf8.RuneError)
			}
		}
		return builder.String()
	}
}

// EncodeLatin1 encodes s as ISO-8859-1. Runes outside Latin-1 become
// '?', matching what HTTP Basic implementations on the JVM send.
func EncodeLatin1(s string) []byte {
	encoded := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.ISO8859_1.EncodeRune(r)
		if !ok {
			b = '?'
		}
		encoded = append(encoded, b)
	}
	return encoded
}
