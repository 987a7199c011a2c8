// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
)

// AMQP value-section header: descriptor 0x00 0x53 0x77 (amqp-value),
// then str8-utf8 (0xA1) with a one-byte length.
const (
	frameHeaderSize = 5
	maxFramedText   = 0xFF
)

var frameSignature = [frameHeaderSize - 1]byte{0x00, 0x53, 0x77, 0xA1}

// IsFramed reports whether body starts with the value-section header
// and its length byte matches the remaining bytes exactly.
func IsFramed(body []byte) bool {
	if len(body) < frameHeaderSize {
		return false
	}
	if [frameHeaderSize - 1]byte(body[:frameHeaderSize-1]) != frameSignature {
		return false
	}
	return int(body[frameHeaderSize-1]) == len(body)-frameHeaderSize
}

// DecodePayload returns the text of a message body, stripping the
// value-section header when IsFramed. Invalid UTF-8 becomes U+FFFD.
// Never fails.
func DecodePayload(body []byte) string {
	if IsFramed(body) {
		body = body[frameHeaderSize:]
	}
	return strings.ToValidUTF8(string(body), string(utf8.RuneError))
}

// FramePayload wraps text in the value-section header. The one-byte
// length limits text to 255 bytes.
func FramePayload(text string) ([]byte, error) {
	if len(text) > maxFramedText {
		return nil, errors.Errorf("messaging: framed payload limited to %d bytes, got %d", maxFramedText, len(text))
	}
	framed := make([]byte, 0, frameHeaderSize+len(text))
	framed = append(framed, frameSignature[:]...)
	framed = append(framed, byte(len(text)))
	return append(framed, text...), nil
}
