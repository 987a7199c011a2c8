// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration used for the binary output
// form of message events.
//
// JSON and the delimited text form are for humans and for the broker
// payloads other clients expect; CBOR is for tools that archive or pipe
// events between processes. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2), so the same event always produces the same
// bytes. Types carry `json` tags only; fxamacker/cbor falls back to
// them, so one tag names a field in both formats.
package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	// uuid.UUID and similar identifiers encode as text, not byte maps.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	// Timestamps keep sub-second precision and their zone offset.
	encOptions.Time = cbor.TimeRFC3339Nano

	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder writes a CBOR sequence; one item per Encode call.
type Encoder = cbor.Encoder

// NewEncoder returns a deterministic encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// Diagnose renders data in CBOR diagnostic notation for debugging
// output.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
