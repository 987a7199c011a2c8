// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/bureau-foundation/eventmesh/lib/codec"
	"github.com/bureau-foundation/eventmesh/messaging"
)

// Event output formats.
const (
	formatText      = "text"
	formatJSON      = "json"
	formatDelimited = "delimited"
	formatCBOR      = "cbor"
)

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatDelimited, formatCBOR:
		return nil
	default:
		return usagef("invalid --output %q: want text, json, delimited or cbor", format)
	}
}

// writeEvent writes one event per line. CBOR is shown in diagnostic
// notation.
func writeEvent(w io.Writer, format string, event messaging.MessageEvent) error {
	var line string
	switch format {
	case formatJSON:
		data, err := event.JSON()
		if err != nil {
			return err
		}
		line = string(data)
	case formatDelimited:
		line = event.Delimited()
	case formatCBOR:
		data, err := event.CBOR()
		if err != nil {
			return err
		}
		line, err = codec.Diagnose(data)
		if err != nil {
			return err
		}
	case formatText:
		line = fmt.Sprintf("%s  %s  %s", event.Timestamp.UTC().Format(time.RFC3339Nano), event.ID, escapeLine(event.Text))
	default:
		return errors.Errorf("unknown format %q", format)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func writeEvents(w io.Writer, format string, events []messaging.MessageEvent) error {
	for _, event := range events {
		if err := writeEvent(w, format, event); err != nil {
			return err
		}
	}
	return nil
}

// escapeLine keeps multi-line text on one output line.
func escapeLine(text string) string {
	return strings.NewReplacer("\\", `\\`, "\n", `\n`, "\r", `\r`).Replace(text)
}
