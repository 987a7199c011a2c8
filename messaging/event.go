// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/eventmesh/lib/codec"
)

// MessageEvent is one sent or received message. Treat it as immutable.
type MessageEvent struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageEvent builds an event with a fresh random ID.
func NewMessageEvent(text string, timestamp time.Time) MessageEvent {
	return MessageEvent{ID: uuid.New(), Text: text, Timestamp: timestamp}
}

// Delimited renders "message=<text>;id=<uuid>;timestamp=<unix millis>;".
func (e MessageEvent) Delimited() string {
	var builder strings.Builder
	builder.Grow(len(e.Text) + 72)
	builder.WriteString("message=")
	builder.WriteString(e.Text)
	builder.WriteString(";id=")
	builder.WriteString(e.ID.String())
	builder.WriteString(";timestamp=")
	builder.WriteString(strconv.FormatInt(e.Timestamp.UnixMilli(), 10))
	builder.WriteByte(';')
	return builder.String()
}

// JSON renders {"id":...,"message":...,"timestamp":...}.
func (e MessageEvent) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// CBOR renders the event in deterministic CBOR.
func (e MessageEvent) CBOR() ([]byte, error) {
	return codec.Marshal(e)
}

// ParseMessageEvent recovers an event from its delimited form. Any text
// that is not exactly one delimited event becomes a new event with a
// fresh ID stamped now.
func ParseMessageEvent(content string, now time.Time) MessageEvent {
	if event, ok := parseDelimited(content); ok {
		return event
	}
	return NewMessageEvent(content, now)
}

// parseDelimited splits from the right so the message text may itself
// contain ';' and '='.
func parseDelimited(content string) (MessageEvent, bool) {
	const (
		messageKey   = "message="
		idKey        = ";id="
		timestampKey = ";timestamp="
	)
	if !strings.HasPrefix(content, messageKey) || !strings.HasSuffix(content, ";") {
		return MessageEvent{}, false
	}
	body := content[:len(content)-1]

	timestampIndex := strings.LastIndex(body, timestampKey)
	if timestampIndex < 0 {
		return MessageEvent{}, false
	}
	millis, err := strconv.ParseInt(body[timestampIndex+len(timestampKey):], 10, 64)
	if err != nil {
		return MessageEvent{}, false
	}
	body = body[:timestampIndex]

	idIndex := strings.LastIndex(body, idKey)
	if idIndex < len(messageKey) {
		return MessageEvent{}, false
	}
	id, err := uuid.Parse(body[idIndex+len(idKey):])
	if err != nil {
		return MessageEvent{}, false
	}

	return MessageEvent{
		ID:        id,
		Text:      body[len(messageKey):idIndex],
		Timestamp: time.UnixMilli(millis),
	}, true
}
