// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrUnsupportedGrantType is wrapped in an AuthError when the
	// settings ask for anything but client credentials.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")

	// ErrListenerActive is returned by Client.Receive while a listener
	// owns the binding.
	ErrListenerActive = errors.New("messaging: listener active on binding")

	// ErrEndpointClosed is returned by operations on an Endpoint after
	// it has been closed.
	ErrEndpointClosed = errors.New("messaging: endpoint closed")

	// ErrClientClosed is returned by every Client operation after Close.
	ErrClientClosed = errors.New("messaging: client closed")
)

// AuthError reports a failed token request: an invalid or unsupported
// configuration, a network failure, a non-2xx status, or a response
// without a usable access_token.
//
//	var authErr *AuthError
//	if errors.As(err, &authErr) { ... }
type AuthError struct {
	TokenURL string
	Err      error
}

func (e *AuthError) Error() string {
	if e.TokenURL == "" {
		return fmt.Sprintf("messaging: authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("messaging: authentication against %s failed: %v", e.TokenURL, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TokenStatusError is wrapped in an AuthError when the token endpoint
// answers outside 200-299.
type TokenStatusError struct {
	StatusCode int
	// Body is the start of the decoded response body.
	Body string
}

func (e *TokenStatusError) Error() string {
	return fmt.Sprintf("token endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// ResponseTooLargeError is wrapped in an AuthError when the token
// response exceeds the read bound.
type ResponseTooLargeError struct {
	Limit int64
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("token response exceeds %d bytes", e.Limit)
}

// TokenExtractionError is wrapped in an AuthError when the response has
// no well-formed "access_token" string.
type TokenExtractionError struct {
	Reason string
}

func (e *TokenExtractionError) Error() string {
	return "cannot extract access_token: " + e.Reason
}

// BindingNotConfiguredError is returned when a binding name has no
// configured address. It is a configuration error, never a transport
// error.
type BindingNotConfiguredError struct {
	Binding string
}

func (e *BindingNotConfiguredError) Error() string {
	return fmt.Sprintf("messaging: binding %q is not configured", e.Binding)
}

// SendError wraps a transport failure while sending.
type SendError struct {
	Binding string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("messaging: send to %q failed: %v", e.Binding, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError wraps a transport failure while receiving.
type ReceiveError struct {
	Binding string
	Err     error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("messaging: receive from %q failed: %v", e.Binding, e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// CloseError reports the failures of closing an endpoint. The session
// and the connection are closed independently, so either or both may
// be set.
type CloseError struct {
	Binding    string
	Session    error
	Connection error
}

func (e *CloseError) Error() string {
	switch {
	case e.Session != nil && e.Connection != nil:
		return fmt.Sprintf("messaging: closing %q: session: %v; connection: %v", e.Binding, e.Session, e.Connection)
	case e.Session != nil:
		return fmt.Sprintf("messaging: closing %q: session: %v", e.Binding, e.Session)
	default:
		return fmt.Sprintf("messaging: closing %q: connection: %v", e.Binding, e.Connection)
	}
}

func (e *CloseError) Unwrap() []error {
	var errs []error
	if e.Session != nil {
		errs = append(errs, e.Session)
	}
	if e.Connection != nil {
		errs = append(errs, e.Connection)
	}
	return errs
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsBindingNotConfigured reports whether err is or wraps a
// *BindingNotConfiguredError.
func IsBindingNotConfigured(err error) bool {
	var bindingErr *BindingNotConfiguredError
	return errors.As(err, &bindingErr)
}
