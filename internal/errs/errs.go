/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errs defines the closed error classification used across the
// server. Every failure surfaced to a caller carries exactly one Kind,
// independent of its underlying cause.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one class of failure.
type Kind string

const (
	KindInvalidArgument    Kind = "invalid_argument"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindInvalidToken       Kind = "invalid_token"
	KindInvalidKey         Kind = "invalid_key"
	KindAccessDenied       Kind = "access_denied"
	KindToolNotFound       Kind = "tool_not_found"
	KindNotFound           Kind = "not_found"
	KindToolDisabled       Kind = "tool_disabled"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindTimeout            Kind = "timeout"
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindUpstreamFailure    Kind = "upstream_failure"
	KindConflict           Kind = "conflict"
	KindUnavailable        Kind = "unavailable"
	KindInternal           Kind = "internal"
)

// Error is a classified error. Fields holds offending field paths for
// invalid-argument errors.
type Error struct {
	Kind   Kind
	Msg    string
	Fields []string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithFields attaches offending field paths.
func (e *Error) WithFields(paths ...string) *Error {
	e.Fields = append(e.Fields, paths...)
	return e
}

// KindOf extracts the Kind from an error chain. Unclassified errors map
// to KindInternal; context deadline expiry maps to KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// FieldPaths returns the offending field paths carried by the error, if any.
func FieldPaths(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Classify wraps an arbitrary handler error into the taxonomy. Classified
// errors pass through unchanged; deadline expiry becomes Timeout; everything
// else is treated as an upstream failure with an opaque cause.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(KindTimeout, "execution deadline exceeded", err)
	}
	return Wrap(KindUpstreamFailure, "handler execution failed", err)
}

// HTTPStatus maps a Kind to its REST status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindInvalidToken, KindInvalidKey:
		return http.StatusUnauthorized
	case KindAccessDenied:
		return http.StatusForbidden
	case KindToolNotFound, KindNotFound:
		return http.StatusNotFound
	case KindToolDisabled, KindConflict:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUpstreamFailure:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// JSON-RPC 2.0 codes. InvalidArgument uses the protocol's invalid-params
// code; the remaining kinds occupy the reserved application range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// JSONRPCCode maps a Kind to its JSON-RPC error code.
func JSONRPCCode(kind Kind) int {
	switch kind {
	case KindInvalidArgument:
		return CodeInvalidParams
	case KindInvalidCredentials:
		return -32000
	case KindInvalidToken:
		return -32001
	case KindInvalidKey:
		return -32002
	case KindAccessDenied:
		return -32003
	case KindToolNotFound:
		return -32004
	case KindToolDisabled:
		return -32005
	case KindQuotaExceeded:
		return -32006
	case KindTimeout:
		return -32007
	case KindPayloadTooLarge:
		return -32008
	case KindUpstreamFailure:
		return -32009
	case KindConflict:
		return -32010
	case KindUnavailable:
		return -32011
	case KindNotFound:
		return -32012
	default:
		return -32013
	}
}
