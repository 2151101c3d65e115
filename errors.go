// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import "fmt"

// Well-known application error codes, per spec §7.
const (
	CodeUnexpectedDisconnect = "UNEXPECTED_DISCONNECT"
	CodeCancel               = "CANCEL"
	CodeReadableBroken       = "READABLE_BROKEN"
	CodeUncaughtError        = "UNCAUGHT_ERROR"
	CodeInvalidRequest       = "INVALID_REQUEST"
)

// Transport-level protocol error types, dispatched via the protocolError
// event rather than surfaced on a stream (spec §7).
const (
	ProtoErrConnRetryExceeded = "conn_retry_exceeded"
	ProtoErrHandshakeFailed   = "handshake_failed"
	ProtoErrInvalidMessage    = "invalid_message"
	ProtoErrMessageSendFailed = "message_send_failure"
)

// Error is a River application-level error, carried end-to-end inside a
// [Result]'s payload when ok is false.
type Error struct {
	Code    string
	Message string
	Extras  any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// newError builds an *Error, mirroring err_result in the wire contract.
func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ProtocolError is emitted as the payload of a protocolError transport
// event (spec §4.5, §7); it is never delivered to a stream's readable.
type ProtocolError struct {
	Type    string
	Message string
	Code    string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("river: %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("river: %s: %s", e.Type, e.Message)
}

// ErrSessionScopeEnded is returned by a session-bound send closure once the
// session it was bound to has been replaced or destroyed.
var ErrSessionScopeEnded = fmt.Errorf("river: session scope ended")
