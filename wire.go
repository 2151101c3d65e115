// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

// ControlFlags is a bitmask carried on every [TransportMessage].
type ControlFlags int

const (
	// FlagAck marks an envelope as a heartbeat/echo carrying no application payload.
	FlagAck ControlFlags = 1 << iota
	// FlagStreamOpen marks the first envelope of a stream.
	FlagStreamOpen
	// FlagStreamCancel marks an out-of-band cancellation of a stream.
	FlagStreamCancel
	// FlagStreamClosed marks the final envelope of a stream.
	FlagStreamClosed
)

// Has reports whether all bits in want are set in f.
func (f ControlFlags) Has(want ControlFlags) bool {
	return f&want == want
}

const (
	streamIDHandshake = "handshake"
	streamIDHeartbeat = "heartbeat"
)

// TransportMessage is the wire-level envelope exchanged between peers.
// See spec §3 and §6.
type TransportMessage struct {
	ID            string         `json:"id"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Seq           int64          `json:"seq"`
	Ack           int64          `json:"ack"`
	Payload       any            `json:"payload"`
	StreamID      string         `json:"streamId"`
	ControlFlags  ControlFlags   `json:"controlFlags"`
	ServiceName   string         `json:"serviceName,omitempty"`
	ProcedureName string         `json:"procedureName,omitempty"`
	Tracing       map[string]any `json:"tracing,omitempty"`
}

// PartialTransportMessage carries the fields a caller supplies when asking
// a [Session] to construct and send a message; the session fills in id,
// from, to, seq and ack.
type PartialTransportMessage struct {
	Payload       any
	StreamID      string
	ControlFlags  ControlFlags
	ServiceName   string
	ProcedureName string
	Tracing       map[string]any
}

func isAck(f ControlFlags) bool           { return f.Has(FlagAck) }
func isStreamOpen(f ControlFlags) bool    { return f.Has(FlagStreamOpen) }
func isStreamCancel(f ControlFlags) bool  { return f.Has(FlagStreamCancel) }
func isStreamClosed(f ControlFlags) bool  { return f.Has(FlagStreamClosed) }

// heartbeatMessage builds the partial message for an echoed heartbeat.
func heartbeatMessage() PartialTransportMessage {
	return PartialTransportMessage{
		Payload:      map[string]any{"type": "ACK"},
		StreamID:     streamIDHeartbeat,
		ControlFlags: FlagAck,
	}
}

// closeStreamMessage builds the partial message for a clean stream close.
func closeStreamMessage(streamID string) PartialTransportMessage {
	return PartialTransportMessage{
		Payload:      map[string]any{"type": "CLOSE"},
		StreamID:     streamID,
		ControlFlags: FlagStreamClosed,
	}
}

// cancelMessage builds the partial message for a stream cancellation,
// carrying the given error result as payload.
func cancelMessage(streamID string, payload any) PartialTransportMessage {
	return PartialTransportMessage{
		Payload:      payload,
		StreamID:     streamID,
		ControlFlags: FlagStreamCancel,
	}
}

// Result is the `{ok, payload}` shape every application message carries,
// per spec §6.
type Result struct {
	OK      bool `json:"ok"`
	Payload any  `json:"payload"`
}

// ErrPayload is the payload shape of a non-ok [Result].
type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Extras  any    `json:"extras,omitempty"`
}

func okResult(payload any) map[string]any {
	r := Result{OK: true, Payload: payload}
	return map[string]any{"ok": r.OK, "payload": r.Payload}
}

func errResult(code, message string) map[string]any {
	e := newError(code, message)
	r := Result{OK: false, Payload: ErrPayload{Code: e.Code, Message: e.Message}}
	p := r.Payload.(ErrPayload)
	return map[string]any{
		"ok": r.OK,
		"payload": map[string]any{
			"code":    p.Code,
			"message": p.Message,
		},
	}
}

// handshakeRequestPayload builds the payload of a HANDSHAKE_REQ envelope.
func handshakeRequestPayload(sessionID string, nextExpectedSeq, nextSentSeq int64, metadata any) map[string]any {
	p := map[string]any{
		"type":            "HANDSHAKE_REQ",
		"protocolVersion": ProtocolVersion,
		"sessionId":       sessionID,
		"expectedSessionState": map[string]any{
			"nextExpectedSeq": nextExpectedSeq,
			"nextSentSeq":     nextSentSeq,
		},
	}
	if metadata != nil {
		p["metadata"] = metadata
	}
	return p
}

// retriableHandshakeCodes are handshake failure codes that destroy the
// session but permit a fresh connection attempt (spec §4.3).
var retriableHandshakeCodes = map[string]bool{
	"SESSION_STATE_MISMATCH": true,
}

// fatalHandshakeCodes stop retrying entirely and surface via protocolError.
var fatalHandshakeCodes = map[string]bool{
	"MALFORMED_HANDSHAKE_META":      true,
	"MALFORMED_HANDSHAKE":           true,
	"PROTOCOL_VERSION_MISMATCH":     true,
	"REJECTED_BY_CUSTOM_HANDLER":    true,
	"REJECTED_UNSUPPORTED_CLIENT":   true,
}
