// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import "fmt"

// Codec is the pluggable serialization contract required by spec §4.1. A
// Codec need only round-trip the generic nested shapes that a
// [TransportMessage] flattens to: maps, slices, strings, numbers, bools and
// byte slices.
type Codec interface {
	// Name identifies the codec, e.g. "json" or "msgpack".
	Name() string
	// ToBytes encodes a generic value to bytes.
	ToBytes(v any) ([]byte, error)
	// FromBytes decodes bytes to a generic value.
	FromBytes(b []byte) (any, error)
}

// Adapter wraps a [Codec] with the envelope-shape validation required of
// every TransportMessage on the wire.
type Adapter struct {
	codec Codec
}

// NewAdapter returns an Adapter backed by codec.
func NewAdapter(codec Codec) *Adapter {
	return &Adapter{codec: codec}
}

var requiredEnvelopeFields = []string{"id", "from", "to", "seq", "ack", "payload", "streamId", "controlFlags"}

// ToBytes serializes a TransportMessage to bytes, failing if the underlying
// codec cannot encode it.
func (a *Adapter) ToBytes(msg *TransportMessage) ([]byte, error) {
	raw := envelopeToMap(msg)
	buf, err := a.codec.ToBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("river: failed to serialize message: %w", err)
	}
	return buf, nil
}

// FromBytes deserializes bytes to a TransportMessage, validating that all
// required envelope keys are present.
func (a *Adapter) FromBytes(buf []byte) (*TransportMessage, error) {
	decoded, err := a.codec.FromBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("river: failed to deserialize message: %w", err)
	}
	raw, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("river: expected object, got %T", decoded)
	}
	for _, field := range requiredEnvelopeFields {
		if _, ok := raw[field]; !ok {
			return nil, fmt.Errorf("river: missing required field %q", field)
		}
	}
	return envelopeFromMap(raw)
}

func envelopeToMap(m *TransportMessage) map[string]any {
	out := map[string]any{
		"id":           m.ID,
		"from":         m.From,
		"to":           m.To,
		"seq":          m.Seq,
		"ack":          m.Ack,
		"payload":      m.Payload,
		"streamId":     m.StreamID,
		"controlFlags": int64(m.ControlFlags),
	}
	if m.ServiceName != "" {
		out["serviceName"] = m.ServiceName
	}
	if m.ProcedureName != "" {
		out["procedureName"] = m.ProcedureName
	}
	if m.Tracing != nil {
		out["tracing"] = m.Tracing
	}
	return out
}

func envelopeFromMap(raw map[string]any) (*TransportMessage, error) {
	id, _ := raw["id"].(string)
	from, _ := raw["from"].(string)
	to, _ := raw["to"].(string)
	streamID, _ := raw["streamId"].(string)

	seq, err := toInt64(raw["seq"])
	if err != nil {
		return nil, fmt.Errorf("river: field \"seq\": %w", err)
	}
	ack, err := toInt64(raw["ack"])
	if err != nil {
		return nil, fmt.Errorf("river: field \"ack\": %w", err)
	}
	flags, err := toInt64(raw["controlFlags"])
	if err != nil {
		return nil, fmt.Errorf("river: field \"controlFlags\": %w", err)
	}

	msg := &TransportMessage{
		ID:           id,
		From:         from,
		To:           to,
		Seq:          seq,
		Ack:          ack,
		Payload:      raw["payload"],
		StreamID:     streamID,
		ControlFlags: ControlFlags(flags),
	}
	if v, ok := raw["serviceName"].(string); ok {
		msg.ServiceName = v
	}
	if v, ok := raw["procedureName"].(string); ok {
		msg.ProcedureName = v
	}
	if v, ok := raw["tracing"].(map[string]any); ok {
		msg.Tracing = v
	}
	return msg, nil
}

// toInt64 coerces the numeric types a Codec may hand back for a JSON/msgpack
// number (float64, int, int64, uint64...) into an int64.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
