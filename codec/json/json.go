// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package json implements River's "naive" JSON codec variant: plain JSON
// with byte strings encoded as {"$t": <base64>} so that a TransportMessage
// payload containing raw bytes round-trips without loss (spec §4.1).
package json

import (
	"encoding/base64"
	"fmt"

	sjson "github.com/segmentio/encoding/json"
)

// Codec is River's JSON wire codec, backed by segmentio/encoding/json for
// its lower allocation overhead relative to encoding/json on the
// map[string]any shapes envelopes decode into.
type Codec struct{}

// New returns a ready-to-use JSON codec.
func New() *Codec {
	return &Codec{}
}

// Name implements river.Codec.
func (c *Codec) Name() string { return "json" }

// ToBytes implements river.Codec.
func (c *Codec) ToBytes(v any) ([]byte, error) {
	buf, err := sjson.Marshal(encodeBytesSentinel(v))
	if err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return buf, nil
}

// FromBytes implements river.Codec.
func (c *Codec) FromBytes(b []byte) (any, error) {
	var v any
	if err := sjson.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return decodeBytesSentinel(v), nil
}

// encodeBytesSentinel recursively replaces []byte values with the
// {"$t": base64} sentinel object, since plain JSON has no byte-string type.
func encodeBytesSentinel(v any) any {
	switch x := v.(type) {
	case []byte:
		return map[string]any{"$t": base64.StdEncoding.EncodeToString(x)}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = encodeBytesSentinel(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = encodeBytesSentinel(vv)
		}
		return out
	default:
		return v
	}
}

// decodeBytesSentinel is the inverse of encodeBytesSentinel, applied after
// a generic JSON decode.
func decodeBytesSentinel(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			if s, ok := x["$t"].(string); ok {
				if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
					return raw
				}
			}
		}
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = decodeBytesSentinel(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = decodeBytesSentinel(vv)
		}
		return out
	default:
		return v
	}
}
