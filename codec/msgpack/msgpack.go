// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package msgpack implements River's binary codec variant (spec §4.1),
// backed by the msgpack format's native bin type, so byte slices round-trip
// without the base64 sentinel the JSON variant needs.
package msgpack

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec is River's msgpack wire codec.
type Codec struct{}

// New returns a ready-to-use msgpack codec.
func New() *Codec {
	return &Codec{}
}

// Name implements river.Codec.
func (c *Codec) Name() string { return "msgpack" }

// ToBytes implements river.Codec.
func (c *Codec) ToBytes(v any) ([]byte, error) {
	buf, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack codec: %w", err)
	}
	return buf, nil
}

// FromBytes implements river.Codec.
func (c *Codec) FromBytes(b []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("msgpack codec: %w", err)
	}
	return normalizeMaps(v), nil
}

// normalizeMaps walks the decoded tree through its maps and slices,
// writing each element back in place. msgpack.v5 already decodes maps as
// map[string]interface{}, which is the same type as map[string]any, so the
// tree comes back unchanged.
func normalizeMaps(v any) any {
	switch x := v.(type) {
	case map[string]interface{}:
		for k, vv := range x {
			x[k] = normalizeMaps(vv)
		}
		return x
	case []interface{}:
		for i, vv := range x {
			x[i] = normalizeMaps(vv)
		}
		return x
	default:
		return v
	}
}
