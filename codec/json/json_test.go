// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package json

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCodecRoundTripScalarsAndNesting(t *testing.T) {
	c := New()
	if got := c.Name(); got != "json" {
		t.Fatalf("got %q, want json", got)
	}

	in := map[string]any{
		"str":    "hello",
		"num":    float64(42),
		"bool":   true,
		"null":   nil,
		"list":   []any{float64(1), float64(2), "three"},
		"nested": map[string]any{"a": float64(1)},
	}

	buf, err := c.ToBytes(in)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	got, err := c.FromBytes(buf)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCodecBytesSentinel(t *testing.T) {
	c := New()
	in := map[string]any{"blob": []byte{0, 1, 2, 255}}

	buf, err := c.ToBytes(in)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	if !containsSentinel(buf) {
		t.Fatalf("expected $t sentinel in wire bytes, got %s", buf)
	}

	got, err := c.FromBytes(buf)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	gotMap, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want map[string]any", got)
	}
	gotBlob, ok := gotMap["blob"].([]byte)
	if !ok {
		t.Fatalf("blob is %T, want []byte", gotMap["blob"])
	}
	if diff := cmp.Diff([]byte{0, 1, 2, 255}, gotBlob); diff != "" {
		t.Errorf("blob mismatch (-want +got):\n%s", diff)
	}
}

func containsSentinel(buf []byte) bool {
	s := string(buf)
	for i := 0; i+4 <= len(s); i++ {
		if s[i:i+4] == `"$t"` {
			return true
		}
	}
	return false
}
