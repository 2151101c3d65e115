// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import "testing"

func TestWritableWrite(t *testing.T) {
	var got []any
	w := NewWritable(func(v any) { got = append(got, v) }, nil)

	if err := w.Write("a"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write("b"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}
}

func TestWritableWriteAfterCloseFails(t *testing.T) {
	w := NewWritable(func(any) {}, nil)
	w.Close()
	if err := w.Write("x"); err == nil {
		t.Fatal("expected error writing to closed writable")
	}
}

func TestWritableCloseIsIdempotent(t *testing.T) {
	closes := 0
	w := NewWritable(func(any) {}, func() { closes++ })

	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if closes != 1 {
		t.Fatalf("got %d close callback invocations, want 1", closes)
	}
}

func TestWritableCloseWritesFinalBeforeCloseCallback(t *testing.T) {
	var order []string
	w := NewWritable(
		func(v any) { order = append(order, "write:"+v.(string)) },
		func() { order = append(order, "close") },
	)

	w.Close("final")

	want := []string{"write:final", "close"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("got %v, want %v", order, want)
	}
}

func TestWritableCloseWithoutFinalSkipsWrite(t *testing.T) {
	writes := 0
	w := NewWritable(func(any) { writes++ }, nil)
	w.Close()
	if writes != 0 {
		t.Fatalf("got %d writes, want 0", writes)
	}
}

func TestWritableMarkClosedSkipsCallbacks(t *testing.T) {
	writes, closes := 0, 0
	w := NewWritable(func(any) { writes++ }, func() { closes++ })
	w.markClosed()
	if !w.IsClosed() {
		t.Fatal("expected IsClosed after markClosed")
	}
	if writes != 0 || closes != 0 {
		t.Fatalf("got writes=%d closes=%d, want 0,0", writes, closes)
	}
	if w.IsWritable() {
		t.Fatal("expected IsWritable to be false after markClosed")
	}
}
