// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import (
	"fmt"
	"sync"
)

// WriteFunc is invoked for every value written to a [Writable].
type WriteFunc func(v any)

// CloseFunc is invoked once, the first time a [Writable] is closed.
type CloseFunc func()

// Writable is the request-side counterpart to [Readable]: a write callback
// plus an idempotent close (spec §4.2).
type Writable struct {
	mu      sync.Mutex
	closed  bool
	writeCb WriteFunc
	closeCb CloseFunc
}

// NewWritable returns an open Writable backed by writeCb and closeCb.
// closeCb may be nil.
func NewWritable(writeCb WriteFunc, closeCb CloseFunc) *Writable {
	return &Writable{writeCb: writeCb, closeCb: closeCb}
}

// Write invokes the write callback with v. It fails if the writable is
// already closed.
func (w *Writable) Write(v any) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("river: writable is closed")
	}
	w.mu.Unlock()
	w.writeCb(v)
	return nil
}

// Close marks the writable closed and runs its close callback exactly
// once. If a final value is passed (nil included), it is written before
// the close callback runs. Close is idempotent: calling it again is a silent no-op.
func (w *Writable) Close(final ...any) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	writeCb := w.writeCb
	w.mu.Unlock()

	if len(final) > 0 && writeCb != nil {
		writeCb(final[0])
	}
	if w.closeCb != nil {
		w.closeCb()
	}
	return nil
}

// markClosed marks the writable closed without invoking the write or
// close callbacks, for the paths where the protocol core has already
// driven the teardown (e.g. transport-closed short-circuits in
// [Client]'s dispatch).
func (w *Writable) markClosed() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// IsClosed reports whether Close (or markClosed) has run.
func (w *Writable) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// IsWritable reports whether Write would currently succeed.
func (w *Writable) IsWritable() bool {
	return !w.IsClosed()
}
