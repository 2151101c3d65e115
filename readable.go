// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import (
	"context"
	"fmt"
	"sync"
)

// Readable is a single-producer/single-consumer async queue of values
// pushed by the protocol core and drained by application code (spec §4.2).
//
// Once closed with an empty queue, iteration terminates normally. Once
// broken, the next read yields exactly one synthesized READABLE_BROKEN
// result and then terminates; breaking an already-done readable is a
// no-op. This is the corrected reconciliation of the two divergent
// behaviors the protocol's design notes call out (see DESIGN.md); unlike
// the reference implementation this broken result is delivered exactly
// once, never replayed on subsequent reads.
type Readable struct {
	mu              sync.Mutex
	queue           []any
	closed          bool
	broken          bool
	brokenDelivered bool
	locked          bool
	notify          chan struct{}
}

// NewReadable returns an empty, open Readable.
func NewReadable() *Readable {
	return &Readable{notify: make(chan struct{})}
}

func (r *Readable) wakeLocked() {
	close(r.notify)
	r.notify = make(chan struct{})
}

// isDoneLocked reports whether the readable has nothing left to ever
// deliver: closed with an empty queue, or broken with its one synthesized
// error already delivered.
func (r *Readable) isDoneLocked() bool {
	if r.broken {
		return r.brokenDelivered
	}
	return r.closed && len(r.queue) == 0
}

// Push enqueues v and wakes one waiter. It fails if the readable is closed
// or broken.
func (r *Readable) Push(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.broken {
		return fmt.Errorf("river: readable is closed")
	}
	r.queue = append(r.queue, v)
	r.wakeLocked()
	return nil
}

// Close marks the readable closed, failing if it is already closed. It
// wakes all waiters so they observe the end of the stream once the queue
// drains.
func (r *Readable) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("river: readable already closed")
	}
	r.closed = true
	r.wakeLocked()
	return nil
}

// Break may be called at any time. If the readable is already done, it is
// a no-op. Otherwise it clears the queue and marks the readable broken and
// locked; the next Next call yields exactly one synthesized
// READABLE_BROKEN result.
func (r *Readable) Break() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isDoneLocked() {
		return
	}
	r.broken = true
	r.locked = true
	r.queue = nil
	r.wakeLocked()
}

// IsClosed reports whether Close or Break has been called.
func (r *Readable) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed || r.broken
}

// acquireIteration locks the readable for iteration, failing if it is
// already locked (spec §4.2: "a second attempt to acquire iteration
// fails").
func (r *Readable) acquireIteration() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return fmt.Errorf("river: readable is already being iterated")
	}
	r.locked = true
	return nil
}

// Next performs one cooperative read, blocking until a value is available,
// the readable is closed, it is broken, or ctx is done. done is true only
// once there is nothing left to ever deliver.
func (r *Readable) Next(ctx context.Context) (value any, done bool, err error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			v := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return v, false, nil
		}
		if r.broken {
			if r.brokenDelivered {
				r.mu.Unlock()
				return nil, true, nil
			}
			r.brokenDelivered = true
			r.mu.Unlock()
			return errResult(CodeReadableBroken, "stream was broken"), false, nil
		}
		if r.closed {
			r.mu.Unlock()
			return nil, true, nil
		}
		notify := r.notify
		r.mu.Unlock()

		select {
		case <-notify:
			continue
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// Collect locks the readable for iteration and drains it to completion,
// returning every value in order (including a terminal READABLE_BROKEN
// result, if any). It fails if the readable is already locked.
func (r *Readable) Collect(ctx context.Context) ([]any, error) {
	if err := r.acquireIteration(); err != nil {
		return nil, err
	}
	var out []any
	for {
		v, done, err := r.Next(ctx)
		if err != nil {
			return out, err
		}
		if done {
			return out, nil
		}
		out = append(out, v)
	}
}

// Iterate locks the readable for iteration and returns a channel of its
// values, closed once the readable is done. It fails if the readable is
// already locked. This is the idiomatic Go analogue of the reference
// implementation's async iterator protocol; range over the returned
// channel in place of `async for`.
func (r *Readable) Iterate(ctx context.Context) (<-chan any, error) {
	if err := r.acquireIteration(); err != nil {
		return nil, err
	}
	ch := make(chan any)
	go func() {
		defer close(ch)
		for {
			v, done, err := r.Next(ctx)
			if err != nil || done {
				return
			}
			select {
			case ch <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
