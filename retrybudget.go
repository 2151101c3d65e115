// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Retry budget parameters (spec §4.4).
const (
	retryBaseIntervalMS  = 150
	retryMaxJitterMS     = 200
	retryMaxBackoffMS    = 32000
	retryCapacity        = 5
	retryRestoreInterval = 200 * time.Millisecond
)

// RetryBudget is a leaky-bucket count of consumed connection attempts,
// restored gradually over time, guarding reconnect attempts against a tight
// loop (spec §4.4).
type RetryBudget struct {
	mu       sync.Mutex
	consumed int
	restore  *time.Timer

	// reconnectLimiter is a secondary, continuously-replenishing ceiling on
	// reconnect attempt cadence, independent of the leaky bucket: even with
	// spare budget capacity, attempts are paced no faster than this allows.
	// See SPEC_FULL.md's DOMAIN STACK wiring of golang.org/x/time/rate.
	reconnectLimiter *rate.Limiter
}

// NewRetryBudget returns a freshly reset retry budget.
func NewRetryBudget() *RetryBudget {
	return &RetryBudget{
		reconnectLimiter: rate.NewLimiter(rate.Every(retryBaseIntervalMS*time.Millisecond), 1),
	}
}

// HasBudget reports whether another connection attempt may be consumed.
func (b *RetryBudget) HasBudget() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumed < retryCapacity
}

// GetBackoffMS returns the number of milliseconds to wait before the next
// connection attempt, given the currently consumed budget.
func (b *RetryBudget) GetBackoffMS() int {
	b.mu.Lock()
	consumed := b.consumed
	b.mu.Unlock()

	if consumed == 0 {
		return 0
	}
	backoff := math.Min(float64(retryBaseIntervalMS)*math.Pow(2, float64(consumed-1)), retryMaxBackoffMS)
	jitter := rand.Intn(retryMaxJitterMS + 1)
	return int(backoff) + jitter
}

// Consume records one connection attempt and cancels any in-progress
// restoration, since a fresh failure means we are not yet earning budget
// back.
func (b *RetryBudget) Consume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumed++
	if b.restore != nil {
		b.restore.Stop()
		b.restore = nil
	}
}

// StartRestoring begins decrementing the consumed count by one every
// restore interval, until it reaches zero. Call this once a connection
// succeeds.
func (b *RetryBudget) StartRestoring() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.restore != nil || b.consumed == 0 {
		return
	}
	b.restore = time.AfterFunc(retryRestoreInterval, b.tick)
}

func (b *RetryBudget) tick() {
	b.mu.Lock()
	if b.consumed > 0 {
		b.consumed--
	}
	done := b.consumed == 0
	if !done {
		b.restore = time.AfterFunc(retryRestoreInterval, b.tick)
	} else {
		b.restore = nil
	}
	b.mu.Unlock()
}

// Reset zeroes the consumed count and cancels any in-progress restoration.
func (b *RetryBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumed = 0
	if b.restore != nil {
		b.restore.Stop()
		b.restore = nil
	}
}

// WaitReconnectSlot blocks until the secondary reconnect-cadence limiter
// allows another attempt, independent of the leaky-bucket budget above.
func (b *RetryBudget) WaitReconnectSlot() {
	r := b.reconnectLimiter.Reserve()
	if !r.OK() {
		return
	}
	time.Sleep(r.Delay())
}
