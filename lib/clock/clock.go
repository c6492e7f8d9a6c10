// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock provides the subset of the time package that sentinel
// components use. Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on C every d.
	// Panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. Call Stop to release the
// underlying timer; Stop does not close C.
//
// C is buffered with capacity 1, matching time.Ticker: a consumer that
// falls behind misses ticks instead of accumulating them.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. No tick is delivered after Stop returns.
func (t *Ticker) Stop() { t.stop() }
