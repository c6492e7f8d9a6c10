// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time package behind an interface so that
// timer-driven code (the retention sweeper, trailing-window statistics,
// websocket keepalives) can be tested deterministically.
//
// Production code injects [Real]. Tests inject [Fake], advance it
// explicitly, and observe exactly which timers fire and in what order.
//
// Any sentinel function that would call time.Now, time.After,
// time.NewTicker, or time.Sleep should take a Clock instead (or be a
// method on a struct carrying one).
package clock
