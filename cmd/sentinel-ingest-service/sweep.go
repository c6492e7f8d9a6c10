// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinel-works/sentinel/lib/clock"
)

// Sweeper periodically deletes readings older than the retention
// horizon. Daily rollup rows are left in place; they are the
// historical ledger that outlives the raw readings.
//
// At most one sweep runs at a time. If a tick fires while the
// previous sweep is still deleting, the tick is skipped rather than
// queued.
type Sweeper struct {
	store    *Store
	clock    clock.Clock
	logger   *slog.Logger
	horizon  time.Duration
	interval time.Duration

	running sync.Mutex
}

// NewSweeper builds a sweeper with the given retention horizon and
// tick interval.
func NewSweeper(store *Store, clk clock.Clock, logger *slog.Logger, horizon, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		clock:    clk,
		logger:   logger,
		horizon:  horizon,
		interval: interval,
	}
}

// Run sweeps once per interval until ctx is canceled. The first sweep
// happens after one full interval, not at startup; the service is
// usually restarted far more often than the horizon, so an immediate
// sweep would mostly delete nothing.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := sw.clock.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("retention sweeper running",
		"horizon", sw.horizon,
		"interval", sw.interval)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			sw.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single sweep. Returns true if the sweep ran,
// false if it was skipped because another sweep holds the lock.
func (sw *Sweeper) SweepOnce(ctx context.Context) bool {
	if !sw.running.TryLock() {
		sw.logger.Warn("skipping sweep, previous sweep still running")
		return false
	}
	defer sw.running.Unlock()

	cutoff := sw.clock.Now().UTC().Add(-sw.horizon)
	deleted, err := sw.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		sw.logger.Error("retention sweep failed", "cutoff", cutoff, "error", err)
		return true
	}
	sw.logger.Info("retention sweep complete", "cutoff", cutoff, "deleted", deleted)
	return true
}
