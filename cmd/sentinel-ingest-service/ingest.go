// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/sentinel-works/sentinel/lib/classify"
	"github.com/sentinel-works/sentinel/lib/clock"
	"github.com/sentinel-works/sentinel/lib/schema/anomaly"
)

// Ingestor is the single write path into the store. Both the broker
// subscription and the HTTP submission endpoint feed events through
// Ingest, so ordering of ids reflects the order appends commit.
//
// An event's durable append is the commit point: the rollup refresh
// and the live fan-out happen after the append and their failure never
// unwinds it. A failed append produces no side effects at all.
type Ingestor struct {
	store  *Store
	hub    *Hub
	clock  clock.Clock
	logger *slog.Logger

	received       atomic.Int64
	stored         atomic.Int64
	rejected       atomic.Int64
	rollupFailures atomic.Int64
}

// IngestCounters is a snapshot of the coordinator's counters.
type IngestCounters struct {
	Received       int64 `json:"received"`
	Stored         int64 `json:"stored"`
	Rejected       int64 `json:"rejected"`
	RollupFailures int64 `json:"rollup_failures"`
}

// NewIngestor wires the coordinator to its store and live hub. The
// hub may be nil, in which case fan-out is skipped.
func NewIngestor(store *Store, hub *Hub, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:  store,
		hub:    hub,
		clock:  store.clock,
		logger: logger,
	}
}

// Ingest classifies one event, appends it durably, refreshes the
// day's rollup, and publishes to live subscribers. The returned
// reading carries the store-assigned id.
//
// Classification and append failures are returned to the caller; a
// rollup failure after a successful append is logged and swallowed,
// because the reading is already durable and the next refresh of that
// date repairs the aggregate. The event is not fanned out after a
// rollup failure: live subscribers only see events whose full ingest
// pipeline completed.
func (ing *Ingestor) Ingest(ctx context.Context, payload anomaly.EventPayload) (anomaly.Reading, error) {
	ing.received.Add(1)

	classified, err := classify.Classify(payload, ing.clock.Now().UTC())
	if err != nil {
		ing.rejected.Add(1)
		return anomaly.Reading{}, fmt.Errorf("ingest: %w", err)
	}

	reading, err := ing.store.Append(ctx, classified)
	if err != nil {
		ing.rejected.Add(1)
		return anomaly.Reading{}, fmt.Errorf("ingest: %w", err)
	}
	ing.stored.Add(1)

	date := dateOf(reading.ObservedAt)
	if _, err := ing.store.RefreshDailyRollup(ctx, date); err != nil {
		ing.rollupFailures.Add(1)
		ing.logger.Error("daily rollup refresh failed; reading retained",
			"date", date,
			"reading_id", reading.ID,
			"error", err)
		return reading, nil
	}

	if ing.hub != nil {
		ing.hub.Publish(anomaly.LiveEvent{
			ID:        reading.ID,
			DeviceID:  reading.DeviceID,
			Label:     reading.Label,
			Score:     reading.Score,
			Status:    reading.Status,
			Severity:  reading.Severity,
			Timestamp: reading.ObservedAt,
		})
	}

	ing.logger.Debug("reading ingested",
		"reading_id", reading.ID,
		"device", reading.DeviceID,
		"status", reading.Status,
		"score", reading.Score)
	return reading, nil
}

// Counters returns the current ingest counters.
func (ing *Ingestor) Counters() IngestCounters {
	return IngestCounters{
		Received:       ing.received.Load(),
		Stored:         ing.stored.Load(),
		Rejected:       ing.rejected.Load(),
		RollupFailures: ing.rollupFailures.Load(),
	}
}
