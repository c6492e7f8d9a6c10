// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

// The sentinel-ingest-service binary is the acoustic anomaly backend:
// it subscribes to sensor inference events on an MQTT topic,
// classifies them, appends them to a SQLite-backed durable log,
// maintains idempotent daily rollups, sweeps readings past the
// retention horizon, and serves the query API plus a live websocket
// feed.
//
// Components:
//
//   - Source: MQTT subscription, payload decoding, connection state.
//   - Ingestor: the single write path (classify, append, rollup,
//     fan-out).
//   - Store: SQLite readings log and daily_stats rollup table.
//   - Sweeper: periodic retention deletes.
//   - Hub: live event fan-out to websocket subscribers.
//   - API: the HTTP query and submission surface.
//
// Configuration comes from a YAML file named by --config or the
// SENTINEL_CONFIG environment variable; with neither set, development
// defaults apply.
package main
