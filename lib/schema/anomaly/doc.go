// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

// Package anomaly defines the wire and storage types for sensor
// anomaly readings: the raw event payload published by sensor nodes,
// the classified reading the ingest service persists, the daily and
// trailing aggregates it serves, and the error taxonomy shared by the
// ingest path and the HTTP API.
//
// This package depends on no other sentinel packages.
package anomaly
