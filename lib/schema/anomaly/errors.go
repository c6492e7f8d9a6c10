// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package anomaly

import "errors"

// Error categories shared by the ingest path and the HTTP API. Callers
// classify failures with errors.Is and map them to responses: invalid
// payload and invalid range become 400s, store unavailability becomes
// a 503.
var (
	// ErrInvalidPayload marks an event rejected before any storage
	// effect: missing device_id, unknown label, or missing fields on
	// the write endpoint.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidRange marks a malformed period query: unparsable
	// bounds or start after end.
	ErrInvalidRange = errors.New("invalid range")

	// ErrStoreUnavailable marks a durable-log operation that could
	// not complete. Events failing with it are reported, never
	// silently dropped.
	ErrStoreUnavailable = errors.New("store unavailable")
)
