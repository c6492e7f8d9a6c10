// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite's connection pool
// with sentinel-standard pragmas and a narrow Take/Put API.
//
// Every connection runs in WAL mode with a busy timeout, so readers
// never block on the single writer and a momentarily locked database
// surfaces as a bounded wait instead of an immediate failure. The
// OnConnect hook lets the owning service create its schema exactly
// once per connection.
package sqlitepool
