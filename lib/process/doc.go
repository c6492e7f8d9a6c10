// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for sentinel
// binaries. It centralizes the raw stderr reporting that happens
// before the structured logger exists or after it is gone.
package process
