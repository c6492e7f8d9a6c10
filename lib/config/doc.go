// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for sentinel
// services.
//
// Configuration comes from a single file named by either the
// SENTINEL_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no search path and no home-directory
// discovery: a deployment's configuration is exactly one auditable
// file. Unset fields keep the development defaults from [Default].
package config
