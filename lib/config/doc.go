// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the gatekeeper daemon.
//
// Configuration is loaded from a single file specified by either the
// GATEKEEPER_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. Files ending in
// .json or .jsonc are read as JSON with comments and trailing commas;
// everything else is YAML.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production without an explicit section
// forces nonce authentication on and JSON log output.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${GATEKEEPER_ROOT}, and ${VAR:-default} patterns are
// expanded. The API key is the one value read from the process
// environment, under the variable name the file configures.
//
// Key exports:
//
//   - [Config] -- master struct with Server, Auth, Pool, Worker, Security, Logging
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
