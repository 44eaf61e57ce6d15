// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the gatekeeper
// binaries: fatal error reporting before the structured logger exists,
// and a context cancelled by SIGINT or SIGTERM for graceful shutdown.
package process
