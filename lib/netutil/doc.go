// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides small network I/O helpers shared by the
// gateway transports and the provider clients.
//
// [IsExpectedCloseError] separates a peer hanging up from a genuine
// read failure. [ErrorBody] reads a bounded prefix of an HTTP error
// response for diagnostics.
package netutil
