// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package security gates raw commands before they become worker tasks.
//
// A [Guard] holds two regular-expression lists compiled from a
// [Policy]: blocked patterns reject a command outright, and
// approval-required patterns flag it for explicit confirmation. The
// two checks are independent, so a command can be allowed and still
// require approval. Matching is case-insensitive and unanchored: a
// pattern that matches anywhere in the command string counts,
// including inside a quoted argument.
//
// A pattern that does not compile is logged and skipped. The remaining
// patterns are still enforced.
package security
