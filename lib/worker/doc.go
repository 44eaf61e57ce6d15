// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs one AI coding-agent task on one execution
// backend and reports a single [Result].
//
// Four backends share the [Backend] interface, selected by
// [Task.Kind]:
//
//   - subprocess: a local agent CLI in its own process group with a
//     sanitized environment.
//   - api: a streamed completion from a hosted model API (see lib/llm).
//   - terminal: a dedicated tmux session, observed through a pipe-pane
//     log file.
//   - container: an auto-removed, resource-limited container with the
//     project bind-mounted.
//
// Every backend follows the same state machine: pending, then running
// after Start, then exactly one of completed, failed, or timeout.
// Start blocks until the terminal result and may be called once.
// Terminate and the per-task timeout share a single cancellation
// signal; whichever fires first decides the outcome. A timeout yields
// [StatusTimeout]; Terminate yields [StatusFailed] with the error
// "terminated".
//
// Output is held in a ring buffer capped at Config.MaxOutputBuffer and
// streamed to Config.OnEvent as it arrives. Backends never return
// errors or panic past Start: every failure is encoded in the Result.
package worker
