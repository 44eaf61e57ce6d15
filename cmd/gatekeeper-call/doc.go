// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Gatekeeper-call sends one RPC to a gatekeeper daemon over WebSocket
// and prints the result as indented JSON.
//
//	gatekeeper-call [flags] <method> [params-json | -]
//
// Params may be given inline or read from stdin with "-". The shared
// secret comes from --secret-file, or from an interactive prompt with
// --prompt-secret. Exit status is 0 on success, 2 when the gateway
// returns an RPC error, and 1 for anything else.
package main
