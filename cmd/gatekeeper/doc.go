// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Gatekeeper is the agent worker gateway daemon. It accepts JSON RPC
// over a WebSocket endpoint and CBOR RPC over a Unix socket, screens
// each command against the security policy, and runs accepted commands
// on a bounded pool of subprocess, streaming-API, terminal-session, or
// container workers.
//
// Configuration comes from the file named by --config or
// GATEKEEPER_CONFIG. --env-file loads KEY=value files into the process
// environment first, which is where the API key variable is usually
// set. --generate-secret writes a fresh shared secret to
// auth.secret_file and exits.
package main
