// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/gatekeeper/lib/testutil"
)

// NewTestServer starts an isolated tmux server for a test, skipping
// the test when tmux is not installed. The server loads no config
// file, is kept alive by a "_guard" session, and is killed on cleanup.
func NewTestServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(filepath.Join(testutil.SocketDir(t), "tmux.sock"), "/dev/null")
	if !server.Available() {
		t.Skip("tmux not installed")
	}
	if err := server.NewSession("_guard", "", "sleep", "infinity"); err != nil {
		t.Fatalf("start tmux test server: %v", err)
	}
	t.Cleanup(func() {
		server.KillServer()
	})
	return server
}
