// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by gatekeeper tests.
//
// [RequireReceive] and [RequireClosed] wrap a channel operation in a
// wall-clock safety valve so a broken test fails instead of hanging.
// They are the only place tests use real-time timeouts; everything
// else drives lib/clock's fake.
//
// [SocketDir] returns a short /tmp directory for Unix sockets, whose
// paths are limited to 108 bytes. [WriteScript] drops an executable
// shell script into a directory, standing in for an agent CLI or a
// container runtime.
package testutil
