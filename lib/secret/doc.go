// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the gateway's shared HMAC secret in memory that
// is locked against swap and excluded from core dumps.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it with mlock, and marks it MADV_DONTDUMP. On Close, the memory
// is zeroed, unlocked, and unmapped. After Close, any access panics.
//
//   - [Load] -- reads a secret file (mode 0600 required) or stdin
//   - [Generate] and [Store] -- create a fresh hex secret on disk
//   - [Buffer.Equal] -- constant-time comparison
//
// Depends on golang.org/x/sys/unix.
package secret
