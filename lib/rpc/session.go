// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Session is the per-connection context a handler runs in. The
// handshake flips Authenticated while requests may be in flight on the
// same connection, so the flag is atomic.
type Session struct {
	ID         string
	RemoteAddr string
	Transport  string

	authenticated atomic.Bool
}

// NewSession returns an unauthenticated session with a fresh id.
func NewSession(transport, remoteAddr string) *Session {
	return &Session{ID: uuid.NewString(), RemoteAddr: remoteAddr, Transport: transport}
}

func (session *Session) Authenticated() bool {
	return session.authenticated.Load()
}

func (session *Session) SetAuthenticated(authenticated bool) {
	session.authenticated.Store(authenticated)
}
