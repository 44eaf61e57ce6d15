// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nonce implements the challenge/response handshake that
// authenticates gateway clients.
//
// The server issues a [Challenge]: a random nonce and the current time
// in Unix milliseconds. The client proves possession of the shared
// secret by returning the challenge with
//
//	signature = hex(HMAC-SHA256(nonce + ":" + timestamp, secret))
//
// computed by [Sign], which needs nothing but the secret and so can run
// on a remote client. [Manager.Verify] rejects an expired challenge, a
// challenge from the future, a nonce that has already been accepted
// once, and a bad signature, in that order. Only a response that
// passes every check marks its nonce as used, so a failed attempt
// never burns a nonce, and a replay of a good response is refused for
// reuse even though its signature still checks out.
//
// The used set is bounded by [Config.MaxStored]: once it grows past
// that size the oldest half, by insertion order, is forgotten. No
// background sweep runs.
package nonce
