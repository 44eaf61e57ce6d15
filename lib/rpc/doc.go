// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc implements the gateway's request protocol: the message
// envelope, its JSON and CBOR encodings, error codes, and the method
// router.
//
// Every message is {type, id, timestamp, payload}. A request has type
// "rpc" and payload {method, params}. The router answers a request for
// a registered, permitted method with exactly two messages: an
// "rpc:ack" as soon as dispatch begins and then a terminal
// "rpc:result" or "rpc:error". Requests that cannot be dispatched
// (unknown method, missing authentication) get a single "rpc:error"
// and no ack. Every reply carries the request's id as requestId.
//
// Handlers receive their params undecoded (see [Params]) so the same
// handler serves JSON WebSocket clients and CBOR socket clients.
package rpc
