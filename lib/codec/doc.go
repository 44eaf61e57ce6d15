// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the gateway's CBOR configuration.
//
// The RPC protocol has two wire forms. WebSocket clients exchange JSON
// text frames; local clients on the Unix socket exchange a CBOR
// sequence (one message after another, no framing beyond CBOR
// itself). Both forms are produced from the same Go types: protocol
// structs carry only `json` tags, and fxamacker/cbor reads those as a
// fallback when no `cbor` tag is present, so field names and omitempty
// behave identically in both encodings.
//
// Every encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so
// equal values produce equal bytes.
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
