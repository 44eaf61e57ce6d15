// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import "io"

// MaxErrorBody bounds how much of an error response ErrorBody reads.
const MaxErrorBody = 4096

// ErrorBody reads up to MaxErrorBody bytes of an HTTP error response.
// Read errors are ignored; a partial body is still useful in a message.
func ErrorBody(body io.Reader) []byte {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBody))
	return data
}
