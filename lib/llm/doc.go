// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm streams text completions from hosted model APIs.
//
// The only operation is [TextStreamer.StreamText]: send one prompt,
// receive the reply incrementally as text chunks through a callback,
// and return once the stream ends. Cancelling the context aborts the
// in-flight HTTP request; chunks delivered before the abort stay
// delivered.
//
// Implementations:
//   - [Anthropic]: the Messages API (/v1/messages) over Server-Sent
//     Events, parsed by [SSEScanner].
//   - [OpenAI]: chat completions through github.com/sashabaranov/go-openai.
package llm
