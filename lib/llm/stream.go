// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/gatekeeper/lib/netutil"
)

// Request is a single-turn prompt.
type Request struct {
	// Model is the provider's model identifier.
	Model string

	// System is an optional system prompt.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens caps the reply length. Zero selects the provider
	// default.
	MaxTokens int
}

// TextHandler receives each text chunk as it arrives. It runs on the
// streaming goroutine and must not block for long.
type TextHandler func(chunk string)

// TextStreamer is implemented by each provider.
type TextStreamer interface {
	// StreamText sends request and calls onText for every text chunk
	// until the reply is complete. Returns nil on a clean end of
	// stream, ctx's error if the request was aborted, or a
	// [*ProviderError] / stream error otherwise.
	StreamText(ctx context.Context, request Request, onText TextHandler) error
}

// ProviderError is returned when the API answers with an error status
// or an in-stream error event.
type ProviderError struct {
	// StatusCode is the HTTP status, or zero for an in-stream error.
	StatusCode int

	// Type is the provider's error type string (for example
	// "overloaded_error").
	Type string

	Message string
}

func (err *ProviderError) Error() string {
	switch {
	case err.StatusCode == 0:
		return fmt.Sprintf("llm: stream error: %s: %s", err.Type, err.Message)
	case err.Type != "":
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	default:
		return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
	}
}

// IsRateLimited reports an HTTP 429.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// readProviderError builds a ProviderError from a non-200 response in
// the {"error":{"type":...,"message":...}} shape shared by Anthropic
// and OpenAI, falling back to the raw body.
func readProviderError(response *http.Response) error {
	body := netutil.ErrorBody(response.Body)

	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		return &ProviderError{
			StatusCode: response.StatusCode,
			Type:       wire.Error.Type,
			Message:    wire.Error.Message,
		}
	}
	return &ProviderError{StatusCode: response.StatusCode, Message: string(body)}
}
