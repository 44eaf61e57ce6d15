// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	// DefaultAnthropicBaseURL is the public Messages API host.
	DefaultAnthropicBaseURL = "https://api.anthropic.com"

	// AnthropicVersion is sent as the anthropic-version header.
	AnthropicVersion = "2023-06-01"

	defaultMaxTokens = 4096
)

// Anthropic streams from the Messages API.
type Anthropic struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewAnthropic returns a client for baseURL (empty selects
// DefaultAnthropicBaseURL). A nil httpClient selects
// http.DefaultClient.
func NewAnthropic(httpClient *http.Client, baseURL, apiKey string) *Anthropic {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	return &Anthropic{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamText implements [TextStreamer].
func (provider *Anthropic) StreamText(ctx context.Context, request Request, onText TextHandler) error {
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     request.Model,
		MaxTokens: maxTokens,
		System:    request.System,
		Messages:  []anthropicMessage{{Role: "user", Content: request.Prompt}},
		Stream:    true,
	})
	if err != nil {
		return fmt.Errorf("llm/anthropic: marshaling request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost,
		provider.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("llm/anthropic: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "text/event-stream")
	httpRequest.Header.Set("x-api-key", provider.apiKey)
	httpRequest.Header.Set("anthropic-version", AnthropicVersion)

	response, err := provider.httpClient.Do(httpRequest)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("llm/anthropic: sending request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return readProviderError(response)
	}

	scanner := NewSSEScanner(response.Body)
	for scanner.Next() {
		event := scanner.Event()
		switch event.Type {
		case "content_block_delta":
			var envelope struct {
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(event.Data), &envelope); err != nil {
				return fmt.Errorf("llm/anthropic: parsing content_block_delta: %w", err)
			}
			if envelope.Delta.Type == "text_delta" && envelope.Delta.Text != "" {
				onText(envelope.Delta.Text)
			}

		case "error":
			var envelope struct {
				Error struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.Unmarshal([]byte(event.Data), &envelope) != nil || envelope.Error.Message == "" {
				return &ProviderError{Type: "unknown", Message: event.Data}
			}
			return &ProviderError{Type: envelope.Error.Type, Message: envelope.Error.Message}

		case "message_stop":
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("llm/anthropic: reading stream: %w", err)
	}
	return nil
}
