// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI streams chat completions through go-openai.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI returns a client. An empty baseURL keeps the library's
// default endpoint; a nil httpClient keeps its default transport.
func NewOpenAI(httpClient *http.Client, baseURL, apiKey string) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	return &OpenAI{client: openai.NewClientWithConfig(config)}
}

// StreamText implements [TextStreamer].
func (provider *OpenAI) StreamText(ctx context.Context, request Request, onText TextHandler) error {
	model := request.Model
	if model == "" {
		model = openai.GPT4o
	}
	var messages []openai.ChatCompletionMessage
	if request.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: request.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: request.Prompt})

	stream, err := provider.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: request.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return provider.wrapError(ctx, err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return provider.wrapError(ctx, err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				onText(choice.Delta.Content)
			}
		}
	}
}

func (provider *OpenAI) wrapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiError *openai.APIError
	if errors.As(err, &apiError) {
		return &ProviderError{StatusCode: apiError.HTTPStatusCode, Type: apiError.Type, Message: apiError.Message}
	}
	var requestError *openai.RequestError
	if errors.As(err, &requestError) {
		return &ProviderError{StatusCode: requestError.HTTPStatusCode, Message: requestError.Error()}
	}
	return fmt.Errorf("llm/openai: %w", err)
}
