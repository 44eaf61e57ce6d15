// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func openAIChunk(content string) string {
	return fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`, content)
}

func TestOpenAIStreamText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", request.URL.Path)
		}
		if got := request.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var body struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if !body.Stream || body.Model != "gpt-test" {
			t.Errorf("request = %+v", body)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Content != "say hello" {
			t.Errorf("messages = %+v", body.Messages)
		}

		writer.Header().Set("Content-Type", "text/event-stream")
		for _, content := range []string{"Hel", "", "lo"} {
			fmt.Fprintf(writer, "data: %s\n\n", openAIChunk(content))
		}
		fmt.Fprint(writer, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	provider := NewOpenAI(server.Client(), server.URL+"/v1", "test-key")
	var chunks []string
	err := provider.StreamText(context.Background(), Request{
		Model:  "gpt-test",
		System: "be brief",
		Prompt: "say hello",
	}, func(chunk string) {
		chunks = append(chunks, chunk)
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	if strings.Join(chunks, "|") != "Hel|lo" {
		t.Errorf("chunks = %q, want [Hel lo]", chunks)
	}
}

func TestOpenAIHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusUnauthorized)
		writer.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad key"}}`))
	}))
	t.Cleanup(server.Close)

	err := NewOpenAI(server.Client(), server.URL+"/v1", "wrong").StreamText(context.Background(), Request{Prompt: "x"}, func(string) {})
	var providerError *ProviderError
	if !errors.As(err, &providerError) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if providerError.StatusCode != http.StatusUnauthorized || providerError.Message != "bad key" {
		t.Errorf("ProviderError = %+v", providerError)
	}
}
