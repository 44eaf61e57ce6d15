// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/gatekeeper/lib/llm"
)

type api struct {
	*lifecycle
	config APIConfig
}

func newAPI(task Task, config Config) *api {
	return &api{
		lifecycle: newLifecycle(task, KindAPI, config),
		config:    config.API,
	}
}

func (b *api) Start(ctx context.Context) Result {
	taskContext, ok := b.begin(ctx)
	if !ok {
		return b.alreadyStarted()
	}
	return b.finish(b.run(taskContext))
}

func (b *api) run(taskContext context.Context) Result {
	if b.config.APIKey == "" {
		b.settle(taskContext)
		return Result{Status: StatusFailed, Error: "no API key configured"}
	}

	streamer, err := b.streamer()
	if err != nil {
		b.settle(taskContext)
		return Result{Status: StatusFailed, Error: err.Error()}
	}

	streamErr := streamer.StreamText(taskContext, llm.Request{
		Model:     b.config.Model,
		System:    b.config.System,
		Prompt:    b.task.EffectivePrompt(),
		MaxTokens: b.config.MaxTokens,
	}, b.appendOutput)

	if cause := b.settle(taskContext); cause != nil {
		return b.interrupted(cause)
	}
	if streamErr != nil {
		return Result{Status: StatusFailed, Error: streamErr.Error()}
	}
	return Result{Status: StatusCompleted}
}

func (b *api) streamer() (llm.TextStreamer, error) {
	switch b.config.Provider {
	case ProviderAnthropic:
		return llm.NewAnthropic(b.config.HTTPClient, b.config.BaseURL, b.config.APIKey), nil
	case ProviderOpenAI:
		return llm.NewOpenAI(b.config.HTTPClient, b.config.BaseURL, b.config.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown API provider %q", b.config.Provider)
	}
}
