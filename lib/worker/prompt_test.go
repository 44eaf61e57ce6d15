// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"strings"
	"testing"
)

func TestEffectivePromptPlain(t *testing.T) {
	t.Parallel()

	task := Task{ID: "t1", Prompt: "fix the tests", SuccessCriteria: []string{"ignored"}}
	if got := task.EffectivePrompt(); got != "fix the tests" {
		t.Errorf("EffectivePrompt() = %q, want the prompt unchanged", got)
	}
}

func TestEffectivePromptOrchestrated(t *testing.T) {
	t.Parallel()

	task := Task{
		ID:              "build-api",
		Prompt:          "implement the handler",
		DependsOn:       []string{"schema", "models"},
		Orchestration:   true,
		SuccessCriteria: []string{"tests pass", "no lint errors"},
	}
	got := task.EffectivePrompt()

	for _, want := range []string{
		"Orchestrated task build-api",
		"Depends on: schema, models",
		"1. tests pass\n2. no lint errors",
		"implement the handler",
		"state whether it is met",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("EffectivePrompt() missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "Success criteria") > strings.Index(got, "implement the handler") {
		t.Error("criteria should precede the instructions")
	}
}

func TestEffectivePromptOrchestratedWithoutCriteria(t *testing.T) {
	t.Parallel()

	got := Task{ID: "solo", Prompt: "refactor", Orchestration: true}.EffectivePrompt()
	if strings.Contains(got, "Depends on") || strings.Contains(got, "Success criteria") {
		t.Errorf("empty sections rendered:\n%s", got)
	}
	if !strings.Contains(got, "Summarize what you changed") {
		t.Errorf("missing generic footer:\n%s", got)
	}
}
