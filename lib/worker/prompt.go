// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"strings"
)

// EffectivePrompt is the text handed to the agent. Orchestrated tasks
// get a header naming the task, its dependencies, and its success
// criteria, and a footer asking for a criteria report. Other tasks use
// Prompt unchanged.
func (task Task) EffectivePrompt() string {
	if !task.Orchestration {
		return task.Prompt
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "## Orchestrated task %s\n\n", task.ID)
	if len(task.DependsOn) > 0 {
		fmt.Fprintf(&builder, "Depends on: %s (already completed)\n\n", strings.Join(task.DependsOn, ", "))
	}
	if len(task.SuccessCriteria) > 0 {
		builder.WriteString("Success criteria:\n")
		for index, criterion := range task.SuccessCriteria {
			fmt.Fprintf(&builder, "%d. %s\n", index+1, criterion)
		}
		builder.WriteString("\n")
	}
	builder.WriteString("## Instructions\n\n")
	builder.WriteString(task.Prompt)
	builder.WriteString("\n\n## When finished\n\n")
	if len(task.SuccessCriteria) > 0 {
		builder.WriteString("List each success criterion by number and state whether it is met.\n")
	} else {
		builder.WriteString("Summarize what you changed and anything left undone.\n")
	}
	return builder.String()
}
