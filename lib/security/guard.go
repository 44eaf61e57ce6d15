// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"log/slog"
	"regexp"
	"time"
)

// DefaultMaxWorkerDuration is the ceiling applied when a Policy leaves
// MaxWorkerDuration unset.
const DefaultMaxWorkerDuration = 30 * time.Minute

// Policy is the operator-supplied rule set.
type Policy struct {
	BlockedCommands   []string      `yaml:"blocked_commands" json:"blockedCommands"`
	ApprovalRequired  []string      `yaml:"approval_required" json:"approvalRequired"`
	MaxWorkerDuration time.Duration `yaml:"max_worker_duration" json:"maxWorkerDuration"`
}

// Decision is the outcome of ValidateCommand. Reason and Pattern are
// set only when the command is not allowed.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

type rule struct {
	source     string
	expression *regexp.Regexp
}

// Guard evaluates commands against a compiled Policy. It is immutable
// after New and safe for concurrent use.
type Guard struct {
	blocked           []rule
	approval          []rule
	skipped           []string
	maxWorkerDuration time.Duration
}

// New compiles policy. A nil logger discards the warnings for skipped
// patterns.
func New(policy Policy, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	guard := &Guard{maxWorkerDuration: policy.MaxWorkerDuration}
	if guard.maxWorkerDuration <= 0 {
		guard.maxWorkerDuration = DefaultMaxWorkerDuration
	}
	guard.blocked = guard.compile(policy.BlockedCommands, "blocked", logger)
	guard.approval = guard.compile(policy.ApprovalRequired, "approval_required", logger)
	return guard
}

func (guard *Guard) compile(patterns []string, list string, logger *slog.Logger) []rule {
	rules := make([]rule, 0, len(patterns))
	for _, pattern := range patterns {
		expression, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			logger.Warn("skipping invalid security pattern",
				"list", list,
				"pattern", pattern,
				"error", err,
			)
			guard.skipped = append(guard.skipped, pattern)
			continue
		}
		rules = append(rules, rule{source: pattern, expression: expression})
	}
	return rules
}

// ValidateCommand rejects command if any blocked pattern matches it.
func (guard *Guard) ValidateCommand(command string) Decision {
	if source, matched := firstMatch(guard.blocked, command); matched {
		return Decision{
			Reason:  "Command matches blocked pattern: " + source,
			Pattern: source,
		}
	}
	return Decision{Allowed: true}
}

// RequiresApproval reports whether any approval-required pattern
// matches command. It does not consult the blocked list.
func (guard *Guard) RequiresApproval(command string) bool {
	_, matched := firstMatch(guard.approval, command)
	return matched
}

// MaxWorkerDuration is the ceiling for any task timeout.
func (guard *Guard) MaxWorkerDuration() time.Duration {
	return guard.maxWorkerDuration
}

// ClampTimeout returns requested bounded by MaxWorkerDuration. A zero
// or negative request yields the ceiling itself.
func (guard *Guard) ClampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 || requested > guard.maxWorkerDuration {
		return guard.maxWorkerDuration
	}
	return requested
}

// SkippedPatterns returns the pattern sources that failed to compile,
// in policy order (blocked list first).
func (guard *Guard) SkippedPatterns() []string {
	return append([]string(nil), guard.skipped...)
}

func firstMatch(rules []rule, command string) (string, bool) {
	for _, rule := range rules {
		if rule.expression.MatchString(command) {
			return rule.source, true
		}
	}
	return "", false
}
