// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"slices"
	"sort"
	"strings"
)

// DeniedEnvironment lists variables never forwarded to an agent
// process: provider credentials and the gateway's own key.
var DeniedEnvironment = []string{
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"GATEKEEPER_AGENT_KEY",
}

// SanitizeEnvironment returns the KEY=VALUE entries of environ whose
// key is in neither DeniedEnvironment nor extraDenied.
func SanitizeEnvironment(environ []string, extraDenied []string) []string {
	result := make([]string, 0, len(environ))
	for _, entry := range environ {
		key, _, _ := strings.Cut(entry, "=")
		if isDenied(key, extraDenied) {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// BuildEnvironment sanitizes parent and appends extra in key order.
// An extra key replaces a parent entry of the same name; denied keys in
// extra are dropped too.
func BuildEnvironment(parent []string, extraDenied []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for key := range extra {
		if !isDenied(key, extraDenied) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	result := SanitizeEnvironment(parent, append(slices.Clone(extraDenied), keys...))
	for _, key := range keys {
		result = append(result, key+"="+extra[key])
	}
	return result
}

func isDenied(key string, extraDenied []string) bool {
	return slices.Contains(DeniedEnvironment, key) || slices.Contains(extraDenied, key)
}
