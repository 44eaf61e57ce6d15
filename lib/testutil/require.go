// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// Fataler is the subset of testing.TB the helpers need.
type Fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from channel within timeout or fails
// the test. A closed channel also fails.
//
//	result := testutil.RequireReceive(t, results, 5*time.Second, "worker result")
func RequireReceive[T any](t Fataler, channel <-chan T, timeout time.Duration, description ...any) T {
	t.Helper()
	select {
	case value, ok := <-channel:
		if !ok {
			t.Fatalf("channel closed while waiting for %s", describe(description))
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for %s", timeout, describe(description))
	}
	panic("unreachable")
}

// RequireClosed waits for channel to close (or deliver) within timeout
// or fails the test.
func RequireClosed(t Fataler, channel <-chan struct{}, timeout time.Duration, description ...any) {
	t.Helper()
	select {
	case <-channel:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for %s", timeout, describe(description))
	}
}

// describe renders either a plain string or a format string with
// arguments.
func describe(description []any) string {
	switch {
	case len(description) == 0:
		return "value"
	case len(description) == 1:
		return fmt.Sprint(description[0])
	}
	if format, ok := description[0].(string); ok {
		return fmt.Sprintf(format, description[1:]...)
	}
	return fmt.Sprint(description...)
}
