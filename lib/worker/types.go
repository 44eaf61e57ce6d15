// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind selects the execution backend.
type Kind string

const (
	KindSubprocess Kind = "subprocess"
	KindAPI        Kind = "api"
	KindTerminal   Kind = "terminal"
	KindContainer  Kind = "container"
)

// Kinds lists every backend kind.
var Kinds = []Kind{KindSubprocess, KindAPI, KindTerminal, KindContainer}

// ParseKind validates a kind name. The empty string selects
// KindSubprocess.
func ParseKind(name string) (Kind, error) {
	if name == "" {
		return KindSubprocess, nil
	}
	for _, kind := range Kinds {
		if string(kind) == name {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Status is a backend's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether status is one of the three final states.
func (status Status) Terminal() bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusTimeout
}

var (
	// ErrUnknownKind is returned by ParseKind and New.
	ErrUnknownKind = errors.New("unknown worker kind")

	// ErrTimeout is the cancellation cause when the task timeout fires.
	ErrTimeout = errors.New("worker timed out")

	// ErrTerminated is the cancellation cause for Terminate.
	ErrTerminated = errors.New("terminated")
)

// Task is one execution request. It is a value and is never modified
// after construction.
type Task struct {
	ID               string `json:"id"`
	Kind             Kind   `json:"type"`
	Prompt           string `json:"prompt"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`

	// DependsOn names tasks that must finish first. Ordering is the
	// caller's job; backends only report the list to the agent.
	DependsOn []string `json:"dependsOn,omitempty"`

	Timeout         time.Duration `json:"timeout"`
	Orchestration   bool          `json:"orchestration,omitempty"`
	SuccessCriteria []string      `json:"successCriteria,omitempty"`
}

// Result is the single terminal outcome of a Task.
type Result struct {
	WorkerID string `json:"workerId"`
	Status   Status `json:"status"`
	// ExitCode is nil when there was no process exit status (API and
	// terminal backends, signal deaths, spawn failures).
	ExitCode   *int   `json:"exitCode"`
	Output     string `json:"output"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Failed builds a failed Result that never ran.
func Failed(workerID, message string) Result {
	return Result{WorkerID: workerID, Status: StatusFailed, Error: message}
}

// EventKind tags an Event.
type EventKind string

const (
	EventOutput  EventKind = "output"
	EventError   EventKind = "error"
	EventStarted EventKind = "started"
	EventQueued  EventKind = "queued"
	EventDone    EventKind = "done"
)

// Event is an incremental notification. Backends emit output and
// error events; the pool adds started, queued, and done. Result is set
// only on done events.
type Event struct {
	Kind     EventKind `json:"kind"`
	WorkerID string    `json:"workerId"`
	Data     string    `json:"data,omitempty"`
	Result   *Result   `json:"result,omitempty"`
	Time     time.Time `json:"time"`
}

// EventHandler receives events synchronously on the goroutine that
// produced them. Handlers must not block.
type EventHandler func(Event)

// Backend is one task's execution resource.
type Backend interface {
	// ID returns the task id.
	ID() string

	Kind() Kind

	// Start runs the task and blocks until its Result. A second call
	// returns a failed Result without side effects.
	Start(ctx context.Context) Result

	// Terminate requests cooperative shutdown. No-op (returning false)
	// unless the backend is running.
	Terminate() bool

	Status() Status

	// Output returns the capped output buffer.
	Output() string

	// OutputPreview returns at most the last maxLength characters of
	// output, prefixed with "..." when truncated, or "" before any
	// output arrives.
	OutputPreview(maxLength int) string

	// ReadOutput returns up to limit bytes starting at absolute
	// offset, clamped to what the buffer still holds, plus the offset
	// actually read from and the total bytes ever written.
	ReadOutput(offset uint64, limit int) (data string, start uint64, total uint64)
}
