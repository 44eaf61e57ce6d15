// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/ringbuffer"
)

// lifecycle is the state machine every backend embeds. It owns the
// status, the output buffer, and the task's single cancellation
// signal, which either the timeout or Terminate triggers first.
type lifecycle struct {
	task    Task
	kind    Kind
	clock   clock.Clock
	logger  *slog.Logger
	onEvent EventHandler
	output  *ringbuffer.Buffer

	mutex     sync.Mutex
	status    Status
	started   bool
	settled   bool
	cancel    context.CancelCauseFunc
	timer     *clock.Timer
	startedAt time.Time
}

func newLifecycle(task Task, kind Kind, config Config) *lifecycle {
	return &lifecycle{
		task:    task,
		kind:    kind,
		clock:   config.Clock,
		logger:  config.Logger.With("worker_id", task.ID, "kind", string(kind)),
		onEvent: config.OnEvent,
		output:  ringbuffer.New(config.MaxOutputBuffer),
		status:  StatusPending,
	}
}

func (l *lifecycle) ID() string { return l.task.ID }

func (l *lifecycle) Kind() Kind { return l.kind }

func (l *lifecycle) Status() Status {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.status
}

func (l *lifecycle) Output() string { return l.output.String() }

func (l *lifecycle) OutputPreview(maxLength int) string { return l.output.Preview(maxLength) }

func (l *lifecycle) ReadOutput(offset uint64, limit int) (string, uint64, uint64) {
	data, start := l.output.ReadRange(offset, limit)
	return string(data), start, l.output.TotalWritten()
}

// Terminate cancels a running task with ErrTerminated.
func (l *lifecycle) Terminate() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.status != StatusRunning || l.settled {
		return false
	}
	l.cancel(ErrTerminated)
	return true
}

// begin moves pending to running, derives the task context, and arms
// the timeout. It returns false if Start was already called.
func (l *lifecycle) begin(ctx context.Context) (context.Context, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.started {
		return nil, false
	}
	l.started = true
	l.status = StatusRunning
	l.startedAt = l.clock.Now()

	taskContext, cancel := context.WithCancelCause(ctx)
	l.cancel = cancel
	if l.task.Timeout > 0 {
		l.timer = l.clock.AfterFunc(l.task.Timeout, l.expire)
	}
	l.logger.Info("worker started", "timeout", l.task.Timeout)
	return taskContext, true
}

// expire is the timeout callback. The work may have finished while
// the timer was in flight, so it re-checks before cancelling.
func (l *lifecycle) expire() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.status != StatusRunning || l.settled {
		return
	}
	l.cancel(ErrTimeout)
}

// settle records that the underlying work has stopped. From here on
// neither the timer nor Terminate can change the outcome. It returns
// the cancellation cause that arrived first, or nil.
func (l *lifecycle) settle(taskContext context.Context) error {
	return l.settleAt(taskContext, time.Time{})
}

// settleAt is settle for work whose exit time is known. A timeout that
// fired after the work had already exited inside its deadline is
// ignored.
func (l *lifecycle) settleAt(taskContext context.Context, exitedAt time.Time) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.settled = true
	if l.timer != nil {
		l.timer.Stop()
	}
	if taskContext.Err() == nil {
		return nil
	}
	cause := context.Cause(taskContext)
	if errors.Is(cause, ErrTimeout) && !exitedAt.IsZero() && exitedAt.Sub(l.startedAt) < l.task.Timeout {
		return nil
	}
	return cause
}

// finish stamps result with the id, duration, and captured output and
// makes it the terminal status.
func (l *lifecycle) finish(result Result) Result {
	l.mutex.Lock()
	l.settled = true
	if l.timer != nil {
		l.timer.Stop()
	}
	result.WorkerID = l.task.ID
	result.Output = l.output.String()
	result.DurationMs = l.clock.Now().Sub(l.startedAt).Milliseconds()
	l.status = result.Status
	cancel := l.cancel
	l.mutex.Unlock()

	cancel(nil)
	l.logger.Info("worker finished",
		"status", string(result.Status),
		"duration_ms", result.DurationMs,
		"error", result.Error,
	)
	return result
}

func (l *lifecycle) alreadyStarted() Result {
	return Failed(l.task.ID, "worker already started")
}

// interrupted is the result for work stopped by its cancellation
// signal.
func (l *lifecycle) interrupted(cause error) Result {
	switch {
	case errors.Is(cause, ErrTimeout):
		return Result{Status: StatusTimeout, Error: fmt.Sprintf("timed out after %v", l.task.Timeout)}
	case errors.Is(cause, ErrTerminated):
		return Result{Status: StatusFailed, Error: ErrTerminated.Error()}
	default:
		return Result{Status: StatusFailed, Error: "cancelled: " + cause.Error()}
	}
}

func (l *lifecycle) emit(kind EventKind, data string) {
	if l.onEvent == nil {
		return
	}
	l.onEvent(Event{Kind: kind, WorkerID: l.task.ID, Data: data, Time: l.clock.Now()})
}

func (l *lifecycle) appendOutput(text string) {
	if text == "" {
		return
	}
	l.output.WriteString(text)
	l.emit(EventOutput, text)
}

// writerFunc adapts a string sink to io.Writer for exec.Cmd pipes.
type writerFunc func(string)

func (write writerFunc) Write(data []byte) (int, error) {
	write(string(data))
	return len(data), nil
}

// tailRunes returns the last n runes of text.
func tailRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
