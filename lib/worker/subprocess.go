// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/gatekeeper/lib/ringbuffer"
)

const (
	// stderrTailLength is how much error output a failed result
	// carries, in characters.
	stderrTailLength = 500

	// pipeWaitDelay bounds how long Wait keeps reading pipes that a
	// grandchild still holds after the agent itself has exited.
	pipeWaitDelay = 2 * time.Second
)

type subprocess struct {
	*lifecycle
	config     SubprocessConfig
	stderrTail *ringbuffer.Buffer
}

func newSubprocess(task Task, config Config) *subprocess {
	return &subprocess{
		lifecycle:  newLifecycle(task, KindSubprocess, config),
		config:     config.Subprocess,
		stderrTail: ringbuffer.New(4 * stderrTailLength),
	}
}

func (b *subprocess) Start(ctx context.Context) Result {
	taskContext, ok := b.begin(ctx)
	if !ok {
		return b.alreadyStarted()
	}
	return b.finish(b.run(taskContext))
}

func (b *subprocess) run(taskContext context.Context) Result {
	args := append(append([]string(nil), b.config.Args...), b.task.EffectivePrompt())
	command := exec.Command(b.config.Path, args...)
	command.Dir = b.task.WorkingDirectory
	command.Env = BuildEnvironment(os.Environ(), b.config.DeniedEnvironment, b.config.ExtraEnvironment)
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	command.Stdout = writerFunc(b.appendOutput)
	command.Stderr = writerFunc(b.appendStderr)
	command.WaitDelay = pipeWaitDelay

	if err := command.Start(); err != nil {
		b.settle(taskContext)
		return Result{Status: StatusFailed, Error: fmt.Sprintf("starting %s: %v", b.config.Path, err)}
	}
	pid := command.Process.Pid
	b.logger.Debug("agent process started", "pid", pid, "path", b.config.Path)

	exited := make(chan struct{})
	go b.escalate(taskContext, pid, exited)
	waitErr := command.Wait()
	exitedAt := b.clock.Now()
	close(exited)

	cause := b.settleAt(taskContext, exitedAt)
	exitCode := exitCodeOf(command.ProcessState)
	if cause != nil {
		result := b.interrupted(cause)
		result.ExitCode = exitCode
		return result
	}

	if command.ProcessState != nil && command.ProcessState.Success() {
		if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
			b.logger.Warn("agent exited cleanly but output copy failed", "error", waitErr)
		}
		return Result{Status: StatusCompleted, ExitCode: exitCode}
	}

	message := tailRunes(b.stderrTail.String(), stderrTailLength)
	if message == "" {
		switch {
		case exitCode != nil:
			message = fmt.Sprintf("exit code %d", *exitCode)
		case waitErr != nil:
			message = waitErr.Error()
		}
	}
	return Result{Status: StatusFailed, ExitCode: exitCode, Error: message}
}

func (b *subprocess) appendStderr(text string) {
	b.stderrTail.WriteString(text)
	b.emit(EventError, text)
}

// escalate waits for cancellation, then stops the agent's process
// group: SIGTERM first, SIGKILL once GracePeriod passes without exit.
func (b *subprocess) escalate(taskContext context.Context, pid int, exited <-chan struct{}) {
	select {
	case <-exited:
		return
	case <-taskContext.Done():
	}

	b.logger.Info("stopping agent process group", "pid", pid, "cause", context.Cause(taskContext))
	signalGroup(pid, unix.SIGTERM)

	select {
	case <-exited:
	case <-b.clock.After(b.config.GracePeriod):
		b.logger.Warn("agent ignored SIGTERM, killing process group",
			"pid", pid,
			"grace_period", b.config.GracePeriod,
		)
		signalGroup(pid, unix.SIGKILL)
	}
}

// signalGroup signals the process group led by pid. ESRCH means the
// group is already gone.
func signalGroup(pid int, signal unix.Signal) {
	_ = unix.Kill(-pid, signal)
}

// exitCodeOf returns nil for signal deaths and processes that never
// ran.
func exitCodeOf(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return nil
	}
	code := state.ExitCode()
	if code < 0 {
		return nil
	}
	return &code
}
