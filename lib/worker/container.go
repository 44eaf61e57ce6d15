// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bureau-foundation/gatekeeper/lib/ringbuffer"
)

type container struct {
	*lifecycle
	config     ContainerConfig
	name       string
	stderrTail *ringbuffer.Buffer
}

func newContainer(task Task, config Config) *container {
	return &container{
		lifecycle:  newLifecycle(task, KindContainer, config),
		config:     config.Container,
		name:       containerName(task.ID),
		stderrTail: ringbuffer.New(4 * stderrTailLength),
	}
}

// ContainerName returns the name passed to "run --name".
func (b *container) ContainerName() string { return b.name }

func (b *container) Start(ctx context.Context) Result {
	taskContext, ok := b.begin(ctx)
	if !ok {
		return b.alreadyStarted()
	}
	return b.finish(b.run(taskContext))
}

func (b *container) run(taskContext context.Context) Result {
	if err := b.probe(taskContext); err != nil {
		if cause := b.settle(taskContext); cause != nil {
			return b.interrupted(cause)
		}
		return Result{Status: StatusFailed, Error: fmt.Sprintf("container runtime %s is not available: %v", b.config.Runtime, err)}
	}
	if b.config.Image == "" {
		b.settle(taskContext)
		return Result{Status: StatusFailed, Error: "no container image configured"}
	}

	command := exec.Command(b.config.Runtime, b.runArgs()...)
	command.Stdout = writerFunc(b.appendOutput)
	command.Stderr = writerFunc(b.appendStderr)
	command.WaitDelay = pipeWaitDelay

	if err := command.Start(); err != nil {
		b.settle(taskContext)
		return Result{Status: StatusFailed, Error: fmt.Sprintf("starting %s: %v", b.config.Runtime, err)}
	}
	b.logger.Info("container started", "container", b.name, "image", b.config.Image)

	exited := make(chan struct{})
	cleaned := make(chan struct{})
	go func() {
		defer close(cleaned)
		b.stopOnCancel(taskContext, command, exited)
	}()
	waitErr := command.Wait()
	exitedAt := b.clock.Now()
	close(exited)
	<-cleaned

	cause := b.settleAt(taskContext, exitedAt)
	exitCode := exitCodeOf(command.ProcessState)
	if cause != nil {
		result := b.interrupted(cause)
		result.ExitCode = exitCode
		return result
	}
	if command.ProcessState != nil && command.ProcessState.Success() {
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

// probe runs "<runtime> info", a cheap check that the CLI exists and
// its daemon answers.
func (b *container) probe(ctx context.Context) error {
	probeContext, cancel := context.WithTimeout(ctx, b.config.ProbeTimeout)
	defer cancel()
	output, err := exec.CommandContext(probeContext, b.config.Runtime, "info").CombinedOutput()
	if err != nil {
		if detail := strings.TrimSpace(string(output)); detail != "" {
			return fmt.Errorf("%w: %s", err, tailRunes(detail, 200))
		}
		return err
	}
	return nil
}

func (b *container) runArgs() []string {
	args := []string{
		"run", "--rm",
		"--name", b.name,
		"--memory", b.config.Memory,
		"--cpus", b.config.CPUs,
	}
	if b.task.WorkingDirectory != "" {
		args = append(args,
			"-v", b.task.WorkingDirectory+":"+b.config.MountPath,
			"-w", b.config.MountPath,
		)
	}
	args = append(args, b.config.Image)
	args = append(args, b.config.Command...)
	return append(args, b.task.EffectivePrompt())
}

func (b *container) appendStderr(text string) {
	b.stderrTail.WriteString(text)
	b.appendOutput(text)
	b.emit(EventError, text)
}

// stopOnCancel stops then force-removes the container once the task is
// cancelled. If the runtime client still has not exited after a further
// grace period, it is killed.
func (b *container) stopOnCancel(taskContext context.Context, command *exec.Cmd, exited <-chan struct{}) {
	select {
	case <-exited:
		return
	case <-taskContext.Done():
	}

	seconds := strconv.Itoa(int(b.config.GracePeriod.Seconds()))
	b.logger.Info("stopping container", "container", b.name, "cause", context.Cause(taskContext))
	if output, err := exec.Command(b.config.Runtime, "stop", "-t", seconds, b.name).CombinedOutput(); err != nil {
		b.logger.Warn("container stop failed", "container", b.name, "error", err, "output", strings.TrimSpace(string(output)))
	}
	if output, err := exec.Command(b.config.Runtime, "rm", "-f", b.name).CombinedOutput(); err != nil {
		b.logger.Debug("container rm failed", "container", b.name, "error", err, "output", strings.TrimSpace(string(output)))
	}

	select {
	case <-exited:
	case <-b.clock.After(b.config.GracePeriod):
		b.logger.Warn("container client still running after stop, killing", "container", b.name)
		_ = command.Process.Kill()
	}
}

// containerName uses the tmux session scheme: sanitized, truncated,
// and suffixed so IDs that sanitize alike never share a container.
func containerName(taskID string) string {
	return sessionName(taskID)
}
