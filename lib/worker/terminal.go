// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/gatekeeper/lib/tmux"
)

// Multiplexer is the terminal-multiplexer surface the terminal backend
// drives. *tmux.Server implements it.
type Multiplexer interface {
	NewSession(name, directory string, command ...string) error
	PipeToFile(name, path string) error
	SendLiteral(name, text string) error
	SendEnter(name string) error
	HasSession(name string) bool
	KillSession(name string) error
}

var _ Multiplexer = (*tmux.Server)(nil)

type terminal struct {
	*lifecycle
	config       TerminalConfig
	multiplexer  Multiplexer
	logDirectory string

	session string
	logPath string
}

func newTerminal(task Task, config Config) *terminal {
	multiplexer := config.Terminal.Multiplexer
	if multiplexer == nil {
		multiplexer = tmux.NewServer(config.Terminal.Socket, "/dev/null")
	}
	session := sessionName(task.ID)
	return &terminal{
		lifecycle:    newLifecycle(task, KindTerminal, config),
		config:       config.Terminal,
		multiplexer:  multiplexer,
		logDirectory: config.LogDirectory,
		session:      session,
		logPath:      filepath.Join(config.LogDirectory, session+".log"),
	}
}

// SessionName returns the multiplexer session, unique per task.
func (b *terminal) SessionName() string { return b.session }

func (b *terminal) Start(ctx context.Context) Result {
	taskContext, ok := b.begin(ctx)
	if !ok {
		return b.alreadyStarted()
	}
	return b.finish(b.run(taskContext))
}

func (b *terminal) run(taskContext context.Context) Result {
	if err := b.setup(); err != nil {
		_ = b.multiplexer.KillSession(b.session)
		b.settle(taskContext)
		return Result{Status: StatusFailed, Error: err.Error()}
	}
	b.logger.Info("terminal session ready", "session", b.session, "log", b.logPath)

	poll := b.clock.NewTicker(b.config.PollInterval)
	defer poll.Stop()
	liveness := b.clock.NewTicker(b.config.LivenessInterval)
	defer liveness.Stop()

	reader := &paneLog{path: b.logPath}
	for {
		select {
		case <-taskContext.Done():
			b.appendOutput(reader.read(true))
			if err := b.multiplexer.KillSession(b.session); err != nil {
				b.logger.Warn("killing terminal session", "session", b.session, "error", err)
			}
			return b.interrupted(b.settle(taskContext))

		case <-poll.C:
			b.appendOutput(reader.read(false))

		case <-liveness.C:
			if b.multiplexer.HasSession(b.session) {
				continue
			}
			b.appendOutput(reader.read(true))
			if cause := b.settle(taskContext); cause != nil {
				return b.interrupted(cause)
			}
			return Result{Status: StatusCompleted}
		}
	}
}

func (b *terminal) setup() error {
	if err := os.MkdirAll(b.logDirectory, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	if err := os.WriteFile(b.logPath, nil, 0o600); err != nil {
		return fmt.Errorf("creating session log: %w", err)
	}
	if err := b.multiplexer.NewSession(b.session, b.task.WorkingDirectory); err != nil {
		return fmt.Errorf("creating terminal session: %w", err)
	}
	if err := b.multiplexer.PipeToFile(b.session, b.logPath); err != nil {
		return fmt.Errorf("capturing terminal output: %w", err)
	}
	if err := b.multiplexer.SendLiteral(b.session, b.commandLine()); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	if err := b.multiplexer.SendEnter(b.session); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	return nil
}

// commandLine is typed into the session's shell. The trailing exit
// ends the session when the agent returns, which is how completion is
// detected.
func (b *terminal) commandLine() string {
	words := make([]string, 0, len(b.config.Args)+2)
	words = append(words, tmux.ShellQuote(b.config.Path))
	for _, arg := range b.config.Args {
		words = append(words, tmux.ShellQuote(arg))
	}
	words = append(words, tmux.ShellQuote(b.task.EffectivePrompt()))
	return strings.Join(words, " ") + "; exit"
}

var unsafeSessionCharacters = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// sessionName builds "gk-<id>-<random>". tmux treats '.' and ':' as
// target separators, so the id is reduced to a safe alphabet.
func sessionName(taskID string) string {
	safe := unsafeSessionCharacters.ReplaceAllString(taskID, "_")
	if len(safe) > 40 {
		safe = safe[:40]
	}
	random := make([]byte, 4)
	_, _ = rand.Read(random)
	return "gk-" + safe + "-" + hex.EncodeToString(random)
}

// paneLog incrementally reads a pipe-pane log. Output is released a
// line at a time so an escape sequence split across reads is stripped
// whole; a final read releases the partial last line too.
type paneLog struct {
	path    string
	offset  int64
	pending []byte
}

func (log *paneLog) read(final bool) string {
	file, err := os.Open(log.path)
	if err == nil {
		if _, err := file.Seek(log.offset, io.SeekStart); err == nil {
			data, _ := io.ReadAll(file)
			log.offset += int64(len(data))
			log.pending = append(log.pending, data...)
		}
		file.Close()
	}

	cut := len(log.pending)
	if !final {
		cut = bytes.LastIndexByte(log.pending, '\n') + 1
	}
	if cut == 0 {
		return ""
	}
	text := string(log.pending[:cut])
	log.pending = log.pending[cut:]
	return strings.ReplaceAll(ansi.Strip(text), "\r", "")
}
