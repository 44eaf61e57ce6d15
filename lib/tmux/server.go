// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tmux drives a dedicated tmux server for terminal-session
// workers. Every command carries -S with the server's socket, so the
// gateway never touches an operator's personal tmux server. Operators
// attach to a worker's session with
//
//	tmux -S <socket> attach -t <session>
package tmux

import (
	"fmt"
	"os/exec"
	"strings"
)

// Server is a tmux server identified by its socket path.
type Server struct {
	binary     string
	socketPath string
	configFile string
}

// NewServer returns a Server for socketPath. configFile is passed as
// -f on new-session (the command that may start the server); pass
// "/dev/null" to keep ~/.tmux.conf out of worker sessions.
func NewServer(socketPath, configFile string) *Server {
	return &Server{binary: "tmux", socketPath: socketPath, configFile: configFile}
}

// SocketPath returns the server's socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Available reports whether the tmux binary can be found.
func (s *Server) Available() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

// NewSession creates a detached session rooted at directory (empty for
// tmux's default). With no command the session runs the default shell.
func (s *Server) NewSession(sessionName, directory string, command ...string) error {
	var args []string
	if s.configFile != "" {
		args = append(args, "-f", s.configFile)
	}
	args = append(args, "new-session", "-d", "-s", sessionName)
	if directory != "" {
		args = append(args, "-c", directory)
	}
	args = append(args, command...)
	if _, err := s.run(args...); err != nil {
		return fmt.Errorf("tmux new-session %q: %w", sessionName, err)
	}
	return nil
}

// HasSession reports whether sessionName exists. False when the server
// is not running.
func (s *Server) HasSession(sessionName string) bool {
	_, err := s.run("has-session", "-t", sessionName)
	return err == nil
}

// PipeToFile appends everything the session's pane prints to path.
func (s *Server) PipeToFile(sessionName, path string) error {
	if _, err := s.run("pipe-pane", "-t", sessionName, "-o", "cat >> "+ShellQuote(path)); err != nil {
		return fmt.Errorf("tmux pipe-pane %q: %w", sessionName, err)
	}
	return nil
}

// SendLiteral types text into the session without interpreting key
// names.
func (s *Server) SendLiteral(sessionName, text string) error {
	if _, err := s.run("send-keys", "-t", sessionName, "-l", text); err != nil {
		return fmt.Errorf("tmux send-keys %q: %w", sessionName, err)
	}
	return nil
}

// SendEnter presses Enter in the session.
func (s *Server) SendEnter(sessionName string) error {
	if _, err := s.run("send-keys", "-t", sessionName, "Enter"); err != nil {
		return fmt.Errorf("tmux send-keys %q Enter: %w", sessionName, err)
	}
	return nil
}

// KillSession removes sessionName. A session or server that is already
// gone is not an error.
func (s *Server) KillSession(sessionName string) error {
	output, err := s.run("kill-session", "-t", sessionName)
	if err != nil && !isGone(output) {
		return fmt.Errorf("tmux kill-session %q: %w", sessionName, err)
	}
	return nil
}

// KillServer stops the server and all of its sessions. A server that is
// not running is not an error.
func (s *Server) KillServer() error {
	output, err := s.run("kill-server")
	if err != nil && !isGone(output) && !strings.Contains(output, "server exited unexpectedly") {
		return fmt.Errorf("tmux kill-server: %w", err)
	}
	return nil
}

// Run executes an arbitrary subcommand and returns its output.
func (s *Server) Run(args ...string) (string, error) {
	output, err := s.run(args...)
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w", strings.Join(args, " "), err)
	}
	return output, nil
}

func (s *Server) run(args ...string) (string, error) {
	fullArgs := append([]string{"-S", s.socketPath}, args...)
	output, err := exec.Command(s.binary, fullArgs...).CombinedOutput()
	trimmed := strings.TrimSpace(string(output))
	if err != nil {
		return trimmed, fmt.Errorf("%w (%s)", err, trimmed)
	}
	return string(output), nil
}

func isGone(output string) bool {
	return strings.Contains(output, "can't find session") ||
		strings.Contains(output, "no server running") ||
		strings.Contains(output, "error connecting to")
}

// ShellQuote wraps value in single quotes for a POSIX shell, escaping
// embedded single quotes.
func ShellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
