// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway binds the worker pool, the security guard, and the
// nonce handshake behind the RPC router, and serves the result over a
// WebSocket endpoint and a local Unix socket.
//
// Flow of a submitted command: the guard rejects blocked commands (and
// unapproved commands that need approval) before any task exists; the
// session's Dispatcher runs the command now or queues it behind the
// session's current command; the worker pool then admits, queues, or
// rejects the built task; the backend's result becomes the RPC result.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/nonce"
	"github.com/bureau-foundation/gatekeeper/lib/rpc"
	"github.com/bureau-foundation/gatekeeper/lib/security"
	"github.com/bureau-foundation/gatekeeper/lib/worker"
	"github.com/bureau-foundation/gatekeeper/lib/workerpool"
)

// DefaultPreviewLength is the output preview worker.list returns when
// the caller does not ask for one.
const DefaultPreviewLength = 200

// Config wires a Gateway. Pool, Guard, and Nonces are required.
type Config struct {
	Pool   *workerpool.Manager
	Guard  *security.Guard
	Nonces *nonce.Manager

	// Secret signs handshake challenges. Required when Nonces is
	// enabled.
	Secret []byte

	// CommandQueueCapacity bounds each session's queue of commands
	// waiting behind a running one.
	CommandQueueCapacity int

	// DefaultKind is used when a submit names no backend type.
	DefaultKind worker.Kind

	// DefaultWorkingDirectory is used when a submit names no project
	// path.
	DefaultWorkingDirectory string

	// Version is reported by gateway.status.
	Version string

	Logger *slog.Logger
	Clock  clock.Clock
}

// Gateway is the assembled service. Create with New, then serve with
// Handler/ServeWebSocket and ServeUnix.
type Gateway struct {
	pool       *workerpool.Manager
	guard      *security.Guard
	nonces     *nonce.Manager
	secret     []byte
	router     *rpc.Router
	dispatcher *Dispatcher

	defaultKind             worker.Kind
	defaultWorkingDirectory string
	version                 string
	startedAt               time.Time

	logger *slog.Logger
	clock  clock.Clock

	mutex       sync.Mutex
	connections map[*connection]struct{}
}

// New validates config and registers the gateway's methods.
func New(config Config) (*Gateway, error) {
	if config.Pool == nil {
		return nil, errors.New("gateway: worker pool is required")
	}
	if config.Guard == nil {
		return nil, errors.New("gateway: security guard is required")
	}
	if config.Nonces == nil {
		return nil, errors.New("gateway: nonce manager is required")
	}
	if config.Nonces.Enabled() && len(config.Secret) == 0 {
		return nil, errors.New("gateway: nonce authentication is enabled but no shared secret is configured")
	}
	if config.DefaultKind == "" {
		config.DefaultKind = worker.KindSubprocess
	}
	if _, err := worker.ParseKind(string(config.DefaultKind)); err != nil {
		return nil, fmt.Errorf("gateway: default kind: %w", err)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	gateway := &Gateway{
		pool:                    config.Pool,
		guard:                   config.Guard,
		nonces:                  config.Nonces,
		secret:                  config.Secret,
		router:                  rpc.NewRouter(rpc.RouterConfig{Logger: config.Logger, Clock: config.Clock}),
		dispatcher:              NewDispatcher(config.CommandQueueCapacity, config.Clock),
		defaultKind:             config.DefaultKind,
		defaultWorkingDirectory: config.DefaultWorkingDirectory,
		version:                 config.Version,
		startedAt:               config.Clock.Now(),
		logger:                  config.Logger,
		clock:                   config.Clock,
		connections:             make(map[*connection]struct{}),
	}
	gateway.registerMethods()
	return gateway, nil
}

// Router exposes the method table, for callers that dispatch requests
// from their own transport.
func (g *Gateway) Router() *rpc.Router {
	return g.router
}

// Dispatcher exposes the per-session command queues.
func (g *Gateway) Dispatcher() *Dispatcher {
	return g.dispatcher
}

// ConnectionCount returns the number of open client connections.
func (g *Gateway) ConnectionCount() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return len(g.connections)
}

func (g *Gateway) track(conn *connection) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.connections[conn] = struct{}{}
}

func (g *Gateway) untrack(conn *connection) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	delete(g.connections, conn)
}
