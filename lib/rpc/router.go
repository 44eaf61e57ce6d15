// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
)

// Handler runs one method. The returned value becomes the rpc:result
// payload; a returned error becomes rpc:error (see [Error]).
type Handler func(ctx context.Context, request Request, session *Session) (any, error)

// Sender delivers one reply to the requesting connection.
type Sender func(Message) error

type method struct {
	handler      Handler
	requiresAuth bool
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Logger *slog.Logger
	Clock  clock.Clock
}

// Router owns the method table. It holds no per-request state, so one
// Router serves every connection of a gateway.
type Router struct {
	logger *slog.Logger
	clock  clock.Clock

	mutex   sync.RWMutex
	methods map[string]method
}

func NewRouter(config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Router{
		logger:  config.Logger,
		clock:   config.Clock,
		methods: make(map[string]method),
	}
}

// Register adds a method. It panics on an empty name, a nil handler,
// or a duplicate registration.
func (router *Router) Register(name string, handler Handler, requiresAuth bool) {
	if name == "" {
		panic("rpc.Router: empty method name")
	}
	if handler == nil {
		panic(fmt.Sprintf("rpc.Router: nil handler for method %q", name))
	}
	router.mutex.Lock()
	defer router.mutex.Unlock()
	if _, exists := router.methods[name]; exists {
		panic(fmt.Sprintf("rpc.Router: duplicate handler for method %q", name))
	}
	router.methods[name] = method{handler: handler, requiresAuth: requiresAuth}
}

// Has reports whether name is registered.
func (router *Router) Has(name string) bool {
	_, ok := router.lookup(name)
	return ok
}

// RequiresAuth reports whether name needs an authenticated session.
// The second result is false for unknown methods.
func (router *Router) RequiresAuth(name string) (requiresAuth bool, ok bool) {
	registered, ok := router.lookup(name)
	return registered.requiresAuth, ok
}

// Methods returns the registered method names in sorted order.
func (router *Router) Methods() []string {
	router.mutex.RLock()
	defer router.mutex.RUnlock()
	names := make([]string, 0, len(router.methods))
	for name := range router.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (router *Router) lookup(name string) (method, bool) {
	router.mutex.RLock()
	defer router.mutex.RUnlock()
	registered, ok := router.methods[name]
	return registered, ok
}

// HandleRPC dispatches request and sends its replies. Unknown methods
// and unauthenticated calls to protected methods get one rpc:error.
// Everything else gets rpc:ack followed by rpc:result or rpc:error.
// HandleRPC blocks until the handler returns.
func (router *Router) HandleRPC(ctx context.Context, request Request, session *Session, send Sender) {
	if request.Params == nil {
		request.Params = NoParams
	}
	logger := router.logger.With("request_id", request.ID, "method", request.Method, "session_id", session.ID)

	registered, ok := router.lookup(request.Method)
	if !ok {
		logger.Debug("unknown method")
		router.reply(logger, send, TypeError, errorPayload(request.ID,
			Errorf(CodeMethodNotFound, "method %q not found", request.Method)))
		return
	}
	if registered.requiresAuth && !session.Authenticated() {
		logger.Warn("unauthenticated call to protected method")
		router.reply(logger, send, TypeError, errorPayload(request.ID,
			Errorf(CodeUnauthorized, "method %q requires authentication", request.Method)))
		return
	}

	if !router.reply(logger, send, TypeAck, AckPayload{RequestID: request.ID, Message: "processing " + request.Method}) {
		return
	}

	result, err := router.invoke(ctx, logger, registered.handler, request, session)
	if err != nil {
		payload := errorPayload(request.ID, err)
		logger.Debug("method failed", "code", payload.Code, "error", err)
		router.reply(logger, send, TypeError, payload)
		return
	}
	router.reply(logger, send, TypeResult, ResultPayload{RequestID: request.ID, Result: result})
}

// invoke runs the handler, converting a panic into INTERNAL_ERROR.
func (router *Router) invoke(ctx context.Context, logger *slog.Logger, handler Handler, request Request, session *Session) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("method handler panicked", "panic", recovered, "stack", string(debug.Stack()))
			result = nil
			err = Errorf(CodeInternalError, "handler panicked: %v", recovered)
		}
	}()
	return handler(ctx, request, session)
}

// reply sends one message and reports whether it was delivered.
func (router *Router) reply(logger *slog.Logger, send Sender, messageType MessageType, payload any) bool {
	if err := send(NewMessage(messageType, payload, router.clock.Now())); err != nil {
		logger.Debug("failed to send reply", "type", messageType, "error", err)
		return false
	}
	return true
}
