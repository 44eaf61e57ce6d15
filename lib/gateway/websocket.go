// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/gatekeeper/lib/rpc"
)

const (
	// maxMessageSize bounds one inbound frame or CBOR item.
	maxMessageSize = 1024 * 1024

	writeTimeout = 10 * time.Second
	pongWait     = 70 * time.Second
	pingPeriod   = 30 * time.Second

	shutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Clients are local tools and services, not browsers; auth is the
	// nonce handshake.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler returns the HTTP surface: GET /rpc upgrades to the RPC
// WebSocket, GET /healthz reports liveness.
func (g *Gateway) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), g.requestLogger())
	engine.GET("/healthz", func(c *gin.Context) {
		stats := g.pool.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": g.version,
			"active":  stats.Active,
			"queued":  stats.Queued,
		})
	})
	engine.GET("/rpc", g.serveWebSocket)
	return engine
}

// requestLogger logs plain HTTP requests. Upgraded connections log
// their own lifecycle.
func (g *Gateway) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/rpc" && c.Writer.Status() == http.StatusSwitchingProtocols {
			return
		}
		g.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// ServeWebSocket serves Handler on listener until ctx is cancelled,
// then shuts the server down and closes open connections.
func (g *Gateway) ServeWebSocket(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(g.logger.Handler(), slog.LevelDebug),
	}

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()
	g.logger.Info("websocket server listening", "address", listener.Addr().String())

	select {
	case err := <-served:
		return fmt.Errorf("serving websocket: %w", err)
	case <-ctx.Done():
	}

	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownContext); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutting down websocket server: %w", err)
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

func (g *Gateway) serveWebSocket(c *gin.Context) {
	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		g.logger.Debug("websocket upgrade failed", "remote_addr", c.Request.RemoteAddr, "error", err)
		return
	}
	g.runWebSocket(c.Request.Context(), socket, c.Request.RemoteAddr)
}

func (g *Gateway) runWebSocket(parent context.Context, socket *websocket.Conn, remoteAddr string) {
	ctx, cancel := context.WithCancel(parent)

	var writeMutex sync.Mutex
	write := func(data []byte) error {
		writeMutex.Lock()
		defer writeMutex.Unlock()
		socket.SetWriteDeadline(time.Now().Add(writeTimeout))
		return socket.WriteMessage(websocket.TextMessage, data)
	}

	conn := g.newConnection(rpc.NewSession("websocket", remoteAddr), rpc.JSONCodec{}, write)
	defer func() {
		cancel()
		socket.Close()
		conn.close()
	}()

	socket.SetReadLimit(maxMessageSize)
	socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Unblocks ReadMessage on server shutdown.
				socket.Close()
				return
			case <-ticker.C:
				writeMutex.Lock()
				err := socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				writeMutex.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	conn.open()
	for {
		messageType, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				conn.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			conn.send(rpc.TypeError, rpc.ErrorPayload{Code: rpc.CodeParseError, Message: "expected a text frame"})
			continue
		}
		conn.handle(ctx, data)
	}
}
