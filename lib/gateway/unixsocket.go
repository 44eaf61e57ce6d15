// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/codec"
	"github.com/bureau-foundation/gatekeeper/lib/netutil"
	"github.com/bureau-foundation/gatekeeper/lib/rpc"
)

// ServeUnix accepts local clients on a Unix socket at socketPath until
// ctx is cancelled. Each connection carries a CBOR sequence in both
// directions using the same envelope as the WebSocket transport.
//
// A stale socket file at socketPath is removed before listening, and
// the socket file is removed on return. ServeUnix waits for open
// connections to finish before returning.
func (g *Gateway) ServeUnix(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(socketPath)
	}()
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	g.logger.Info("unix socket listening", "path", socketPath)

	var active sync.WaitGroup
	for {
		socket, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			g.logger.Error("accept failed", "error", err)
			continue
		}
		active.Add(1)
		go func() {
			defer active.Done()
			g.runUnix(ctx, socket)
		}()
	}

	active.Wait()
	return nil
}

func (g *Gateway) runUnix(parent context.Context, socket net.Conn) {
	ctx, cancel := context.WithCancel(parent)

	var writeMutex sync.Mutex
	write := func(data []byte) error {
		writeMutex.Lock()
		defer writeMutex.Unlock()
		socket.SetWriteDeadline(time.Now().Add(writeTimeout))
		_, err := socket.Write(data)
		return err
	}

	conn := g.newConnection(rpc.NewSession("unix", "local"), rpc.CBORCodec{}, write)
	defer func() {
		cancel()
		socket.Close()
		conn.close()
	}()

	go func() {
		<-ctx.Done()
		socket.Close()
	}()

	conn.open()
	decoder := codec.NewDecoder(socket)
	for {
		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
				// A malformed item leaves the stream unframed; report
				// and drop the connection.
				conn.send(rpc.TypeError, rpc.ErrorPayload{Code: rpc.CodeParseError, Message: err.Error()})
				conn.logger.Debug("unix socket read failed", "error", err)
			}
			return
		}
		if len(raw) > maxMessageSize {
			conn.send(rpc.TypeError, rpc.ErrorPayload{Code: rpc.CodeParseError, Message: "message too large"})
			continue
		}
		conn.handle(ctx, raw)
	}
}
