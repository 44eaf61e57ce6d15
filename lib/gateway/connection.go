// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/gatekeeper/lib/nonce"
	"github.com/bureau-foundation/gatekeeper/lib/rpc"
)

// connection is one client connection on either transport. The
// transport owns the read loop and supplies write, which must be safe
// for concurrent use; connection owns the session, the handshake
// state, and the in-flight requests.
type connection struct {
	gateway *Gateway
	session *rpc.Session
	codec   rpc.Codec
	write   func([]byte) error
	logger  *slog.Logger

	mutex     sync.Mutex
	challenge *nonce.Challenge

	requests sync.WaitGroup
}

func (g *Gateway) newConnection(session *rpc.Session, codec rpc.Codec, write func([]byte) error) *connection {
	conn := &connection{
		gateway: g,
		session: session,
		codec:   codec,
		write:   write,
		logger:  g.logger.With("session_id", session.ID, "transport", session.Transport),
	}
	g.track(conn)
	return conn
}

// open starts the handshake: a challenge when nonce authentication is
// enabled, otherwise an immediate auth:ok.
func (c *connection) open() {
	c.logger.Info("client connected", "remote_addr", c.session.RemoteAddr)
	if !c.gateway.nonces.Enabled() {
		c.session.SetAuthenticated(true)
		c.send(rpc.TypeAuthOK, rpc.AuthResultPayload{SessionID: c.session.ID})
		return
	}
	c.issueChallenge()
}

// close waits for in-flight requests. The transport cancels their
// context first.
func (c *connection) close() {
	c.requests.Wait()
	c.gateway.untrack(c)
	c.logger.Info("client disconnected")
}

// handle processes one inbound message. Requests run on their own
// goroutine; everything else is answered inline.
func (c *connection) handle(ctx context.Context, data []byte) {
	envelope, err := c.codec.Decode(data)
	if err != nil {
		c.logger.Debug("undecodable message", "error", err)
		c.send(rpc.TypeError, rpc.ErrorPayload{RequestID: envelope.ID, Code: rpc.CodeOf(err), Message: err.Error()})
		return
	}

	switch envelope.Type {
	case rpc.TypeRequest:
		c.requests.Add(1)
		go func() {
			defer c.requests.Done()
			c.gateway.router.HandleRPC(ctx, envelope.Request(), c.session, c.sendMessage)
		}()
	case rpc.TypeAuthResponse:
		c.authenticate(envelope)
	case rpc.TypeChallenge:
		if c.session.Authenticated() || !c.gateway.nonces.Enabled() {
			c.send(rpc.TypeAuthOK, rpc.AuthResultPayload{SessionID: c.session.ID})
			return
		}
		c.issueChallenge()
	case rpc.TypePing:
		c.send(rpc.TypePong, rpc.AckPayload{RequestID: envelope.ID})
	default:
		c.send(rpc.TypeError, rpc.ErrorPayload{
			RequestID: envelope.ID,
			Code:      rpc.CodeParseError,
			Message:   "unsupported message type " + string(envelope.Type),
		})
	}
}

func (c *connection) issueChallenge() {
	challenge := c.gateway.nonces.Generate()
	c.mutex.Lock()
	c.challenge = &challenge
	c.mutex.Unlock()
	c.send(rpc.TypeChallenge, rpc.ChallengePayload{Nonce: challenge.Nonce, Timestamp: challenge.Timestamp})
}

// authenticate checks a response against the challenge this
// connection issued, then against the nonce manager. A failure leaves
// the session unauthenticated and the challenge outstanding.
func (c *connection) authenticate(envelope rpc.Envelope) {
	var response rpc.AuthResponsePayload
	if err := envelope.Payload.Decode(&response); err != nil {
		c.rejectAuth("malformed auth response")
		return
	}

	if reason := c.verify(response); reason != "" {
		c.rejectAuth(reason)
		return
	}
	c.session.SetAuthenticated(true)
	c.logger.Info("client authenticated")
	c.send(rpc.TypeAuthOK, rpc.AuthResultPayload{SessionID: c.session.ID})
}

// verify returns the rejection reason for response, or "" after
// consuming the outstanding challenge.
func (c *connection) verify(response rpc.AuthResponsePayload) string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.challenge == nil {
		return "no challenge outstanding"
	}
	if response.Nonce != c.challenge.Nonce || response.Timestamp != c.challenge.Timestamp {
		return "response does not answer the issued challenge"
	}
	verification := c.gateway.nonces.Verify(nonce.Response{
		Nonce:     response.Nonce,
		Timestamp: response.Timestamp,
		Signature: response.Signature,
	}, c.gateway.secret)
	if !verification.Valid {
		return verification.Reason
	}
	c.challenge = nil
	return ""
}

func (c *connection) rejectAuth(reason string) {
	c.logger.Warn("authentication failed", "reason", reason)
	c.send(rpc.TypeAuthError, rpc.AuthResultPayload{Reason: reason})
}

func (c *connection) send(messageType rpc.MessageType, payload any) {
	// Delivery failures surface as a read error on the transport.
	_ = c.sendMessage(rpc.NewMessage(messageType, payload, c.gateway.clock.Now()))
}

func (c *connection) sendMessage(message rpc.Message) error {
	data, err := c.codec.Encode(message)
	if err != nil {
		c.logger.Error("encoding message", "type", message.Type, "error", err)
		return err
	}
	if err := c.write(data); err != nil {
		c.logger.Debug("writing message", "type", message.Type, "error", err)
		return err
	}
	return nil
}
