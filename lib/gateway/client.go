// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/gatekeeper/lib/nonce"
	"github.com/bureau-foundation/gatekeeper/lib/rpc"
)

// ErrClientClosed is returned by Call after the connection ends.
var ErrClientClosed = errors.New("gateway client closed")

// AuthError is returned by Dial when the gateway rejects the
// handshake.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication rejected: " + e.Reason
}

// ClientConfig configures Dial.
type ClientConfig struct {
	// URL is the WebSocket endpoint, e.g. ws://127.0.0.1:8787/rpc.
	URL string

	// Secret answers the gateway's challenge. Unused when the
	// gateway has nonce authentication disabled.
	Secret []byte

	// HandshakeTimeout bounds dialing plus authentication. Zero
	// selects 10 seconds.
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Reply is the outcome of a successful Call.
type Reply struct {
	// AckMessage is the text of the rpc:ack that preceded the result.
	AckMessage string
	Result     json.RawMessage
}

// Client is a WebSocket RPC client. Calls may run concurrently.
type Client struct {
	socket    *websocket.Conn
	sessionID string
	logger    *slog.Logger

	writeMutex sync.Mutex

	mutex   sync.Mutex
	pending map[string]chan rpc.Envelope
	err     error
	done    chan struct{}
}

// Dial connects to a gateway and completes the handshake.
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithTimeout(ctx, config.HandshakeTimeout)
	defer cancel()

	socket, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", config.URL, err)
	}
	deadline, _ := ctx.Deadline()
	socket.SetReadDeadline(deadline)

	client := &Client{
		socket:  socket,
		logger:  config.Logger,
		pending: make(map[string]chan rpc.Envelope),
		done:    make(chan struct{}),
	}
	if err := client.handshake(config.Secret); err != nil {
		socket.Close()
		return nil, err
	}
	socket.SetReadDeadline(time.Time{})
	go client.readLoop()
	return client, nil
}

func (client *Client) handshake(secret []byte) error {
	for {
		envelope, err := client.read()
		if err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		switch envelope.Type {
		case rpc.TypeAuthOK:
			var result rpc.AuthResultPayload
			if err := envelope.Payload.Decode(&result); err != nil {
				return fmt.Errorf("handshake: decoding auth:ok: %w", err)
			}
			client.sessionID = result.SessionID
			return nil
		case rpc.TypeAuthError:
			var result rpc.AuthResultPayload
			if err := envelope.Payload.Decode(&result); err != nil {
				return fmt.Errorf("handshake: decoding auth:error: %w", err)
			}
			return &AuthError{Reason: result.Reason}
		case rpc.TypeChallenge:
			if len(secret) == 0 {
				return errors.New("handshake: gateway requires authentication but no secret is configured")
			}
			var challenge nonce.Challenge
			if err := envelope.Payload.Decode(&challenge); err != nil {
				return fmt.Errorf("handshake: decoding challenge: %w", err)
			}
			answer := nonce.Answer(challenge, secret)
			if err := client.send(rpc.TypeAuthResponse, rpc.AuthResponsePayload{
				Nonce:     answer.Nonce,
				Timestamp: answer.Timestamp,
				Signature: answer.Signature,
			}); err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		default:
			client.logger.Debug("ignoring message during handshake", "type", envelope.Type)
		}
	}
}

// SessionID is the id the gateway assigned this connection.
func (client *Client) SessionID() string {
	return client.sessionID
}

// Call invokes method and waits for its terminal reply. An rpc:error
// reply is returned as *rpc.Error; Details holds the decoded JSON.
func (client *Client) Call(ctx context.Context, method string, params any) (Reply, error) {
	message := rpc.NewMessage(rpc.TypeRequest, rpc.RequestPayload{Method: method, Params: params}, time.Now())
	replies := make(chan rpc.Envelope, 2)

	client.mutex.Lock()
	if client.err != nil {
		err := client.err
		client.mutex.Unlock()
		return Reply{}, err
	}
	client.pending[message.ID] = replies
	client.mutex.Unlock()
	defer func() {
		client.mutex.Lock()
		delete(client.pending, message.ID)
		client.mutex.Unlock()
	}()

	if err := client.write(message); err != nil {
		return Reply{}, err
	}

	var reply Reply
	for {
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-client.done:
			return Reply{}, client.closedErr()
		case envelope := <-replies:
			switch envelope.Type {
			case rpc.TypeAck:
				var ack rpc.AckPayload
				if err := envelope.Payload.Decode(&ack); err == nil {
					reply.AckMessage = ack.Message
				}
			case rpc.TypeResult:
				var result struct {
					Result json.RawMessage `json:"result"`
				}
				if err := envelope.Payload.Decode(&result); err != nil {
					return Reply{}, fmt.Errorf("decoding result: %w", err)
				}
				reply.Result = result.Result
				return reply, nil
			case rpc.TypeError:
				var failure rpc.ErrorPayload
				if err := envelope.Payload.Decode(&failure); err != nil {
					return Reply{}, fmt.Errorf("decoding error reply: %w", err)
				}
				return Reply{}, &rpc.Error{Code: failure.Code, Message: failure.Message, Details: failure.Details}
			}
		}
	}
}

// Close ends the connection. Pending calls return ErrClientClosed.
func (client *Client) Close() error {
	client.writeMutex.Lock()
	client.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	client.writeMutex.Unlock()
	err := client.socket.Close()
	<-client.done
	return err
}

func (client *Client) readLoop() {
	defer close(client.done)
	for {
		_, data, err := client.socket.ReadMessage()
		if err != nil {
			client.mutex.Lock()
			client.err = fmt.Errorf("%w: %v", ErrClientClosed, err)
			client.mutex.Unlock()
			return
		}
		envelope, err := rpc.JSONCodec{}.Decode(data)
		if err != nil {
			client.logger.Debug("undecodable message from gateway", "error", err)
			continue
		}

		var correlation struct {
			RequestID string `json:"requestId"`
		}
		if err := envelope.Payload.Decode(&correlation); err != nil || correlation.RequestID == "" {
			client.logger.Debug("uncorrelated message", "type", envelope.Type)
			continue
		}
		client.mutex.Lock()
		replies, ok := client.pending[correlation.RequestID]
		client.mutex.Unlock()
		if !ok {
			continue
		}
		select {
		case replies <- envelope:
		default:
			client.logger.Warn("dropping surplus reply", "request_id", correlation.RequestID, "type", envelope.Type)
		}
	}
}

func (client *Client) closedErr() error {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	if client.err != nil {
		return client.err
	}
	return ErrClientClosed
}

func (client *Client) read() (rpc.Envelope, error) {
	_, data, err := client.socket.ReadMessage()
	if err != nil {
		return rpc.Envelope{}, err
	}
	return rpc.JSONCodec{}.Decode(data)
}

func (client *Client) send(messageType rpc.MessageType, payload any) error {
	return client.write(rpc.NewMessage(messageType, payload, time.Now()))
}

func (client *Client) write(message rpc.Message) error {
	data, err := rpc.JSONCodec{}.Encode(message)
	if err != nil {
		return err
	}
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()
	client.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return client.socket.WriteMessage(websocket.TextMessage, data)
}
