// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the "type" field of the envelope.
type MessageType string

const (
	TypeRequest MessageType = "rpc"
	TypeAck     MessageType = "rpc:ack"
	TypeResult  MessageType = "rpc:result"
	TypeError   MessageType = "rpc:error"

	// Connection handshake. The server sends a challenge, the client
	// answers with a signed response, the server replies ok or error.
	// A client may send auth:challenge to request a fresh challenge.
	TypeChallenge    MessageType = "auth:challenge"
	TypeAuthResponse MessageType = "auth:response"
	TypeAuthOK       MessageType = "auth:ok"
	TypeAuthError    MessageType = "auth:error"

	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is an outbound envelope. Timestamp is Unix milliseconds.
type Message struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// NewMessage stamps a message with a fresh id and the given time.
func NewMessage(messageType MessageType, payload any, now time.Time) Message {
	return Message{
		Type:      messageType,
		ID:        uuid.NewString(),
		Timestamp: now.UnixMilli(),
		Payload:   payload,
	}
}

// Envelope is an inbound message whose payload has not been decoded.
// For requests, Method and Params are split out of the payload.
type Envelope struct {
	Type      MessageType
	ID        string
	Timestamp int64
	Payload   Params
	Method    string
	Params    Params
}

// Request returns the routable part of a request envelope.
func (envelope Envelope) Request() Request {
	params := envelope.Params
	if params == nil {
		params = NoParams
	}
	return Request{ID: envelope.ID, Method: envelope.Method, Params: params}
}

// Request is one method invocation.
type Request struct {
	ID     string
	Method string
	Params Params
}

// RequestPayload is the payload a client sends with type "rpc".
type RequestPayload struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// AckPayload acknowledges receipt of a request.
type AckPayload struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message,omitempty"`
}

// ResultPayload carries a handler's return value.
type ResultPayload struct {
	RequestID string `json:"requestId"`
	Result    any    `json:"result"`
}

// ErrorPayload carries a failure.
type ErrorPayload struct {
	RequestID string `json:"requestId"`
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

// ChallengePayload is the server's auth:challenge.
type ChallengePayload struct {
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// AuthResponsePayload is the client's signed answer to a challenge.
type AuthResponsePayload struct {
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// AuthResultPayload accompanies auth:ok and auth:error.
type AuthResultPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
