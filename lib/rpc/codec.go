// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/bureau-foundation/gatekeeper/lib/codec"
)

// Params is an undecoded value from an inbound message.
type Params interface {
	// Decode unmarshals into target. Empty params leave target
	// untouched and return nil.
	Decode(target any) error
	Empty() bool
}

// NoParams is the Params of a request that sent none.
var NoParams Params = jsonParams(nil)

// DecodeParams decodes params into a T, reporting failures as
// INVALID_PARAMS.
func DecodeParams[T any](params Params) (T, error) {
	var value T
	if params == nil {
		return value, nil
	}
	if err := params.Decode(&value); err != nil {
		return value, Errorf(CodeInvalidParams, "invalid params: %v", err)
	}
	return value, nil
}

// Codec converts between messages and one wire encoding.
type Codec interface {
	Name() string
	Encode(message Message) ([]byte, error)
	// Decode parses one inbound message. Failures are *Error values
	// with CodeParseError.
	Decode(data []byte) (Envelope, error)
}

// JSONCodec is the WebSocket text-frame encoding.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(message Message) ([]byte, error) {
	return json.Marshal(message)
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var wire struct {
		Type      MessageType     `json:"type"`
		ID        string          `json:"id"`
		Timestamp int64           `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, Errorf(CodeParseError, "malformed message: %v", err)
	}
	envelope := Envelope{Type: wire.Type, ID: wire.ID, Timestamp: wire.Timestamp, Payload: jsonParams(wire.Payload)}
	if err := validateHeader(envelope); err != nil {
		return envelope, err
	}
	if wire.Type != TypeRequest {
		return envelope, nil
	}

	var request struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := envelope.Payload.Decode(&request); err != nil {
		return envelope, Errorf(CodeParseError, "malformed request payload: %v", err)
	}
	envelope.Method = request.Method
	envelope.Params = jsonParams(request.Params)
	return envelope, nil
}

type jsonParams json.RawMessage

func (params jsonParams) Empty() bool {
	trimmed := bytes.TrimSpace(params)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (params jsonParams) Decode(target any) error {
	if params.Empty() {
		return nil
	}
	return json.Unmarshal(params, target)
}

// CBORCodec is the Unix socket encoding.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Encode(message Message) ([]byte, error) {
	return codec.Marshal(message)
}

func (CBORCodec) Decode(data []byte) (Envelope, error) {
	var wire struct {
		Type      MessageType      `json:"type"`
		ID        string           `json:"id"`
		Timestamp int64            `json:"timestamp"`
		Payload   codec.RawMessage `json:"payload"`
	}
	if err := codec.Unmarshal(data, &wire); err != nil {
		return Envelope{}, Errorf(CodeParseError, "malformed message: %v", err)
	}
	envelope := Envelope{Type: wire.Type, ID: wire.ID, Timestamp: wire.Timestamp, Payload: cborParams(wire.Payload)}
	if err := validateHeader(envelope); err != nil {
		return envelope, err
	}
	if wire.Type != TypeRequest {
		return envelope, nil
	}

	var request struct {
		Method string           `json:"method"`
		Params codec.RawMessage `json:"params"`
	}
	if err := envelope.Payload.Decode(&request); err != nil {
		return envelope, Errorf(CodeParseError, "malformed request payload: %v", err)
	}
	envelope.Method = request.Method
	envelope.Params = cborParams(request.Params)
	return envelope, nil
}

type cborParams codec.RawMessage

// CBOR simple values null (0xf6) and undefined (0xf7).
func (params cborParams) Empty() bool {
	return len(params) == 0 || (len(params) == 1 && (params[0] == 0xf6 || params[0] == 0xf7))
}

func (params cborParams) Decode(target any) error {
	if params.Empty() {
		return nil
	}
	return codec.Unmarshal(params, target)
}

func validateHeader(envelope Envelope) error {
	if envelope.Type == "" {
		return Errorf(CodeParseError, "message has no type")
	}
	if envelope.Type == TypeRequest && envelope.ID == "" {
		return Errorf(CodeParseError, "request has no id")
	}
	return nil
}
