// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/codec"
)

type submit struct {
	Command string `json:"command"`
	Session string `json:"session,omitempty"`
}

func TestJSONCodecDecodeRequest(t *testing.T) {
	t.Parallel()

	envelope, err := JSONCodec{}.Decode([]byte(`{"type":"rpc","id":"a1","timestamp":1700000000000,"payload":{"method":"worker.submit","params":{"command":"ls"}}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if envelope.Type != TypeRequest || envelope.ID != "a1" || envelope.Method != "worker.submit" {
		t.Errorf("envelope = %+v", envelope)
	}
	if envelope.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", envelope.Timestamp)
	}
	params, err := DecodeParams[submit](envelope.Request().Params)
	if err != nil || params.Command != "ls" {
		t.Errorf("params = %+v, %v", params, err)
	}
}

func TestJSONCodecDecodeErrors(t *testing.T) {
	t.Parallel()

	for name, text := range map[string]string{
		"not json":        `{"type":`,
		"no type":         `{"id":"x"}`,
		"request no id":   `{"type":"rpc","payload":{"method":"m"}}`,
		"payload is list": `{"type":"rpc","id":"x","payload":[1,2]}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := JSONCodec{}.Decode([]byte(text))
			if CodeOf(err) != CodeParseError {
				t.Errorf("Decode(%s) = %v, want PARSE_ERROR", text, err)
			}
		})
	}
}

func TestJSONCodecKeepsIDOnPayloadError(t *testing.T) {
	t.Parallel()

	envelope, err := JSONCodec{}.Decode([]byte(`{"type":"rpc","id":"keep","payload":"text"}`))
	if err == nil {
		t.Fatal("Decode accepted a string payload")
	}
	if envelope.ID != "keep" {
		t.Errorf("ID = %q, want keep so the error can be correlated", envelope.ID)
	}
}

func TestParamsEmpty(t *testing.T) {
	t.Parallel()

	envelope, err := JSONCodec{}.Decode([]byte(`{"type":"rpc","id":"n","payload":{"method":"worker.list"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !envelope.Params.Empty() {
		t.Error("missing params not Empty")
	}
	value := submit{Command: "untouched"}
	if err := envelope.Params.Decode(&value); err != nil || value.Command != "untouched" {
		t.Errorf("Decode of empty params = %+v, %v", value, err)
	}
	if !NoParams.Empty() || !cborParams([]byte{0xf6}).Empty() || cborParams([]byte{0xa0}).Empty() {
		t.Error("Empty misclassifies null/undefined/empty-map values")
	}
}

func TestJSONCodecEncode(t *testing.T) {
	t.Parallel()

	message := NewMessage(TypeAck, AckPayload{RequestID: "r"}, time.UnixMilli(1234))
	data, err := JSONCodec{}.Encode(message)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["type"] != "rpc:ack" || decoded["timestamp"] != float64(1234) {
		t.Errorf("decoded = %v", decoded)
	}
	payload := decoded["payload"].(map[string]any)
	if payload["requestId"] != "r" {
		t.Errorf("payload = %v", payload)
	}
	if _, present := payload["message"]; present {
		t.Error("empty ack message not omitted")
	}
}

func TestCBORCodec(t *testing.T) {
	t.Parallel()

	request := Message{
		Type:      TypeRequest,
		ID:        "c1",
		Timestamp: 99,
		Payload:   RequestPayload{Method: "worker.submit", Params: submit{Command: "make", Session: "s"}},
	}
	data, err := CBORCodec{}.Encode(request)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	envelope, err := CBORCodec{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if envelope.Method != "worker.submit" || envelope.ID != "c1" || envelope.Timestamp != 99 {
		t.Errorf("envelope = %+v", envelope)
	}
	params, err := DecodeParams[submit](envelope.Params)
	if err != nil || params != (submit{Command: "make", Session: "s"}) {
		t.Errorf("params = %+v, %v", params, err)
	}

	ping, err := codec.Marshal(map[string]any{"type": "ping", "id": "p"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	envelope, err = CBORCodec{}.Decode(ping)
	if err != nil || envelope.Type != TypePing || !envelope.Payload.Empty() {
		t.Errorf("ping envelope = %+v, %v", envelope, err)
	}

	if _, err := (CBORCodec{}).Decode([]byte{0xff, 0x00}); CodeOf(err) != CodeParseError {
		t.Errorf("Decode(garbage) = %v, want PARSE_ERROR", err)
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	if CodeOf(errors.New("plain")) != CodeInternalError {
		t.Error("plain error not INTERNAL_ERROR")
	}
	wrapped := errors.Join(errors.New("context"), Errorf(CodeQueueFull, "full"))
	if CodeOf(wrapped) != CodeQueueFull {
		t.Errorf("CodeOf(joined) = %q, want QUEUE_FULL", CodeOf(wrapped))
	}
	base := Errorf(CodeCommandBlocked, "blocked")
	if detailed := base.WithDetails("why"); detailed.Details != "why" || base.Details != nil {
		t.Error("WithDetails mutated the receiver")
	}
}
