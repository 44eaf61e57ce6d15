// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func collectEvents(t *testing.T, reader io.Reader) ([]SSEEvent, error) {
	t.Helper()
	scanner := NewSSEScanner(reader)
	var events []SSEEvent
	for scanner.Next() {
		events = append(events, scanner.Event())
	}
	return events, scanner.Err()
}

func TestSSEScanner(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []SSEEvent
	}{
		{
			name:  "typed events",
			input: "event: message_start\ndata: {\"a\":1}\n\nevent: ping\ndata: {}\n\n",
			want:  []SSEEvent{{Type: "message_start", Data: `{"a":1}`}, {Type: "ping", Data: "{}"}},
		},
		{
			name:  "multiple data lines",
			input: "data: one\ndata: two\n\n",
			want:  []SSEEvent{{Data: "one\ntwo"}},
		},
		{
			name:  "comments and unknown fields",
			input: ": keepalive\nid: 7\nretry: 100\ndata: x\n\n",
			want:  []SSEEvent{{Data: "x"}},
		},
		{
			name:  "no space after colon",
			input: "event:delta\ndata:hello\n\n",
			want:  []SSEEvent{{Type: "delta", Data: "hello"}},
		},
		{
			name:  "carriage returns",
			input: "data: crlf\r\n\r\n",
			want:  []SSEEvent{{Data: "crlf"}},
		},
		{
			name:  "event without data is skipped",
			input: "event: empty\n\ndata: kept\n\n",
			want:  []SSEEvent{{Data: "kept"}},
		},
		{
			name:  "final event without terminator",
			input: "data: first\n\ndata: last",
			want:  []SSEEvent{{Data: "first"}, {Data: "last"}},
		},
		{
			name:  "empty stream",
			input: "",
			want:  nil,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			events, err := collectEvents(t, strings.NewReader(test.input))
			if err != nil {
				t.Fatalf("Err() = %v", err)
			}
			if len(events) != len(test.want) {
				t.Fatalf("got %d events %+v, want %d %+v", len(events), events, len(test.want), test.want)
			}
			for index := range events {
				if events[index] != test.want[index] {
					t.Errorf("event %d = %+v, want %+v", index, events[index], test.want[index])
				}
			}
		})
	}
}

type failingReader struct {
	data string
	err  error
}

func (reader *failingReader) Read(buffer []byte) (int, error) {
	if reader.data == "" {
		return 0, reader.err
	}
	count := copy(buffer, reader.data)
	reader.data = reader.data[count:]
	return count, nil
}

func TestSSEScannerReadError(t *testing.T) {
	t.Parallel()

	broken := errors.New("connection reset")
	events, err := collectEvents(t, &failingReader{data: "data: partial\n\n", err: broken})
	if len(events) != 1 || events[0].Data != "partial" {
		t.Errorf("events = %+v, want the one complete event", events)
	}
	if !errors.Is(err, broken) {
		t.Errorf("Err() = %v, want %v", err, broken)
	}
}
