// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// SSEEvent is one Server-Sent Event.
type SSEEvent struct {
	// Type is the "event:" field, empty for the default event type.
	Type string

	// Data joins the event's "data:" lines with newlines.
	Data string
}

// SSEScanner reads Server-Sent Events from an [io.Reader]. Events
// end at a blank line; comment lines (leading ":") and fields other
// than "event" and "data" are ignored.
//
//	scanner := NewSSEScanner(body)
//	for scanner.Next() {
//	    event := scanner.Event()
//	}
//	if err := scanner.Err(); err != nil {
//	    // transport error
//	}
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

// NewSSEScanner returns a scanner over reader.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(reader, 64*1024)}
}

// Next advances to the next event. It returns false at end of stream
// or on a read error; see [SSEScanner.Err].
func (scanner *SSEScanner) Next() bool {
	if scanner.err != nil {
		return false
	}

	var (
		eventType string
		data      []string
	)
	flush := func() bool {
		if data == nil {
			eventType = ""
			return false
		}
		scanner.current = SSEEvent{Type: eventType, Data: strings.Join(data, "\n")}
		return true
	}

	for {
		line, err := scanner.reader.ReadString('\n')
		if err != nil {
			scanner.err = err
			if line == "" {
				// A final event may lack its blank-line terminator.
				return flush()
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if flush() {
				return true
			}
			if scanner.err != nil {
				return false
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			eventType = value
		}

		if scanner.err != nil {
			return flush()
		}
	}
}

// Event returns the event parsed by the last successful Next.
func (scanner *SSEScanner) Event() SSEEvent {
	return scanner.current
}

// Err returns the read error that ended the stream, or nil for a
// clean end of file.
func (scanner *SSEScanner) Err() error {
	if errors.Is(scanner.err, io.EOF) {
		return nil
	}
	return scanner.err
}
