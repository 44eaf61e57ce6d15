// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ringbuffer holds the bounded output of a worker: a fixed
// capacity circular byte buffer that always contains the most recent
// bytes written to it, together with a running count of everything
// ever written so readers can page through output by absolute offset.
package ringbuffer

import (
	"sync"
	"unicode/utf8"
)

// DefaultCapacity is the default buffer size in bytes. 1 MB holds
// several hours of typical agent output.
const DefaultCapacity = 1024 * 1024

// TruncationMarker prefixes a preview that does not start at the
// beginning of the retained output.
const TruncationMarker = "..."

// Buffer is a circular byte buffer. Writes past capacity overwrite the
// oldest bytes, so the buffer holds min(written, capacity) bytes: the
// most recent ones.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mutex    sync.Mutex
	data     []byte
	capacity int
	// writePosition is the next index to write in data.
	writePosition int
	// totalWritten counts every byte ever written. The retained bytes
	// span absolute offsets [totalWritten-stored, totalWritten).
	totalWritten uint64
}

// New returns a Buffer of the given capacity. A non-positive capacity
// selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends data, overwriting the oldest bytes when full. It never
// fails; the io.Writer signature lets the buffer sit behind
// io.MultiWriter and exec.Cmd pipes.
func (buffer *Buffer) Write(data []byte) (int, error) {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()

	written := len(data)
	// Only the last capacity bytes of an oversized write can survive.
	if len(data) > buffer.capacity {
		data = data[len(data)-buffer.capacity:]
		buffer.writePosition = 0
	}
	for offset := 0; offset < len(data); {
		copyLength := min(len(data)-offset, buffer.capacity-buffer.writePosition)
		copy(buffer.data[buffer.writePosition:], data[offset:offset+copyLength])
		buffer.writePosition = (buffer.writePosition + copyLength) % buffer.capacity
		offset += copyLength
	}
	buffer.totalWritten += uint64(written)
	return written, nil
}

// WriteString appends s.
func (buffer *Buffer) WriteString(s string) (int, error) {
	return buffer.Write([]byte(s))
}

// Bytes returns a copy of the retained bytes, oldest first. Once
// output has been overwritten, a rune cut by the overwrite is dropped
// from the front.
func (buffer *Buffer) Bytes() []byte {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	start := buffer.retainedStartLocked()
	return buffer.readLocked(start, buffer.totalWritten)
}

// String returns the retained bytes as a string.
func (buffer *Buffer) String() string {
	return string(buffer.Bytes())
}

// Len returns the number of retained bytes.
func (buffer *Buffer) Len() int {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	return int(buffer.storedLocked())
}

// TotalWritten returns the number of bytes ever written, including
// those already overwritten.
func (buffer *Buffer) TotalWritten() uint64 {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	return buffer.totalWritten
}

// OldestOffset returns the absolute offset of the oldest retained byte.
func (buffer *Buffer) OldestOffset() uint64 {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	return buffer.oldestOffsetLocked()
}

// ReadRange returns up to limit bytes starting at absolute offset. An
// offset older than the retained data is moved forward to the first
// whole rune retained; the returned start reports where the read
// actually began. A non-positive limit reads to the end. A rune split
// by the end of the window is left for the next read, so consecutive
// windows stay on rune boundaries.
func (buffer *Buffer) ReadRange(offset uint64, limit int) (data []byte, start uint64) {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()

	start = offset
	if oldest := buffer.oldestOffsetLocked(); start <= oldest {
		start = buffer.retainedStartLocked()
	}
	if start >= buffer.totalWritten {
		return nil, buffer.totalWritten
	}
	end := buffer.totalWritten
	if limit > 0 && start+uint64(limit) < end {
		end = start + uint64(limit)
	}
	data = buffer.readLocked(start, end)
	return data[:WholeRunes(data)], start
}

// Preview returns at most the last maxLength characters of the
// retained output. When output was cut, the result is prefixed with
// TruncationMarker. Returns "" before anything has been written.
func (buffer *Buffer) Preview(maxLength int) string {
	return Preview(buffer.String(), maxLength)
}

// Preview applies the Buffer.Preview rule to an arbitrary string.
// Characters are counted as runes so multi-byte text is never split.
func Preview(text string, maxLength int) string {
	if text == "" || maxLength <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	runes := []rune(text)
	return TruncationMarker + string(runes[len(runes)-maxLength:])
}

// retainedStartLocked is the oldest retained offset, moved past any
// continuation bytes left by an overwrite.
func (buffer *Buffer) retainedStartLocked() uint64 {
	start := buffer.oldestOffsetLocked()
	if start == 0 {
		return 0
	}
	for skipped := 0; skipped < utf8.UTFMax-1 && start < buffer.totalWritten; skipped++ {
		if utf8.RuneStart(buffer.byteAtLocked(start)) {
			break
		}
		start++
	}
	return start
}

func (buffer *Buffer) byteAtLocked(offset uint64) byte {
	back := int(buffer.totalWritten - offset)
	return buffer.data[((buffer.writePosition-back)%buffer.capacity+buffer.capacity)%buffer.capacity]
}

// WholeRunes returns the length of data without a trailing incomplete
// rune. Data that is nothing but a partial rune is kept as is.
func WholeRunes(data []byte) int {
	for back := 1; back < utf8.UTFMax && back <= len(data); back++ {
		index := len(data) - back
		if !utf8.RuneStart(data[index]) {
			continue
		}
		if index > 0 && !utf8.FullRune(data[index:]) {
			return index
		}
		break
	}
	return len(data)
}

func (buffer *Buffer) storedLocked() uint64 {
	return min(buffer.totalWritten, uint64(buffer.capacity))
}

func (buffer *Buffer) oldestOffsetLocked() uint64 {
	return buffer.totalWritten - buffer.storedLocked()
}

// readLocked copies absolute range [start, end), which must lie within
// the retained window.
func (buffer *Buffer) readLocked(start, end uint64) []byte {
	length := int(end - start)
	result := make([]byte, length)
	if length == 0 {
		return result
	}

	// writePosition corresponds to absolute offset totalWritten, so
	// absolute offset x lives at index writePosition-(totalWritten-x).
	back := int(buffer.totalWritten - start)
	readPosition := ((buffer.writePosition-back)%buffer.capacity + buffer.capacity) % buffer.capacity
	for copied := 0; copied < length; {
		copyLength := min(length-copied, buffer.capacity-readPosition)
		copy(result[copied:], buffer.data[readPosition:readPosition+copyLength])
		readPosition = (readPosition + copyLength) % buffer.capacity
		copied += copyLength
	}
	return result
}
