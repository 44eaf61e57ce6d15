// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is secret material in an anonymous mapping outside the Go heap.
// The mapping is mlock'd, excluded from core dumps, and zeroed by Close.
// Accessors panic after Close. A Buffer must not be copied.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// New returns a zero-filled protected buffer of size bytes. The caller
// must Close it.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}
	region, err := protectedRegion(size)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: region}, nil
}

// protectedRegion maps size private anonymous bytes, locks them, and
// marks them MADV_DONTDUMP. Any failure releases what was acquired.
func protectedRegion(size int) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}
	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: mlock failed: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP) failed: %w", err)
	}
	return region, nil
}

// NewFromBytes copies source into a protected buffer and zeros source.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	Zero(source)
	return buffer, nil
}

// open returns the live region under the lock, panicking after Close.
func (b *Buffer) open() []byte {
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data
}

// Bytes returns the mapped region itself, valid until Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open()
}

// String returns a heap copy of the secret.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.open())
}

// Equal reports whether other matches the secret, in constant time.
func (b *Buffer) Equal(other []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return subtle.ConstantTimeCompare(b.open(), other) == 1
}

// Len returns the secret's length, or zero after Close.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Close zeros, unlocks, and unmaps the region. Repeated calls return
// nil. The first unlock or unmap failure is reported.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.data)

	var firstError error
	if err := unix.Munlock(b.data); err != nil {
		firstError = fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}
	b.data = nil
	return firstError
}
