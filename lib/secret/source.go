// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrEmpty is returned when a source holds only whitespace.
var ErrEmpty = errors.New("secret is empty")

// Zero overwrites data in place.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}

// Load reads a shared secret from path, or the first line of stdin when
// path is "-". Surrounding whitespace is trimmed. A file readable by
// group or others is refused. The caller must Close the result.
func Load(path string, stdin io.Reader) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin: %w", ErrEmpty)
		}
		data = scanner.Bytes()
	} else {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return nil, fmt.Errorf("secret file %s is accessible by group or others (mode %04o); chmod 600 it", path, mode)
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, ErrEmpty
	}

	// NewFromBytes zeros trimmed; the whitespace around it is zeroed here.
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// Generate returns size random bytes, hex-encoded, in a new buffer.
func Generate(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: size must be positive, got %d", size)
	}

	raw := make([]byte, size)
	defer Zero(raw)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("secret: reading random bytes: %w", err)
	}

	buffer, err := New(hex.EncodedLen(size))
	if err != nil {
		return nil, err
	}
	hex.Encode(buffer.data, raw)
	return buffer, nil
}

// Store writes the buffer to path with mode 0600. An existing file is
// never overwritten.
func Store(path string, buffer *Buffer) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(buffer.Bytes()); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := file.Write([]byte("\n")); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}
