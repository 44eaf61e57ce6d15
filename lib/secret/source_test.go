// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_File(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "plain value",
			content:  "shared-hmac-secret",
			expected: "shared-hmac-secret",
		},
		{
			name:     "trailing newline",
			content:  "shared-hmac-secret\n",
			expected: "shared-hmac-secret",
		},
		{
			name:     "surrounding whitespace",
			content:  "  shared-hmac-secret \n",
			expected: "shared-hmac-secret",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(tempDir, test.name)
			if err := os.WriteFile(path, []byte(test.content), 0600); err != nil {
				t.Fatalf("writing test file: %v", err)
			}

			result, err := Load(path, nil)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			defer result.Close()
			if result.String() != test.expected {
				t.Errorf("Load() = %q, want %q", result.String(), test.expected)
			}
		})
	}
}

func TestLoad_Stdin(t *testing.T) {
	result, err := Load("-", strings.NewReader("from-stdin\nsecond line\n"))
	if err != nil {
		t.Fatalf("Load(-) error: %v", err)
	}
	defer result.Close()
	if result.String() != "from-stdin" {
		t.Errorf("Load(-) = %q, want %q", result.String(), "from-stdin")
	}

	if _, err := Load("-", strings.NewReader("")); !errors.Is(err, ErrEmpty) {
		t.Errorf("Load(-) on empty stdin error = %v, want ErrEmpty", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestLoad_WhitespaceOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank")
	if err := os.WriteFile(path, []byte("  \n\t\n"), 0600); err != nil {
		t.Fatalf("writing test file: %v", err)
	}

	if _, err := Load(path, nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestLoad_RefusesOpenPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared")
	if err := os.WriteFile(path, []byte("value"), 0600); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	_, err := Load(path, nil)
	if err == nil {
		t.Fatal("expected error for world-readable secret file")
	}
	if !strings.Contains(err.Error(), "chmod 600") {
		t.Errorf("error %q should suggest chmod 600", err)
	}
}

func TestGenerate(t *testing.T) {
	first, err := Generate(32)
	if err != nil {
		t.Fatalf("Generate(32) error: %v", err)
	}
	defer first.Close()
	second, err := Generate(32)
	if err != nil {
		t.Fatalf("Generate(32) error: %v", err)
	}
	defer second.Close()

	if first.Len() != 64 {
		t.Errorf("Len() = %d, want 64 hex characters", first.Len())
	}
	if _, err := hex.DecodeString(first.String()); err != nil {
		t.Errorf("generated secret is not hex: %v", err)
	}
	if first.Equal(second.Bytes()) {
		t.Error("two generated secrets are equal")
	}

	if _, err := Generate(0); err == nil {
		t.Error("Generate(0) should fail")
	}
}

func TestStoreAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")

	generated, err := Generate(16)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer generated.Close()

	if err := Store(path, generated); err != nil {
		t.Fatalf("Store: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("mode = %04o, want 0600", mode)
	}

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()
	if !loaded.Equal(generated.Bytes()) {
		t.Errorf("loaded %q, want %q", loaded.String(), generated.String())
	}

	if err := Store(path, generated); !errors.Is(err, os.ErrExist) {
		t.Errorf("second Store error = %v, want ErrExist", err)
	}
}

func TestZero(t *testing.T) {
	data := []byte("sensitive")
	Zero(data)
	for index, value := range data {
		if value != 0 {
			t.Fatalf("byte %d = %d after Zero", index, value)
		}
	}
}
