// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"testing"
)

func TestNew_Sizes(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) should fail", size)
		}
	}

	buffer, err := New(64)
	if err != nil {
		t.Fatalf("New(64) failed: %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 64 || len(buffer.Bytes()) != 64 {
		t.Errorf("Len() = %d, len(Bytes()) = %d, want 64", buffer.Len(), len(buffer.Bytes()))
	}
	for index, value := range buffer.Bytes() {
		if value != 0 {
			t.Fatalf("expected zero at index %d, got %d", index, value)
		}
	}
}

func TestNewFromBytes_ZerosSource(t *testing.T) {
	source := []byte("hmac-key-material")

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != "hmac-key-material" {
		t.Errorf("String() = %q, want %q", got, "hmac-key-material")
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source byte %d was not zeroed: got %d", index, value)
		}
	}

	if _, err := NewFromBytes(nil); err == nil {
		t.Error("NewFromBytes(nil) should fail")
	}
}

func TestBuffer_Equal(t *testing.T) {
	buffer, err := NewFromBytes([]byte("abc123"))
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	defer buffer.Close()

	tests := []struct {
		other []byte
		want  bool
	}{
		{[]byte("abc123"), true},
		{[]byte("abc124"), false},
		{[]byte("abc"), false},
		{nil, false},
	}
	for _, test := range tests {
		if got := buffer.Equal(test.other); got != test.want {
			t.Errorf("Equal(%q) = %v, want %v", test.other, got, test.want)
		}
	}
}

func TestBuffer_Close(t *testing.T) {
	buffer, err := NewFromBytes([]byte("released on close"))
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}

	if err := buffer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if buffer.data != nil {
		t.Error("expected data to be nil after Close")
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	accessors := map[string]func(){
		"Bytes":  func() { buffer.Bytes() },
		"String": func() { _ = buffer.String() },
		"Equal":  func() { buffer.Equal([]byte("x")) },
	}
	for name, access := range accessors {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic on %s() after Close", name)
				}
			}()
			access()
		}()
	}
}
