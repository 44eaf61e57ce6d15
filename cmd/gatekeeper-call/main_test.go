// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/bureau-foundation/gatekeeper/lib/gateway"
	"github.com/bureau-foundation/gatekeeper/lib/nonce"
	"github.com/bureau-foundation/gatekeeper/lib/security"
	"github.com/bureau-foundation/gatekeeper/lib/worker"
	"github.com/bureau-foundation/gatekeeper/lib/workerpool"
)

const sharedSecret = "call-test-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func startGateway(t *testing.T, authEnabled bool) string {
	t.Helper()
	pool := workerpool.New(workerpool.Config{
		MaxConcurrent: 1,
		Worker: worker.Config{
			LogDirectory: t.TempDir(),
			Subprocess:   worker.SubprocessConfig{Path: "/bin/sh", Args: []string{"-c"}},
		},
	})
	t.Cleanup(pool.Close)

	service, err := gateway.New(gateway.Config{
		Pool:                    pool,
		Guard:                   security.New(security.Policy{BlockedCommands: []string{`shutdown`}}, nil),
		Nonces:                  nonce.New(nonce.Config{Enabled: authEnabled}),
		Secret:                  []byte(sharedSecret),
		DefaultWorkingDirectory: t.TempDir(),
		Version:                 "test",
	})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	server := httptest.NewServer(service.Handler())
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/rpc"
}

func writeSecretFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing secret: %v", err)
	}
	return path
}

func TestCallPublicMethod(t *testing.T) {
	t.Parallel()
	url := startGateway(t, false)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--url", url, "gateway.methods"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}

	var listing struct {
		Methods []string `json:"methods"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &listing); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
	}
	found := false
	for _, method := range listing.Methods {
		if method == gateway.MethodSubmit {
			found = true
		}
	}
	if !found {
		t.Errorf("methods = %v, want %s listed", listing.Methods, gateway.MethodSubmit)
	}
	if !strings.HasSuffix(stdout.String(), "\n") || !strings.Contains(stdout.String(), "\n  ") {
		t.Errorf("output is not indented JSON: %q", stdout.String())
	}
}

func TestCallSubmitWithSecret(t *testing.T) {
	t.Parallel()
	url := startGateway(t, true)
	secretPath := writeSecretFile(t, sharedSecret+"\n")

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"--url", url, "--secret-file", secretPath, "-v",
		gateway.MethodSubmit, `{"command": "printf via-cli"}`,
	}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}

	var result worker.Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		t.Fatalf("decoding result: %v\n%s", err, stdout.String())
	}
	if result.Status != worker.StatusCompleted || result.Output != "via-cli" {
		t.Errorf("result = %+v, want completed via-cli", result)
	}
	if !strings.Contains(stderr.String(), "ack: processing worker.submit") {
		t.Errorf("verbose stderr = %q, want ack line", stderr.String())
	}
	if !strings.Contains(stderr.String(), "session: ") {
		t.Errorf("verbose stderr = %q, want session line", stderr.String())
	}
}

func TestCallParamsFromStdin(t *testing.T) {
	t.Parallel()
	url := startGateway(t, false)

	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader(`{"command": "shutdown -h now"}`)
	code := run([]string{"--url", url, gateway.MethodSecurityCheck, "-"}, stdin, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"allowed": false`) {
		t.Errorf("stdout = %q, want allowed false", stdout.String())
	}
}

func TestCallRPCErrorExitCode(t *testing.T) {
	t.Parallel()
	url := startGateway(t, false)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--url", url, gateway.MethodResult, `{"id": "missing"}`}, strings.NewReader(""), &stdout, &stderr)
	if code != exitRPCError {
		t.Fatalf("exit code = %d, want %d; stderr = %q", code, exitRPCError, stderr.String())
	}
	if !strings.Contains(stderr.String(), "WORKER_NOT_FOUND") {
		t.Errorf("stderr = %q, want WORKER_NOT_FOUND", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty on error", stdout.String())
	}
}

func TestCallWrongSecret(t *testing.T) {
	t.Parallel()
	url := startGateway(t, true)
	secretPath := writeSecretFile(t, "not the secret")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--url", url, "--secret-file", secretPath, "gateway.status"}, strings.NewReader(""), &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "authentication rejected") {
		t.Errorf("stderr = %q, want authentication rejected", stderr.String())
	}
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no method", nil, "usage:"},
		{"too many args", []string{"a", "{}", "extra"}, "usage:"},
		{"invalid json", []string{"worker.list", "{not json"}, "not valid JSON"},
		{"stdin twice", []string{"--secret-file", "-", "worker.list", "-"}, "stdin cannot supply both"},
		{"unknown flag", []string{"--bogus"}, "unknown flag"},
	}

	for _, test := range tests {
		var stdout, stderr bytes.Buffer
		code := run(test.args, strings.NewReader(""), &stdout, &stderr)
		if code != 1 {
			t.Errorf("%s: exit code = %d, want 1", test.name, code)
		}
		if !strings.Contains(stderr.String(), test.want) {
			t.Errorf("%s: stderr = %q, want %q", test.name, stderr.String(), test.want)
		}
	}
}

func TestReadParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		argument string
		stdin    string
		want     string
		wantErr  bool
	}{
		{argument: `{"id":"t1"}`, want: `{"id":"t1"}`},
		{argument: `  []  `, want: `[]`},
		{argument: "-", stdin: "{\"limit\": 5}\n", want: `{"limit": 5}`},
		{argument: "-", stdin: "", want: ""},
		{argument: "{", wantErr: true},
	}

	for _, test := range tests {
		params, err := readParams(test.argument, strings.NewReader(test.stdin))
		if (err != nil) != test.wantErr {
			t.Errorf("readParams(%q) error = %v, wantErr %v", test.argument, err, test.wantErr)
			continue
		}
		if string(params) != test.want {
			t.Errorf("readParams(%q) = %q, want %q", test.argument, params, test.want)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--version"}, strings.NewReader(""), &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(stderr.String(), "gatekeeper-call ") {
		t.Errorf("stderr = %q, want version line", stderr.String())
	}
}
