// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/testutil"
)

// fakeRuntime writes a docker-compatible stand-in that logs every
// invocation to calls.log. "run" executes the last argument (the
// prompt) as a shell script so each test controls the container's
// behavior; "stop" signals the running script.
func fakeRuntime(t *testing.T) (runtime, state string) {
	t.Helper()
	state = t.TempDir()
	runtime = testutil.WriteScript(t, state, "fake-docker", `
state='`+state+`'
echo "$*" >> "$state/calls.log"
case "$1" in
info)
	exit 0 ;;
run)
	echo $$ > "$state/pid"
	for last; do :; done
	exec /bin/sh -c "$last" ;;
stop)
	kill -TERM "$(cat "$state/pid")" 2>/dev/null
	exit 0 ;;
rm)
	exit 0 ;;
esac
exit 99`)
	return runtime, state
}

func readCalls(t *testing.T, state string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(state, "calls.log"))
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestContainerRuns(t *testing.T) {
	t.Parallel()
	runtime, state := fakeRuntime(t)
	events := &eventLog{}
	project := t.TempDir()

	backend, _ := New(Task{
		ID:               "box-1",
		Kind:             KindContainer,
		Prompt:           `echo built; echo note >&2`,
		WorkingDirectory: project,
		Timeout:          time.Minute,
	}, Config{
		OnEvent: events.handler,
		Container: ContainerConfig{
			Runtime: runtime,
			Image:   "agent:latest",
			Command: []string{},
			Memory:  "512m",
			CPUs:    "1.5",
		},
	})
	result := backend.Start(t.Context())
	if result.Status != StatusCompleted {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Output, "built\n") || !strings.Contains(result.Output, "note\n") {
		t.Errorf("Output = %q, want combined stdout and stderr", result.Output)
	}
	if events.text(EventError) != "note\n" {
		t.Errorf("error events = %q", events.text(EventError))
	}

	calls := readCalls(t, state)
	if len(calls) != 2 || calls[0] != "info" {
		t.Fatalf("calls = %q, want info then run", calls)
	}
	name := backend.(*container).name
	if !strings.HasPrefix(name, "gk-box-1-") {
		t.Errorf("container name = %q, want gk-box-1-<suffix>", name)
	}
	want := "run --rm --name " + name + " --memory 512m --cpus 1.5 -v " + project + ":/workspace -w /workspace agent:latest echo built; echo note >&2"
	if calls[1] != want {
		t.Errorf("run call = %q\nwant       %q", calls[1], want)
	}
}

func TestContainerRuntimeUnavailable(t *testing.T) {
	t.Parallel()

	backend, _ := New(Task{ID: "nodocker", Kind: KindContainer, Prompt: "x"}, Config{
		Container: ContainerConfig{Runtime: "/nonexistent/podman", Image: "img"},
	})
	result := backend.Start(t.Context())
	if result.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if !strings.HasPrefix(result.Error, "container runtime /nonexistent/podman is not available") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestContainerRequiresImage(t *testing.T) {
	t.Parallel()
	runtime, _ := fakeRuntime(t)

	backend, _ := New(Task{ID: "noimage", Kind: KindContainer, Prompt: "x"}, Config{
		Container: ContainerConfig{Runtime: runtime},
	})
	result := backend.Start(t.Context())
	if result.Status != StatusFailed || result.Error != "no container image configured" {
		t.Errorf("result = %+v", result)
	}
}

func TestContainerFailureCarriesStderr(t *testing.T) {
	t.Parallel()
	runtime, _ := fakeRuntime(t)

	backend, _ := New(Task{ID: "oops", Kind: KindContainer, Prompt: `echo "image pull failed" >&2; exit 125`}, Config{
		Container: ContainerConfig{Runtime: runtime, Image: "img", Command: []string{}},
	})
	result := backend.Start(t.Context())
	if result.Status != StatusFailed || result.ExitCode == nil || *result.ExitCode != 125 {
		t.Fatalf("result = %+v, want failed with exit 125", result)
	}
	if result.Error != "image pull failed\n" {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestContainerTimeoutStopsAndRemoves(t *testing.T) {
	t.Parallel()
	runtime, state := fakeRuntime(t)
	fake := clock.Fake(testEpoch)

	backend, _ := New(Task{ID: "long", Kind: KindContainer, Prompt: `echo ready; exec sleep 30`, Timeout: 10 * time.Second}, Config{
		Clock:     fake,
		Container: ContainerConfig{Runtime: runtime, Image: "img", Command: []string{}, GracePeriod: 3 * time.Second},
	})
	results := startAsync(backend)
	waitForOutput(t, backend, "ready")
	fake.WaitForTimers(1)
	fake.Advance(10 * time.Second)

	result := awaitResult(t, results)
	if result.Status != StatusTimeout {
		t.Fatalf("result = %+v, want timeout", result)
	}

	name := backend.(*container).name
	calls := readCalls(t, state)
	var stop, remove bool
	for _, call := range calls {
		stop = stop || call == "stop -t 3 "+name
		remove = remove || call == "rm -f "+name
	}
	if !stop || !remove {
		t.Errorf("calls = %q, want stop -t 3 and rm -f for %s", calls, name)
	}
}

func TestContainerNamesDoNotCollide(t *testing.T) {
	t.Parallel()

	names := map[string]string{}
	for _, id := range []string{"a.b", "a:b", "a_b", "a.b"} {
		name := containerName(id)
		if previous, ok := names[name]; ok {
			t.Errorf("containerName(%q) = %q, same as for %q", id, name, previous)
		}
		names[name] = id
		if !strings.HasPrefix(name, "gk-a_b-") {
			t.Errorf("containerName(%q) = %q, want gk-a_b-<suffix>", id, name)
		}
	}
	if long := containerName(strings.Repeat("y", 200)); len(long) > 3+40+1+8 {
		t.Errorf("containerName not truncated: %d characters", len(long))
	}
}
