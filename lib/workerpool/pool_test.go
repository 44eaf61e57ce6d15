// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/ringbuffer"
	"github.com/bureau-foundation/gatekeeper/lib/testutil"
	"github.com/bureau-foundation/gatekeeper/lib/worker"
)

// fakeBackend blocks in Start until the test sends it a result or it
// is terminated.
type fakeBackend struct {
	task     worker.Task
	started  chan string
	release  chan worker.Result
	panicMsg string

	mutex      sync.Mutex
	status     worker.Status
	output     *ringbuffer.Buffer
	terminated chan struct{}
	once       sync.Once
}

func (b *fakeBackend) ID() string        { return b.task.ID }
func (b *fakeBackend) Kind() worker.Kind { return b.task.Kind }

func (b *fakeBackend) Status() worker.Status {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.status
}

func (b *fakeBackend) Output() string                  { return b.output.String() }
func (b *fakeBackend) OutputPreview(length int) string { return b.output.Preview(length) }
func (b *fakeBackend) write(text string)               { b.output.WriteString(text) }

func (b *fakeBackend) setStatus(status worker.Status) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.status = status
}

func (b *fakeBackend) ReadOutput(offset uint64, limit int) (string, uint64, uint64) {
	data, start := b.output.ReadRange(offset, limit)
	return string(data), start, b.output.TotalWritten()
}

func (b *fakeBackend) Terminate() bool {
	if b.Status() != worker.StatusRunning {
		return false
	}
	b.once.Do(func() { close(b.terminated) })
	return true
}

func (b *fakeBackend) Start(ctx context.Context) worker.Result {
	b.setStatus(worker.StatusRunning)
	b.started <- b.task.ID
	if b.panicMsg != "" {
		panic(b.panicMsg)
	}
	var result worker.Result
	select {
	case result = <-b.release:
	case <-b.terminated:
		result = worker.Result{Status: worker.StatusFailed, Error: "terminated"}
	case <-ctx.Done():
		result = worker.Result{Status: worker.StatusFailed, Error: "cancelled"}
	}
	result.WorkerID = b.task.ID
	result.Output = b.Output()
	b.setStatus(result.Status)
	return result
}

// harness owns the fakes a Manager creates.
type harness struct {
	t       *testing.T
	started chan string

	mutex    sync.Mutex
	backends map[string]*fakeBackend
	events   []worker.Event
	failFor  map[string]bool
	panicFor map[string]string
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:        t,
		started:  make(chan string, 16),
		backends: make(map[string]*fakeBackend),
		failFor:  make(map[string]bool),
		panicFor: make(map[string]string),
	}
}

func (h *harness) factory(task worker.Task) (worker.Backend, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.failFor[task.ID] {
		return nil, errors.New("no such runtime")
	}
	backend := &fakeBackend{
		task:       task,
		started:    h.started,
		release:    make(chan worker.Result, 1),
		panicMsg:   h.panicFor[task.ID],
		status:     worker.StatusPending,
		output:     ringbuffer.New(64),
		terminated: make(chan struct{}),
	}
	h.backends[task.ID] = backend
	return backend, nil
}

func (h *harness) onEvent(event worker.Event) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.events = append(h.events, event)
}

func (h *harness) eventsOf(kind worker.EventKind) []worker.Event {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	var matched []worker.Event
	for _, event := range h.events {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

func (h *harness) backend(id string) *fakeBackend {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	backend, ok := h.backends[id]
	if !ok {
		h.t.Fatalf("no backend created for %q", id)
	}
	return backend
}

func (h *harness) manager(maxConcurrent, maxQueueSize int) *Manager {
	return New(Config{
		MaxConcurrent: maxConcurrent,
		MaxQueueSize:  maxQueueSize,
		Factory:       h.factory,
		OnEvent:       h.onEvent,
	})
}

func (h *harness) awaitStart() string {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.started, 5*time.Second, "backend start")
}

func (h *harness) complete(id string) {
	h.backend(id).release <- worker.Result{Status: worker.StatusCompleted}
}

func submit(manager *Manager, ctx context.Context, id string) <-chan worker.Result {
	results := make(chan worker.Result, 1)
	go func() {
		results <- manager.Execute(ctx, worker.Task{ID: id, Kind: worker.KindSubprocess, Prompt: "p"})
	}()
	return results
}

func awaitResult(t *testing.T, results <-chan worker.Result) worker.Result {
	t.Helper()
	return testutil.RequireReceive(t, results, 5*time.Second, "execute result")
}

func waitForQueue(t *testing.T, manager *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for manager.QueueLength() != want {
		if time.Now().After(deadline) {
			t.Fatalf("QueueLength = %d, never reached %d", manager.QueueLength(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAdmissionOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := h.manager(2, 5)
	ctx := context.Background()

	results := map[string]<-chan worker.Result{}
	for _, id := range []string{"a", "b"} {
		results[id] = submit(manager, ctx, id)
		h.awaitStart()
	}
	for index, id := range []string{"c", "d", "e"} {
		results[id] = submit(manager, ctx, id)
		waitForQueue(t, manager, index+1)
	}

	if manager.ActiveCount() != 2 || manager.QueueLength() != 3 {
		t.Fatalf("active/queued = %d/%d, want 2/3", manager.ActiveCount(), manager.QueueLength())
	}

	queued := h.eventsOf(worker.EventQueued)
	if len(queued) != 3 || queued[0].Data != "position 1" || queued[2].Data != "position 3" {
		t.Errorf("queued events = %+v", queued)
	}

	for _, finishing := range []string{"a", "b", "c", "d", "e"} {
		h.complete(finishing)
		if result := awaitResult(t, results[finishing]); result.Status != worker.StatusCompleted {
			t.Errorf("%s: status = %q, want completed", finishing, result.Status)
		}
		if finishing == "a" || finishing == "b" || finishing == "c" {
			next := string(rune(finishing[0] + 2))
			if got := h.awaitStart(); got != next {
				t.Errorf("after %s finished, started %q, want %q", finishing, got, next)
			}
		}
		if manager.ActiveCount() > 2 {
			t.Errorf("ActiveCount = %d, exceeds limit", manager.ActiveCount())
		}
	}

	stats := manager.Stats()
	if stats.Completed != 5 || stats.Active != 0 || stats.Queued != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if done := h.eventsOf(worker.EventDone); len(done) != 5 {
		t.Errorf("done events = %d, want 5", len(done))
	}
}

func TestZeroCapacityRejectsImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := h.manager(0, 0)

	result := manager.Execute(context.Background(), worker.Task{ID: "lonely"})
	if result.Status != worker.StatusFailed || result.DurationMs != 0 {
		t.Errorf("result = %+v, want failed with zero duration", result)
	}
	if result.WorkerID != "lonely" {
		t.Errorf("WorkerID = %q", result.WorkerID)
	}
	if !strings.Contains(result.Error, "queue is full") {
		t.Errorf("Error = %q, want queue is full", result.Error)
	}
	if len(h.backends) != 0 {
		t.Error("factory was called for a rejected task")
	}
	if manager.Stats().Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", manager.Stats().Rejected)
	}
}

func TestRejectionReportsCounts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := h.manager(1, 1)
	ctx := context.Background()

	first := submit(manager, ctx, "first")
	h.awaitStart()
	second := submit(manager, ctx, "second")
	waitForQueue(t, manager, 1)

	result := manager.Execute(ctx, worker.Task{ID: "third"})
	if result.Error != "worker queue is full (1/1 active, 1/1 queued)" {
		t.Errorf("Error = %q", result.Error)
	}

	h.complete("first")
	awaitResult(t, first)
	h.awaitStart()
	h.complete("second")
	awaitResult(t, second)
}

func TestFailureDoesNotStallQueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := h.manager(1, 3)
	ctx := context.Background()

	head := submit(manager, ctx, "head")
	h.awaitStart()
	var queued []<-chan worker.Result
	for index, id := range []string{"q1", "q2", "q3"} {
		queued = append(queued, submit(manager, ctx, id))
		waitForQueue(t, manager, index+1)
	}

	h.backend("head").release <- worker.Result{Status: worker.StatusFailed, Error: "exit code 1"}
	if result := awaitResult(t, head); result.Status != worker.StatusFailed {
		t.Errorf("head status = %q, want failed", result.Status)
	}

	for index, id := range []string{"q1", "q2", "q3"} {
		if got := h.awaitStart(); got != id {
			t.Fatalf("started %q, want %q", got, id)
		}
		h.complete(id)
		if result := awaitResult(t, queued[index]); result.Status != worker.StatusCompleted {
			t.Errorf("%s status = %q", id, result.Status)
		}
	}
	if stats := manager.Stats(); stats.Failed != 1 || stats.Completed != 3 {
		t.Errorf("stats = %+v, want 1 failed 3 completed", stats)
	}
}

func TestFactoryErrorConsumesNoSlot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.failFor["broken"] = true
	h.failFor["broken-queued"] = true
	manager := h.manager(1, 2)
	ctx := context.Background()

	result := manager.Execute(ctx, worker.Task{ID: "broken"})
	if result.Status != worker.StatusFailed || !strings.Contains(result.Error, "no such runtime") {
		t.Errorf("result = %+v", result)
	}
	if manager.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d after factory error", manager.ActiveCount())
	}

	running := submit(manager, ctx, "running")
	h.awaitStart()
	brokenQueued := submit(manager, ctx, "broken-queued")
	waitForQueue(t, manager, 1)
	healthy := submit(manager, ctx, "healthy")
	waitForQueue(t, manager, 2)

	h.complete("running")
	awaitResult(t, running)

	if result := awaitResult(t, brokenQueued); !strings.Contains(result.Error, "creating worker") {
		t.Errorf("queued factory failure = %+v", result)
	}
	if got := h.awaitStart(); got != "healthy" {
		t.Errorf("started %q, want healthy", got)
	}
	h.complete("healthy")
	awaitResult(t, healthy)
}

func TestFactoryPanicReleasesPool(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := New(Config{
		MaxConcurrent: 1,
		Factory: func(task worker.Task) (worker.Backend, error) {
			if task.ID == "explosive" {
				panic("boom")
			}
			return h.factory(task)
		},
	})

	result := manager.Execute(context.Background(), worker.Task{ID: "explosive"})
	if result.Status != worker.StatusFailed || !strings.Contains(result.Error, "factory panicked: boom") {
		t.Errorf("result = %+v", result)
	}
	if manager.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d after factory panic", manager.ActiveCount())
	}

	healthy := submit(manager, context.Background(), "healthy")
	if got := h.awaitStart(); got != "healthy" {
		t.Errorf("started %q, want healthy", got)
	}
	h.complete("healthy")
	if result := awaitResult(t, healthy); result.Status != worker.StatusCompleted {
		t.Errorf("healthy = %+v", result)
	}
}

func TestBackendPanicBecomesFailedResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.panicFor["fragile"] = "index out of range"
	manager := h.manager(1, 1)

	result := manager.Execute(context.Background(), worker.Task{ID: "fragile"})
	if result.Status != worker.StatusFailed || result.Error != "worker panicked: index out of range" {
		t.Errorf("result = %+v", result)
	}
	if manager.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after panic", manager.ActiveCount())
	}
	if stored, ok := manager.Result("fragile"); !ok || stored.Status != worker.StatusFailed {
		t.Errorf("Result(fragile) = %+v, %v", stored, ok)
	}
}

func TestCancelWhileQueued(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := h.manager(1, 1)

	running := submit(manager, context.Background(), "running")
	h.awaitStart()

	ctx, cancel := context.WithCancel(context.Background())
	waiting := submit(manager, ctx, "waiting")
	waitForQueue(t, manager, 1)
	cancel()

	result := awaitResult(t, waiting)
	if result.Error != "cancelled while queued" || result.Status != worker.StatusFailed {
		t.Errorf("result = %+v", result)
	}
	if manager.QueueLength() != 0 {
		t.Errorf("QueueLength = %d, want 0", manager.QueueLength())
	}

	h.complete("running")
	awaitResult(t, running)
}

func TestTerminate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := h.manager(1, 1)
	ctx := context.Background()

	running := submit(manager, ctx, "running")
	h.awaitStart()
	waiting := submit(manager, ctx, "waiting")
	waitForQueue(t, manager, 1)

	if manager.Terminate("nobody") {
		t.Error("Terminate(unknown) = true")
	}
	if !manager.Terminate("waiting") {
		t.Error("Terminate(queued) = false")
	}
	if result := awaitResult(t, waiting); result.Error != "terminated while queued" {
		t.Errorf("queued result = %+v", result)
	}

	if !manager.Terminate("running") {
		t.Error("Terminate(active) = false")
	}
	if result := awaitResult(t, running); result.Error != "terminated" {
		t.Errorf("active result = %+v", result)
	}
	if manager.Terminate("running") {
		t.Error("Terminate on a finished task = true")
	}
}

func TestCloseTerminatesAndRejects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := h.manager(2, 2)
	ctx := context.Background()

	var results []<-chan worker.Result
	for _, id := range []string{"a", "b"} {
		results = append(results, submit(manager, ctx, id))
		h.awaitStart()
	}
	results = append(results, submit(manager, ctx, "c"))
	waitForQueue(t, manager, 1)

	manager.Close()
	for _, channel := range results {
		if result := awaitResult(t, channel); result.Status != worker.StatusFailed {
			t.Errorf("result after Close = %+v", result)
		}
	}

	result := manager.Execute(ctx, worker.Task{ID: "late"})
	if result.Error != "worker pool is closed" {
		t.Errorf("Execute after Close = %+v", result)
	}
}

func TestOutputAfterCompletion(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := h.manager(1, 0)

	results := submit(manager, context.Background(), "chatty")
	h.awaitStart()
	backend := h.backend("chatty")
	backend.write(strings.Repeat("x", 60) + "0123456789")

	output, ok := manager.Output("chatty")
	if !ok || len(output) != 64 {
		t.Errorf("Output while running = %d bytes, %v; want 64", len(output), ok)
	}
	infos := manager.List(4)
	if len(infos) != 1 || infos[0].ID != "chatty" || infos[0].Status != worker.StatusRunning {
		t.Errorf("List = %+v", infos)
	}

	h.complete("chatty")
	awaitResult(t, results)

	chunk, ok := manager.ReadOutput("chatty", 0, 4)
	if !ok {
		t.Fatal("ReadOutput after completion not found")
	}
	if chunk.Offset != 6 || chunk.Total != 70 || chunk.Data != "xxxx" {
		t.Errorf("chunk = %+v, want offset 6 total 70 data xxxx", chunk)
	}
	tail, _ := manager.ReadOutput("chatty", 66, 0)
	if tail.Data != "6789" || tail.Status != worker.StatusCompleted {
		t.Errorf("tail = %+v", tail)
	}
	past, _ := manager.ReadOutput("chatty", 500, 0)
	if past.Data != "" || past.Offset != 70 {
		t.Errorf("read past end = %+v", past)
	}
	if _, ok := manager.ReadOutput("ghost", 0, 0); ok {
		t.Error("ReadOutput(unknown) found")
	}
	if len(manager.List(4)) != 0 {
		t.Error("finished task still listed")
	}
}

func TestFinishedOutputWindowKeepsRunes(t *testing.T) {
	t.Parallel()
	done := finished{result: worker.Result{Output: "ab世", Status: worker.StatusCompleted}, total: 5}

	chunk := sliceFinished(done, 0, 3)
	if chunk.Data != "ab" || chunk.Offset != 0 || chunk.Total != 5 {
		t.Fatalf("first window = %+v, want ab at 0", chunk)
	}
	chunk = sliceFinished(done, chunk.Offset+uint64(len(chunk.Data)), 3)
	if chunk.Data != "世" || chunk.Offset != 2 {
		t.Errorf("second window = %+v, want 世 at 2", chunk)
	}
}

func TestRecentResultsAreBounded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	manager := New(Config{MaxConcurrent: 1, Factory: h.factory, RecentLimit: 2})

	for _, id := range []string{"one", "two", "three"} {
		results := submit(manager, context.Background(), id)
		h.awaitStart()
		h.complete(id)
		awaitResult(t, results)
	}
	if _, ok := manager.Result("one"); ok {
		t.Error("oldest result still retained past RecentLimit")
	}
	for _, id := range []string{"two", "three"} {
		if _, ok := manager.Result(id); !ok {
			t.Errorf("Result(%s) missing", id)
		}
	}
}

func TestDefaultFactoryRunsSubprocess(t *testing.T) {
	t.Parallel()
	var events []worker.EventKind
	var mutex sync.Mutex
	manager := New(Config{
		MaxConcurrent: 1,
		Worker: worker.Config{
			Subprocess: worker.SubprocessConfig{Path: "/bin/sh", Args: []string{"-c"}},
		},
		OnEvent: func(event worker.Event) {
			mutex.Lock()
			defer mutex.Unlock()
			events = append(events, event.Kind)
		},
	})

	result := manager.Execute(context.Background(), worker.Task{
		ID:      "echo",
		Kind:    worker.KindSubprocess,
		Prompt:  "echo pooled",
		Timeout: 30 * time.Second,
	})
	if result.Status != worker.StatusCompleted || !strings.Contains(result.Output, "pooled") {
		t.Fatalf("result = %+v", result)
	}

	mutex.Lock()
	defer mutex.Unlock()
	if len(events) < 3 || events[0] != worker.EventStarted || events[len(events)-1] != worker.EventDone {
		t.Errorf("events = %v, want started ... done", events)
	}
	sawOutput := false
	for _, kind := range events {
		if kind == worker.EventOutput {
			sawOutput = true
		}
	}
	if !sawOutput {
		t.Errorf("events = %v, want an output event from the backend", events)
	}
}
