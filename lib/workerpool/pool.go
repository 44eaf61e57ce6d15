// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workerpool is the admission controller in front of the
// worker backends. Execute runs a task immediately while fewer than
// MaxConcurrent are active, parks it in a FIFO queue while fewer than
// MaxQueueSize wait, and otherwise rejects it with a failed result.
// When a task finishes, its slot passes to the oldest waiter in the
// same critical section that removes it from the active set, so the
// active count never disagrees with the active set.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/ringbuffer"
	"github.com/bureau-foundation/gatekeeper/lib/worker"
)

// DefaultRecentLimit is how many finished results Output and Result
// can still answer for.
const DefaultRecentLimit = 100

// Config controls a Manager. MaxConcurrent and MaxQueueSize are taken
// literally: zero means no slots (every task queues or is rejected).
type Config struct {
	MaxConcurrent int
	MaxQueueSize  int

	// Factory builds the backend for a task. Nil selects worker.New
	// with Worker.
	Factory func(worker.Task) (worker.Backend, error)

	// Worker configures backends when Factory is nil. Its OnEvent
	// defaults to the pool's.
	Worker worker.Config

	// OnEvent receives started, queued, and done events (plus backend
	// output events when Factory is nil).
	OnEvent worker.EventHandler

	RecentLimit int
	Logger      *slog.Logger
	Clock       clock.Clock
}

// Info describes one active or queued task.
type Info struct {
	ID        string        `json:"id"`
	Kind      worker.Kind   `json:"type"`
	Status    worker.Status `json:"status"`
	Preview   string        `json:"preview"`
	StartedAt time.Time     `json:"startedAt,omitzero"`
	Queued    bool          `json:"queued,omitempty"`
}

// Chunk is a window of a task's output.
type Chunk struct {
	Data   string        `json:"output"`
	Offset uint64        `json:"offset"`
	Total  uint64        `json:"total"`
	Status worker.Status `json:"status"`
}

// Stats is a snapshot of the pool's counters.
type Stats struct {
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	MaxConcurrent int `json:"maxConcurrent"`
	MaxQueueSize  int `json:"maxQueueSize"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	TimedOut      int `json:"timedOut"`
	Rejected      int `json:"rejected"`
}

type entry struct {
	task      worker.Task
	backend   worker.Backend
	startedAt time.Time
}

// waiter is a queued Execute call. The goroutine that admits or
// withdraws it sets entry or err and then closes admitted.
type waiter struct {
	task     worker.Task
	admitted chan struct{}
	entry    *entry
	err      error
}

type finished struct {
	result worker.Result
	kind   worker.Kind
	total  uint64
}

// Manager is safe for concurrent use.
type Manager struct {
	maxConcurrent int
	maxQueueSize  int
	recentLimit   int
	factory       func(worker.Task) (worker.Backend, error)
	onEvent       worker.EventHandler
	logger        *slog.Logger
	clock         clock.Clock

	mutex       sync.Mutex
	active      map[string]*entry
	queue       []*waiter
	recent      map[string]finished
	recentOrder []string
	closed      bool
	stats       Stats
}

// New returns an empty Manager.
func New(config Config) *Manager {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.RecentLimit <= 0 {
		config.RecentLimit = DefaultRecentLimit
	}
	if config.Factory == nil {
		workerConfig := config.Worker
		if workerConfig.OnEvent == nil {
			workerConfig.OnEvent = config.OnEvent
		}
		if workerConfig.Logger == nil {
			workerConfig.Logger = config.Logger
		}
		if workerConfig.Clock == nil {
			workerConfig.Clock = config.Clock
		}
		config.Factory = func(task worker.Task) (worker.Backend, error) {
			return worker.New(task, workerConfig)
		}
	}
	return &Manager{
		maxConcurrent: max(config.MaxConcurrent, 0),
		maxQueueSize:  max(config.MaxQueueSize, 0),
		recentLimit:   config.RecentLimit,
		factory:       config.Factory,
		onEvent:       config.OnEvent,
		logger:        config.Logger,
		clock:         config.Clock,
		active:        make(map[string]*entry),
		recent:        make(map[string]finished),
	}
}

// Execute admits, queues, or rejects task and returns its Result. It
// never panics and never returns an error: rejection, factory failure,
// and backend panics all come back as failed results.
func (m *Manager) Execute(ctx context.Context, task worker.Task) worker.Result {
	m.mutex.Lock()
	if m.closed {
		m.stats.Rejected++
		m.mutex.Unlock()
		return worker.Failed(task.ID, "worker pool is closed")
	}

	if len(m.active) < m.maxConcurrent {
		admitted, err := m.admitLocked(task)
		m.mutex.Unlock()
		if err != nil {
			return worker.Failed(task.ID, err.Error())
		}
		return m.run(ctx, admitted)
	}

	if len(m.queue) < m.maxQueueSize {
		pending := &waiter{task: task, admitted: make(chan struct{})}
		m.queue = append(m.queue, pending)
		position := len(m.queue)
		m.mutex.Unlock()

		m.logger.Info("task queued", "worker_id", task.ID, "position", position)
		m.emit(worker.Event{Kind: worker.EventQueued, WorkerID: task.ID, Data: fmt.Sprintf("position %d", position)})
		return m.await(ctx, pending)
	}

	m.stats.Rejected++
	active, queued := len(m.active), len(m.queue)
	m.mutex.Unlock()

	m.logger.Warn("task rejected, worker queue full",
		"worker_id", task.ID,
		"active", active,
		"queued", queued,
	)
	return worker.Failed(task.ID, fmt.Sprintf(
		"worker queue is full (%d/%d active, %d/%d queued)",
		active, m.maxConcurrent, queued, m.maxQueueSize))
}

func (m *Manager) await(ctx context.Context, pending *waiter) worker.Result {
	select {
	case <-pending.admitted:
	case <-ctx.Done():
		m.mutex.Lock()
		withdrawn := m.removeWaiterLocked(pending)
		m.mutex.Unlock()
		if withdrawn {
			return worker.Failed(pending.task.ID, "cancelled while queued")
		}
		// Admitted concurrently with the cancellation.
		<-pending.admitted
	}
	if pending.err != nil {
		return worker.Failed(pending.task.ID, pending.err.Error())
	}
	return m.run(ctx, pending.entry)
}

// admitLocked builds the backend and registers it as active. A
// factory error or panic leaves the pool unchanged.
func (m *Manager) admitLocked(task worker.Task) (*entry, error) {
	if _, exists := m.active[task.ID]; exists {
		return nil, fmt.Errorf("worker %s is already running", task.ID)
	}
	backend, err := m.build(task)
	if err != nil {
		return nil, fmt.Errorf("creating worker: %w", err)
	}
	admitted := &entry{task: task, backend: backend, startedAt: m.clock.Now()}
	m.active[task.ID] = admitted
	return admitted, nil
}

func (m *Manager) build(task worker.Task) (backend worker.Backend, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error("worker factory panicked", "worker_id", task.ID, "panic", recovered)
			backend, err = nil, fmt.Errorf("factory panicked: %v", recovered)
		}
	}()
	return m.factory(task)
}

func (m *Manager) run(ctx context.Context, admitted *entry) (result worker.Result) {
	m.emit(worker.Event{Kind: worker.EventStarted, WorkerID: admitted.task.ID, Data: string(admitted.task.Kind)})

	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error("worker backend panicked", "worker_id", admitted.task.ID, "panic", recovered)
			result = worker.Failed(admitted.task.ID, fmt.Sprintf("worker panicked: %v", recovered))
		}
		m.complete(admitted, result)
		m.emit(worker.Event{Kind: worker.EventDone, WorkerID: admitted.task.ID, Result: &result})
	}()
	return admitted.backend.Start(ctx)
}

// complete removes a finished task and hands freed slots to waiters in
// arrival order, all under one lock acquisition.
func (m *Manager) complete(done *entry, result worker.Result) {
	_, _, total := done.backend.ReadOutput(^uint64(0), 0)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.active, done.task.ID)
	m.recordLocked(done.task, result, total)

	for len(m.active) < m.maxConcurrent && len(m.queue) > 0 {
		next := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		next.entry, next.err = m.admitLocked(next.task)
		close(next.admitted)
	}
}

func (m *Manager) recordLocked(task worker.Task, result worker.Result, total uint64) {
	switch result.Status {
	case worker.StatusCompleted:
		m.stats.Completed++
	case worker.StatusTimeout:
		m.stats.TimedOut++
	default:
		m.stats.Failed++
	}

	if _, exists := m.recent[task.ID]; !exists {
		m.recentOrder = append(m.recentOrder, task.ID)
	}
	m.recent[task.ID] = finished{result: result, kind: task.Kind, total: total}
	for len(m.recentOrder) > m.recentLimit {
		delete(m.recent, m.recentOrder[0])
		m.recentOrder = m.recentOrder[1:]
	}
}

func (m *Manager) removeWaiterLocked(target *waiter) bool {
	for index, candidate := range m.queue {
		if candidate == target {
			m.queue = append(m.queue[:index], m.queue[index+1:]...)
			return true
		}
	}
	return false
}

func (m *Manager) emit(event worker.Event) {
	if m.onEvent == nil {
		return
	}
	event.Time = m.clock.Now()
	m.onEvent(event)
}

// ActiveCount returns the number of running tasks.
func (m *Manager) ActiveCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.active)
}

// QueueLength returns the number of waiting tasks.
func (m *Manager) QueueLength() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.queue)
}

// List describes active tasks (oldest first) followed by queued ones
// (in queue order). Previews hold at most previewLength characters.
func (m *Manager) List(previewLength int) []Info {
	m.mutex.Lock()
	entries := make([]*entry, 0, len(m.active))
	for _, active := range m.active {
		entries = append(entries, active)
	}
	queued := make([]worker.Task, 0, len(m.queue))
	for _, pending := range m.queue {
		queued = append(queued, pending.task)
	}
	m.mutex.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].startedAt.Equal(entries[j].startedAt) {
			return entries[i].task.ID < entries[j].task.ID
		}
		return entries[i].startedAt.Before(entries[j].startedAt)
	})

	infos := make([]Info, 0, len(entries)+len(queued))
	for _, active := range entries {
		infos = append(infos, Info{
			ID:        active.task.ID,
			Kind:      active.task.Kind,
			Status:    active.backend.Status(),
			Preview:   active.backend.OutputPreview(previewLength),
			StartedAt: active.startedAt,
		})
	}
	for _, task := range queued {
		infos = append(infos, Info{ID: task.ID, Kind: task.Kind, Status: worker.StatusPending, Queued: true})
	}
	return infos
}

// Output returns a task's full captured output, from the active set
// or the recent results.
func (m *Manager) Output(id string) (string, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if active, ok := m.active[id]; ok {
		return active.backend.Output(), true
	}
	if done, ok := m.recent[id]; ok {
		return done.result.Output, true
	}
	return "", false
}

// ReadOutput returns up to limit bytes of a task's output starting at
// absolute offset. A non-positive limit reads to the end.
func (m *Manager) ReadOutput(id string, offset uint64, limit int) (Chunk, bool) {
	m.mutex.Lock()
	active, isActive := m.active[id]
	done, isDone := m.recent[id]
	m.mutex.Unlock()

	switch {
	case isActive:
		data, start, total := active.backend.ReadOutput(offset, limit)
		return Chunk{Data: data, Offset: start, Total: total, Status: active.backend.Status()}, true
	case isDone:
		return sliceFinished(done, offset, limit), true
	default:
		return Chunk{}, false
	}
}

// sliceFinished applies ReadOutput's window to a stored result, whose
// Output holds the last len(Output) bytes of total.
func sliceFinished(done finished, offset uint64, limit int) Chunk {
	output := done.result.Output
	oldest := done.total - uint64(len(output))
	start := max(offset, oldest)
	if start >= done.total {
		return Chunk{Offset: done.total, Total: done.total, Status: done.result.Status}
	}
	data := output[start-oldest:]
	if limit > 0 && len(data) > limit {
		data = data[:limit]
		data = data[:ringbuffer.WholeRunes([]byte(data))]
	}
	return Chunk{Data: data, Offset: start, Total: done.total, Status: done.result.Status}
}

// Result returns the terminal result of a recently finished task.
func (m *Manager) Result(id string) (worker.Result, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	done, ok := m.recent[id]
	return done.result, ok
}

// Terminate stops an active task or withdraws a queued one. It returns
// false for unknown or already finished ids.
func (m *Manager) Terminate(id string) bool {
	m.mutex.Lock()
	active, isActive := m.active[id]
	if !isActive {
		defer m.mutex.Unlock()
		for _, pending := range m.queue {
			if pending.task.ID == id {
				m.withdrawLocked(pending)
				return true
			}
		}
		return false
	}
	m.mutex.Unlock()

	m.logger.Info("terminating worker", "worker_id", id)
	return active.backend.Terminate()
}

// TerminateAll stops every active task and withdraws every queued one.
// It returns how many tasks it affected.
func (m *Manager) TerminateAll() int {
	m.mutex.Lock()
	backends := make([]worker.Backend, 0, len(m.active))
	for _, active := range m.active {
		backends = append(backends, active.backend)
	}
	withdrawn := len(m.queue)
	for len(m.queue) > 0 {
		m.withdrawLocked(m.queue[0])
	}
	m.mutex.Unlock()

	count := withdrawn
	for _, backend := range backends {
		if backend.Terminate() {
			count++
		}
	}
	if count > 0 {
		m.logger.Info("terminated all workers", "count", count)
	}
	return count
}

func (m *Manager) withdrawLocked(pending *waiter) {
	m.removeWaiterLocked(pending)
	pending.err = fmt.Errorf("terminated while queued")
	close(pending.admitted)
}

// Close rejects all future Execute calls and terminates everything in
// flight.
func (m *Manager) Close() {
	m.mutex.Lock()
	m.closed = true
	m.mutex.Unlock()
	m.TerminateAll()
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	stats := m.stats
	stats.Active = len(m.active)
	stats.Queued = len(m.queue)
	stats.MaxConcurrent = m.maxConcurrent
	stats.MaxQueueSize = m.maxQueueSize
	return stats
}
