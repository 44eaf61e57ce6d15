// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commandqueue buffers raw user commands while the session
// they target is busy. The queue is a bounded, strict-FIFO list: a
// full queue refuses new entries with [ErrQueueFull] rather than
// blocking or dropping.
package commandqueue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 50

// ErrQueueFull is returned (wrapped) by Enqueue at capacity.
var ErrQueueFull = errors.New("command queue is full")

// Command is one queued entry. It is created by Enqueue and never
// mutated afterwards.
type Command struct {
	Text        string    `json:"text"`
	SenderID    string    `json:"senderId"`
	Channel     string    `json:"channel"`
	ProjectPath string    `json:"projectPath,omitempty"`
	TaskID      string    `json:"taskId"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Queue is safe for concurrent use.
type Queue struct {
	capacity int
	clock    clock.Clock

	mutex   sync.Mutex
	entries []Command
}

// New returns an empty queue. A nil clock selects clock.Real().
func New(capacity int, clk clock.Clock) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Queue{capacity: capacity, clock: clk}
}

// Enqueue appends command under taskID and stamps EnqueuedAt. Any
// TaskID or EnqueuedAt already set on command is overwritten.
func (q *Queue) Enqueue(command Command, taskID string) (Command, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.entries) >= q.capacity {
		return Command{}, fmt.Errorf("%w (%d entries)", ErrQueueFull, q.capacity)
	}
	command.TaskID = taskID
	command.EnqueuedAt = q.clock.Now()
	q.entries = append(q.entries, command)
	return command, nil
}

// Dequeue removes and returns the oldest entry.
func (q *Queue) Dequeue() (Command, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.entries) == 0 {
		return Command{}, false
	}
	head := q.entries[0]
	q.entries[0] = Command{}
	q.entries = q.entries[1:]
	return head, true
}

// Peek returns the oldest entry without removing it.
func (q *Queue) Peek() (Command, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.entries) == 0 {
		return Command{}, false
	}
	return q.entries[0], true
}

// Remove withdraws the entry with taskID, wherever it sits. Used when
// a waiter gives up before its turn.
func (q *Queue) Remove(taskID string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for index, entry := range q.entries {
		if entry.TaskID == taskID {
			q.entries = append(q.entries[:index:index], q.entries[index+1:]...)
			return true
		}
	}
	return false
}

// All returns a snapshot of the queue, oldest first. The caller owns
// the returned slice.
func (q *Queue) All() []Command {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]Command(nil), q.entries...)
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.entries)
}

// Capacity returns the maximum number of entries.
func (q *Queue) Capacity() int {
	return q.capacity
}

// OldestAge reports how long the head entry has been waiting, or zero
// for an empty queue.
func (q *Queue) OldestAge() time.Duration {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.entries) == 0 {
		return 0
	}
	return q.clock.Now().Sub(q.entries[0].EnqueuedAt)
}

// Clear drops every entry.
func (q *Queue) Clear() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.entries = nil
}
