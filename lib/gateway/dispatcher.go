// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/commandqueue"
	"github.com/bureau-foundation/gatekeeper/lib/rpc"
	"github.com/bureau-foundation/gatekeeper/lib/worker"
)

// Dispatcher serializes commands per agent session. A session runs one
// command at a time; commands that arrive while it is busy wait in that
// session's CommandQueue and run in arrival order.
type Dispatcher struct {
	capacity int
	clock    clock.Clock

	mutex sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	busy bool
	// running is the task ID holding the lane.
	running string
	queue   *commandqueue.Queue
	// turns holds one channel per queued task, closed when that task
	// may run.
	turns map[string]chan struct{}
}

// SessionQueue describes one session's pending commands.
type SessionQueue struct {
	Session   string                 `json:"session"`
	Busy      bool                   `json:"busy"`
	Commands  []commandqueue.Command `json:"commands"`
	OldestAge time.Duration          `json:"oldestAgeNs"`
}

// NewDispatcher returns a Dispatcher whose per-session queues hold at
// most capacity commands (commandqueue.DefaultCapacity when zero).
func NewDispatcher(capacity int, clk clock.Clock) *Dispatcher {
	if capacity <= 0 {
		capacity = commandqueue.DefaultCapacity
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Dispatcher{capacity: capacity, clock: clk, lanes: make(map[string]*lane)}
}

// Submit runs command on session's lane. If the lane is idle, run is
// called at once. Otherwise the command is queued (or rejected with
// AGENT_BUSY when noQueue is set, QUEUE_FULL when the queue is full)
// and run is called when its turn comes. A ctx that ends while the
// command waits withdraws it. A task ID already running or queued on
// the session is rejected with INVALID_PARAMS.
func (d *Dispatcher) Submit(ctx context.Context, session string, command commandqueue.Command, noQueue bool, run func(context.Context) worker.Result) (worker.Result, error) {
	d.mutex.Lock()
	current, ok := d.lanes[session]
	if !ok {
		current = &lane{queue: commandqueue.New(d.capacity, d.clock), turns: make(map[string]chan struct{})}
		d.lanes[session] = current
	}

	if !current.busy {
		current.busy = true
		current.running = command.TaskID
		d.mutex.Unlock()
		defer d.release(session)
		return run(ctx), nil
	}

	if _, queued := current.turns[command.TaskID]; queued || current.running == command.TaskID {
		d.mutex.Unlock()
		return worker.Result{}, rpc.Errorf(rpc.CodeInvalidParams, "task %q is already active on session %q", command.TaskID, session)
	}

	if noQueue {
		d.mutex.Unlock()
		return worker.Result{}, rpc.Errorf(rpc.CodeAgentBusy, "session %q is busy with another command", session)
	}

	if _, err := current.queue.Enqueue(command, command.TaskID); err != nil {
		d.mutex.Unlock()
		if errors.Is(err, commandqueue.ErrQueueFull) {
			return worker.Result{}, rpc.Errorf(rpc.CodeQueueFull, "session %q: %v", session, err)
		}
		return worker.Result{}, err
	}
	turn := make(chan struct{})
	current.turns[command.TaskID] = turn
	d.mutex.Unlock()

	select {
	case <-turn:
	case <-ctx.Done():
		d.mutex.Lock()
		withdrawn := current.queue.Remove(command.TaskID)
		if withdrawn {
			delete(current.turns, command.TaskID)
		}
		d.mutex.Unlock()
		if withdrawn {
			return worker.Failed(command.TaskID, "cancelled while waiting for session"), nil
		}
		// The turn was handed over concurrently.
		<-turn
	}
	defer d.release(session)
	return run(ctx), nil
}

// release passes the lane to the oldest queued command, or marks it
// idle and drops it when nothing is waiting.
func (d *Dispatcher) release(session string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	current := d.lanes[session]
	next, ok := current.queue.Dequeue()
	if !ok {
		current.busy = false
		current.running = ""
		delete(d.lanes, session)
		return
	}
	current.running = next.TaskID
	turn := current.turns[next.TaskID]
	delete(current.turns, next.TaskID)
	close(turn)
}

// Busy reports whether session is running a command.
func (d *Dispatcher) Busy(session string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	current, ok := d.lanes[session]
	return ok && current.busy
}

// Pending returns a snapshot of every session with queued commands,
// sorted by session name.
func (d *Dispatcher) Pending() []SessionQueue {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var queues []SessionQueue
	for name, current := range d.lanes {
		if current.queue.Len() == 0 {
			continue
		}
		queues = append(queues, SessionQueue{
			Session:   name,
			Busy:      current.busy,
			Commands:  current.queue.All(),
			OldestAge: current.queue.OldestAge(),
		})
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].Session < queues[j].Session })
	return queues
}

// Counts returns how many sessions are busy and how many commands wait
// across all of them.
func (d *Dispatcher) Counts() (busy, queued int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, current := range d.lanes {
		if current.busy {
			busy++
		}
		queued += current.queue.Len()
	}
	return busy, queued
}
