// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. It is safe for concurrent
// use. AfterFunc callbacks run synchronously inside Advance, so a
// callback must not call Advance itself.
type FakeClock struct {
	mutex   sync.Mutex
	now     time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

// pendingTimer is one registered After, AfterFunc, or ticker.
type pendingTimer struct {
	deadline time.Time
	channel  chan time.Time // After and tickers
	callback func()         // AfterFunc
	period   time.Duration  // tickers only
	stopped  bool
}

// Fake returns a FakeClock reading initial until advanced.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mutex)
	return fake
}

// Now returns the fake time.
func (fake *FakeClock) Now() time.Time {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return fake.now
}

// After registers a one-shot channel timer.
func (fake *FakeClock) After(d time.Duration) <-chan time.Time {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- fake.now
		return channel
	}
	fake.registerLocked(&pendingTimer{deadline: fake.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run when the clock passes now+d. A
// non-positive d runs f before AfterFunc returns.
func (fake *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	fake.mutex.Lock()
	timer := &pendingTimer{deadline: fake.now.Add(d), callback: f}
	fake.registerLocked(timer)
	fake.mutex.Unlock()

	return &Timer{stop: func() bool { return fake.cancel(timer) }}
}

// NewTicker registers a periodic channel timer.
func (fake *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	channel := make(chan time.Time, 1)
	timer := &pendingTimer{deadline: fake.now.Add(d), channel: channel, period: d}
	fake.registerLocked(timer)

	return &Ticker{C: channel, stop: func() { fake.cancel(timer) }}
}

// Advance moves the clock forward by d and fires, in deadline order,
// everything that came due. A ticker spanning several periods fires
// once per period; ticks that do not fit its channel are dropped.
func (fake *FakeClock) Advance(d time.Duration) {
	fake.mutex.Lock()
	fake.now = fake.now.Add(d)
	target := fake.now
	fake.mutex.Unlock()

	for {
		due := fake.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, timer := range due {
			if timer.callback != nil {
				timer.callback()
				continue
			}
			select {
			case timer.channel <- target:
			default:
			}
		}
	}
}

// WaitForTimers blocks until at least count timers are pending.
func (fake *FakeClock) WaitForTimers(count int) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	for len(fake.pending) < count {
		fake.changed.Wait()
	}
}

// PendingCount returns the number of registered, unfired timers.
func (fake *FakeClock) PendingCount() int {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return len(fake.pending)
}

func (fake *FakeClock) registerLocked(timer *pendingTimer) {
	fake.pending = append(fake.pending, timer)
	fake.changed.Broadcast()
}

// cancel removes timer from the pending list. Returns false if it had
// already fired or been cancelled.
func (fake *FakeClock) cancel(timer *pendingTimer) bool {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	if timer.stopped {
		return false
	}
	for index, candidate := range fake.pending {
		if candidate == timer {
			fake.pending = append(fake.pending[:index], fake.pending[index+1:]...)
			timer.stopped = true
			fake.changed.Broadcast()
			return true
		}
	}
	return false
}

// takeDue removes the timers whose deadline is at or before target,
// reschedules tickers, and returns the due set sorted by deadline.
func (fake *FakeClock) takeDue(target time.Time) []*pendingTimer {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	var due, remaining []*pendingTimer
	for _, timer := range fake.pending {
		if timer.deadline.After(target) {
			remaining = append(remaining, timer)
			continue
		}
		due = append(due, timer)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, timer := range due {
		if timer.period > 0 {
			timer.deadline = timer.deadline.Add(timer.period)
			remaining = append(remaining, timer)
		} else {
			timer.stopped = true
		}
	}
	fake.pending = remaining
	if len(due) > 0 {
		fake.changed.Broadcast()
	}
	return due
}
