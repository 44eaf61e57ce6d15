// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every timer in the gateway:
// worker timeouts, kill escalation, terminal polling, and nonce
// expiry all read time through a [Clock] so tests can drive them
// deterministically.
//
// Production code uses [Real]. Tests use [Fake], which only moves
// when [FakeClock.Advance] is called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	manager := nonce.New(nonce.Config{Enabled: true, Clock: fake})
//	challenge := manager.Generate()
//	fake.Advance(6 * time.Minute) // challenge is now expired
//
// A goroutine that arms a timer on a FakeClock races the test that
// advances it. [FakeClock.WaitForTimers] closes that race: it blocks
// until the expected number of timers is registered.
package clock
