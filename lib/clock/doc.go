// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Every Deckhand component with time-based behavior (the watcher's
// coalescing window, the health monitor's check cadence, the crash
// window, the dispatcher's render budget) holds a Clock field instead
// of calling the time package directly. Production wiring passes
// Real(); tests pass Fake() and advance time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	monitor := health.NewMonitor(..., c)
//	go monitor.Run(ctx)
//	c.WaitForTimers(1)            // cycle ticker registered
//	c.Advance(5 * time.Second)    // fire one health cycle
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing the clock, so tests never need
// time.Sleep for synchronization.
package clock
