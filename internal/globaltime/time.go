// Package globaltime is the single clock for scan stamps, ledger rows
// and embedding timestamps, replaceable in tests.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

// Now returns the current time from the active clock.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

// UTC returns Now in UTC. Every persisted timestamp goes through this
// so ledger idempotency does not depend on the host timezone.
func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime pins the clock to a fixed instant. Pair with ResetTime.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

// ResetTime restores the wall clock.
func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
