package clock

import (
	"sync"
	"time"
)

// Manual is a hand-driven Source for tests and simulations
type Manual struct {
	mu  sync.Mutex
	now Instant
}

// NewManual starts a manual clock at the given wall time with some uptime
func NewManual(wall time.Time, uptime time.Duration, bootID string) *Manual {
	return &Manual{now: Instant{Wall: wall, Mono: uptime, BootID: bootID}}
}

// Now returns the current reading
func (m *Manual) Now() Instant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves both clocks forward together
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now.Wall = m.now.Wall.Add(d)
	m.now.Mono += d
}

// SetWall changes only the wall clock, as a user editing system time would
func (m *Manual) SetWall(wall time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now.Wall = wall
}

// Reboot restarts the monotonic clock under a new boot id after the device
// was off for the given duration
func (m *Manual) Reboot(off time.Duration, bootID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now.Wall = m.now.Wall.Add(off)
	m.now.Mono = 0
	m.now.BootID = bootID
}
