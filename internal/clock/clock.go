// Package clock reads wall and boot-relative monotonic time and detects
// wall-clock rollback against the last persisted sighting.
package clock

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Instant is a paired reading of both clocks.
// Mono counts time since boot, including suspend.
type Instant struct {
	Wall   time.Time
	Mono   time.Duration
	BootID string
}

// BootTime is the wall instant the current boot started at, as implied by this reading
func (i Instant) BootTime() time.Time {
	return i.Wall.Add(-i.Mono)
}

// Source yields paired clock readings
type Source interface {
	Now() Instant
}

// SystemSource reads the operating system clocks
type SystemSource struct {
	bootOnce sync.Once
	bootID   string
}

// NewSystemSource returns a Source backed by the OS clocks
func NewSystemSource() *SystemSource {
	return &SystemSource{}
}

// Now reads both clocks. Wall time is stripped of Go's in-process monotonic
// reading so it serializes and compares as plain wall time.
func (s *SystemSource) Now() Instant {
	s.bootOnce.Do(func() {
		s.bootID = bootIdentity()
	})
	return Instant{
		Wall:   time.Now().Round(0),
		Mono:   sinceBoot(),
		BootID: s.bootID,
	}
}

const bootIDPath = "/proc/sys/kernel/random/boot_id"

// readKernelBootID returns the kernel boot id, or "" when it cannot be read
func readKernelBootID() string {
	data, err := os.ReadFile(bootIDPath)
	if err != nil {
		slog.Debug("Kernel boot id unavailable",
			slog.String("component", "clock"),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return strings.TrimSpace(string(data))
}
