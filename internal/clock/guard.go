package clock

import (
	"time"

	"keygate/pkg/contracts/domain"
)

// DefaultTolerance absorbs small NTP slews and clock read jitter
const DefaultTolerance = 2 * time.Minute

// Observation is what the guard concluded from comparing a reading with the
// last sighting persisted on the record.
type Observation struct {
	Now      Instant
	Delta    time.Duration // monotonic time since the last sighting
	Elapsed  time.Duration // total monotonic time since activation
	Tampered bool
	Reboot   bool
}

// Guard compares clock readings with persisted sightings
type Guard struct {
	source    Source
	tolerance time.Duration
}

// NewGuard creates a guard. A non-positive tolerance selects DefaultTolerance.
func NewGuard(source Source, tolerance time.Duration) *Guard {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Guard{source: source, tolerance: tolerance}
}

// Now reads the underlying clocks
func (g *Guard) Now() Instant {
	return g.source.Now()
}

// Tolerance returns the configured rollback tolerance
func (g *Guard) Tolerance() time.Duration {
	return g.tolerance
}

// Check reads the clocks and observes the record against them
func (g *Guard) Check(rec domain.ActivationRecord) Observation {
	return Observe(rec, g.source.Now(), g.tolerance)
}

// Observe is the pure comparison between a record's last sighting and now.
//
// Within one boot the monotonic delta is authoritative and the wall clock
// must not fall behind it by more than tolerance. Across a reboot the
// monotonic clock restarted, so the boot instant implied by now must not
// precede the last sighting, and at least the current uptime is counted.
// A tamper flag already on the record is sticky.
func Observe(rec domain.ActivationRecord, now Instant, tolerance time.Duration) Observation {
	obs := Observation{Now: now, Tampered: rec.ClockTampered}

	wallDelta := now.Wall.Sub(rec.LastSeenWall)

	if sameBoot(rec, now) {
		obs.Delta = now.Mono - rec.LastSeenMonotonic
		if obs.Delta-wallDelta > tolerance {
			obs.Tampered = true
		}
	} else {
		obs.Reboot = true
		if now.BootTime().Before(rec.LastSeenWall.Add(-tolerance)) {
			obs.Tampered = true
		}
		obs.Delta = now.Mono
		if wallDelta > obs.Delta {
			obs.Delta = wallDelta
		}
	}

	obs.Elapsed = rec.AccruedElapsed + obs.Delta
	return obs
}

func sameBoot(rec domain.ActivationRecord, now Instant) bool {
	if now.Mono < rec.LastSeenMonotonic {
		return false
	}
	if now.BootID != "" && rec.LastSeenBootID != "" {
		return now.BootID == rec.LastSeenBootID
	}
	return true
}

// Advance folds an observation into the record so the next check measures
// from this sighting. The returned record is a copy.
func Advance(rec domain.ActivationRecord, obs Observation) domain.ActivationRecord {
	next := rec.Clone()
	next.AccruedElapsed = obs.Elapsed
	next.LastSeenWall = obs.Now.Wall
	next.LastSeenMonotonic = obs.Now.Mono
	next.LastSeenBootID = obs.Now.BootID
	next.ClockTampered = obs.Tampered
	return next
}

// Stamp initializes the clock fields of a freshly created record
func Stamp(rec domain.ActivationRecord, now Instant) domain.ActivationRecord {
	rec.ActivatedAtWall = now.Wall
	rec.ActivatedAtMonotonic = now.Mono
	rec.LastSeenWall = now.Wall
	rec.LastSeenMonotonic = now.Mono
	rec.LastSeenBootID = now.BootID
	rec.AccruedElapsed = 0
	rec.ClockTampered = false
	return rec
}
