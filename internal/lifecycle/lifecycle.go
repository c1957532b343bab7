// Package lifecycle provides the generation/tombstone bookkeeping shared by
// every persistable entity in chaosgarden (regions, participants).
package lifecycle

import (
	"sync/atomic"
	"time"
)

// generation is the process-wide monotonic epoch counter described in
// spec.md §3/§9. It advances at session boundaries (daemon restart, explicit
// reset) and is never rolled back.
var generation atomic.Uint64

// CurrentGeneration returns the generation number in effect right now.
func CurrentGeneration() uint64 {
	return generation.Load()
}

// AdvanceGeneration bumps the process-wide generation counter and returns
// the new value. Called at session boundaries.
func AdvanceGeneration() uint64 {
	return generation.Add(1)
}

// RestoreGeneration sets the process-wide generation counter to a value
// loaded from durable storage at boot, so generations never reset across a
// restart. Callers must do this once, before any other goroutine touches
// the counter.
func RestoreGeneration(n uint64) {
	generation.Store(n)
}

// Lifecycle tracks creation, last-touch, and tombstone bookkeeping for one
// entity. The zero value is non-tombstoned, with zero timestamps and
// generation 0; New stamps the creation time and the current generation.
type Lifecycle struct {
	CreatedAt        time.Time
	CreatedGen       uint64
	LastTouchedAt    time.Time
	LastTouchedGen   uint64
	TombstonedAt     *time.Time
	TombstonedGen    uint64
	Permanent        bool
}

// New creates a Lifecycle stamped at the given time and the current
// generation.
func New(now time.Time) Lifecycle {
	gen := CurrentGeneration()
	return Lifecycle{
		CreatedAt:      now,
		CreatedGen:     gen,
		LastTouchedAt:  now,
		LastTouchedGen: gen,
	}
}

// Touch records an access/mutation at the given time and generation,
// reviving the entity if it was tombstoned.
func (l *Lifecycle) Touch(now time.Time, gen uint64) {
	l.LastTouchedAt = now
	l.LastTouchedGen = gen
	if l.TombstonedAt != nil {
		l.TombstonedAt = nil
		l.TombstonedGen = 0
	}
}

// Tombstone marks the entity as soft-deleted at the given time and
// generation. Grooming (actual removal) is out of scope per spec.md §9.
func (l *Lifecycle) Tombstone(now time.Time, gen uint64) {
	t := now
	l.TombstonedAt = &t
	l.TombstonedGen = gen
}

// IsTombstoned reports whether the entity currently carries a tombstone.
func (l *Lifecycle) IsTombstoned() bool {
	return l.TombstonedAt != nil
}

// StaleSince reports whether the entity has not been touched since before
// the given generation (used by the StaleSince(gen) grooming query).
func (l *Lifecycle) StaleSince(gen uint64) bool {
	return l.LastTouchedGen < gen
}
