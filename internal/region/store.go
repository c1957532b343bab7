// Package region implements the region store of spec.md §4.2: a mutable
// ordered collection of Regions indexed by identifier with secondary
// access by beat range.
package region

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/lifecycle"
	"github.com/tobert/chaosgarden/internal/tempo"
)

// ErrNotFound is returned when an operation references an unknown region
// identifier.
var ErrNotFound = errors.New("region: not found")

// ErrInvalidDuration is returned when a region's duration is not positive,
// per spec.md §3's invariant duration > 0.
var ErrInvalidDuration = errors.New("region: duration must be positive")

// Clock abstracts time.Now for deterministic tests; defaults to the real
// clock.
type Clock func() time.Time

// Store is the in-memory, reader-writer-lock-guarded region collection.
// Mutated only on the cooperative scheduler, per spec.md §5.
type Store struct {
	mu      sync.RWMutex
	regions map[uuid.UUID]*Region
	now     Clock
}

// NewStore creates an empty region store.
func NewStore() *Store {
	return &Store{regions: make(map[uuid.UUID]*Region), now: time.Now}
}

// NewStoreWithClock creates an empty region store using a custom clock, for
// deterministic tests.
func NewStoreWithClock(now Clock) *Store {
	return &Store{regions: make(map[uuid.UUID]*Region), now: now}
}

// Create inserts a new region and returns its identifier.
func (s *Store) Create(position, duration tempo.Beat, behavior Behavior) (uuid.UUID, error) {
	if duration <= 0 {
		return uuid.Nil, ErrInvalidDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.regions[id] = &Region{
		ID:        id,
		Position:  position,
		Duration:  duration,
		Behavior:  behavior,
		Lifecycle: lifecycle.New(s.now()),
	}
	return id, nil
}

// Get returns a copy of the region's pointer for read access. Callers must
// not mutate the returned Region's Behavior in place from outside the
// cooperative scheduler.
func (s *Store) Get(id uuid.UUID) (*Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// Delete tombstones the region. Per spec.md §4.2, deletion of a region
// active in playback is deferred until the pre-render scheduler observes
// it on its next lookahead pass; here that means the region is tombstoned
// (hidden from List's default view and from new scheduling) immediately,
// while remaining retrievable via Get/query for the scheduler to notice and
// reclaim.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Lifecycle.Tombstone(s.now(), lifecycle.CurrentGeneration())
	return nil
}

// Move changes a region's position.
func (s *Store) Move(id uuid.UUID, newPosition tempo.Beat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Position = newPosition
	r.Lifecycle.Touch(s.now(), lifecycle.CurrentGeneration())
	return nil
}

// Touch updates the last-touched timestamp/generation, reviving the region
// if it was tombstoned.
func (s *Store) Touch(id uuid.UUID, gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Lifecycle.Touch(s.now(), gen)
	return nil
}

// Tombstone explicitly tombstones a region at the current generation
// (equivalent to Delete, kept as a distinct name for API parity with
// spec.md §4.2's operation list).
func (s *Store) Tombstone(id uuid.UUID) error {
	return s.Delete(id)
}

// List returns regions sorted by position. If includeTombstoned is false,
// tombstoned regions are filtered out.
func (s *Store) List(includeTombstoned bool) []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Region, 0, len(s.regions))
	for _, r := range s.regions {
		if !includeTombstoned && r.Lifecycle.IsTombstoned() {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// ListRange returns non-tombstoned regions whose [position, position+duration)
// intersects [start, end), sorted by position (spec.md §4.2, end-to-end
// scenario 2).
func (s *Store) ListRange(start, end tempo.Beat) []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Region
	for _, r := range s.regions {
		if r.Lifecycle.IsTombstoned() {
			continue
		}
		if r.Intersects(start, end) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// ByTag returns non-tombstoned regions carrying the given tag, sorted by
// position.
func (s *Store) ByTag(tag string) []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Region
	for _, r := range s.regions {
		if r.Lifecycle.IsTombstoned() {
			continue
		}
		if r.HasTag(tag) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Tombstoned returns all tombstoned regions, sorted by position, for the
// TombstonedRegion query view.
func (s *Store) Tombstoned() []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Region
	for _, r := range s.regions {
		if r.Lifecycle.IsTombstoned() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// StaleSince returns non-tombstoned regions whose last-touched generation
// predates gen, for the StaleSince(gen) grooming view.
func (s *Store) StaleSince(gen uint64) []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Region
	for _, r := range s.regions {
		if r.Lifecycle.IsTombstoned() {
			continue
		}
		if r.Lifecycle.StaleSince(gen) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Playable returns all non-tombstoned playable regions, sorted by position.
func (s *Store) Playable() []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Region
	for _, r := range s.regions {
		if r.Lifecycle.IsTombstoned() {
			continue
		}
		if r.IsPlayable() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
