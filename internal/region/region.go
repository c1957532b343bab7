package region

import (
	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/lifecycle"
	"github.com/tobert/chaosgarden/internal/tempo"
)

// Region is a named segment on the timeline with position, duration, and
// exactly one behavior (spec.md §3).
type Region struct {
	ID       uuid.UUID
	Position tempo.Beat
	Duration tempo.Beat
	Tags     []string
	Lifecycle lifecycle.Lifecycle
	Behavior Behavior
}

// End returns Position+Duration, the exclusive end of the region's range.
func (r *Region) End() tempo.Beat {
	return r.Position + r.Duration
}

// Intersects reports whether [r.Position, r.End()) overlaps [start, end).
func (r *Region) Intersects(start, end tempo.Beat) bool {
	return r.Position < end && start < r.End()
}

// IsPlayable implements the invariant from spec.md §3: a region is playable
// iff its behavior is PlayContent, or Latent with status Approved or later
// (Approved, MixedIn — Rejected/Failed are terminal but not playable).
func (r *Region) IsPlayable() bool {
	switch b := r.Behavior.(type) {
	case PlayContentBehavior:
		return true
	case LatentBehavior:
		return b.Status == LatentApproved || b.Status == LatentMixedIn
	default:
		return false
	}
}

// HasTag reports whether r carries the given tag.
func (r *Region) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
