// Package participant implements the participant registry (spec.md §9.1
// supplement): tracking human and device participants in a session,
// matching reconnections against stable identity hints rather than
// session identifiers, and recording online/offline state from heartbeats.
package participant

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/lifecycle"
	"github.com/tobert/chaosgarden/internal/query"
)

// ErrNotFound is returned when an operation references an unknown
// participant identifier.
var ErrNotFound = errors.New("participant: not found")

const (
	defaultHeartbeatTimeout = 30 * time.Second
	expiryCleanupPeriod     = 10 * time.Second
)

// IdentityHint is a stable fingerprint used to recognize a reconnecting
// participant across IPC sessions, analogous to matching a SIP
// registration by extension rather than by transport address. Any
// non-empty field is a candidate match; a new connection matches an
// existing registry entry if any one hint is equal.
type IdentityHint struct {
	Serial          string
	USBVendorProduct string
	MACAddress      string
	UserLabel       string
}

func (h IdentityHint) matches(other IdentityHint) bool {
	switch {
	case h.Serial != "" && h.Serial == other.Serial:
		return true
	case h.USBVendorProduct != "" && h.USBVendorProduct == other.USBVendorProduct:
		return true
	case h.MACAddress != "" && h.MACAddress == other.MACAddress:
		return true
	case h.UserLabel != "" && h.UserLabel == other.UserLabel:
		return true
	default:
		return false
	}
}

// Participant is one registered human or device.
type Participant struct {
	ID            uuid.UUID
	Label         string
	Identity      IdentityHint
	Capabilities  []string
	Online        bool
	LastHeartbeat time.Time
	Lifecycle     lifecycle.Lifecycle
}

// Registry is the mutex-guarded collection of known participants, mutated
// on connect/disconnect/heartbeat events from the IPC hub.
type Registry struct {
	mu              sync.RWMutex
	byID            map[uuid.UUID]*Participant
	heartbeatTimeout time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:            make(map[uuid.UUID]*Participant),
		heartbeatTimeout: defaultHeartbeatTimeout,
		now:             time.Now,
		logger:          logger.With("subsystem", "participant"),
	}
}

// Connect registers a new participant, or reconnects an existing one whose
// identity hint matches, reviving it if tombstoned. Returns the
// participant's identifier.
func (r *Registry) Connect(label string, identity IdentityHint, capabilities []string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing := r.findByIdentityLocked(identity); existing != nil {
		existing.Online = true
		existing.LastHeartbeat = now
		existing.Label = label
		existing.Capabilities = capabilities
		existing.Lifecycle.Touch(now, lifecycle.CurrentGeneration())
		r.logger.Info("participant reconnected", "id", existing.ID, "label", label)
		return existing.ID
	}

	id := uuid.New()
	r.byID[id] = &Participant{
		ID:            id,
		Label:         label,
		Identity:      identity,
		Capabilities:  capabilities,
		Online:        true,
		LastHeartbeat: now,
		Lifecycle:     lifecycle.New(now),
	}
	r.logger.Info("participant connected", "id", id, "label", label)
	return id
}

func (r *Registry) findByIdentityLocked(identity IdentityHint) *Participant {
	for _, p := range r.byID {
		if p.Identity.matches(identity) {
			return p
		}
	}
	return nil
}

// Heartbeat refreshes a participant's liveness timestamp.
func (r *Registry) Heartbeat(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.LastHeartbeat = r.now()
	p.Online = true
	return nil
}

// Disconnect marks a participant offline without removing it from the
// registry, so its capabilities and identity remain available for query
// and for a later reconnect.
func (r *Registry) Disconnect(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Online = false
	return nil
}

// Tombstone removes a participant from active consideration, retaining it
// for audit/query (spec.md §4.2's tombstone convention, applied here to
// participants for consistency across the daemon's stores).
func (r *Registry) Tombstone(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Online = false
	p.Lifecycle.Tombstone(r.now(), lifecycle.CurrentGeneration())
	return nil
}

// SweepExpired marks participants offline whose last heartbeat exceeds the
// configured timeout, mirroring the teacher's periodic registration-expiry
// cleanup cadence.
func (r *Registry) SweepExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.heartbeatTimeout)
	for _, p := range r.byID {
		if p.Online && p.LastHeartbeat.Before(cutoff) {
			p.Online = false
			r.logger.Info("participant heartbeat expired", "id", p.ID, "label", p.Label)
		}
	}
}

// OnlineCount reports the number of non-tombstoned participants currently
// online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.byID {
		if !p.Lifecycle.IsTombstoned() && p.Online {
			n++
		}
	}
	return n
}

// TotalCount reports the number of non-tombstoned participants, online or
// not.
func (r *Registry) TotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.byID {
		if !p.Lifecycle.IsTombstoned() {
			n++
		}
	}
	return n
}

func toQueryRecord(p *Participant) query.ParticipantRecord {
	return query.ParticipantRecord{ID: p.ID, Label: p.Label, Online: p.Online, Capabilities: append([]string(nil), p.Capabilities...)}
}

// List returns all participants, optionally excluding offline ones, sorted
// by label. Satisfies query.ParticipantSource.
func (r *Registry) List(includeOffline bool) []query.ParticipantRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []query.ParticipantRecord
	for _, p := range r.byID {
		if p.Lifecycle.IsTombstoned() {
			continue
		}
		if !includeOffline && !p.Online {
			continue
		}
		out = append(out, toQueryRecord(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// ByCapability returns non-tombstoned participants advertising capability.
func (r *Registry) ByCapability(capability string) []query.ParticipantRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []query.ParticipantRecord
	for _, p := range r.byID {
		if p.Lifecycle.IsTombstoned() {
			continue
		}
		for _, c := range p.Capabilities {
			if c == capability {
				out = append(out, toQueryRecord(p))
				break
			}
		}
	}
	return out
}

// Tombstoned returns tombstoned participants, sorted by label.
func (r *Registry) Tombstoned() []query.ParticipantRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []query.ParticipantRecord
	for _, p := range r.byID {
		if p.Lifecycle.IsTombstoned() {
			out = append(out, toQueryRecord(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Restore inserts a participant loaded from durable storage, offline by
// construction since nothing is connected yet at boot. Callers must do
// this before the registry serves any IPC traffic.
func (r *Registry) Restore(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Online = false
	r.byID[p.ID] = &p
}

// Snapshot returns every non-tombstoned and tombstoned participant for
// persistence, in no particular order.
func (r *Registry) Snapshot() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, *p)
	}
	return out
}
