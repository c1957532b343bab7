// Package latent implements the latent region lifecycle manager of
// spec.md §4.7: a finite state machine driving generative content from
// Pending through Running, Resolved, Approved/Rejected, to MixedIn, with
// a bounded concurrency of in-flight jobs and a scheduled mix-in queue.
package latent

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/content"
	"github.com/tobert/chaosgarden/internal/region"
	"github.com/tobert/chaosgarden/internal/tempo"
)

// ErrInvalidTransition is returned when an event does not apply to a
// region's current LatentStatus.
var ErrInvalidTransition = errors.New("latent: invalid state transition")

// ErrNotLatent is returned when an operation targets a region whose
// Behavior is not LatentBehavior.
var ErrNotLatent = errors.New("latent: region has no latent behavior")

// ErrAtCapacity is returned by Start when the concurrent-Running cap would
// be exceeded.
var ErrAtCapacity = errors.New("latent: at concurrency capacity")

// MixStrategy selects how an approved latent region's audio is blended in
// at mix-in time, per spec.md §4.7.
type MixStrategy int

const (
	// HardCut switches instantaneously at the region boundary.
	HardCut MixStrategy = iota
	// Crossfade keeps the mix-in open for CrossfadeBeats, a duration
	// measured in beats (Open Question resolved in favor of beats, since a
	// fixed-duration crossfade stretches unpredictably across a tempo
	// change otherwise), before the region is marked MixedIn. The playback
	// engine applies no gain envelope.
	Crossfade
	// Bridge is handled by the playback engine exactly like HardCut; the
	// manager neither creates a bridge region nor waits for one.
	Bridge
)

func (m MixStrategy) String() string {
	switch m {
	case HardCut:
		return "hard_cut"
	case Crossfade:
		return "crossfade"
	case Bridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// MixInPlan describes one scheduled mix-in.
type MixInPlan struct {
	RegionID       uuid.UUID
	Strategy       MixStrategy
	CrossfadeBeats float64
	TargetBeat     tempo.Beat
	ApprovedAt     time.Time
}

// Manager owns the Running-job concurrency cap and the mix-in queue. It
// mutates region.Behavior in place via the region.Store, mirroring the
// single-writer discipline region.Store itself uses.
type Manager struct {
	mu          sync.Mutex
	store       *region.Store
	maxRunning  int
	running     map[uuid.UUID]struct{}
	autoApprove map[string]bool // tool name -> auto-approve on Resolved
	mixQueue    mixQueue
	clock       func() time.Time
	posSource   func() tempo.Beat
	onEvent     func(TransitionEvent)
}

// TransitionEvent is one lifecycle transition, ready for the IPC layer to
// broadcast on IOPub (spec.md §4.9: "IOPub events for a single region are
// emitted in lifecycle order").
type TransitionEvent struct {
	RegionID uuid.UUID
	Name     string
	Reason   string
}

// SetEventHandler installs fn to be called, synchronously and in lifecycle
// order, on every state transition the manager makes. fn must not call back
// into the Manager.
func (m *Manager) SetEventHandler(fn func(TransitionEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

func (m *Manager) emit(id uuid.UUID, name, reason string) {
	if m.onEvent != nil {
		m.onEvent(TransitionEvent{RegionID: id, Name: name, Reason: reason})
	}
}

// SetPositionSource installs fn as the playback position the manager
// consults when computing a freshly approved mix-in's target beat. Without
// one, newly approved regions target beat 0.
func (m *Manager) SetPositionSource(fn func() tempo.Beat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posSource = fn
}

// New creates a Manager. maxRunning bounds concurrent Running jobs
// (spec.md §4.7's "concurrency cap on Running regions"); autoApproveTools
// names tools whose Resolved jobs skip the Approved gate.
func New(store *region.Store, maxRunning int, autoApproveTools []string) *Manager {
	auto := make(map[string]bool, len(autoApproveTools))
	for _, t := range autoApproveTools {
		auto[t] = true
	}
	return &Manager{
		store:       store,
		maxRunning:  maxRunning,
		running:     make(map[uuid.UUID]struct{}),
		autoApprove: auto,
		clock:       time.Now,
	}
}

func (m *Manager) latentBehavior(id uuid.UUID) (*region.Region, region.LatentBehavior, error) {
	r, err := m.store.Get(id)
	if err != nil {
		return nil, region.LatentBehavior{}, err
	}
	lb, ok := r.Behavior.(region.LatentBehavior)
	if !ok {
		return nil, region.LatentBehavior{}, fmt.Errorf("%w: %s", ErrNotLatent, id)
	}
	return r, lb, nil
}

// Start transitions a region from Pending to Running (event
// UpdateLatentStarted), subject to the concurrency cap.
func (m *Manager) Start(id uuid.UUID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, lb, err := m.latentBehavior(id)
	if err != nil {
		return err
	}
	if lb.Status != region.LatentPending {
		return fmt.Errorf("%w: Start requires Pending, got %s", ErrInvalidTransition, lb.Status)
	}
	if len(m.running) >= m.maxRunning {
		return ErrAtCapacity
	}

	lb.Status = region.LatentRunning
	lb.JobID = jobID
	lb.Progress = 0
	r.Behavior = lb
	m.running[id] = struct{}{}
	m.emit(id, "JobStarted", "")
	return nil
}

// Progress updates a Running region's fractional progress (event
// UpdateLatentProgress). Per spec.md §4.7, an out-of-sequence update whose
// fraction is behind the region's current progress is dropped rather than
// applied or reported as an error.
func (m *Manager) Progress(id uuid.UUID, fraction float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, lb, err := m.latentBehavior(id)
	if err != nil {
		return err
	}
	if lb.Status != region.LatentRunning {
		return fmt.Errorf("%w: Progress requires Running, got %s", ErrInvalidTransition, lb.Status)
	}
	if fraction < lb.Progress {
		return nil
	}
	lb.Progress = fraction
	lb.ProgressN++
	r.Behavior = lb
	m.emit(id, "JobProgress", "")
	return nil
}

// Resolve transitions Running to Resolved (event UpdateLatentResolved),
// recording the produced content. If tool is in the auto-approve set, it
// immediately advances to Approved and is enqueued for mix-in.
func (m *Manager) Resolve(id uuid.UUID, tool string, digest content.Digest, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, lb, err := m.latentBehavior(id)
	if err != nil {
		return err
	}
	if lb.Status != region.LatentRunning {
		return fmt.Errorf("%w: Resolve requires Running, got %s", ErrInvalidTransition, lb.Status)
	}
	delete(m.running, id)
	lb.Status = region.LatentResolved
	lb.Progress = 1.0
	lb.Digest = digest
	lb.ContentType = contentType
	r.Behavior = lb
	m.emit(id, "JobResolved", "")

	if m.autoApprove[tool] {
		return m.approveLocked(r, &lb, uuid.Nil, "auto-approved", HardCut, 0)
	}
	return nil
}

// Approve transitions Resolved to Approved (event ApproveLatent) and
// schedules the region for mix-in. Per the tie-break Open Question,
// resolved in favor of earliest approval-decision timestamp then region
// ID, the manager stamps ApprovedAt from its clock at approval time.
func (m *Manager) Approve(id uuid.UUID, decidedBy uuid.UUID, reason string, strategy MixStrategy, crossfadeBeats float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, lb, err := m.latentBehavior(id)
	if err != nil {
		return err
	}
	if lb.Status != region.LatentResolved {
		return fmt.Errorf("%w: Approve requires Resolved, got %s", ErrInvalidTransition, lb.Status)
	}
	return m.approveLocked(r, &lb, decidedBy, reason, strategy, crossfadeBeats)
}

// approveLocked assumes m.mu is held.
func (m *Manager) approveLocked(r *region.Region, lb *region.LatentBehavior, decidedBy uuid.UUID, reason string, strategy MixStrategy, crossfadeBeats float64) error {
	now := m.clock()
	lb.Status = region.LatentApproved
	lb.DecidedBy = decidedBy
	lb.Audit = append(lb.Audit, region.ApprovalRecord{
		DecidedBy: decidedBy,
		DecidedAt: now,
		Approved:  true,
	})
	r.Behavior = *lb

	heap.Push(&m.mixQueue, &mixQueueItem{
		plan: MixInPlan{
			RegionID:       r.ID,
			Strategy:       strategy,
			CrossfadeBeats: crossfadeBeats,
			TargetBeat:     m.targetBeatLocked(),
			ApprovedAt:     now,
		},
	})
	m.emit(r.ID, "Approved", reason)
	return nil
}

// targetBeatLocked computes the next beat boundary at or after the current
// playback position (spec.md §4.7: "HardCut: target beat is the next beat
// boundary >= current position"), assumes m.mu is held.
func (m *Manager) targetBeatLocked() tempo.Beat {
	if m.posSource == nil {
		return 0
	}
	return tempo.Beat(math.Ceil(float64(m.posSource())))
}

// Reject transitions Resolved to Rejected (event RejectLatent), recording
// the decision but never enqueueing for mix-in.
func (m *Manager) Reject(id uuid.UUID, decidedBy uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, lb, err := m.latentBehavior(id)
	if err != nil {
		return err
	}
	if lb.Status != region.LatentResolved {
		return fmt.Errorf("%w: Reject requires Resolved, got %s", ErrInvalidTransition, lb.Status)
	}
	lb.Status = region.LatentRejected
	lb.DecidedBy = decidedBy
	lb.Audit = append(lb.Audit, region.ApprovalRecord{
		DecidedBy: decidedBy,
		DecidedAt: m.clock(),
		Approved:  false,
		Reason:    reason,
	})
	r.Behavior = lb
	m.emit(id, "Rejected", reason)
	return nil
}

// Fail transitions Pending or Running to Failed (event UpdateLatentFailed).
func (m *Manager) Fail(id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, lb, err := m.latentBehavior(id)
	if err != nil {
		return err
	}
	if lb.Status != region.LatentPending && lb.Status != region.LatentRunning {
		return fmt.Errorf("%w: Fail requires Pending or Running, got %s", ErrInvalidTransition, lb.Status)
	}
	delete(m.running, id)
	lb.Status = region.LatentFailed
	lb.FailReason = reason
	r.Behavior = lb
	m.emit(id, "JobFailed", reason)
	return nil
}

// RunningCount returns the number of regions currently occupying the
// concurrency cap.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// PeekMixIn returns the highest-priority pending mix-in without removing
// it, or ok=false if the queue is empty. The playback engine uses this to
// check whether the next scheduled mix-in's target beat has arrived yet
// (spec.md §4.5 step 2: "Dequeue mix-in schedule entries whose target beat
// <= current beat") before actually consuming it via NextMixIn.
func (m *Manager) PeekMixIn() (plan MixInPlan, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mixQueue.Len() == 0 {
		return MixInPlan{}, false
	}
	return m.mixQueue[0].plan, true
}

// NextMixIn pops the highest-priority pending mix-in, or ok=false if the
// queue is empty. The playback engine calls this once a peeked entry's
// target beat has arrived (spec.md §4.5 step 3).
func (m *Manager) NextMixIn() (plan MixInPlan, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mixQueue.Len() == 0 {
		return MixInPlan{}, false
	}
	item := heap.Pop(&m.mixQueue).(*mixQueueItem)
	return item.plan, true
}

// MarkMixedIn transitions Approved to MixedIn (terminal), called once the
// playback engine has actually spliced the region's audio in.
func (m *Manager) MarkMixedIn(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, lb, err := m.latentBehavior(id)
	if err != nil {
		return err
	}
	if lb.Status != region.LatentApproved {
		return fmt.Errorf("%w: MarkMixedIn requires Approved, got %s", ErrInvalidTransition, lb.Status)
	}
	lb.Status = region.LatentMixedIn
	r.Behavior = lb
	m.emit(id, "MixedIn", "")
	return nil
}

// mixQueueItem is a container/heap element ordered by target beat per
// spec.md §4.7 ("a priority queue ordered by target beat"), tie-broken per
// the resolved Open Question: earliest ApprovedAt first, then region ID,
// mirroring the priority-by-arrival-time ordering in other_examples'
// pkg/audio-mixer-heap.go.
type mixQueueItem struct {
	plan MixInPlan
}

type mixQueue []*mixQueueItem

func (q mixQueue) Len() int { return len(q) }
func (q mixQueue) Less(i, j int) bool {
	if q[i].plan.TargetBeat != q[j].plan.TargetBeat {
		return q[i].plan.TargetBeat < q[j].plan.TargetBeat
	}
	if !q[i].plan.ApprovedAt.Equal(q[j].plan.ApprovedAt) {
		return q[i].plan.ApprovedAt.Before(q[j].plan.ApprovedAt)
	}
	return lessUUID(q[i].plan.RegionID, q[j].plan.RegionID)
}
func (q mixQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *mixQueue) Push(x any)   { *q = append(*q, x.(*mixQueueItem)) }
func (q *mixQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
