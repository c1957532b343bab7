package latent

import (
	"testing"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/content"
	"github.com/tobert/chaosgarden/internal/region"
)

func newLatentRegion(t *testing.T, s *region.Store) uuid.UUID {
	t.Helper()
	id, err := s.Create(0, 4, region.LatentBehavior{Status: region.LatentPending})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return id
}

// TestHappyPath mirrors spec.md's end-to-end scenario 3: Pending -> Running
// -> Resolved -> Approved -> (mix-in dequeue) -> MixedIn.
func TestHappyPath(t *testing.T) {
	store := region.NewStore()
	m := New(store, 4, nil)
	id := newLatentRegion(t, store)

	if err := m.Start(id, "job-1"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := m.Progress(id, 0.5); err != nil {
		t.Fatalf("Progress() error: %v", err)
	}
	if err := m.Resolve(id, "some-tool", content.Sum([]byte("x")), "audio/wav"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	r, _ := store.Get(id)
	if r.Behavior.(region.LatentBehavior).Status != region.LatentResolved {
		t.Fatalf("status after Resolve = %v, want Resolved", r.Behavior.(region.LatentBehavior).Status)
	}

	if err := m.Approve(id, uuid.New(), "sounds good", HardCut, 0); err != nil {
		t.Fatalf("Approve() error: %v", err)
	}
	r, _ = store.Get(id)
	if r.Behavior.(region.LatentBehavior).Status != region.LatentApproved {
		t.Fatalf("status after Approve = %v, want Approved", r.Behavior.(region.LatentBehavior).Status)
	}
	if !r.IsPlayable() {
		t.Error("approved latent region should be playable")
	}

	plan, ok := m.NextMixIn()
	if !ok {
		t.Fatal("NextMixIn() should have returned the approved region")
	}
	if plan.RegionID != id || plan.Strategy != HardCut {
		t.Errorf("unexpected mix-in plan: %+v", plan)
	}

	if err := m.MarkMixedIn(id); err != nil {
		t.Fatalf("MarkMixedIn() error: %v", err)
	}
	r, _ = store.Get(id)
	if r.Behavior.(region.LatentBehavior).Status != region.LatentMixedIn {
		t.Error("status after MarkMixedIn should be MixedIn")
	}
}

func TestStartRejectsOverCapacity(t *testing.T) {
	store := region.NewStore()
	m := New(store, 1, nil)
	a := newLatentRegion(t, store)
	b := newLatentRegion(t, store)

	if err := m.Start(a, "job-a"); err != nil {
		t.Fatalf("Start(a) error: %v", err)
	}
	if err := m.Start(b, "job-b"); err != ErrAtCapacity {
		t.Errorf("Start(b) error = %v, want ErrAtCapacity", err)
	}
}

func TestFailFromRunningFreesCapacitySlot(t *testing.T) {
	store := region.NewStore()
	m := New(store, 1, nil)
	a := newLatentRegion(t, store)
	b := newLatentRegion(t, store)

	if err := m.Start(a, "job-a"); err != nil {
		t.Fatalf("Start(a) error: %v", err)
	}
	if err := m.Fail(a, "model timeout"); err != nil {
		t.Fatalf("Fail(a) error: %v", err)
	}
	if err := m.Start(b, "job-b"); err != nil {
		t.Fatalf("Start(b) error after a failed: %v", err)
	}
}

func TestRejectNeverEnqueuesMixIn(t *testing.T) {
	store := region.NewStore()
	m := New(store, 4, nil)
	id := newLatentRegion(t, store)
	if err := m.Start(id, "job-1"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := m.Resolve(id, "tool", content.Sum([]byte("x")), "audio/wav"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if err := m.Reject(id, uuid.New(), "not good enough"); err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	if _, ok := m.NextMixIn(); ok {
		t.Error("rejected region should never appear in the mix-in queue")
	}
}

func TestAutoApproveToolSkipsApprovalGate(t *testing.T) {
	store := region.NewStore()
	m := New(store, 4, []string{"auto-tool"})
	id := newLatentRegion(t, store)
	if err := m.Start(id, "job-1"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := m.Resolve(id, "auto-tool", content.Sum([]byte("x")), "audio/wav"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	r, _ := store.Get(id)
	if r.Behavior.(region.LatentBehavior).Status != region.LatentApproved {
		t.Fatalf("auto-approve tool should reach Approved directly, got %v", r.Behavior.(region.LatentBehavior).Status)
	}
	if _, ok := m.NextMixIn(); !ok {
		t.Error("auto-approved region should be enqueued for mix-in")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	store := region.NewStore()
	m := New(store, 4, nil)
	id := newLatentRegion(t, store)
	if err := m.Approve(id, uuid.New(), "", HardCut, 0); err == nil {
		t.Error("Approve() on a Pending region should fail")
	}
}
