package graph

import (
	"testing"

	"github.com/tobert/chaosgarden/internal/signal"
)

func audioDescriptor(typeID string) Descriptor {
	return Descriptor{
		TypeID:  typeID,
		Inputs:  []Port{{Name: "in", Signal: signal.Audio}},
		Outputs: []Port{{Name: "out", Signal: signal.Audio}},
	}
}

func TestCycleRejection(t *testing.T) {
	g := New()
	a := g.AddNode(audioDescriptor("a"))
	b := g.AddNode(audioDescriptor("b"))
	c := g.AddNode(audioDescriptor("c"))

	if _, err := g.Connect(a, "out", b, "in", 1.0); err != nil {
		t.Fatalf("Connect(a,b) error: %v", err)
	}
	if _, err := g.Connect(b, "out", c, "in", 1.0); err != nil {
		t.Fatalf("Connect(b,c) error: %v", err)
	}

	edgesBefore := len(g.Edges())
	if _, err := g.Connect(c, "out", a, "in", 1.0); err != ErrCycleDetected {
		t.Fatalf("Connect(c,a) error = %v, want ErrCycleDetected", err)
	}
	if len(g.Edges()) != edgesBefore {
		t.Error("edge set should be unchanged after a rejected cycle connect")
	}
}

func TestTypeMismatchRejected(t *testing.T) {
	g := New()
	a := g.AddNode(Descriptor{
		TypeID:  "a",
		Outputs: []Port{{Name: "out", Signal: signal.Audio}},
	})
	b := g.AddNode(Descriptor{
		TypeID: "b",
		Inputs: []Port{{Name: "in", Signal: signal.MIDI}},
	})
	if _, err := g.Connect(a, "out", b, "in", 1.0); err != ErrTypeMismatch {
		t.Errorf("Connect() error = %v, want ErrTypeMismatch", err)
	}
}

func TestProcessingOrderIsTopological(t *testing.T) {
	g := New()
	a := g.AddNode(audioDescriptor("a"))
	b := g.AddNode(audioDescriptor("b"))
	c := g.AddNode(audioDescriptor("c"))
	if _, err := g.Connect(a, "out", b, "in", 1.0); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := g.Connect(b, "out", c, "in", 1.0); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	order, err := g.ProcessingOrder()
	if err != nil {
		t.Fatalf("ProcessingOrder() error: %v", err)
	}
	pos := map[[16]byte]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos[a] >= pos[b] || pos[b] >= pos[c] {
		t.Errorf("processing order %v is not topological for a->b->c", order)
	}
}

func TestAddThenRemoveNodeLeavesGraphStructurallyEqual(t *testing.T) {
	g := New()
	a := g.AddNode(audioDescriptor("a"))
	b := g.AddNode(audioDescriptor("b"))
	if _, err := g.Connect(a, "out", b, "in", 1.0); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	edgesBefore := len(g.Edges())

	c := g.AddNode(audioDescriptor("c"))
	if _, err := g.Connect(b, "out", c, "in", 1.0); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if err := g.RemoveNode(c); err != nil {
		t.Fatalf("RemoveNode() error: %v", err)
	}

	if len(g.Edges()) != edgesBefore {
		t.Errorf("edges after add+remove = %d, want %d (edges touching removed node gone, others unchanged)", len(g.Edges()), edgesBefore)
	}
	if len(g.Nodes()) != 2 {
		t.Errorf("nodes after add+remove = %d, want 2", len(g.Nodes()))
	}
}

func TestBypassRewiresPreservingGain(t *testing.T) {
	g := New()
	a := g.AddNode(audioDescriptor("a"))
	b := g.AddNode(Descriptor{
		TypeID:  "b",
		Inputs:  []Port{{Name: "in", Signal: signal.Audio}},
		Outputs: []Port{{Name: "out", Signal: signal.Audio}},
	})
	c := g.AddNode(audioDescriptor("c"))

	if _, err := g.Connect(a, "out", b, "in", 0.5); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := g.Connect(b, "out", c, "in", 2.0); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if err := g.Bypass(b); err != nil {
		t.Fatalf("Bypass() error: %v", err)
	}

	edges := g.Edges()
	if len(edges) != 1 {
		t.Fatalf("expected exactly one rewired edge, got %d", len(edges))
	}
	e := edges[0]
	if e.SrcNode != a || e.DstNode != c {
		t.Errorf("bypass did not rewire a->c, got %s -> %s", e.SrcNode, e.DstNode)
	}
	if e.Gain != 1.0 {
		t.Errorf("bypass gain = %v, want 1.0 (0.5*2.0)", e.Gain)
	}
}

func TestFindByType(t *testing.T) {
	g := New()
	g.AddNode(audioDescriptor("osc.sine"))
	g.AddNode(audioDescriptor("osc.saw"))
	g.AddNode(audioDescriptor("filter.lowpass"))

	found := g.FindByType("osc.")
	if len(found) != 2 {
		t.Errorf("FindByType(\"osc.\") = %d nodes, want 2", len(found))
	}
}
