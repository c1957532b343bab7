package compiled

import (
	"testing"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/graph"
	"github.com/tobert/chaosgarden/internal/signal"
)

// gainProcessor scales its "in" audio input by a fixed factor into "out".
type gainProcessor struct{ gain float32 }

func (p *gainProcessor) Process(ctx *RenderContext) Outcome {
	in := ctx.Inputs["in"]
	out := ctx.Outputs["out"]
	if in == nil || in.Audio == nil {
		out.Audio.Zero()
		return Outcome{Result: ResultOK}
	}
	for i := range out.Audio.Data {
		out.Audio.Data[i] = in.Audio.Data[i] * p.gain
	}
	return Outcome{Result: ResultOK}
}

// sourceProcessor fills "out" with a constant value, ignoring inputs.
type sourceProcessor struct{ value float32 }

func (p *sourceProcessor) Process(ctx *RenderContext) Outcome {
	out := ctx.Outputs["out"]
	for i := range out.Audio.Data {
		out.Audio.Data[i] = p.value
	}
	return Outcome{Result: ResultOK}
}

// failProcessor always fails.
type failProcessor struct{}

func (p *failProcessor) Process(ctx *RenderContext) Outcome {
	return Outcome{Result: ResultFailed, Reason: "boom"}
}

func audioPorts() ([]graph.Port, []graph.Port) {
	return []graph.Port{{Name: "in", Signal: signal.Audio}}, []graph.Port{{Name: "out", Signal: signal.Audio}}
}

func TestCompileAndRenderAppliesGain(t *testing.T) {
	g := graph.New()
	in, out := audioPorts()
	src := g.AddNode(graph.Descriptor{TypeID: "source", Outputs: out})
	gain := g.AddNode(graph.Descriptor{TypeID: "gain", Inputs: in, Outputs: out})
	if _, err := g.Connect(src, "out", gain, "in", 1.0); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	factories := map[string]Factory{
		"source": func(n *graph.Node) (Processor, error) { return &sourceProcessor{value: 1.0}, nil },
		"gain":   func(n *graph.Node) (Processor, error) { return &gainProcessor{gain: 0.5}, nil },
	}

	cg, err := Compile(g, factories, 8, 48000, gain, "out")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	cg.Render(0, nil)

	master := cg.MasterBuffer()
	if master == nil {
		t.Fatal("MasterBuffer() returned nil")
	}
	for _, v := range master.Data {
		if v != 0.5 {
			t.Errorf("master sample = %v, want 0.5", v)
		}
	}
}

func TestCompileRejectsUnknownTypeID(t *testing.T) {
	g := graph.New()
	g.AddNode(graph.Descriptor{TypeID: "mystery"})
	if _, err := Compile(g, map[string]Factory{}, 8, 48000, [16]byte{}, "out"); err == nil {
		t.Error("Compile() with no factory for node type should error")
	}
}

func TestFailedNodeIsExcludedAndZeroed(t *testing.T) {
	g := graph.New()
	in, out := audioPorts()
	src := g.AddNode(graph.Descriptor{TypeID: "source", Outputs: out})
	bad := g.AddNode(graph.Descriptor{TypeID: "bad", Inputs: in, Outputs: out})
	if _, err := g.Connect(src, "out", bad, "in", 1.0); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	factories := map[string]Factory{
		"source": func(n *graph.Node) (Processor, error) { return &sourceProcessor{value: 1.0}, nil },
		"bad":    func(n *graph.Node) (Processor, error) { return &failProcessor{}, nil },
	}

	cg, err := Compile(g, factories, 8, 48000, bad, "out")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	var sawFailed bool
	cg.Render(0, func(id uuid.UUID, o Outcome) {
		if id == bad && o.Result == ResultFailed {
			sawFailed = true
		}
	})
	if !sawFailed {
		t.Error("expected bad node to report ResultFailed")
	}

	master := cg.MasterBuffer()
	for _, v := range master.Data {
		if v != 0 {
			t.Errorf("failed node's output should be zeroed, got %v", v)
		}
	}

	failed := cg.FailedNodes()
	if len(failed) != 1 || failed[0] != bad {
		t.Errorf("FailedNodes() = %v, want [%v]", failed, bad)
	}

	// Second render: still excluded and still zeroed, without re-invoking
	// the failing processor (its Process would again return Failed, but we
	// assert the output stays at zero either way).
	cg.Render(0, nil)
	master = cg.MasterBuffer()
	for _, v := range master.Data {
		if v != 0 {
			t.Errorf("failed node's output should remain zeroed on subsequent blocks, got %v", v)
		}
	}
}
