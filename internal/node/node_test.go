package node

import (
	"testing"

	"github.com/tobert/chaosgarden/internal/compiled"
	"github.com/tobert/chaosgarden/internal/graph"
	"github.com/tobert/chaosgarden/internal/signal"
)

func TestRegistryHasBuiltinTypes(t *testing.T) {
	reg := Registry(nil)
	for _, typ := range []string{TypeRegionBus, TypeGain, TypeSilence} {
		if _, ok := reg[typ]; !ok {
			t.Errorf("Registry() missing factory for %q", typ)
		}
	}
}

func newCtx(blockFrames int) *compiled.RenderContext {
	return &compiled.RenderContext{
		BlockFrames: blockFrames,
		Inputs:      map[string]*compiled.PortBuffers{},
		Outputs:     map[string]*compiled.PortBuffers{},
	}
}

func TestSilenceProcessorZerosOutput(t *testing.T) {
	reg := Registry(nil)
	proc, err := reg[TypeSilence](&graph.Node{})
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}

	ctx := newCtx(4)
	out := &compiled.PortBuffers{Kind: signal.Audio, Audio: signal.NewAudioBuffer(1, 4)}
	for i := range out.Audio.Data {
		out.Audio.Data[i] = 1
	}
	ctx.Outputs["out"] = out

	outcome := proc.Process(ctx)
	if outcome.Result != compiled.ResultSkipped {
		t.Errorf("Result = %v, want ResultSkipped", outcome.Result)
	}
	for i, v := range out.Audio.Data {
		if v != 0 {
			t.Errorf("Data[%d] = %v, want 0", i, v)
		}
	}
}

func TestGainProcessorScalesInput(t *testing.T) {
	reg := Registry(nil)
	proc, err := reg[TypeGain](&graph.Node{})
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}

	ctx := newCtx(2)
	in := &compiled.PortBuffers{Kind: signal.Audio, Audio: signal.NewAudioBuffer(1, 2)}
	in.Audio.Data[0] = 2
	in.Audio.Data[1] = -4
	out := &compiled.PortBuffers{Kind: signal.Audio, Audio: signal.NewAudioBuffer(1, 2)}
	ctx.Inputs["in"] = in
	ctx.Outputs["out"] = out

	outcome := proc.Process(ctx)
	if outcome.Result != compiled.ResultOK {
		t.Errorf("Result = %v, want ResultOK", outcome.Result)
	}
	// factory default gain is 1.0, so output should equal input.
	if out.Audio.Data[0] != 2 || out.Audio.Data[1] != -4 {
		t.Errorf("Data = %v, want [2 -4]", out.Audio.Data)
	}
}

func TestGainProcessorSkipsWithoutInput(t *testing.T) {
	reg := Registry(nil)
	proc, err := reg[TypeGain](&graph.Node{})
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}

	ctx := newCtx(2)
	ctx.Outputs["out"] = &compiled.PortBuffers{Kind: signal.Audio, Audio: signal.NewAudioBuffer(1, 2)}

	outcome := proc.Process(ctx)
	if outcome.Result != compiled.ResultSkipped {
		t.Errorf("Result = %v, want ResultSkipped", outcome.Result)
	}
}

func TestRegionBusProcessorSkipsWithNoScheduler(t *testing.T) {
	reg := Registry(nil)
	proc, err := reg[TypeRegionBus](&graph.Node{})
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}

	ctx := newCtx(2)
	ctx.Outputs["out"] = &compiled.PortBuffers{Kind: signal.Audio, Audio: signal.NewAudioBuffer(1, 2)}

	outcome := proc.Process(ctx)
	if outcome.Result != compiled.ResultSkipped {
		t.Errorf("Result = %v, want ResultSkipped", outcome.Result)
	}
}
