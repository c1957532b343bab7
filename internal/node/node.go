// Package node supplies the daemon's built-in compiled.Factory registry:
// the node TypeIDs every fresh graph can use without an external plugin.
// Grounded on compiled_test.go's gainProcessor/sourceProcessor pattern and
// generalized into a registry keyed by TypeID, analogous to the teacher's
// NodeHandler registry in internal/flow/engine.go.
package node

import (
	"fmt"
	"math"

	"github.com/tobert/chaosgarden/internal/compiled"
	"github.com/tobert/chaosgarden/internal/graph"
	"github.com/tobert/chaosgarden/internal/prerender"
)

// TypeRegionBus is the one node type that drains the pre-render
// scheduler's ready queue each block and sums every matching-generation
// region buffer into its "out" port. A fresh graph needs exactly one of
// these feeding the master bus.
const TypeRegionBus = "region-bus"

// TypeGain scales its "in" input by a fixed factor into "out".
const TypeGain = "gain"

// TypeSilence ignores its inputs and emits silence, useful as a
// placeholder master sink before any region bus is wired in.
const TypeSilence = "silence"

// Registry builds the map[string]compiled.Factory the daemon hands to
// compiled.Compile. scheduler may be nil, in which case TypeRegionBus
// nodes always emit silence (e.g. before the first graph is populated).
func Registry(scheduler *prerender.Scheduler) map[string]compiled.Factory {
	return map[string]compiled.Factory{
		TypeRegionBus: func(n *graph.Node) (compiled.Processor, error) {
			return &regionBusProcessor{scheduler: scheduler}, nil
		},
		TypeGain: func(n *graph.Node) (compiled.Processor, error) {
			return &gainProcessor{gain: 1.0}, nil
		},
		TypeSilence: func(n *graph.Node) (compiled.Processor, error) {
			return &silenceProcessor{}, nil
		},
	}
}

// regionBusProcessor drains every ready, generation-current pre-rendered
// region buffer on each block and additively mixes it into "out".
type regionBusProcessor struct {
	scheduler *prerender.Scheduler
}

func (p *regionBusProcessor) Process(ctx *compiled.RenderContext) compiled.Outcome {
	out := ctx.Outputs["out"]
	if out == nil || out.Audio == nil {
		return compiled.Outcome{Result: compiled.ResultFailed, Reason: "region-bus: no out port"}
	}
	out.Audio.Zero()

	if p.scheduler == nil {
		return compiled.Outcome{Result: compiled.ResultSkipped}
	}

	drained := 0
	for {
		idx, buf, _, ok := p.scheduler.AcquireFresh()
		if !ok {
			break
		}
		out.Audio.AccumulateFrom(buf, 1.0)
		p.scheduler.Release(idx)
		drained++
	}

	if drained == 0 {
		return compiled.Outcome{Result: compiled.ResultSkipped}
	}
	return compiled.Outcome{Result: compiled.ResultOK}
}

// gainProcessor scales "in" by a fixed factor into "out".
type gainProcessor struct{ gain float32 }

func (p *gainProcessor) Process(ctx *compiled.RenderContext) compiled.Outcome {
	in := ctx.Inputs["in"]
	out := ctx.Outputs["out"]
	if out == nil || out.Audio == nil {
		return compiled.Outcome{Result: compiled.ResultFailed, Reason: "gain: no out port"}
	}
	if in == nil || in.Audio == nil {
		out.Audio.Zero()
		return compiled.Outcome{Result: compiled.ResultSkipped}
	}
	for i := range out.Audio.Data {
		v := in.Audio.Data[i] * p.gain
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return compiled.Outcome{Result: compiled.ResultFailed, Reason: fmt.Sprintf("gain: non-finite sample at %d", i)}
		}
		out.Audio.Data[i] = v
	}
	return compiled.Outcome{Result: compiled.ResultOK}
}

// silenceProcessor always emits zeroed output, ignoring inputs.
type silenceProcessor struct{}

func (p *silenceProcessor) Process(ctx *compiled.RenderContext) compiled.Outcome {
	out := ctx.Outputs["out"]
	if out == nil || out.Audio == nil {
		return compiled.Outcome{Result: compiled.ResultFailed, Reason: "silence: no out port"}
	}
	out.Audio.Zero()
	return compiled.Outcome{Result: compiled.ResultSkipped}
}
