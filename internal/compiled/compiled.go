// Package compiled implements the compiled, read-only, allocation-free
// projection of a processing graph described in spec.md §4.4: a fixed
// processing order, pre-allocated per-port buffers, a routing table, and
// per-node latency compensation delay lines.
package compiled

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/graph"
	"github.com/tobert/chaosgarden/internal/signal"
)

// Result is what a node's Process call reports for one block.
type Result int

const (
	// ResultOK means the node produced normal output.
	ResultOK Result = iota
	// ResultSkipped means the node intentionally produced no output this
	// block (e.g. an idle source); its output buffers are cleared.
	ResultSkipped
	// ResultFailed means the node could not process this block at all; it
	// is added to the failed-node set and excluded from future blocks
	// until the next recompilation (spec.md §9 Open Question, resolved:
	// recompilation clears the failed-node set).
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultSkipped:
		return "skipped"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the full return value of one node invocation.
type Outcome struct {
	Result Result
	Reason string
}

// PortBuffers bundles the four signal-kind buffers a port might carry; a
// real port uses exactly one. Using one struct (rather than an interface)
// keeps the render loop free of interface-dispatch allocation for the
// common audio case while still letting MIDI/control/trigger nodes share
// the same buffer table.
type PortBuffers struct {
	Kind    signal.Kind
	Audio   *signal.AudioBuffer
	MIDI    *signal.MIDIBuffer
	Control *signal.ControlBuffer
	Trigger *signal.TriggerBuffer
}

func (b *PortBuffers) zero() {
	switch b.Kind {
	case signal.Audio:
		b.Audio.Zero()
	case signal.MIDI:
		b.MIDI.Zero()
	case signal.Control:
		b.Control.Zero()
	case signal.Trigger:
		b.Trigger.Zero()
	}
}

func newPortBuffers(kind signal.Kind, blockFrames int) *PortBuffers {
	switch kind {
	case signal.Audio:
		return &PortBuffers{Kind: kind, Audio: signal.NewAudioBuffer(2, blockFrames)}
	case signal.MIDI:
		return &PortBuffers{Kind: kind, MIDI: signal.NewMIDIBuffer(64)}
	case signal.Control:
		return &PortBuffers{Kind: kind, Control: signal.NewControlBuffer(blockFrames)}
	case signal.Trigger:
		return &PortBuffers{Kind: kind, Trigger: signal.NewTriggerBuffer(16)}
	default:
		return &PortBuffers{Kind: kind}
	}
}

// portKey identifies one (node, port) pair for buffer and routing lookups.
type portKey struct {
	node uuid.UUID
	port string
}

// RenderContext is handed to a node's Process call: its gathered inputs and
// its own pre-allocated output buffers, for exactly one block.
type RenderContext struct {
	BlockFrames int
	SampleRate  int
	PositionBeat float64
	Inputs      map[string]*PortBuffers
	Outputs     map[string]*PortBuffers
}

// Processor is the uniform contract every node type implements, per
// spec.md §9: "a process(input_views, output_buffers) -> NodeResult
// function plus a latency accessor." A processor must never panic;
// runtime implementations are responsible for converting panics into
// ResultFailed (see Graph.renderNode).
type Processor interface {
	Process(ctx *RenderContext) Outcome
}

// Factory builds a Processor for a compiled node, given its descriptor.
// Registered per TypeID, analogous to the teacher's NodeHandler registry
// in internal/flow/engine.go.
type Factory func(n *graph.Node) (Processor, error)

// sourceRoute is one contributing edge for a destination input port.
type sourceRoute struct {
	srcKey portKey
	gain   float32
}

// delayLine is a simple ring-buffer latency compensator for one node's
// audio output, sized at compilation to the maximum upstream latency minus
// the node's own latency, so all branches reconverge time-aligned.
type delayLine struct {
	buf    []float32 // interleaved, capacity = delaySamples*channels
	chans  int
	frames int // delay depth in frames
	write  int
}

func newDelayLine(channels, delayFrames int) *delayLine {
	if delayFrames <= 0 {
		return nil
	}
	return &delayLine{buf: make([]float32, channels*delayFrames), chans: channels, frames: delayFrames}
}

// apply pushes in's frames through the delay line and writes the delayed
// frames back into in, in place. Called once per block on the hot path;
// allocates nothing.
func (d *delayLine) apply(in *signal.AudioBuffer) {
	if d == nil || d.frames == 0 {
		return
	}
	for f := 0; f < in.Frames; f++ {
		for c := 0; c < in.Channels; c++ {
			idx := f*in.Channels + c
			ringIdx := ((d.write+f)%d.frames)*d.chans + c
			out := d.buf[ringIdx]
			d.buf[ringIdx] = in.Data[idx]
			in.Data[idx] = out
		}
	}
	d.write = (d.write + in.Frames) % d.frames
}

// Graph is the compiled, realtime-safe projection described in spec.md
// §4.4. Immutable once built; swapped wholesale by a session for
// recompilation.
type Graph struct {
	order       []uuid.UUID
	processors  map[uuid.UUID]Processor
	nodes       map[uuid.UUID]*graph.Node
	buffers     map[portKey]*PortBuffers
	routing     map[portKey][]sourceRoute
	delays      map[uuid.UUID]*delayLine
	masterNode  uuid.UUID
	masterPort  string
	blockFrames int
	sampleRate  int
	failed      map[uuid.UUID]bool

	// nodeOutputs and nodeInputs are per-node views over buffers/inputBuffers,
	// built once at Compile time so Render and gatherInputs never allocate a
	// lookup map on the hot path.
	nodeOutputs  map[uuid.UUID]map[string]*PortBuffers
	nodeInputs   map[uuid.UUID]map[string]*PortBuffers
	inputBuffers map[portKey]*PortBuffers
	controlAccs  map[portKey]*signal.ControlAccumulator

	// renderCtx is refilled by renderNode for every node invocation, so the
	// hot path does not allocate a RenderContext per node.
	renderCtx RenderContext
}

// Compile builds a Graph from g's current structure. factories supplies a
// Processor constructor per node TypeID (ErrNoFactory if one is missing).
// masterNode/masterPort names the node+output port copied to the engine's
// output (spec.md §4.5 step 5).
func Compile(g *graph.Graph, factories map[string]Factory, blockFrames, sampleRate int, masterNode uuid.UUID, masterPort string) (*Graph, error) {
	order, err := g.ProcessingOrder()
	if err != nil {
		return nil, fmt.Errorf("compiled: %w", err)
	}

	cg := &Graph{
		order:        order,
		processors:   make(map[uuid.UUID]Processor, len(order)),
		nodes:        make(map[uuid.UUID]*graph.Node, len(order)),
		buffers:      make(map[portKey]*PortBuffers),
		routing:      make(map[portKey][]sourceRoute),
		delays:       make(map[uuid.UUID]*delayLine),
		masterNode:   masterNode,
		masterPort:   masterPort,
		blockFrames:  blockFrames,
		sampleRate:   sampleRate,
		failed:       make(map[uuid.UUID]bool),
		nodeOutputs:  make(map[uuid.UUID]map[string]*PortBuffers, len(order)),
		nodeInputs:   make(map[uuid.UUID]map[string]*PortBuffers, len(order)),
		inputBuffers: make(map[portKey]*PortBuffers),
		controlAccs:  make(map[portKey]*signal.ControlAccumulator),
	}

	latency := make(map[uuid.UUID]int64, len(order))
	for _, id := range order {
		n, err := g.Node(id)
		if err != nil {
			return nil, fmt.Errorf("compiled: %w", err)
		}
		cg.nodes[id] = n

		factory, ok := factories[n.TypeID]
		if !ok {
			return nil, fmt.Errorf("compiled: %w: %s", ErrNoFactory, n.TypeID)
		}
		proc, err := factory(n)
		if err != nil {
			return nil, fmt.Errorf("compiled: building processor for %s: %w", n.TypeID, err)
		}
		cg.processors[id] = proc

		outs := make(map[string]*PortBuffers, len(n.Outputs))
		for _, p := range n.Outputs {
			pb := newPortBuffers(p.Signal, blockFrames)
			cg.buffers[portKey{id, p.Name}] = pb
			outs[p.Name] = pb
		}
		cg.nodeOutputs[id] = outs

		ins := make(map[string]*PortBuffers, len(n.Inputs))
		for _, p := range n.Inputs {
			key := portKey{id, p.Name}
			pb := newPortBuffers(p.Signal, blockFrames)
			cg.inputBuffers[key] = pb
			ins[p.Name] = pb
			if p.Signal == signal.Control {
				cg.controlAccs[key] = signal.NewControlAccumulator(blockFrames)
			}
		}
		cg.nodeInputs[id] = ins

		maxUpstream := int64(0)
		for _, up := range g.Upstream(id) {
			if l := latency[up]; l > maxUpstream {
				maxUpstream = l
			}
		}
		latency[id] = maxUpstream + n.Latency()
		if delayFrames := int(maxUpstream - n.Latency()); delayFrames > 0 {
			cg.delays[id] = newDelayLine(2, delayFrames)
		}
	}

	for _, e := range g.Edges() {
		if !e.Active {
			continue
		}
		dst := portKey{e.DstNode, e.DstPort}
		cg.routing[dst] = append(cg.routing[dst], sourceRoute{srcKey: portKey{e.SrcNode, e.SrcPort}, gain: float32(e.Gain)})
	}

	return cg, nil
}

// ErrNoFactory is returned at compile time when a node's TypeID has no
// registered Factory.
var ErrNoFactory = fmt.Errorf("compiled: no processor factory registered")

// FailedNodes returns a snapshot of the nodes currently excluded from
// processing because they returned ResultFailed.
func (cg *Graph) FailedNodes() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(cg.failed))
	for id := range cg.failed {
		out = append(out, id)
	}
	return out
}

// MasterBuffer returns the designated master output's audio buffer (the
// one copied to the engine's output per spec.md §4.5 step 5).
func (cg *Graph) MasterBuffer() *signal.AudioBuffer {
	pb := cg.buffers[portKey{cg.masterNode, cg.masterPort}]
	if pb == nil {
		return nil
	}
	return pb.Audio
}

// Render invokes every node once, in topological order, gathering inputs
// per the routing table, merging per the destination port's signal kind,
// and applying latency compensation. It performs no allocation on its own
// (processors are responsible for their own allocation-free Process).
func (cg *Graph) Render(positionBeat float64, onNodeResult func(id uuid.UUID, o Outcome)) {
	for _, id := range cg.order {
		n := cg.nodes[id]

		outputs := cg.nodeOutputs[id]

		if cg.failed[id] {
			for _, pb := range outputs {
				pb.zero()
			}
			continue
		}

		inputs := cg.gatherInputs(id, n)

		outcome := cg.renderNode(id, inputs, outputs, positionBeat)
		if onNodeResult != nil {
			onNodeResult(id, outcome)
		}

		switch outcome.Result {
		case ResultSkipped:
			for _, pb := range outputs {
				pb.zero()
			}
		case ResultFailed:
			cg.failed[id] = true
			for _, pb := range outputs {
				pb.zero()
			}
		}

		if dl := cg.delays[id]; dl != nil {
			for _, pb := range outputs {
				if pb.Kind == signal.Audio {
					dl.apply(pb.Audio)
				}
			}
		}
	}
}

// renderNode invokes one node's Process, converting any panic into
// ResultFailed so a misbehaving node can never take down the realtime
// thread (spec.md §4.5).
func (cg *Graph) renderNode(id uuid.UUID, inputs, outputs map[string]*PortBuffers, positionBeat float64) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{Result: ResultFailed, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	ctx := &cg.renderCtx
	ctx.BlockFrames = cg.blockFrames
	ctx.SampleRate = cg.sampleRate
	ctx.PositionBeat = positionBeat
	ctx.Inputs = inputs
	ctx.Outputs = outputs
	return cg.processors[id].Process(ctx)
}

// gatherInputs zeroes and refills this node's pre-allocated input merge
// buffers (built once in Compile) from the routing table. It allocates
// nothing: no lookup map, no per-port buffer, no control accumulator.
func (cg *Graph) gatherInputs(id uuid.UUID, n *graph.Node) map[string]*PortBuffers {
	inputs := cg.nodeInputs[id]

	for _, p := range n.Inputs {
		key := portKey{id, p.Name}
		sources := cg.routing[key]
		in := inputs[p.Name]
		in.zero()

		switch p.Signal {
		case signal.Audio:
			for _, src := range sources {
				srcBuf := cg.buffers[src.srcKey]
				if srcBuf == nil || srcBuf.Audio == nil {
					continue
				}
				in.Audio.AccumulateFrom(srcBuf.Audio, src.gain)
			}
		case signal.MIDI:
			for _, src := range sources {
				srcBuf := cg.buffers[src.srcKey]
				if srcBuf == nil || srcBuf.MIDI == nil {
					continue
				}
				in.MIDI.MergeFrom(srcBuf.MIDI)
			}
		case signal.Control:
			acc := cg.controlAccs[key]
			acc.Reset()
			for _, src := range sources {
				srcBuf := cg.buffers[src.srcKey]
				if srcBuf == nil || srcBuf.Control == nil {
					continue
				}
				acc.Add(srcBuf.Control)
			}
			acc.Finish(in.Control)
		case signal.Trigger:
			for _, src := range sources {
				srcBuf := cg.buffers[src.srcKey]
				if srcBuf == nil || srcBuf.Trigger == nil {
					continue
				}
				in.Trigger.MergeFrom(srcBuf.Trigger)
			}
		}
	}
	return inputs
}
