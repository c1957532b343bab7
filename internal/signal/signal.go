// Package signal implements the four fixed-capacity signal buffer variants
// of spec.md §3 (audio, MIDI, control, trigger) and their per-type merge
// semantics, used by the processing graph (internal/graph) and the
// compiled, allocation-free render path (internal/compiled).
package signal

// Kind identifies which of the four signal variants a port carries.
type Kind int

const (
	Audio Kind = iota
	MIDI
	Control
	Trigger
)

func (k Kind) String() string {
	switch k {
	case Audio:
		return "audio"
	case MIDI:
		return "midi"
	case Control:
		return "control"
	case Trigger:
		return "trigger"
	default:
		return "unknown"
	}
}

// AudioBuffer is an interleaved float32 buffer of fixed frame count and
// channel count, pre-allocated at graph compilation. Merge is additive sum
// with a per-edge scalar gain.
type AudioBuffer struct {
	Channels int
	Frames   int
	Data     []float32 // len == Channels*Frames
}

// NewAudioBuffer allocates a zeroed audio buffer for the given channel
// count and frame count. Not called on the realtime thread after graph
// compilation.
func NewAudioBuffer(channels, frames int) *AudioBuffer {
	return &AudioBuffer{Channels: channels, Frames: frames, Data: make([]float32, channels*frames)}
}

// Zero clears the buffer in place without reallocating.
func (b *AudioBuffer) Zero() {
	for i := range b.Data {
		b.Data[i] = 0
	}
}

// AccumulateFrom sums src*gain into b. Both buffers must share shape; it is
// the caller's responsibility (the compiled graph) to guarantee this at
// compilation time, so no allocation or error path exists on this hot path.
func (b *AudioBuffer) AccumulateFrom(src *AudioBuffer, gain float32) {
	n := len(b.Data)
	if len(src.Data) < n {
		n = len(src.Data)
	}
	for i := 0; i < n; i++ {
		b.Data[i] += src.Data[i] * gain
	}
}

// MIDIEvent is a single timestamped MIDI message within one render block.
type MIDIEvent struct {
	FrameOffset int
	UpstreamSeq int // preserves upstream-node ordering for ties
	Bytes       []byte
}

// MIDIBuffer is a frame-ordered event list. Merge is a stable sorted union:
// ties on FrameOffset are ordered by UpstreamSeq (upstream-node ordering,
// per spec.md §3), and events equal in both keep the order they were
// appended.
type MIDIBuffer struct {
	Events []MIDIEvent
}

// NewMIDIBuffer allocates an empty MIDI buffer with room for cap events.
func NewMIDIBuffer(cap int) *MIDIBuffer {
	return &MIDIBuffer{Events: make([]MIDIEvent, 0, cap)}
}

// Zero clears the event list without reallocating its backing array.
func (b *MIDIBuffer) Zero() {
	b.Events = b.Events[:0]
}

// MergeFrom merges src's events into b, maintaining frame-offset order with
// stable tie-breaking. Uses an in-place insertion sort rather than
// sort.SliceStable so it allocates nothing on the render path.
func (b *MIDIBuffer) MergeFrom(src *MIDIBuffer) {
	b.Events = append(b.Events, src.Events...)
	for i := 1; i < len(b.Events); i++ {
		e := b.Events[i]
		j := i - 1
		for j >= 0 && midiLess(e, b.Events[j]) {
			b.Events[j+1] = b.Events[j]
			j--
		}
		b.Events[j+1] = e
	}
}

func midiLess(a, b MIDIEvent) bool {
	if a.FrameOffset != b.FrameOffset {
		return a.FrameOffset < b.FrameOffset
	}
	return a.UpstreamSeq < b.UpstreamSeq
}

// ControlBuffer holds one scalar control value per frame. Merge is an
// average across inputs (not a sum), per spec.md §3.
type ControlBuffer struct {
	Frames int
	Data   []float32
}

// NewControlBuffer allocates a zeroed control buffer.
func NewControlBuffer(frames int) *ControlBuffer {
	return &ControlBuffer{Frames: frames, Data: make([]float32, frames)}
}

// Zero clears the buffer in place.
func (b *ControlBuffer) Zero() {
	for i := range b.Data {
		b.Data[i] = 0
	}
}

// ControlAccumulator averages N>=1 ControlBuffer inputs into one output
// buffer without allocating, by tracking a running sum and dividing once at
// Finish.
type ControlAccumulator struct {
	sum   []float32
	count int
}

// NewControlAccumulator allocates an accumulator sized to frames, reused
// across render blocks by the compiled graph.
func NewControlAccumulator(frames int) *ControlAccumulator {
	return &ControlAccumulator{sum: make([]float32, frames)}
}

// Reset zeroes the accumulator for the next block.
func (a *ControlAccumulator) Reset() {
	for i := range a.sum {
		a.sum[i] = 0
	}
	a.count = 0
}

// Add folds one input buffer into the running sum.
func (a *ControlAccumulator) Add(src *ControlBuffer) {
	n := len(a.sum)
	if len(src.Data) < n {
		n = len(src.Data)
	}
	for i := 0; i < n; i++ {
		a.sum[i] += src.Data[i]
	}
	a.count++
}

// Finish divides the running sum by the number of inputs folded in and
// writes the average into dst. If no inputs were added, dst is zeroed.
func (a *ControlAccumulator) Finish(dst *ControlBuffer) {
	if a.count == 0 {
		dst.Zero()
		return
	}
	inv := 1.0 / float32(a.count)
	n := len(dst.Data)
	if len(a.sum) < n {
		n = len(a.sum)
	}
	for i := 0; i < n; i++ {
		dst.Data[i] = a.sum[i] * inv
	}
}

// TriggerEvent is a sparse, instantaneous event at a given frame offset.
type TriggerEvent struct {
	FrameOffset int
	UpstreamSeq int
	Payload     []byte
}

// TriggerBuffer holds sparse trigger events for one block. Merge is a
// union sorted by frame offset, same tie-break rule as MIDI.
type TriggerBuffer struct {
	Events []TriggerEvent
}

// NewTriggerBuffer allocates an empty trigger buffer with room for cap
// events.
func NewTriggerBuffer(cap int) *TriggerBuffer {
	return &TriggerBuffer{Events: make([]TriggerEvent, 0, cap)}
}

// Zero clears the event list without reallocating its backing array.
func (b *TriggerBuffer) Zero() {
	b.Events = b.Events[:0]
}

// MergeFrom merges src's events into b, sorted by frame offset with stable
// upstream-order tie-breaking. Uses an in-place insertion sort rather than
// sort.SliceStable so it allocates nothing on the render path.
func (b *TriggerBuffer) MergeFrom(src *TriggerBuffer) {
	b.Events = append(b.Events, src.Events...)
	for i := 1; i < len(b.Events); i++ {
		e := b.Events[i]
		j := i - 1
		for j >= 0 && triggerLess(e, b.Events[j]) {
			b.Events[j+1] = b.Events[j]
			j--
		}
		b.Events[j+1] = e
	}
}

func triggerLess(a, b TriggerEvent) bool {
	if a.FrameOffset != b.FrameOffset {
		return a.FrameOffset < b.FrameOffset
	}
	return a.UpstreamSeq < b.UpstreamSeq
}
