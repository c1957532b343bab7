package signal

import "testing"

func TestAudioBufferAccumulateFrom(t *testing.T) {
	dst := NewAudioBuffer(1, 4)
	src := NewAudioBuffer(1, 4)
	src.Data = []float32{1, 2, 3, 4}

	dst.AccumulateFrom(src, 0.5)
	want := []float32{0.5, 1, 1.5, 2}
	for i, w := range want {
		if dst.Data[i] != w {
			t.Errorf("Data[%d] = %v, want %v", i, dst.Data[i], w)
		}
	}

	dst.AccumulateFrom(src, 1.0)
	want2 := []float32{1.5, 3, 4.5, 6}
	for i, w := range want2 {
		if dst.Data[i] != w {
			t.Errorf("after second accumulate, Data[%d] = %v, want %v", i, dst.Data[i], w)
		}
	}
}

func TestMIDIBufferMergeStableUnion(t *testing.T) {
	a := NewMIDIBuffer(4)
	a.Events = append(a.Events, MIDIEvent{FrameOffset: 10, UpstreamSeq: 0, Bytes: []byte{0x90}})
	b := NewMIDIBuffer(4)
	b.Events = append(b.Events, MIDIEvent{FrameOffset: 10, UpstreamSeq: 1, Bytes: []byte{0x80}})
	b.Events = append(b.Events, MIDIEvent{FrameOffset: 5, UpstreamSeq: 1, Bytes: []byte{0xB0}})

	a.MergeFrom(b)

	if len(a.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(a.Events))
	}
	if a.Events[0].FrameOffset != 5 {
		t.Errorf("first event should be the earliest frame offset, got %d", a.Events[0].FrameOffset)
	}
	// Ties at frame 10 are ordered by UpstreamSeq: a's own event
	// (UpstreamSeq 0) comes before b's (UpstreamSeq 1).
	if a.Events[1].UpstreamSeq != 0 || a.Events[2].UpstreamSeq != 1 {
		t.Errorf("tie-break did not preserve upstream ordering: %+v", a.Events[1:])
	}
}

func TestControlAccumulatorAverages(t *testing.T) {
	acc := NewControlAccumulator(2)
	in1 := &ControlBuffer{Frames: 2, Data: []float32{1, 1}}
	in2 := &ControlBuffer{Frames: 2, Data: []float32{3, 5}}

	acc.Add(in1)
	acc.Add(in2)

	dst := NewControlBuffer(2)
	acc.Finish(dst)

	if dst.Data[0] != 2 || dst.Data[1] != 3 {
		t.Errorf("Finish() = %v, want [2 3]", dst.Data)
	}
}

func TestControlAccumulatorNoInputsZeroesOutput(t *testing.T) {
	acc := NewControlAccumulator(2)
	dst := &ControlBuffer{Frames: 2, Data: []float32{9, 9}}
	acc.Finish(dst)
	if dst.Data[0] != 0 || dst.Data[1] != 0 {
		t.Errorf("Finish() with no inputs = %v, want [0 0]", dst.Data)
	}
}

func TestTriggerBufferMergeSortedUnion(t *testing.T) {
	a := NewTriggerBuffer(2)
	a.Events = append(a.Events, TriggerEvent{FrameOffset: 20})
	b := NewTriggerBuffer(2)
	b.Events = append(b.Events, TriggerEvent{FrameOffset: 3})

	a.MergeFrom(b)
	if len(a.Events) != 2 || a.Events[0].FrameOffset != 3 {
		t.Errorf("MergeFrom() did not sort by frame offset: %+v", a.Events)
	}
}
