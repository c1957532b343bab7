package tempo

import (
	"math"
	"testing"
)

func TestBeatToSecondSingleSegment(t *testing.T) {
	m := NewMap(120)

	sec, err := m.BeatToSecond(4.0)
	if err != nil {
		t.Fatalf("BeatToSecond() error: %v", err)
	}
	if sec != 2.0 {
		t.Errorf("BeatToSecond(4.0) = %v, want 2.0", sec)
	}

	sample, err := m.BeatToSample(4.0, 48000)
	if err != nil {
		t.Fatalf("BeatToSample() error: %v", err)
	}
	if sample != 96000 {
		t.Errorf("BeatToSample(4.0, 48000) = %v, want 96000", sample)
	}
}

func TestBeatToSecondAcrossTempoChange(t *testing.T) {
	m := NewMap(120)
	if err := m.InsertSegment(8.0, 140); err != nil {
		t.Fatalf("InsertSegment() error: %v", err)
	}

	sec, err := m.BeatToSecond(10.0)
	if err != nil {
		t.Fatalf("BeatToSecond() error: %v", err)
	}
	want := 4.0 + 2*(60.0/140.0)
	if math.Abs(float64(sec)-want) > 1e-6 {
		t.Errorf("BeatToSecond(10.0) = %v, want %v", sec, want)
	}
}

func TestSecondToBeatRoundTrip(t *testing.T) {
	m := NewMap(96)
	if err := m.InsertSegment(16.0, 70); err != nil {
		t.Fatalf("InsertSegment() error: %v", err)
	}
	if err := m.InsertSegment(32.0, 150); err != nil {
		t.Fatalf("InsertSegment() error: %v", err)
	}

	for _, b := range []Beat{0, 3.5, 16.0, 20.25, 32.0, 40.0} {
		sec, err := m.BeatToSecond(b)
		if err != nil {
			t.Fatalf("BeatToSecond(%v) error: %v", b, err)
		}
		got, err := m.SecondToBeat(sec)
		if err != nil {
			t.Fatalf("SecondToBeat(%v) error: %v", sec, err)
		}
		if math.Abs(float64(got-b)) > 1e-9 {
			t.Errorf("round trip for beat %v: got %v", b, got)
		}
	}
}

func TestInsertSegmentRejectsNonMonotonicBeat(t *testing.T) {
	m := NewMap(120)
	if err := m.InsertSegment(8.0, 140); err != nil {
		t.Fatalf("InsertSegment() error: %v", err)
	}

	// This beat sits after segment 2 starts but would need to land before it
	// in second-space given the faster tempo in between; more directly,
	// inserting at a beat that does not fall strictly between existing
	// segments' beat AND second domains must fail.
	if err := m.InsertSegment(4.0, 1000000); err == nil {
		t.Error("expected monotonicity violation, got nil")
	} else if err != ErrMonotonicityViolation {
		t.Errorf("expected ErrMonotonicityViolation, got %v", err)
	}
}

func TestTempoAt(t *testing.T) {
	m := NewMap(120)
	if err := m.InsertSegment(8.0, 140); err != nil {
		t.Fatalf("InsertSegment() error: %v", err)
	}

	bpm, err := m.TempoAt(4.0)
	if err != nil {
		t.Fatalf("TempoAt() error: %v", err)
	}
	if bpm != 120 {
		t.Errorf("TempoAt(4.0) = %v, want 120", bpm)
	}

	bpm, err = m.TempoAt(10.0)
	if err != nil {
		t.Fatalf("TempoAt() error: %v", err)
	}
	if bpm != 140 {
		t.Errorf("TempoAt(10.0) = %v, want 140", bpm)
	}
}

func TestSetBaseTempoRejectsNonPositive(t *testing.T) {
	m := NewMap(120)
	if err := m.SetBaseTempo(0); err == nil {
		t.Error("expected error for zero bpm")
	}
	if err := m.SetBaseTempo(-10); err == nil {
		t.Error("expected error for negative bpm")
	}
}
