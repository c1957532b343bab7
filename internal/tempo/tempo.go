// Package tempo implements the TempoMap described in spec.md §3/§4.1: the
// single authoritative, monotone piecewise-linear map between beat, second,
// and sample domains.
package tempo

import (
	"errors"
	"fmt"
	"sync"
)

// Beat is a musical-time position or duration, expressed in quarter notes.
type Beat float64

// Second is a wall-clock duration or position.
type Second float64

// Sample is an integer sample index at a given sample rate.
type Sample int64

// ErrMonotonicityViolation is returned when inserting a segment would break
// the strictly-increasing beat/second invariant.
var ErrMonotonicityViolation = errors.New("tempomap: segment insertion violates monotonicity")

// ErrEmptyMap is returned by operations that require at least one segment.
var ErrEmptyMap = errors.New("tempomap: no segments defined")

// Segment is one piece of the piecewise-linear tempo map: from StartBeat /
// StartSecond onward, tempo is constant at BPM until the next segment
// begins.
type Segment struct {
	StartBeat   Beat
	StartSecond Second
	BPM         float64
}

// secondsPerBeat converts this segment's tempo to seconds-per-beat.
func (s Segment) secondsPerBeat() float64 {
	return 60.0 / s.BPM
}

// Map is the authoritative beat/second/sample correspondence. It is the
// only component permitted to interconvert between the three time domains
// (spec.md §3). Held behind a reader-writer lock: playback takes a read
// lock per buffer, writes (tempo changes) are rare.
type Map struct {
	mu       sync.RWMutex
	segments []Segment
}

// NewMap creates a TempoMap with a single base-tempo segment starting at
// beat 0, second 0.
func NewMap(baseBPM float64) *Map {
	return &Map{segments: []Segment{{StartBeat: 0, StartSecond: 0, BPM: baseBPM}}}
}

// SetBaseTempo replaces the tempo of the first segment (beat 0). Existing
// later segments are left in place; callers wanting a clean single-tempo
// map should construct a new Map instead.
func (m *Map) SetBaseTempo(bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("tempomap: bpm must be positive, got %v", bpm)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.segments) == 0 {
		m.segments = []Segment{{StartBeat: 0, StartSecond: 0, BPM: bpm}}
		return nil
	}
	m.segments[0].BPM = bpm
	return nil
}

// InsertSegment appends or inserts a new tempo segment. The resulting
// sequence must remain strictly increasing in both beat and second; if it
// would not, the map is left unchanged and ErrMonotonicityViolation is
// returned.
func (m *Map) InsertSegment(startBeat Beat, bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("tempomap: bpm must be positive, got %v", bpm)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.segments) == 0 {
		return ErrEmptyMap
	}

	startSecond, err := m.beatToSecondLocked(startBeat)
	if err != nil {
		return err
	}

	idx := len(m.segments)
	for i, seg := range m.segments {
		if seg.StartBeat == startBeat {
			// Replacing the tempo from this point forward.
			m.segments[i].BPM = bpm
			return nil
		}
		if seg.StartBeat > startBeat {
			idx = i
			break
		}
	}

	if idx > 0 {
		prev := m.segments[idx-1]
		if !(prev.StartBeat < startBeat && prev.StartSecond < startSecond) {
			return ErrMonotonicityViolation
		}
	}
	if idx < len(m.segments) {
		next := m.segments[idx]
		if !(startBeat < next.StartBeat && startSecond < next.StartSecond) {
			return ErrMonotonicityViolation
		}
	}

	seg := Segment{StartBeat: startBeat, StartSecond: startSecond, BPM: bpm}
	m.segments = append(m.segments, Segment{})
	copy(m.segments[idx+1:], m.segments[idx:])
	m.segments[idx] = seg
	return nil
}

// segmentForBeat returns the segment governing the given beat. Caller must
// hold at least a read lock.
func (m *Map) segmentForBeat(b Beat) (Segment, error) {
	if len(m.segments) == 0 {
		return Segment{}, ErrEmptyMap
	}
	seg := m.segments[0]
	for _, s := range m.segments[1:] {
		if s.StartBeat > b {
			break
		}
		seg = s
	}
	return seg, nil
}

// segmentForSecond returns the segment governing the given second. Caller
// must hold at least a read lock.
func (m *Map) segmentForSecond(s Second) (Segment, error) {
	if len(m.segments) == 0 {
		return Segment{}, ErrEmptyMap
	}
	seg := m.segments[0]
	for _, cand := range m.segments[1:] {
		if cand.StartSecond > s {
			break
		}
		seg = cand
	}
	return seg, nil
}

func (m *Map) beatToSecondLocked(b Beat) (Second, error) {
	seg, err := m.segmentForBeat(b)
	if err != nil {
		return 0, err
	}
	return seg.StartSecond + Second(float64(b-seg.StartBeat)*seg.secondsPerBeat()), nil
}

// BeatToSecond converts a beat position to a wall-clock second, exact at
// segment boundaries and piecewise-linear between them.
func (m *Map) BeatToSecond(b Beat) (Second, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.beatToSecondLocked(b)
}

// SecondToBeat converts a wall-clock second to a beat position.
func (m *Map) SecondToBeat(s Second) (Beat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, err := m.segmentForSecond(s)
	if err != nil {
		return 0, err
	}
	beatsElapsed := float64(s-seg.StartSecond) / seg.secondsPerBeat()
	return seg.StartBeat + Beat(beatsElapsed), nil
}

// BeatToSample converts a beat position to an integer sample index at the
// given sample rate.
func (m *Map) BeatToSample(b Beat, sampleRate int) (Sample, error) {
	sec, err := m.BeatToSecond(b)
	if err != nil {
		return 0, err
	}
	return Sample(float64(sec) * float64(sampleRate)), nil
}

// SampleToBeat converts a sample index at the given sample rate back to a
// beat position.
func (m *Map) SampleToBeat(i Sample, sampleRate int) (Beat, error) {
	sec := Second(float64(i) / float64(sampleRate))
	return m.SecondToBeat(sec)
}

// TempoAt returns the tempo, in beats per minute, in effect at the given
// beat.
func (m *Map) TempoAt(b Beat) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, err := m.segmentForBeat(b)
	if err != nil {
		return 0, err
	}
	return seg.BPM, nil
}

// Segments returns a copy of the current segment list, for diagnostics and
// the query adapter's snapshot reads.
func (m *Map) Segments() []Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Segment, len(m.segments))
	copy(out, m.segments)
	return out
}
