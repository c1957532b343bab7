// Package playback implements the realtime playback engine of spec.md
// §4.5: per-block rendering over a compiled graph, transport control, and
// mix-in timing of approved latent regions. Process allocates nothing of its
// own; besides atomic loads and brief RWMutex reads it takes the engine's
// and the latent manager's mutexes while checking the mix-in queue (see
// Engine.Process).
package playback

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/tobert/chaosgarden/internal/compiled"
	"github.com/tobert/chaosgarden/internal/latent"
	"github.com/tobert/chaosgarden/internal/signal"
	"github.com/tobert/chaosgarden/internal/tempo"
)

// TransportState is the playback engine's lifecycle state.
type TransportState int32

const (
	// TransportStopped is the initial state: position is 0, nothing plays.
	TransportStopped TransportState = iota
	// TransportPlaying advances position every block.
	TransportPlaying
	// TransportPaused holds position without advancing it.
	TransportPaused
)

func (s TransportState) String() string {
	switch s {
	case TransportStopped:
		return "stopped"
	case TransportPlaying:
		return "playing"
	case TransportPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ErrNoCompiledGraph is returned by Process when no compiled graph has
// been installed yet.
var ErrNoCompiledGraph = errors.New("playback: no compiled graph installed")

// activeMixIn tracks one in-progress mix-in and how far it has run,
// measured in beats per the resolved Open Question.
type activeMixIn struct {
	plan        latent.MixInPlan
	elapsedBeat float64
}

// Engine is the realtime-safe playback loop. One Engine corresponds to one
// transport/session; it owns no goroutines of its own — the caller (the
// audio callback or a prerender-fed block consumer) drives Process.
type Engine struct {
	state     atomic.Int32 // TransportState
	posBits   atomic.Uint64 // math.Float64bits(beat position)
	generation atomic.Uint64

	mu      sync.RWMutex
	cg      *compiled.Graph
	tmap    *tempo.Map
	sampleRate int
	latentMgr *latent.Manager

	activeMu sync.Mutex
	active   *activeMixIn
}

// New creates a stopped Engine against the given tempo map, sample rate,
// and latent manager (which supplies the mix-in queue).
func New(tmap *tempo.Map, sampleRate int, latentMgr *latent.Manager) *Engine {
	e := &Engine{tmap: tmap, sampleRate: sampleRate, latentMgr: latentMgr}
	e.state.Store(int32(TransportStopped))
	return e
}

// InstallGraph swaps in a newly compiled graph, bumping the generation
// counter so consumers (e.g. the pre-render scheduler) can detect and
// invalidate stale lookahead work.
func (e *Engine) InstallGraph(cg *compiled.Graph) {
	e.mu.Lock()
	e.cg = cg
	e.mu.Unlock()
	e.generation.Add(1)
}

// Generation returns the current graph generation, bumped on every
// InstallGraph and every Seek.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// State returns the current transport state.
func (e *Engine) State() TransportState {
	return TransportState(e.state.Load())
}

// TransportStateLabel returns the current transport state's string label,
// for use as a metrics/log value without exposing the TransportState type
// itself to callers that only want to report it.
func (e *Engine) TransportStateLabel() string {
	return e.State().String()
}

// FailedNodeCount reports how many nodes in the currently installed compiled
// graph are excluded from rendering after a panic or processor error. It
// returns 0 if no graph has been installed yet.
func (e *Engine) FailedNodeCount() int {
	e.mu.RLock()
	cg := e.cg
	e.mu.RUnlock()
	if cg == nil {
		return 0
	}
	return len(cg.FailedNodes())
}

// PositionBeat returns the current playback position in beats.
func (e *Engine) PositionBeat() tempo.Beat {
	return tempo.Beat(math.Float64frombits(e.posBits.Load()))
}

func (e *Engine) setPositionBeat(b tempo.Beat) {
	e.posBits.Store(math.Float64bits(float64(b)))
}

// Play starts or resumes playback.
func (e *Engine) Play() {
	e.state.Store(int32(TransportPlaying))
}

// Pause holds the transport without resetting position.
func (e *Engine) Pause() {
	e.state.Store(int32(TransportPaused))
}

// Stop halts playback and resets position to the start.
func (e *Engine) Stop() {
	e.state.Store(int32(TransportStopped))
	e.setPositionBeat(0)
}

// Seek jumps the transport to an arbitrary beat position. Per spec.md's
// end-to-end scenario 5, a seek invalidates in-flight pre-rendered audio,
// so it bumps the generation counter the same way InstallGraph does.
func (e *Engine) Seek(to tempo.Beat) {
	e.setPositionBeat(to)
	e.generation.Add(1)
}

// Process renders exactly one block's worth of output audio into dst. dst
// must already be sized for the engine's block length and channel count;
// Process writes into it and returns. It allocates nothing beyond what the
// compiled graph pre-allocated at compile time. It takes brief read locks
// on the compiled-graph pointer and the tempo map and, when a latent
// manager is attached, the engine's mix-in mutex and the manager's mutex;
// completing a mix-in calls latent.Manager.MarkMixedIn, which runs the
// manager's event handler synchronously on the calling goroutine.
func (e *Engine) Process(dst *signal.AudioBuffer) error {
	e.mu.RLock()
	cg := e.cg
	tmap := e.tmap
	e.mu.RUnlock()

	if cg == nil {
		dst.Zero()
		return ErrNoCompiledGraph
	}

	state := TransportState(e.state.Load())
	posBeat := e.PositionBeat()

	if state != TransportPlaying {
		dst.Zero()
		return nil
	}

	cg.Render(float64(posBeat), nil)
	master := cg.MasterBuffer()
	if master != nil {
		copy(dst.Data, master.Data)
	} else {
		dst.Zero()
	}

	e.applyMixIns(dst, posBeat)

	nextBeat, err := advanceBeat(tmap, posBeat, dst.Frames, e.sampleRate)
	if err != nil {
		return err
	}
	e.setPositionBeat(nextBeat)

	return nil
}

// advanceBeat computes the beat position one block (of the given frame
// count at sampleRate) after posBeat, going through the tempo map's
// second domain so tempo changes mid-block are honored.
func advanceBeat(tmap *tempo.Map, posBeat tempo.Beat, frames, sampleRate int) (tempo.Beat, error) {
	startSeconds, err := tmap.BeatToSecond(posBeat)
	if err != nil {
		return 0, err
	}
	blockSeconds := tempo.Second(float64(frames) / float64(sampleRate))
	return tmap.SecondToBeat(startSeconds + blockSeconds)
}

// applyMixIns starts the next queued mix-in once posBeat reaches its target
// beat and marks its region MixedIn: at once for HardCut and Bridge, and
// for Crossfade once CrossfadeBeats of playback have elapsed. It does not
// modify dst; no gain envelope is applied to the output.
func (e *Engine) applyMixIns(dst *signal.AudioBuffer, posBeat tempo.Beat) {
	if e.latentMgr == nil {
		return
	}

	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	if e.active == nil {
		if plan, ok := e.latentMgr.PeekMixIn(); ok && posBeat >= plan.TargetBeat {
			e.active = &activeMixIn{plan: plan}
			e.latentMgr.NextMixIn()
		}
	}
	if e.active == nil {
		return
	}

	switch e.active.plan.Strategy {
	case latent.HardCut:
		e.finishMixIn()
	case latent.Bridge:
		// Handled exactly like a hard cut: the engine neither looks for nor
		// waits on a bridge region.
		e.finishMixIn()
	case latent.Crossfade:
		blockBeats := blockBeatsFor(dst, e.sampleRate, e.tmap, posBeat)
		e.active.elapsedBeat += float64(blockBeats)
		if e.active.plan.CrossfadeBeats <= 0 || e.active.elapsedBeat >= e.active.plan.CrossfadeBeats {
			e.finishMixIn()
		}
	}
}

func blockBeatsFor(dst *signal.AudioBuffer, sampleRate int, tmap *tempo.Map, posBeat tempo.Beat) float64 {
	endBeat, err := advanceBeat(tmap, posBeat, dst.Frames, sampleRate)
	if err != nil {
		return 0
	}
	return float64(endBeat - posBeat)
}

// finishMixIn marks the active plan's region MixedIn and clears it so the
// next call picks up a fresh one from the queue.
func (e *Engine) finishMixIn() {
	if e.active == nil {
		return
	}
	_ = e.latentMgr.MarkMixedIn(e.active.plan.RegionID)
	e.active = nil
}
