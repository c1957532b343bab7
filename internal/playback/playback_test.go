package playback

import (
	"testing"

	"github.com/tobert/chaosgarden/internal/compiled"
	"github.com/tobert/chaosgarden/internal/graph"
	"github.com/tobert/chaosgarden/internal/latent"
	"github.com/tobert/chaosgarden/internal/region"
	"github.com/tobert/chaosgarden/internal/signal"
	"github.com/tobert/chaosgarden/internal/tempo"
)

func TestStoppedEngineProducesSilence(t *testing.T) {
	tm := tempo.NewMap(120)
	e := New(tm, 48000, nil)
	dst := signal.NewAudioBuffer(2, 64)
	for i := range dst.Data {
		dst.Data[i] = 1 // poison, should be zeroed
	}
	if err := e.Process(dst); err != ErrNoCompiledGraph {
		t.Fatalf("Process() error = %v, want ErrNoCompiledGraph", err)
	}
	for _, v := range dst.Data {
		if v != 0 {
			t.Fatal("stopped/uncompiled engine should produce silence")
		}
	}
}

func TestPlayAdvancesPosition(t *testing.T) {
	tm := tempo.NewMap(120)
	e := New(tm, 48000, nil)
	cg, err := compiled.Compile(graph.New(), nil, 48000, 48000, [16]byte{}, "out")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	e.InstallGraph(cg)
	e.Play()
	if e.State() != TransportPlaying {
		t.Fatalf("State() = %v, want Playing", e.State())
	}

	dst := signal.NewAudioBuffer(2, 48000) // one second at 48kHz
	e.Process(dst)
	// 120 BPM -> 2 beats/sec, so one second of processing should advance
	// position by 2 beats.
	got := float64(e.PositionBeat())
	if got < 1.99 || got > 2.01 {
		t.Errorf("PositionBeat() after 1s block = %v, want ~2.0", got)
	}
}

func TestSeekBumpsGeneration(t *testing.T) {
	tm := tempo.NewMap(120)
	e := New(tm, 48000, nil)
	before := e.Generation()
	e.Seek(8)
	if e.Generation() == before {
		t.Error("Seek() should bump the generation counter")
	}
	if e.PositionBeat() != 8 {
		t.Errorf("PositionBeat() after Seek(8) = %v, want 8", e.PositionBeat())
	}
}

func TestStopResetsPosition(t *testing.T) {
	tm := tempo.NewMap(120)
	e := New(tm, 48000, nil)
	e.Seek(4)
	e.Stop()
	if e.PositionBeat() != 0 {
		t.Errorf("PositionBeat() after Stop() = %v, want 0", e.PositionBeat())
	}
	if e.State() != TransportStopped {
		t.Errorf("State() after Stop() = %v, want Stopped", e.State())
	}
}

func TestHardCutMixInMarksRegionMixedIn(t *testing.T) {
	store := region.NewStore()
	mgr := latent.New(store, 4, nil)
	id, _ := store.Create(0, 4, region.LatentBehavior{Status: region.LatentPending})
	_ = mgr.Start(id, "job-1")
	_ = mgr.Resolve(id, "tool", contentDigestStub(), "audio/wav")
	_ = mgr.Approve(id, [16]byte{}, "ok", latent.HardCut, 0)

	tm := tempo.NewMap(120)
	e := New(tm, 48000, mgr)
	e.Play()
	dst := signal.NewAudioBuffer(2, 64)
	// No compiled graph installed: Process returns early with an error
	// before reaching mix-in handling, so drive applyMixIns directly.
	_ = dst
	e.applyMixIns(dst, 0)

	r, _ := store.Get(id)
	if r.Behavior.(region.LatentBehavior).Status != region.LatentMixedIn {
		t.Errorf("status after hard-cut mix-in = %v, want MixedIn", r.Behavior.(region.LatentBehavior).Status)
	}
}

func contentDigestStub() (d [16]byte) { return }
