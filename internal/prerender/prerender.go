// Package prerender implements the pre-render scheduler of spec.md §4.6: a
// lookahead loop that decodes upcoming playable regions into a pool of
// pre-allocated buffers ahead of the playback engine's read cursor, using
// lock-free SPSC queues to hand buffers between the decode goroutine and
// the realtime consumer without locking.
package prerender

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/lfq"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/content"
	"github.com/tobert/chaosgarden/internal/region"
	"github.com/tobert/chaosgarden/internal/signal"
	"github.com/tobert/chaosgarden/internal/tempo"
)

// DefaultLookaheadInterval is the cadence at which the scheduler checks
// whether more material needs decoding, per spec.md §4.6.
const DefaultLookaheadInterval = 10 * time.Millisecond

// DefaultLookaheadBeats is how far ahead of the playback cursor the
// scheduler tries to keep material decoded.
const DefaultLookaheadBeats = 8.0

// slot is one pre-allocated pre-render buffer plus the metadata needed to
// hand it to the consumer and recycle it afterward.
type slot struct {
	buf    *signal.AudioBuffer
	region uuid.UUID
	gen    uint64
}

// Pool is the fixed-size set of pre-allocated buffers shared between the
// decode goroutine (producer) and the playback consumer, connected by two
// SPSC queues: free (consumer -> producer, recycling) and ready (producer
// -> consumer, newly decoded material).
type Pool struct {
	slots    []slot
	free     *lfq.SPSC[int]
	ready    *lfq.SPSC[int]
	occupied atomic.Int64 // slots currently out of the free queue
}

// NewPool allocates size buffers of blockFrames audio frames each.
func NewPool(size, channels, blockFrames int) *Pool {
	p := &Pool{
		slots: make([]slot, size),
		free:  lfq.NewSPSC[int](size),
		ready: lfq.NewSPSC[int](size),
	}
	for i := range p.slots {
		p.slots[i].buf = signal.NewAudioBuffer(channels, blockFrames)
		idx := i
		p.free.Enqueue(&idx)
	}
	return p
}

// Acquire hands the consumer the next ready buffer, or ok=false if nothing
// has been pre-rendered yet.
func (p *Pool) Acquire() (idx int, buf *signal.AudioBuffer, regionID uuid.UUID, gen uint64, ok bool) {
	i, err := p.ready.Dequeue()
	if err != nil {
		return 0, nil, uuid.Nil, 0, false
	}
	s := p.slots[i]
	return i, s.buf, s.region, s.gen, true
}

// Release returns a consumed buffer to the free list for recycling.
func (p *Pool) Release(idx int) {
	i := idx
	p.free.Enqueue(&i)
	p.occupied.Add(-1)
}

// Size returns the total number of buffers in the pool.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Occupied reports how many buffers are currently claimed (decoding or
// awaiting consumption) rather than sitting in the free list.
func (p *Pool) Occupied() int {
	return int(p.occupied.Load())
}

// contentCache is a bounded LRU of raw content bytes keyed by digest, so the
// scheduler does not re-open the content store for every region sharing
// the same underlying sample. Decoded buffers are not cached: decoding runs
// again on every use.
type contentCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[content.Digest]*list.Element
	order    *list.List
}

type cacheEntry struct {
	digest content.Digest
	data   []byte
}

func newContentCache(capacity int) *contentCache {
	return &contentCache{capacity: capacity, entries: make(map[content.Digest]*list.Element), order: list.New()}
}

func (c *contentCache) get(d content.Digest) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[d]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).data, true
}

func (c *contentCache) put(d content.Digest, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[d]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheEntry).data = data
		return
	}
	el := c.order.PushFront(&cacheEntry{digest: d, data: data})
	c.entries[d] = el
	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.order.Remove(back)
		delete(c.entries, back.Value.(*cacheEntry).digest)
	}
}

// GenerationSource reports the playback engine's current graph/transport
// generation, so the scheduler can discard lookahead work invalidated by a
// seek or recompilation (spec.md end-to-end scenario 5).
type GenerationSource interface {
	Generation() uint64
	PositionBeat() tempo.Beat
}

// Scheduler runs the lookahead loop described in spec.md §4.6.
type Scheduler struct {
	pool      *Pool
	store     *region.Store
	cas       content.Store
	cache     *contentCache
	tmap      *tempo.Map
	engine    GenerationSource
	interval  time.Duration
	lookahead tempo.Beat
	decodeFn  func(digest content.Digest, data []byte, dst *signal.AudioBuffer)
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithInterval overrides DefaultLookaheadInterval.
func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// WithLookaheadBeats overrides DefaultLookaheadBeats.
func WithLookaheadBeats(b float64) Option {
	return func(s *Scheduler) { s.lookahead = tempo.Beat(b) }
}

// NewScheduler wires a Scheduler against a region store, content store,
// tempo map, and the playback engine's generation source. decodeFn
// performs the actual content-to-audio materialization (out of scope per
// spec.md's Non-goals on codec internals); it must fill dst in place.
func NewScheduler(pool *Pool, store *region.Store, cas content.Store, tmap *tempo.Map, engine GenerationSource, cacheSize int, decodeFn func(content.Digest, []byte, *signal.AudioBuffer), opts ...Option) *Scheduler {
	s := &Scheduler{
		pool:      pool,
		store:     store,
		cas:       cas,
		cache:     newContentCache(cacheSize),
		tmap:      tmap,
		engine:    engine,
		interval:  DefaultLookaheadInterval,
		lookahead: DefaultLookaheadBeats,
		decodeFn:  decodeFn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the lookahead loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// AcquireFresh returns the next ready buffer whose generation matches the
// engine's current generation, discarding (and recycling) any stale ones
// left over from before a seek or recompilation invalidated them (spec.md
// end-to-end scenario 5). The caller must Release idx once done consuming
// buf.
func (s *Scheduler) AcquireFresh() (idx int, buf *signal.AudioBuffer, regionID uuid.UUID, ok bool) {
	currentGen := s.engine.Generation()
	for {
		i, b, rid, gen, got := s.pool.Acquire()
		if !got {
			return 0, nil, uuid.Nil, false
		}
		if gen != currentGen {
			s.pool.Release(i)
			continue
		}
		return i, b, rid, true
	}
}

// Release returns a consumed buffer to the pool's free list.
func (s *Scheduler) Release(idx int) {
	s.pool.Release(idx)
}

// tick performs one lookahead pass: it decodes every playable region whose
// start falls within [position, position+lookahead) that is not already
// pre-rendered, recycling any freed slots first.
func (s *Scheduler) tick() {
	gen := s.engine.Generation()
	pos := s.engine.PositionBeat()

	regions := s.store.ListRange(pos, pos+s.lookahead)
	for _, r := range regions {
		if !r.IsPlayable() {
			continue
		}
		pc, ok := r.Behavior.(region.PlayContentBehavior)
		if !ok {
			continue
		}
		idx, err := s.pool.free.Dequeue()
		if err != nil {
			return // pool exhausted this tick; try again next tick
		}
		s.pool.occupied.Add(1)
		sl := &s.pool.slots[idx]
		sl.region = r.ID
		sl.gen = gen

		data, cached := s.cache.get(pc.ContentDigest)
		if !cached {
			data = s.readContent(pc.ContentDigest)
			if data != nil {
				s.cache.put(pc.ContentDigest, data)
			}
		}
		if s.decodeFn != nil {
			s.decodeFn(pc.ContentDigest, data, sl.buf)
		}

		s.pool.ready.Enqueue(&idx)
	}
}

func (s *Scheduler) readContent(d content.Digest) []byte {
	rc, err := s.cas.Open(d)
	if err != nil {
		return nil
	}
	defer rc.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := rc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf
}
