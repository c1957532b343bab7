// Package query implements the declarative graph-traversal query
// language of spec.md §6: a small set of named vertex kinds, each with a
// fixed property/filter shape, evaluated against a snapshot-consistent
// view of the region store, processing graph, latent manager, and
// participant registry.
package query

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/graph"
	"github.com/tobert/chaosgarden/internal/region"
	"github.com/tobert/chaosgarden/internal/tempo"
)

// ErrUnknownKind is returned when a Query names a vertex kind the adapter
// does not recognize.
var ErrUnknownKind = errors.New("query: unknown vertex kind")

// ErrMissingProperty is returned when a Query omits a property its kind
// requires.
var ErrMissingProperty = errors.New("query: missing required property")

// Kind names one of the vertex kinds in spec.md §6's query table.
type Kind string

const (
	KindRegion              Kind = "Region"
	KindRegionInRange       Kind = "RegionInRange"
	KindLatentRegion        Kind = "LatentRegion"
	KindPlayableRegion      Kind = "PlayableRegion"
	KindTombstonedRegion    Kind = "TombstonedRegion"
	KindStaleSince          Kind = "StaleSince"
	KindNode                Kind = "Node"
	// KindNodeByCapability selects nodes by TypeID prefix (prop
	// "type_prefix"); it does not filter on node capabilities.
	KindNodeByCapability    Kind = "NodeByCapability"
	KindEdge                Kind = "Edge"
	KindTempoAt             Kind = "TempoAt"
	KindBeatToSecond        Kind = "BeatToSecond"
	KindSecondToBeat        Kind = "SecondToBeat"
	KindRunningJob          Kind = "RunningJob"
	KindPendingApproval     Kind = "PendingApproval"
	KindParticipant         Kind = "Participant"
	KindCapability          Kind = "Capability"
	KindTombstonedParticipant Kind = "TombstonedParticipant"
)

// Query is one request against the adapter: a vertex kind plus a bag of
// named properties the kind interprets (e.g. RegionInRange needs "start"
// and "end"; Region needs "id").
type Query struct {
	Kind  Kind
	Props map[string]any
}

// Result is the adapter's uniform response: a list of opaque vertex
// records, each a map of field name to value, ready for the IPC layer to
// marshal.
type Result struct {
	Kind  Kind
	Items []map[string]any
}

// ParticipantSource is the subset of internal/participant's registry the
// adapter needs, kept as an interface here to avoid a dependency cycle
// (internal/participant imports internal/query for ParticipantRecord, so
// internal/query cannot import internal/participant).
type ParticipantSource interface {
	List(includeOffline bool) []ParticipantRecord
	ByCapability(capability string) []ParticipantRecord
	Tombstoned() []ParticipantRecord
}

// ParticipantRecord is the flattened view of a participant the adapter
// renders into query results.
type ParticipantRecord struct {
	ID           uuid.UUID
	Label        string
	Online       bool
	Capabilities []string
}

// Adapter evaluates Query values against a fixed set of backing stores.
// Every Evaluate call takes a consistent snapshot of each store via their
// own RWMutex-guarded read methods, so a single query never observes a
// partial mutation (spec.md §6's snapshot-consistency requirement).
type Adapter struct {
	regions      *region.Store
	graph        *graph.Graph
	tempo        *tempo.Map
	participants ParticipantSource
}

// New creates an Adapter over the given stores. participants may be nil if
// the daemon has no participant registry configured.
func New(regions *region.Store, g *graph.Graph, tmap *tempo.Map, participants ParticipantSource) *Adapter {
	return &Adapter{regions: regions, graph: g, tempo: tmap, participants: participants}
}

// Evaluate runs q and returns its result, or an error if q's kind is
// unrecognized or missing a required property.
func (a *Adapter) Evaluate(q Query) (Result, error) {
	switch q.Kind {
	case KindRegion:
		return a.queryRegion(q)
	case KindRegionInRange:
		return a.queryRegionInRange(q)
	case KindLatentRegion:
		return a.queryLatentRegion(q)
	case KindPlayableRegion:
		return a.queryPlayableRegion(q)
	case KindTombstonedRegion:
		return a.queryTombstonedRegion(q)
	case KindStaleSince:
		return a.queryStaleSince(q)
	case KindNode:
		return a.queryNode(q)
	case KindNodeByCapability:
		return a.queryNodeByCapability(q)
	case KindEdge:
		return a.queryEdge(q)
	case KindTempoAt:
		return a.queryTempoAt(q)
	case KindBeatToSecond:
		return a.queryBeatToSecond(q)
	case KindSecondToBeat:
		return a.querySecondToBeat(q)
	case KindRunningJob:
		return a.queryLatentByStatus(q, region.LatentRunning)
	case KindPendingApproval:
		return a.queryLatentByStatus(q, region.LatentResolved)
	case KindParticipant:
		return a.queryParticipant(q)
	case KindCapability:
		return a.queryCapability(q)
	case KindTombstonedParticipant:
		return a.queryTombstonedParticipant(q)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownKind, q.Kind)
	}
}

func requireFloat(q Query, name string) (float64, error) {
	v, ok := q.Props[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s requires %q", ErrMissingProperty, q.Kind, name)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("query: property %q for %s must be a number", name, q.Kind)
	}
	return f, nil
}

func requireString(q Query, name string) (string, error) {
	v, ok := q.Props[name]
	if !ok {
		return "", fmt.Errorf("%w: %s requires %q", ErrMissingProperty, q.Kind, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("query: property %q for %s must be a string", name, q.Kind)
	}
	return s, nil
}

func regionRecord(r *region.Region) map[string]any {
	return map[string]any{
		"id":          r.ID,
		"position":    float64(r.Position),
		"duration":    float64(r.Duration),
		"end":         float64(r.End()),
		"tags":        r.Tags,
		"tombstoned":  r.Lifecycle.IsTombstoned(),
		"playable":    r.IsPlayable(),
	}
}

func (a *Adapter) queryRegion(q Query) (Result, error) {
	idStr, err := requireString(q, "id")
	if err != nil {
		return Result{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return Result{}, fmt.Errorf("query: invalid region id %q: %w", idStr, err)
	}
	r, err := a.regions.Get(id)
	if err != nil {
		return Result{Kind: q.Kind}, nil
	}
	return Result{Kind: q.Kind, Items: []map[string]any{regionRecord(r)}}, nil
}

func (a *Adapter) queryRegionInRange(q Query) (Result, error) {
	start, err := requireFloat(q, "start")
	if err != nil {
		return Result{}, err
	}
	end, err := requireFloat(q, "end")
	if err != nil {
		return Result{}, err
	}
	regions := a.regions.ListRange(tempo.Beat(start), tempo.Beat(end))
	return Result{Kind: q.Kind, Items: mapRegions(regions)}, nil
}

func (a *Adapter) queryLatentRegion(q Query) (Result, error) {
	var out []map[string]any
	for _, r := range a.regions.List(false) {
		if _, ok := r.Behavior.(region.LatentBehavior); ok {
			out = append(out, regionRecord(r))
		}
	}
	return Result{Kind: q.Kind, Items: out}, nil
}

// queryLatentByStatus backs RunningJob and PendingApproval: both are views
// over latent regions filtered by LatentStatus rather than distinct
// stores, since status is the only thing that distinguishes them.
func (a *Adapter) queryLatentByStatus(q Query, status region.LatentStatus) (Result, error) {
	var out []map[string]any
	for _, r := range a.regions.List(false) {
		lb, ok := r.Behavior.(region.LatentBehavior)
		if !ok || lb.Status != status {
			continue
		}
		rec := regionRecord(r)
		rec["job_id"] = lb.JobID
		rec["progress"] = lb.Progress
		rec["tool"] = lb.Tool
		out = append(out, rec)
	}
	return Result{Kind: q.Kind, Items: out}, nil
}

func (a *Adapter) queryPlayableRegion(q Query) (Result, error) {
	return Result{Kind: q.Kind, Items: mapRegions(a.regions.Playable())}, nil
}

func (a *Adapter) queryTombstonedRegion(q Query) (Result, error) {
	return Result{Kind: q.Kind, Items: mapRegions(a.regions.Tombstoned())}, nil
}

func (a *Adapter) queryStaleSince(q Query) (Result, error) {
	gen, err := requireFloat(q, "generation")
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: q.Kind, Items: mapRegions(a.regions.StaleSince(uint64(gen)))}, nil
}

func mapRegions(regions []*region.Region) []map[string]any {
	out := make([]map[string]any, 0, len(regions))
	for _, r := range regions {
		out = append(out, regionRecord(r))
	}
	return out
}

func nodeRecord(n *graph.Node) map[string]any {
	return map[string]any{
		"id":       n.ID,
		"type_id":  n.TypeID,
		"bypassed": n.Bypassed,
		"latency":  n.Latency(),
	}
}

func (a *Adapter) queryNode(q Query) (Result, error) {
	idStr, err := requireString(q, "id")
	if err != nil {
		return Result{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return Result{}, fmt.Errorf("query: invalid node id %q: %w", idStr, err)
	}
	n, err := a.graph.Node(id)
	if err != nil {
		return Result{Kind: q.Kind}, nil
	}
	return Result{Kind: q.Kind, Items: []map[string]any{nodeRecord(n)}}, nil
}

func (a *Adapter) queryNodeByCapability(q Query) (Result, error) {
	prefix, err := requireString(q, "type_prefix")
	if err != nil {
		return Result{}, err
	}
	var out []map[string]any
	for _, id := range a.graph.FindByType(prefix) {
		n, err := a.graph.Node(id)
		if err != nil {
			continue
		}
		out = append(out, nodeRecord(n))
	}
	return Result{Kind: q.Kind, Items: out}, nil
}

func (a *Adapter) queryEdge(q Query) (Result, error) {
	var out []map[string]any
	for _, e := range a.graph.Edges() {
		out = append(out, map[string]any{
			"id":       e.ID,
			"src_node": e.SrcNode,
			"src_port": e.SrcPort,
			"dst_node": e.DstNode,
			"dst_port": e.DstPort,
			"gain":     e.Gain,
			"active":   e.Active,
		})
	}
	return Result{Kind: q.Kind, Items: out}, nil
}

func (a *Adapter) queryTempoAt(q Query) (Result, error) {
	beat, err := requireFloat(q, "beat")
	if err != nil {
		return Result{}, err
	}
	bpm, err := a.tempo.TempoAt(tempo.Beat(beat))
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: q.Kind, Items: []map[string]any{{"beat": beat, "bpm": bpm}}}, nil
}

func (a *Adapter) queryBeatToSecond(q Query) (Result, error) {
	beat, err := requireFloat(q, "beat")
	if err != nil {
		return Result{}, err
	}
	sec, err := a.tempo.BeatToSecond(tempo.Beat(beat))
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: q.Kind, Items: []map[string]any{{"beat": beat, "second": float64(sec)}}}, nil
}

func (a *Adapter) querySecondToBeat(q Query) (Result, error) {
	sec, err := requireFloat(q, "second")
	if err != nil {
		return Result{}, err
	}
	beat, err := a.tempo.SecondToBeat(tempo.Second(sec))
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: q.Kind, Items: []map[string]any{{"second": sec, "beat": float64(beat)}}}, nil
}

func participantRecord(p ParticipantRecord) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"label":        p.Label,
		"online":       p.Online,
		"capabilities": p.Capabilities,
	}
}

func (a *Adapter) queryParticipant(q Query) (Result, error) {
	if a.participants == nil {
		return Result{Kind: q.Kind}, nil
	}
	var out []map[string]any
	for _, p := range a.participants.List(true) {
		out = append(out, participantRecord(p))
	}
	return Result{Kind: q.Kind, Items: out}, nil
}

func (a *Adapter) queryCapability(q Query) (Result, error) {
	if a.participants == nil {
		return Result{Kind: q.Kind}, nil
	}
	cap, err := requireString(q, "capability")
	if err != nil {
		return Result{}, err
	}
	var out []map[string]any
	for _, p := range a.participants.ByCapability(cap) {
		out = append(out, participantRecord(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["label"].(string) < out[j]["label"].(string)
	})
	return Result{Kind: q.Kind, Items: out}, nil
}

func (a *Adapter) queryTombstonedParticipant(q Query) (Result, error) {
	if a.participants == nil {
		return Result{Kind: q.Kind}, nil
	}
	var out []map[string]any
	for _, p := range a.participants.Tombstoned() {
		out = append(out, participantRecord(p))
	}
	return Result{Kind: q.Kind, Items: out}, nil
}
