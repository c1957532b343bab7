// Package graph implements the processing graph of spec.md §3/§4.3: a DAG
// of typed nodes and edges, topologically orderable, with cycle and
// port-type-mismatch rejection.
package graph

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/signal"
)

// ErrCycleDetected is returned by Connect when the new edge would create a
// cycle in the node/edge digraph.
var ErrCycleDetected = errors.New("graph: connecting would create a cycle")

// ErrTypeMismatch is returned by Connect when the source and destination
// port signal kinds differ.
var ErrTypeMismatch = errors.New("graph: source and destination port types do not match")

// ErrNodeNotFound is returned when an operation references an unknown node.
var ErrNodeNotFound = errors.New("graph: node not found")

// ErrPortNotFound is returned when an operation references an unknown port
// on an otherwise known node.
var ErrPortNotFound = errors.New("graph: port not found")

// ErrEdgeNotFound is returned when an operation references an unknown edge.
var ErrEdgeNotFound = errors.New("graph: edge not found")

// Port describes one named input or output of a node, and the signal kind
// it carries.
type Port struct {
	Name   string
	Signal signal.Kind
}

// Capabilities describes which execution contexts a node type may run in.
type Capabilities struct {
	RealtimeSafe bool
	OfflineSafe  bool
}

// Descriptor is the immutable shape of a node, supplied to AddNode.
type Descriptor struct {
	TypeID       string
	Inputs       []Port
	Outputs      []Port
	Capabilities Capabilities
	// LatencySamples is the node's initial declared latency.
	LatencySamples int64
}

// Node is one vertex of the processing graph. Latency is atomic because
// network-backed ("external") nodes may update it at runtime, per spec.md
// §3.
type Node struct {
	ID           uuid.UUID
	TypeID       string
	Inputs       []Port
	Outputs      []Port
	Capabilities Capabilities
	Bypassed     bool

	latency atomic.Int64
	seq     int // insertion sequence, for stable topological order
}

// Latency returns the node's current declared latency in samples.
func (n *Node) Latency() int64 { return n.latency.Load() }

// SetLatency updates the node's declared latency in samples.
func (n *Node) SetLatency(samples int64) { n.latency.Store(samples) }

func (n *Node) outputPort(name string) (Port, bool) {
	for _, p := range n.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

func (n *Node) inputPort(name string) (Port, bool) {
	for _, p := range n.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Edge connects one node's output port to another node's input port with a
// scalar gain.
type Edge struct {
	ID         uuid.UUID
	SrcNode    uuid.UUID
	SrcPort    string
	DstNode    uuid.UUID
	DstPort    string
	Gain       float64
	Active     bool
}

// Graph is a directed acyclic graph of Nodes and typed Edges.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[uuid.UUID]*Node
	edges    map[uuid.UUID]*Edge
	nextSeq  int
}

// New creates an empty processing graph.
func New() *Graph {
	return &Graph{nodes: make(map[uuid.UUID]*Node), edges: make(map[uuid.UUID]*Edge)}
}

// AddNode inserts a new node per descriptor and returns its identifier.
func (g *Graph) AddNode(d Descriptor) uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := uuid.New()
	n := &Node{
		ID:           id,
		TypeID:       d.TypeID,
		Inputs:       append([]Port(nil), d.Inputs...),
		Outputs:      append([]Port(nil), d.Outputs...),
		Capabilities: d.Capabilities,
		seq:          g.nextSeq,
	}
	n.latency.Store(d.LatencySamples)
	g.nextSeq++
	g.nodes[id] = n
	return id
}

// RemoveNode deletes a node and every edge touching it. Edges targeting the
// removed node are gone; all other edges are unchanged (spec.md §8).
func (g *Graph) RemoveNode(id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	delete(g.nodes, id)
	for eid, e := range g.edges {
		if e.SrcNode == id || e.DstNode == id {
			delete(g.edges, eid)
		}
	}
	return nil
}

// Connect adds an edge from (srcNode, srcPort) to (dstNode, dstPort) with
// the given gain. Fails with ErrTypeMismatch if the port signal kinds
// differ, or ErrCycleDetected if the edge would create a cycle; in either
// failure case the edge set is left unchanged.
func (g *Graph) Connect(srcNode uuid.UUID, srcPort string, dstNode uuid.UUID, dstPort string, gain float64) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.nodes[srcNode]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, srcNode)
	}
	dst, ok := g.nodes[dstNode]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: destination %s", ErrNodeNotFound, dstNode)
	}
	srcP, ok := src.outputPort(srcPort)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s.%s", ErrPortNotFound, srcNode, srcPort)
	}
	dstP, ok := dst.inputPort(dstPort)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s.%s", ErrPortNotFound, dstNode, dstPort)
	}
	if srcP.Signal != dstP.Signal {
		return uuid.Nil, ErrTypeMismatch
	}

	if g.reaches(dstNode, srcNode) {
		return uuid.Nil, ErrCycleDetected
	}

	id := uuid.New()
	g.edges[id] = &Edge{
		ID:      id,
		SrcNode: srcNode,
		SrcPort: srcPort,
		DstNode: dstNode,
		DstPort: dstPort,
		Gain:    gain,
		Active:  true,
	}
	return id, nil
}

// Disconnect removes an edge.
func (g *Graph) Disconnect(id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.edges[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	delete(g.edges, id)
	return nil
}

// reaches reports whether a path exists from `from` to `to` following
// edges in their src->dst direction. Caller must hold at least a read
// lock (or the write lock, as Connect does).
func (g *Graph) reaches(from, to uuid.UUID) bool {
	if from == to {
		return true
	}
	visited := make(map[uuid.UUID]bool)
	var stack []uuid.UUID
	stack = append(stack, from)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == to {
			return true
		}
		for _, e := range g.edges {
			if e.SrcNode == cur {
				stack = append(stack, e.DstNode)
			}
		}
	}
	return false
}

// Bypass rewires each edge ending at one of node's inputs to each edge
// beginning at one of node's outputs, preserving gain by multiplication,
// per spec.md §4.3. The node itself is marked Bypassed and excluded from
// ProcessingOrder; its own edges are removed once rewired.
func (g *Graph) Bypass(id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	var incoming, outgoing []*Edge
	for _, e := range g.edges {
		if e.DstNode == id {
			incoming = append(incoming, e)
		}
		if e.SrcNode == id {
			outgoing = append(outgoing, e)
		}
	}

	for _, in := range incoming {
		for _, out := range outgoing {
			newID := uuid.New()
			g.edges[newID] = &Edge{
				ID:      newID,
				SrcNode: in.SrcNode,
				SrcPort: in.SrcPort,
				DstNode: out.DstNode,
				DstPort: out.DstPort,
				Gain:    in.Gain * out.Gain,
				Active:  true,
			}
		}
	}
	for _, e := range incoming {
		delete(g.edges, e.ID)
	}
	for _, e := range outgoing {
		delete(g.edges, e.ID)
	}

	n.Bypassed = true
	return nil
}

// ProcessingOrder returns a topological sort of the non-bypassed nodes,
// stable under node insertion order (spec.md §4.3/§8).
func (g *Graph) ProcessingOrder() ([]uuid.UUID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indegree := make(map[uuid.UUID]int, len(g.nodes))
	for id, n := range g.nodes {
		if n.Bypassed {
			continue
		}
		indegree[id] = 0
	}
	for _, e := range g.edges {
		if _, ok := indegree[e.DstNode]; ok {
			if _, srcOK := indegree[e.SrcNode]; srcOK {
				indegree[e.DstNode]++
			}
		}
	}

	ready := make([]*Node, 0, len(indegree))
	for id := range indegree {
		if indegree[id] == 0 {
			ready = append(ready, g.nodes[id])
		}
	}
	sortBySeq(ready)

	var order []uuid.UUID
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n.ID)

		var newlyReady []*Node
		for _, e := range g.edges {
			if e.SrcNode != n.ID {
				continue
			}
			if _, ok := indegree[e.DstNode]; !ok {
				continue
			}
			indegree[e.DstNode]--
			if indegree[e.DstNode] == 0 {
				newlyReady = append(newlyReady, g.nodes[e.DstNode])
			}
		}
		sortBySeq(newlyReady)
		ready = append(ready, newlyReady...)
		sortBySeq(ready)
	}

	if len(order) != len(indegree) {
		return nil, errors.New("graph: cycle present, cannot compute processing order")
	}
	return order, nil
}

func sortBySeq(nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].seq > nodes[j].seq; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}

// Upstream returns the node IDs with an edge into id.
func (g *Graph) Upstream(id uuid.UUID) []uuid.UUID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []uuid.UUID
	for _, e := range g.edges {
		if e.DstNode == id {
			out = append(out, e.SrcNode)
		}
	}
	return out
}

// Downstream returns the node IDs with an edge from id.
func (g *Graph) Downstream(id uuid.UUID) []uuid.UUID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []uuid.UUID
	for _, e := range g.edges {
		if e.SrcNode == id {
			out = append(out, e.DstNode)
		}
	}
	return out
}

// Sources returns nodes with no incoming active edges.
func (g *Graph) Sources() []uuid.UUID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	hasIncoming := make(map[uuid.UUID]bool)
	for _, e := range g.edges {
		hasIncoming[e.DstNode] = true
	}
	var out []uuid.UUID
	for id := range g.nodes {
		if !hasIncoming[id] {
			out = append(out, id)
		}
	}
	return out
}

// Sinks returns nodes with no outgoing active edges.
func (g *Graph) Sinks() []uuid.UUID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	hasOutgoing := make(map[uuid.UUID]bool)
	for _, e := range g.edges {
		hasOutgoing[e.SrcNode] = true
	}
	var out []uuid.UUID
	for id := range g.nodes {
		if !hasOutgoing[id] {
			out = append(out, id)
		}
	}
	return out
}

// SignalPath reports whether a directed path exists from src to dst.
func (g *Graph) SignalPath(src, dst uuid.UUID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reaches(src, dst)
}

// FindByType returns nodes whose TypeID starts with prefix.
func (g *Graph) FindByType(prefix string) []uuid.UUID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []uuid.UUID
	for id, n := range g.nodes {
		if strings.HasPrefix(n.TypeID, prefix) {
			out = append(out, id)
		}
	}
	return out
}

// Node returns a node by ID.
func (g *Graph) Node(id uuid.UUID) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// Edges returns a snapshot copy of all edges.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

// Nodes returns a snapshot copy of all nodes.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}
