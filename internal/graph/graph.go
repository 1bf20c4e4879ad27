// Package graph provides the in-memory commit graph: row-ordered nodes,
// parent/child edges, placeholder nodes for missing parents, and
// incremental append.
package graph

import (
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"vcslog/internal/commitid"
)

// Commit is one input record: a commit and its parents in parent order.
type Commit struct {
	Hash    commitid.Hash
	Parents []commitid.Hash
}

// Edge links a child row (Up) to a parent row (Down).
type Edge struct {
	Up   int
	Down int
}

// Node represents one commit, or a placeholder for a commit that has not
// been loaded yet (Fake).
type Node struct {
	Hash commitid.Hash
	Row  int
	Down []Edge // to parents, in parent order
	Up   []Edge // to children

	Fake     bool
	Original commitid.Hash // the missing commit a fake node stands in for
}

// CommitHash returns the hash of the commit the node represents: the
// original hash for fake nodes.
func (n Node) CommitHash() commitid.Hash {
	if n.Fake {
		return n.Original
	}
	return n.Hash
}

// Config configures a Graph.
type Config struct {
	Logger *logrus.Logger
}

// Graph is an append-only commit graph. Rows are dense, zero-based and never
// renumbered. All methods are safe for concurrent use; Append is serialized
// against readers by an RWMutex so readers never see a half-applied batch.
type Graph struct {
	mu      sync.RWMutex
	nodes   []Node
	reg     *commitid.Registry
	rowOf   []int                 // commitid.ID -> row
	fakes   map[commitid.Hash]int // original hash -> row of its fake node
	version uint64
	log     *logrus.Logger
}

func newGraph(n int, cfg Config) *Graph {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Graph{
		nodes: make([]Node, 0, n),
		reg:   commitid.NewRegistry(n),
		rowOf: make([]int, 0, n),
		fakes: make(map[commitid.Hash]int),
		log:   cfg.Logger,
	}
}

// RowCount returns the number of rows.
func (g *Graph) RowCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Version returns a counter that increases on every successful non-empty
// append. Derived caches compare it to decide whether they are stale.
func (g *Graph) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// NodeAt returns the node in the given row.
func (g *Graph) NodeAt(row int) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if row < 0 || row >= len(g.nodes) {
		return Node{}, false
	}
	return g.nodes[row].clone(), true
}

// NodeByHash returns the node with the given hash. Fake nodes are found by
// their synthetic hash.
func (g *Graph) NodeByHash(h commitid.Hash) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	row, ok := g.lookupRow(h)
	if !ok {
		return Node{}, false
	}
	return g.nodes[row].clone(), true
}

// RowByHash returns the row of the node with the given hash, or -1.
func (g *Graph) RowByHash(h commitid.Hash) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	row, ok := g.lookupRow(h)
	if !ok {
		return -1
	}
	return row
}

// FakeNodeByHash returns the fake node for h. If original is true, h is the
// hash of the missing commit; otherwise it is the fake node's own hash.
// Once the missing commit has been appended no fake node exists for it.
func (g *Graph) FakeNodeByHash(h commitid.Hash, original bool) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if original {
		row, ok := g.fakes[h]
		if !ok {
			return Node{}, false
		}
		return g.nodes[row].clone(), true
	}

	row, ok := g.lookupRow(h)
	if !ok || !g.nodes[row].Fake {
		return Node{}, false
	}
	return g.nodes[row].clone(), true
}

// Nodes returns a copy of all nodes in row order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, len(g.nodes))
	for i := range g.nodes {
		out[i] = g.nodes[i].clone()
	}
	return out
}

// View runs fn with the read lock held, giving it a consistent snapshot for
// multi-step traversals. fn must not call Append.
func (g *Graph) View(fn func(v *View) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(&View{g: g})
}

func (g *Graph) lookupRow(h commitid.Hash) (int, bool) {
	id, ok := g.reg.Lookup(h)
	if !ok {
		return 0, false
	}
	return g.rowOf[id], true
}

func (g *Graph) register(h commitid.Hash, row int) {
	id := g.reg.Intern(h)
	for int(id) >= len(g.rowOf) {
		g.rowOf = append(g.rowOf, -1)
	}
	g.rowOf[id] = row
}

func (n Node) clone() Node {
	n.Down = slices.Clone(n.Down)
	n.Up = slices.Clone(n.Up)
	return n
}

// View is a read-only snapshot of a Graph, valid only inside Graph.View.
// Returned slices must not be modified.
type View struct {
	g *Graph
}

// Version returns the graph version the view observes.
func (v *View) Version() uint64 {
	return v.g.version
}

// RowCount returns the number of rows.
func (v *View) RowCount() int {
	return len(v.g.nodes)
}

// Node returns the node in row.
func (v *View) Node(row int) Node {
	return v.g.nodes[row].clone()
}

// Down returns the parent edges of row.
func (v *View) Down(row int) []Edge {
	return v.g.nodes[row].Down
}

// Up returns the child edges of row.
func (v *View) Up(row int) []Edge {
	return v.g.nodes[row].Up
}

// Resolve maps a node obtained earlier to its row in this snapshot. A fake
// node that has since been replaced by its real commit resolves to the same
// row.
func (v *View) Resolve(n Node) (int, error) {
	if n.Row < 0 || n.Row >= len(v.g.nodes) {
		return 0, ErrNodeNotFound
	}
	cur := v.g.nodes[n.Row]
	if cur.Hash == n.Hash || (n.Fake && cur.Hash == n.Original) {
		return n.Row, nil
	}
	return 0, ErrNodeNotFound
}
