package graph

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/sirupsen/logrus"

	"vcslog/internal/commitid"
)

// Build creates a graph from commits given in any order. Every distinct hash
// seen as a commit or a parent gets a node; parents without a commit get a
// fake node. Rows follow a stable topological order (children before
// parents, ties broken by input order, fake nodes last).
func Build(commits []Commit, cfg Config) (*Graph, error) {
	start := time.Now()
	g := newGraph(len(commits), cfg)

	b, err := g.plan(commits)
	if err != nil {
		return nil, err
	}
	g.apply(b)
	g.version = 1

	g.log.WithFields(logrus.Fields{
		"rows":    len(g.nodes),
		"fakes":   len(g.fakes),
		"elapsed": time.Since(start),
	}).Debug("built commit graph")
	return g, nil
}

// Append adds commits to the end of the row sequence. A commit that was
// previously only known as a missing parent replaces its fake node in
// place, keeping the row and every edge that pointed at it. On error the
// graph is left unchanged.
func (g *Graph) Append(commits []Commit) error {
	if len(commits) == 0 {
		return nil
	}
	start := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	b, err := g.plan(commits)
	if err != nil {
		return err
	}
	g.apply(b)
	g.version++

	g.log.WithFields(logrus.Fields{
		"added":    b.newRows,
		"resolved": b.resolved,
		"rows":     len(g.nodes),
		"version":  g.version,
		"elapsed":  time.Since(start),
	}).Debug("appended commits")
	return nil
}

// item is a node-to-be in a batch: an input commit or a new fake node.
type item struct {
	hash    commitid.Hash
	parents []commitid.Hash
	fake    bool
	// resolves is set when the commit replaces an existing fake node; row is
	// then that node's row.
	resolves bool
	row      int
}

type batch struct {
	items    []item
	index    map[commitid.Hash]int
	newRows  int
	resolved int
}

// plan validates commits against the graph and assigns rows without
// mutating anything.
func (g *Graph) plan(commits []Commit) (*batch, error) {
	b := &batch{
		items: make([]item, 0, len(commits)),
		index: make(map[commitid.Hash]int, len(commits)),
	}

	for _, c := range commits {
		if c.Hash.IsZero() {
			return nil, &MalformedInputError{Hash: c.Hash, Reason: "zero commit hash"}
		}
		if _, dup := b.index[c.Hash]; dup {
			return nil, &DuplicateCommitError{Hash: c.Hash}
		}
		if row, ok := g.lookupRow(c.Hash); ok && !g.nodes[row].Fake {
			return nil, &DuplicateCommitError{Hash: c.Hash}
		}

		parents, err := dedupParents(c)
		if err != nil {
			return nil, err
		}

		it := item{hash: c.Hash, parents: parents, row: -1}
		if row, ok := g.fakes[c.Hash]; ok {
			it.resolves = true
			it.row = row
			b.resolved++
		}
		b.index[c.Hash] = len(b.items)
		b.items = append(b.items, it)
	}

	// Missing parents become fake nodes, in discovery order.
	numCommits := len(b.items)
	for i := 0; i < numCommits; i++ {
		for _, p := range b.items[i].parents {
			if _, ok := b.index[p]; ok {
				continue
			}
			if _, ok := g.lookupRow(p); ok {
				continue
			}
			if _, ok := g.fakes[p]; ok {
				continue
			}
			b.index[p] = len(b.items)
			b.items = append(b.items, item{hash: p, fake: true, row: -1})
		}
	}

	b.newRows = len(b.items) - b.resolved
	b.assignRows(len(g.nodes), g.log)
	return b, nil
}

func dedupParents(c Commit) ([]commitid.Hash, error) {
	parents := make([]commitid.Hash, 0, len(c.Parents))
	seen := make(map[commitid.Hash]struct{}, len(c.Parents))
	for i, p := range c.Parents {
		if p.IsZero() {
			return nil, &MalformedInputError{Hash: c.Hash, Reason: fmt.Sprintf("parent %d is the zero hash", i)}
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		parents = append(parents, p)
	}
	return parents, nil
}

// assignRows numbers the items that need a new row, starting at first. It
// runs Kahn's algorithm over child->parent edges inside the batch, always
// taking the ready item with the lowest input position.
func (b *batch) assignRows(first int, log *logrus.Logger) {
	indegree := make([]int, len(b.items))
	for _, it := range b.items {
		if it.resolves {
			continue
		}
		for _, p := range it.parents {
			if i, ok := b.index[p]; ok {
				indegree[i]++
			}
		}
	}

	ready := binaryheap.NewWithIntComparator()
	for i, it := range b.items {
		if !it.resolves && indegree[i] == 0 {
			ready.Push(i)
		}
	}

	next := first
	for !ready.Empty() {
		v, _ := ready.Pop()
		i := v.(int)
		b.items[i].row = next
		next++

		for _, p := range b.items[i].parents {
			j, ok := b.index[p]
			if !ok || b.items[j].resolves {
				continue
			}
			indegree[j]--
			if indegree[j] == 0 {
				ready.Push(j)
			}
		}
	}

	// Only a cycle in the input can leave items unnumbered.
	leftover := 0
	for i := range b.items {
		if b.items[i].row < 0 {
			b.items[i].row = next
			next++
			leftover++
		}
	}
	if leftover > 0 {
		log.WithField("commits", leftover).Warn("commit history contains a cycle; rows are not topological")
	}
}

// apply writes a planned batch into the graph. It cannot fail.
func (g *Graph) apply(b *batch) {
	g.nodes = append(g.nodes, make([]Node, b.newRows)...)

	order := make([]int, 0, len(b.items))
	for i, it := range b.items {
		order = append(order, i)
		switch {
		case it.resolves:
			fake := g.nodes[it.row]
			g.reg.Forget(fake.Hash)
			delete(g.fakes, it.hash)
			g.nodes[it.row] = Node{Hash: it.hash, Row: it.row, Up: fake.Up}
			g.register(it.hash, it.row)
		case it.fake:
			fh := commitid.FakeHash(it.hash)
			g.nodes[it.row] = Node{Hash: fh, Row: it.row, Fake: true, Original: it.hash}
			g.register(fh, it.row)
			g.fakes[it.hash] = it.row
		default:
			g.nodes[it.row] = Node{Hash: it.hash, Row: it.row}
			g.register(it.hash, it.row)
		}
	}

	// Children in row order, so Up edges added by one batch are row-sorted.
	sort.Slice(order, func(x, y int) bool {
		return b.items[order[x]].row < b.items[order[y]].row
	})
	touched := make(map[int]struct{})
	for _, i := range order {
		it := b.items[i]
		if it.fake {
			continue
		}
		child := it.row
		for _, p := range it.parents {
			parent, ok := g.lookupRow(p)
			if !ok {
				parent = g.fakes[p]
			}
			e := Edge{Up: child, Down: parent}
			g.nodes[child].Down = append(g.nodes[child].Down, e)
			g.nodes[parent].Up = append(g.nodes[parent].Up, e)
			touched[parent] = struct{}{}
		}
	}

	// A resolved fake keeps its old row, which can sort before children
	// its parents already had.
	byChild := func(a, b Edge) int { return a.Up - b.Up }
	for row := range touched {
		up := g.nodes[row].Up
		if !slices.IsSortedFunc(up, byChild) {
			// Copy: earlier snapshots share the backing array.
			up = slices.Clone(up)
			slices.SortFunc(up, byChild)
			g.nodes[row].Up = up
		}
	}
}
