// Package reach answers reachability questions over a commit graph:
// ancestors and descendants, common ancestors, same-branch and ancestry
// tests, and the commit lists used to plan a rebase.
//
// Every query is built on one breadth-first primitive (walk). Traversals
// hold the graph's read lock for their whole duration and check the
// context periodically so long walks can be abandoned.
package reach

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bitset"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"vcslog/internal/commitid"
	"vcslog/internal/graph"
	"vcslog/internal/ref"
)

// checkEvery is how many dequeues pass between context checks.
const checkEvery = 256

// BaseNotReachableError indicates that a first-parent walk from Head never
// reached Base.
type BaseNotReachableError struct {
	Base commitid.Hash
	Head commitid.Hash
}

func (e *BaseNotReachableError) Error() string {
	return fmt.Sprintf("base %s is not reachable from %s along first parents", e.Base, e.Head)
}

// Config configures an Engine.
type Config struct {
	// CacheSize is the number of ancestor closures kept (default 32).
	CacheSize int
	Logger    *logrus.Logger
}

// Engine runs reachability queries against a graph.
type Engine struct {
	graph    *graph.Graph
	refs     *ref.Model
	log      *logrus.Logger
	closures *lru.Cache[closureKey, *bitset.BitSet] // one bit per row
	seen     atomic.Uint64 // newest graph version the cache has observed
}

// closureKey stamps a cached closure with the graph version it was computed
// against, so entries from before an append are never returned.
type closureKey struct {
	row     int
	version uint64
}

// New creates an engine over g. refs is used to recognise branch tips.
func New(g *graph.Graph, refs *ref.Model, cfg Config) (*Engine, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	cache, err := lru.New[closureKey, *bitset.BitSet](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating closure cache: %w", err)
	}

	return &Engine{
		graph:    g,
		refs:     refs,
		log:      cfg.Logger,
		closures: cache,
	}, nil
}

type direction int

const (
	toParents direction = iota
	toChildren
)

// walk visits rows breadth-first from start, each at most once, and returns
// them in discovery order. It stops after the first dequeued row for which
// stop returns true; that row is the last one returned.
func walk(ctx context.Context, v *graph.View, start int, dir direction, stop func(row int) bool) ([]int, error) {
	visited := bitset.New(uint(v.RowCount()))
	visited.Set(uint(start))
	queue := []int{start}

	for i := 0; i < len(queue); i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row := queue[i]
		if stop != nil && stop(row) {
			return queue[:i+1], nil
		}

		edges := v.Down(row)
		if dir == toChildren {
			edges = v.Up(row)
		}
		for _, e := range edges {
			next := e.Down
			if dir == toChildren {
				next = e.Up
			}
			if visited.Test(uint(next)) {
				continue
			}
			visited.Set(uint(next))
			queue = append(queue, next)
		}
	}
	return queue, nil
}

// closure returns the full ancestor set of row, from cache when possible.
func (e *Engine) closure(ctx context.Context, v *graph.View, row int) (*bitset.BitSet, error) {
	key := closureKey{row: row, version: v.Version()}
	if prev := e.seen.Swap(key.version); prev != 0 && prev < key.version {
		e.closures.Purge()
	}
	if set, ok := e.closures.Get(key); ok {
		return set, nil
	}

	start := time.Now()
	rows, err := walk(ctx, v, row, toParents, nil)
	if err != nil {
		return nil, err
	}
	set := bitset.New(uint(v.RowCount()))
	for _, r := range rows {
		set.Set(uint(r))
	}

	e.closures.Add(key, set)
	e.log.WithFields(logrus.Fields{
		"row":     row,
		"size":    len(rows),
		"version": key.version,
		"elapsed": time.Since(start),
	}).Debug("computed ancestor closure")
	return set, nil
}

// reaches reports whether to is an ancestor of from, or from itself.
func (e *Engine) reaches(ctx context.Context, v *graph.View, from, to int) (bool, error) {
	if from == to {
		return true, nil
	}
	if set, ok := e.closures.Peek(closureKey{row: from, version: v.Version()}); ok {
		return set.Test(uint(to)), nil
	}
	rows, err := walk(ctx, v, from, toParents, func(r int) bool { return r == to })
	if err != nil {
		return false, err
	}
	return rows[len(rows)-1] == to, nil
}

func nodes(v *graph.View, rows []int) []graph.Node {
	out := make([]graph.Node, len(rows))
	for i, r := range rows {
		out[i] = v.Node(r)
	}
	return out
}

// Ancestors returns start and its ancestors in breadth-first discovery
// order, following parent edges only. If stop is non-nil the walk ends after
// the first node for which it returns true.
func (e *Engine) Ancestors(ctx context.Context, start graph.Node, stop func(graph.Node) bool) ([]graph.Node, error) {
	return e.traverse(ctx, start, toParents, stop)
}

// Descendants is Ancestors along child edges.
func (e *Engine) Descendants(ctx context.Context, start graph.Node, stop func(graph.Node) bool) ([]graph.Node, error) {
	return e.traverse(ctx, start, toChildren, stop)
}

func (e *Engine) traverse(ctx context.Context, start graph.Node, dir direction, stop func(graph.Node) bool) ([]graph.Node, error) {
	var out []graph.Node
	err := e.graph.View(func(v *graph.View) error {
		row, err := v.Resolve(start)
		if err != nil {
			return err
		}

		var rowStop func(int) bool
		if stop != nil {
			rowStop = func(r int) bool { return stop(v.Node(r)) }
		}
		rows, err := walk(ctx, v, row, dir, rowStop)
		if err != nil {
			return err
		}
		out = nodes(v, rows)
		return nil
	})
	return out, err
}

// CommonParent finds a common ancestor of a and b: the first node of b's
// breadth-first ancestor walk that is also an ancestor of a. This is the
// nearest one found, not necessarily the unique lowest common ancestor when
// several merge paths exist. ok is false when a and b share no ancestor.
func (e *Engine) CommonParent(ctx context.Context, a, b graph.Node) (common graph.Node, ok bool, err error) {
	err = e.graph.View(func(v *graph.View) error {
		ra, err := v.Resolve(a)
		if err != nil {
			return err
		}
		rb, err := v.Resolve(b)
		if err != nil {
			return err
		}

		all, err := e.closure(ctx, v, ra)
		if err != nil {
			return err
		}
		rows, err := walk(ctx, v, rb, toParents, func(r int) bool {
			return all.Test(uint(r))
		})
		if err != nil {
			return err
		}

		last := rows[len(rows)-1]
		if all.Test(uint(last)) {
			common, ok = v.Node(last), true
		}
		return nil
	})
	return common, ok, err
}

// CommonParent3 is not implemented for three commits and never finds one.
func (e *Engine) CommonParent3(a, b, c graph.Node) (graph.Node, bool) {
	return graph.Node{}, false
}

// IsSameBranch reports whether one of a and b is an ancestor of the other
// (or they are the same node). The row order picks the direction tried
// first; the other direction is checked too because appended commits can
// sit below their parents.
func (e *Engine) IsSameBranch(ctx context.Context, a, b graph.Node) (same bool, err error) {
	err = e.graph.View(func(v *graph.View) error {
		ra, err := v.Resolve(a)
		if err != nil {
			return err
		}
		rb, err := v.Resolve(b)
		if err != nil {
			return err
		}

		up, down := ra, rb
		if ra > rb {
			up, down = rb, ra
		}
		same, err = e.reaches(ctx, v, up, down)
		if err != nil || same {
			return err
		}
		same, err = e.reaches(ctx, v, down, up)
		return err
	})
	return same, err
}

// IsAncestorOf reports whether ancestor is a proper ancestor of child.
func (e *Engine) IsAncestorOf(ctx context.Context, ancestor, child graph.Node) (is bool, err error) {
	err = e.graph.View(func(v *graph.View) error {
		ra, err := v.Resolve(ancestor)
		if err != nil {
			return err
		}
		rc, err := v.Resolve(child)
		if err != nil {
			return err
		}
		if ra == rc {
			return nil
		}
		is, err = e.reaches(ctx, v, rc, ra)
		return err
	})
	return is, err
}

// CommitsDownToCommon returns the ancestors of head, in breadth-first
// order, up to and including the first one that is also an ancestor of
// newBase. These are the commits replayed when moving head onto newBase,
// followed by the point where the histories meet.
func (e *Engine) CommitsDownToCommon(ctx context.Context, newBase, head graph.Node) ([]graph.Node, error) {
	var out []graph.Node
	err := e.graph.View(func(v *graph.View) error {
		rb, err := v.Resolve(newBase)
		if err != nil {
			return err
		}
		rh, err := v.Resolve(head)
		if err != nil {
			return err
		}

		all, err := e.closure(ctx, v, rb)
		if err != nil {
			return err
		}
		rows, err := walk(ctx, v, rh, toParents, func(r int) bool {
			return all.Test(uint(r))
		})
		if err != nil {
			return err
		}
		out = nodes(v, rows)
		return nil
	})
	return out, err
}

// CommitsInBranchAboveBase follows first parents from branchHead down to
// base and returns the nodes passed, branchHead first, base excluded. Other
// merge parents are ignored. If the walk hits a root or runs longer than
// the graph has rows, a *BaseNotReachableError is returned.
func (e *Engine) CommitsInBranchAboveBase(base, branchHead graph.Node) ([]graph.Node, error) {
	var out []graph.Node
	err := e.graph.View(func(v *graph.View) error {
		rb, err := v.Resolve(base)
		if err != nil {
			return err
		}
		row, err := v.Resolve(branchHead)
		if err != nil {
			return err
		}

		notReachable := &BaseNotReachableError{Base: base.CommitHash(), Head: branchHead.CommitHash()}
		for steps := 0; row != rb; steps++ {
			if steps >= v.RowCount() {
				return notReachable
			}
			out = append(out, v.Node(row))
			down := v.Down(row)
			if len(down) == 0 {
				return notReachable
			}
			row = down[0].Down
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpRefNodes returns the branch tips among node and its descendants, in row
// order.
func (e *Engine) UpRefNodes(ctx context.Context, node graph.Node) ([]graph.Node, error) {
	all, err := e.Descendants(ctx, node, nil)
	if err != nil {
		return nil, err
	}

	var tips []graph.Node
	for _, n := range all {
		if !n.Fake && e.refs.IsBranchRef(n.Hash) {
			tips = append(tips, n)
		}
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].Row < tips[j].Row })
	return tips, nil
}
