// Package fragment tracks which nodes must always be shown individually
// ("unconcealed") and groups the remaining linear runs into fragments that
// a viewer may collapse.
package fragment

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vcslog/internal/graph"
	"vcslog/internal/ref"
)

// UnconcealedFunc decides whether a node must stay visible.
type UnconcealedFunc func(n graph.Node, refs *ref.Model) bool

// DefaultUnconcealed keeps roots, heads of history and branch tips visible.
func DefaultUnconcealed(n graph.Node, refs *ref.Model) bool {
	return len(n.Down) == 0 || len(n.Up) == 0 || refs.IsBranchRef(n.Hash)
}

// Fragment is a maximal run of concealable nodes, each with exactly one
// parent and one child. Rows lists them from child to parent; Upper is the
// child of the first and Lower the parent of the last.
type Fragment struct {
	Upper int
	Lower int
	Rows  []int
}

// Config configures a Manager.
type Config struct {
	Logger *logrus.Logger
}

// stamp records what the cached flags were computed from.
type stamp struct {
	graph uint64
	refs  uint64
	rule  uint64
}

// Manager computes concealment flags lazily. Results are recomputed on the
// first query after the graph, the refs or the rule changed.
type Manager struct {
	graph *graph.Graph
	refs  *ref.Model
	log   *logrus.Logger

	mu        sync.Mutex
	rule      UnconcealedFunc
	ruleGen   uint64
	computed  stamp
	valid     bool
	flags     []bool
	fragments []Fragment
}

// New creates a manager using DefaultUnconcealed.
func New(g *graph.Graph, refs *ref.Model, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Manager{
		graph: g,
		refs:  refs,
		log:   cfg.Logger,
		rule:  DefaultUnconcealed,
	}
}

// SetUnconcealedFunc replaces the rule. A nil fn restores the default.
func (m *Manager) SetUnconcealedFunc(fn UnconcealedFunc) {
	if fn == nil {
		fn = DefaultUnconcealed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rule = fn
	m.ruleGen++
}

// IsUnconcealed reports whether n must be shown individually.
func (m *Manager) IsUnconcealed(n graph.Node) (unconcealed bool, err error) {
	err = m.graph.View(func(v *graph.View) error {
		row, err := v.Resolve(n)
		if err != nil {
			return err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.ensure(v)
		unconcealed = m.flags[row]
		return nil
	})
	return unconcealed, err
}

// UnconcealedRows returns the rows of all unconcealed nodes in row order.
func (m *Manager) UnconcealedRows() ([]int, error) {
	var rows []int
	err := m.graph.View(func(v *graph.View) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.ensure(v)
		for row, flag := range m.flags {
			if flag {
				rows = append(rows, row)
			}
		}
		return nil
	})
	return rows, err
}

// Fragments returns the collapsible runs, ordered by their first row.
func (m *Manager) Fragments() ([]Fragment, error) {
	var out []Fragment
	err := m.graph.View(func(v *graph.View) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.ensure(v)
		out = make([]Fragment, len(m.fragments))
		for i, f := range m.fragments {
			f.Rows = append([]int(nil), f.Rows...)
			out[i] = f
		}
		return nil
	})
	return out, err
}

// ensure recomputes flags and fragments if they are stale. Callers hold
// the graph read lock (through v) and m.mu.
func (m *Manager) ensure(v *graph.View) {
	want := stamp{graph: v.Version(), refs: m.refs.Version(), rule: m.ruleGen}
	if m.valid && m.computed == want {
		return
	}

	start := time.Now()
	n := v.RowCount()
	flags := make([]bool, n)
	for row := 0; row < n; row++ {
		flags[row] = m.rule(v.Node(row), m.refs)
	}

	m.flags = flags
	m.fragments = collect(v, flags)
	m.computed = want
	m.valid = true

	m.log.WithFields(logrus.Fields{
		"rows":      n,
		"fragments": len(m.fragments),
		"version":   want.graph,
		"elapsed":   time.Since(start),
	}).Debug("recomputed concealment")
}

// collect finds the fragments given the unconcealed flags.
func collect(v *graph.View, flags []bool) []Fragment {
	linear := func(row int) bool {
		return !flags[row] && len(v.Down(row)) == 1 && len(v.Up(row)) == 1
	}

	var fragments []Fragment
	for row := range flags {
		if !linear(row) {
			continue
		}
		upper := v.Up(row)[0].Up
		if linear(upper) {
			continue // not the top of its run
		}

		f := Fragment{Upper: upper}
		seen := make(map[int]struct{})
		cur := row
		for linear(cur) {
			if _, loop := seen[cur]; loop {
				break
			}
			seen[cur] = struct{}{}
			f.Rows = append(f.Rows, cur)
			cur = v.Down(cur)[0].Down
		}
		f.Lower = cur
		fragments = append(fragments, f)
	}
	return fragments
}
