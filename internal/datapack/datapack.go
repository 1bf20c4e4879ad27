// Package datapack bundles a commit graph with its refs and the services
// derived from them (reachability and concealment) behind one handle.
package datapack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vcslog/internal/commitid"
	"vcslog/internal/fragment"
	"vcslog/internal/graph"
	"vcslog/internal/reach"
	"vcslog/internal/ref"
)

// Config configures a DataPack.
type Config struct {
	Logger *logrus.Logger
	// CacheSize bounds the reachability closure cache.
	CacheSize int
}

// DataPack owns one history: graph, refs, reachability engine and
// fragment manager. Appends are serialized; queries may run concurrently.
type DataPack struct {
	appendMu  sync.Mutex
	graph     *graph.Graph
	refs      *ref.Model
	reach     *reach.Engine
	fragments *fragment.Manager
	log       *logrus.Logger
}

// Build constructs a data pack from commits in any order and a ref set.
func Build(commits []graph.Commit, refs []ref.Ref, cfg Config) (*DataPack, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	start := time.Now()

	g, err := graph.Build(commits, graph.Config{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("building graph: %w", err)
	}
	model := ref.NewModel(refs)

	engine, err := reach.New(g, model, reach.Config{
		CacheSize: cfg.CacheSize,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	p := &DataPack{
		graph:     g,
		refs:      model,
		reach:     engine,
		fragments: fragment.New(g, model, fragment.Config{Logger: cfg.Logger}),
		log:       cfg.Logger,
	}

	p.log.WithFields(logrus.Fields{
		"commits": len(commits),
		"rows":    g.RowCount(),
		"refs":    len(refs),
		"elapsed": time.Since(start),
	}).Info("built data pack")
	return p, nil
}

// AppendCommits adds newly loaded commits. On error nothing is added.
func (p *DataPack) AppendCommits(commits []graph.Commit) error {
	p.appendMu.Lock()
	defer p.appendMu.Unlock()

	start := time.Now()
	before := p.graph.RowCount()
	if err := p.graph.Append(commits); err != nil {
		return fmt.Errorf("appending %d commits: %w", len(commits), err)
	}

	p.log.WithFields(logrus.Fields{
		"commits": len(commits),
		"rows":    p.graph.RowCount() - before,
		"elapsed": time.Since(start),
	}).Info("appended commits")
	return nil
}

// UpdateRefs replaces the ref set, for example after a branch moved.
func (p *DataPack) UpdateRefs(refs []ref.Ref) {
	p.refs.Replace(refs)
}

// Graph returns the underlying graph.
func (p *DataPack) Graph() *graph.Graph { return p.graph }

// Refs returns the ref model.
func (p *DataPack) Refs() *ref.Model { return p.refs }

// Reach returns the reachability engine.
func (p *DataPack) Reach() *reach.Engine { return p.reach }

// Fragments returns the fragment manager.
func (p *DataPack) Fragments() *fragment.Manager { return p.fragments }

// Node returns the node in row.
func (p *DataPack) Node(row int) (graph.Node, bool) {
	return p.graph.NodeAt(row)
}

// NodeByHash returns the node with hash h.
func (p *DataPack) NodeByHash(h commitid.Hash) (graph.Node, bool) {
	return p.graph.NodeByHash(h)
}

// RowByHash returns the row of h, or -1.
func (p *DataPack) RowByHash(h commitid.Hash) int {
	return p.graph.RowByHash(h)
}

// FakeNodeByHash returns the placeholder for h; see graph.Graph.FakeNodeByHash.
func (p *DataPack) FakeNodeByHash(h commitid.Hash, original bool) (graph.Node, bool) {
	return p.graph.FakeNodeByHash(h, original)
}

// FindRefOfNode returns the first ref, by name, pointing at n.
func (p *DataPack) FindRefOfNode(n graph.Node) (ref.Ref, bool) {
	if n.Fake {
		return ref.Ref{}, false
	}
	return p.refs.Find(n.Hash)
}

// UpRefNodes returns the branch tips at or above n.
func (p *DataPack) UpRefNodes(ctx context.Context, n graph.Node) ([]graph.Node, error) {
	return p.reach.UpRefNodes(ctx, n)
}
