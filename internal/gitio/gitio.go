// Package gitio loads commit history and refs from a Git repository using
// go-git.
package gitio

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/sirupsen/logrus"

	"vcslog/internal/commitid"
	"vcslog/internal/graph"
	"vcslog/internal/ref"
)

// Options controls what is loaded.
type Options struct {
	// Limit caps the number of commits loaded; 0 means no limit. Parents of
	// the last commits loaded become fake nodes in the graph.
	Limit int
	// Rules classify ref names. The zero value means ref.DefaultRules.
	Rules  ref.Rules
	Logger *logrus.Logger
}

func (o Options) logger() *logrus.Logger {
	if o.Logger == nil {
		return logrus.New()
	}
	return o.Logger
}

// Repository wraps a go-git repository.
type Repository struct {
	repo *git.Repository
	path string
}

// Open opens an existing Git repository.
func Open(repoPath string) (*Repository, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repository{repo: repo, path: repoPath}, nil
}

// LoadHistory reads commits reachable from any ref, newest committer time
// first, together with the refs.
func (r *Repository) LoadHistory(ctx context.Context, opts Options) ([]graph.Commit, []ref.Ref, error) {
	refs, err := r.LoadRefs(opts)
	if err != nil {
		return nil, nil, err
	}
	if len(refs) == 0 {
		return nil, nil, nil
	}

	iter, err := r.repo.Log(&git.LogOptions{All: true, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	var commits []graph.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, toCommit(c))
		if opts.Limit > 0 && len(commits) >= opts.Limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walking history: %w", err)
	}

	opts.logger().WithFields(logrus.Fields{
		"path":    r.path,
		"commits": len(commits),
		"refs":    len(refs),
	}).Debug("loaded history")
	return commits, refs, nil
}

// LoadSince reads the commits reachable from the current refs that known
// reports as not loaded yet, without descending below known commits. The
// result feeds DataPack.AppendCommits.
func (r *Repository) LoadSince(ctx context.Context, known func(commitid.Hash) bool, opts Options) ([]graph.Commit, []ref.Ref, error) {
	refs, err := r.LoadRefs(opts)
	if err != nil {
		return nil, nil, err
	}

	tips := make([]commitid.Hash, len(refs))
	for i, rf := range refs {
		tips[i] = rf.Hash
	}
	commits, err := r.LoadFrom(ctx, tips, known, opts)
	if err != nil {
		return nil, nil, err
	}
	return commits, refs, nil
}

// LoadFrom reads commits breadth-first from start, skipping those known
// reports as loaded and not descending below them. Passing the original
// hashes of a graph's fake nodes deepens a history cut off by a limit.
func (r *Repository) LoadFrom(ctx context.Context, start []commitid.Hash, known func(commitid.Hash) bool, opts Options) ([]graph.Commit, error) {
	seen := make(map[plumbing.Hash]struct{})
	var queue []plumbing.Hash
	push := func(h plumbing.Hash) {
		if _, ok := seen[h]; ok || known(h) {
			return
		}
		seen[h] = struct{}{}
		queue = append(queue, h)
	}
	for _, h := range start {
		push(h)
	}

	var commits []graph.Commit
	for len(queue) > 0 {
		if opts.Limit > 0 && len(commits) >= opts.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h := queue[0]
		queue = queue[1:]
		c, err := r.repo.CommitObject(h)
		if err != nil {
			return nil, fmt.Errorf("getting commit %s: %w", h, err)
		}
		commits = append(commits, toCommit(c))
		for _, p := range c.ParentHashes {
			push(p)
		}
	}

	opts.logger().WithFields(logrus.Fields{
		"path":    r.path,
		"start":   len(start),
		"commits": len(commits),
	}).Debug("loaded new commits")
	return commits, nil
}

// LoadRefs returns the refs that point at commits, classified by the
// options' rules. Symbolic refs such as HEAD are resolved and annotated
// tags are peeled to their commit.
func (r *Repository) LoadRefs(opts Options) ([]ref.Ref, error) {
	rules := opts.Rules.OrDefault()
	log := opts.logger()

	iter, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	defer iter.Close()

	var refs []ref.Ref
	err = iter.ForEach(func(rf *plumbing.Reference) error {
		name := rf.Name().String()
		target, err := r.peel(rf)
		if err != nil {
			log.WithFields(logrus.Fields{"ref": name, "error": err}).Debug("skipping ref")
			return nil
		}
		refs = append(refs, ref.Ref{
			Name: name,
			Hash: target,
			Kind: rules.Classify(name),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading references: %w", err)
	}
	return refs, nil
}

// peel resolves rf to the commit it ultimately names.
func (r *Repository) peel(rf *plumbing.Reference) (plumbing.Hash, error) {
	if rf.Type() == plumbing.SymbolicReference {
		resolved, err := r.repo.Reference(rf.Name(), true)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolving symbolic ref: %w", err)
		}
		rf = resolved
	}

	h := rf.Hash()
	tag, err := r.repo.TagObject(h)
	switch {
	case err == nil:
		c, err := tag.Commit()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("peeling tag: %w", err)
		}
		return c.Hash, nil
	case errors.Is(err, plumbing.ErrObjectNotFound):
		if _, err := r.repo.CommitObject(h); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("getting commit: %w", err)
		}
		return h, nil
	default:
		return plumbing.ZeroHash, fmt.Errorf("getting tag: %w", err)
	}
}

// ResolveRef resolves a branch name, tag name, commit hash or any other
// revision Git understands (a short hash, HEAD~2, main^2) to a commit hash.
func (r *Repository) ResolveRef(refName string) (commitid.Hash, error) {
	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(refName),
		plumbing.NewTagReferenceName(refName),
		plumbing.ReferenceName(refName),
	}
	for _, name := range candidates {
		rf, err := r.repo.Reference(name, true)
		if err != nil {
			continue
		}
		return r.peel(rf)
	}

	h, err := r.repo.ResolveRevision(plumbing.Revision(refName))
	if err != nil {
		return commitid.Zero, fmt.Errorf("resolving ref %q: %w", refName, err)
	}
	return *h, nil
}

func toCommit(c *object.Commit) graph.Commit {
	parents := make([]commitid.Hash, len(c.ParentHashes))
	copy(parents, c.ParentHashes)
	return graph.Commit{Hash: c.Hash, Parents: parents}
}
