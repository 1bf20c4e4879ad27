package main

import (
	"errors"
	"fmt"
	"strings"

	"vcslog/internal/commitid"
	"vcslog/internal/datapack"
	"vcslog/internal/gitio"
	"vcslog/internal/graph"
)

// minPrefix is the shortest hash prefix accepted as a revision.
const minPrefix = 4

// AmbiguityError indicates multiple commits match a prefix.
type AmbiguityError struct {
	Prefix     string
	Candidates []graph.Node
}

func (e *AmbiguityError) Error() string {
	var parts []string
	for _, c := range e.Candidates {
		parts = append(parts, fmt.Sprintf("%s (row %d)", c.CommitHash().String()[:16], c.Row))
	}
	return fmt.Sprintf("ambiguous prefix '%s' matches:\n  %s\nprovide more characters or use a ref", e.Prefix, strings.Join(parts, "\n  "))
}

// NotFoundError indicates no commit matched a revision.
type NotFoundError struct {
	Input string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown revision: %s", e.Input)
}

// resolveNode finds the node named by rev: a ref name (full, or short under
// refs/heads, refs/tags and refs/remotes), a full hash, or a unique hash
// prefix. Missing commits that only exist as placeholders resolve by their
// original hash. When repo is not nil, revisions the pack cannot name
// (HEAD~3, or a prefix of a commit outside the loaded window) are resolved
// by Git and then looked up in the pack.
func resolveNode(pack *datapack.DataPack, repo *gitio.Repository, rev string) (graph.Node, error) {
	n, err := resolveInPack(pack, rev)
	var notFound *NotFoundError
	if repo == nil || !errors.As(err, &notFound) {
		return n, err
	}

	h, gitErr := repo.ResolveRef(rev)
	if gitErr != nil {
		return graph.Node{}, err
	}
	return nodeFor(pack, h, rev)
}

func resolveInPack(pack *datapack.DataPack, rev string) (graph.Node, error) {
	for _, name := range []string{rev, "refs/heads/" + rev, "refs/tags/" + rev, "refs/remotes/" + rev} {
		if r, ok := pack.Refs().Get(name); ok {
			return nodeFor(pack, r.Hash, rev)
		}
	}

	if h, err := commitid.Parse(rev); err == nil {
		return nodeFor(pack, h, rev)
	}

	if len(rev) < minPrefix || !isHex(rev) {
		return graph.Node{}, &NotFoundError{Input: rev}
	}
	return resolvePrefix(pack, strings.ToLower(rev))
}

func resolvePrefix(pack *datapack.DataPack, prefix string) (graph.Node, error) {
	var candidates []graph.Node
	for _, n := range pack.Graph().Nodes() {
		if strings.HasPrefix(n.CommitHash().String(), prefix) {
			candidates = append(candidates, n)
		}
	}

	if len(candidates) == 0 {
		return graph.Node{}, &NotFoundError{Input: prefix}
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	if len(candidates) > 10 {
		candidates = candidates[:10]
	}
	return graph.Node{}, &AmbiguityError{Prefix: prefix, Candidates: candidates}
}

func nodeFor(pack *datapack.DataPack, h commitid.Hash, rev string) (graph.Node, error) {
	if n, ok := pack.NodeByHash(h); ok {
		return n, nil
	}
	if n, ok := pack.FakeNodeByHash(h, true); ok {
		return n, nil
	}
	return graph.Node{}, fmt.Errorf("revision %q (%s) is not in the loaded history", rev, commitid.Short(h))
}

// isHex reports whether s contains only hex digits.
func isHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
