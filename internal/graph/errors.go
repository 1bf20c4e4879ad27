package graph

import (
	"errors"
	"fmt"

	"vcslog/internal/commitid"
)

// ErrNodeNotFound is returned when a node argument does not belong to the graph.
var ErrNodeNotFound = errors.New("node not found in graph")

// DuplicateCommitError indicates a commit hash that is already present as a
// real node, or that appears twice in one batch.
type DuplicateCommitError struct {
	Hash commitid.Hash
}

func (e *DuplicateCommitError) Error() string {
	return fmt.Sprintf("duplicate commit %s", e.Hash)
}

// MalformedInputError indicates an unusable commit or parent hash.
type MalformedInputError struct {
	Hash   commitid.Hash
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed commit %s: %s", e.Hash, e.Reason)
}
