// Package source loads commit histories from files: YAML fixtures and
// SQLite commit indexes. Both produce the same tuples as a Git checkout.
package source

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"vcslog/internal/commitid"
	"vcslog/internal/graph"
	"vcslog/internal/ref"
)

// History is the YAML document layout.
//
//	commits:
//	  - hash: 3f2a...
//	    parents: [9c1e...]
//	refs:
//	  - name: refs/heads/main
//	    hash: 3f2a...
//	    kind: BRANCH   # optional, classified by name when omitted
type History struct {
	Commits []CommitEntry `yaml:"commits"`
	Refs    []RefEntry    `yaml:"refs"`
}

// CommitEntry is one commit in a YAML history.
type CommitEntry struct {
	Hash    string   `yaml:"hash"`
	Parents []string `yaml:"parents,omitempty"`
}

// RefEntry is one ref in a YAML history.
type RefEntry struct {
	Name string    `yaml:"name"`
	Hash string    `yaml:"hash"`
	Kind *ref.Kind `yaml:"kind,omitempty"`
}

// LoadYAML reads a YAML history file.
func LoadYAML(path string, rules ref.Rules) ([]graph.Commit, []ref.Ref, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading history: %w", err)
	}
	return ParseYAML(data, rules)
}

// ParseYAML parses a YAML history. Refs without an explicit kind are
// classified with rules.
func ParseYAML(data []byte, rules ref.Rules) ([]graph.Commit, []ref.Ref, error) {
	var doc History
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing history: %w", err)
	}
	rules = rules.OrDefault()

	commits := make([]graph.Commit, 0, len(doc.Commits))
	for i, entry := range doc.Commits {
		c, err := parseCommit(entry.Hash, entry.Parents)
		if err != nil {
			return nil, nil, fmt.Errorf("commit %d: %w", i, err)
		}
		commits = append(commits, c)
	}

	refs := make([]ref.Ref, 0, len(doc.Refs))
	for _, entry := range doc.Refs {
		r, err := entry.toRef(rules)
		if err != nil {
			return nil, nil, err
		}
		refs = append(refs, r)
	}
	return commits, refs, nil
}

func (e RefEntry) toRef(rules ref.Rules) (ref.Ref, error) {
	h, err := commitid.Parse(e.Hash)
	if err != nil {
		return ref.Ref{}, fmt.Errorf("ref %s: %w", e.Name, err)
	}
	kind := rules.Classify(e.Name)
	if e.Kind != nil {
		kind = *e.Kind
	}
	return ref.Ref{Name: e.Name, Hash: h, Kind: kind}, nil
}

func parseCommit(hash string, parents []string) (graph.Commit, error) {
	h, err := commitid.Parse(hash)
	if err != nil {
		return graph.Commit{}, err
	}
	c := graph.Commit{Hash: h, Parents: make([]commitid.Hash, 0, len(parents))}
	for _, p := range parents {
		ph, err := commitid.Parse(p)
		if err != nil {
			return graph.Commit{}, fmt.Errorf("parent of %s: %w", hash, err)
		}
		c.Parents = append(c.Parents, ph)
	}
	return c, nil
}
