// Package ref provides the reference index: named pointers (branches, tags,
// HEAD) to commits, and reverse lookup from a commit to its refs.
package ref

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"vcslog/internal/commitid"
)

// Kind classifies a reference.
type Kind int

const (
	KindOther Kind = iota
	KindBranch
	KindTag
	KindHead
)

func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "BRANCH"
	case KindTag:
		return "TAG"
	case KindHead:
		return "HEAD"
	default:
		return "OTHER"
	}
}

// ParseKind parses a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BRANCH":
		return KindBranch, nil
	case "TAG":
		return KindTag, nil
	case "HEAD":
		return KindHead, nil
	case "OTHER":
		return KindOther, nil
	default:
		return KindOther, fmt.Errorf("unknown ref kind %q", s)
	}
}

// MarshalYAML writes the kind by name.
func (k Kind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

// UnmarshalYAML reads a kind by name.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Ref is a named pointer to a commit.
type Ref struct {
	Name string
	Hash commitid.Hash
	Kind Kind
}

// Model is the set of refs at a point in time. Refs are kept sorted by name,
// which is the order used by every lookup that returns "the first" ref.
// It is safe for concurrent use.
type Model struct {
	mu       sync.RWMutex
	refs     []Ref
	byHash   map[commitid.Hash][]int
	branches map[commitid.Hash]struct{}
	version  uint64
}

// NewModel creates a model holding refs.
func NewModel(refs []Ref) *Model {
	m := &Model{}
	m.set(refs)
	m.version = 1
	return m
}

// Replace swaps in a new ref set, for example after a branch moved.
func (m *Model) Replace(refs []Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(refs)
	m.version++
}

func (m *Model) set(refs []Ref) {
	sorted := make([]Ref, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	m.refs = sorted
	m.byHash = make(map[commitid.Hash][]int, len(sorted))
	m.branches = make(map[commitid.Hash]struct{})
	for i, r := range sorted {
		m.byHash[r.Hash] = append(m.byHash[r.Hash], i)
		if r.Kind == KindBranch {
			m.branches[r.Hash] = struct{}{}
		}
	}
}

// Version increases every time the ref set is replaced.
func (m *Model) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// IsBranchRef reports whether some branch ref points at h.
func (m *Model) IsBranchRef(h commitid.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.branches[h]
	return ok
}

// All returns every ref, sorted by name.
func (m *Model) All() []Ref {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Ref, len(m.refs))
	copy(out, m.refs)
	return out
}

// Branches returns the branch refs, sorted by name.
func (m *Model) Branches() []Ref {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Ref
	for _, r := range m.refs {
		if r.Kind == KindBranch {
			out = append(out, r)
		}
	}
	return out
}

// RefsOf returns the refs pointing at h, sorted by name.
func (m *Model) RefsOf(h commitid.Hash) []Ref {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.byHash[h]
	out := make([]Ref, 0, len(idx))
	for _, i := range idx {
		out = append(out, m.refs[i])
	}
	return out
}

// Find returns the first ref, by name, pointing at h.
func (m *Model) Find(h commitid.Hash) (Ref, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.byHash[h]
	if len(idx) == 0 {
		return Ref{}, false
	}
	return m.refs[idx[0]], true
}

// Get returns the ref with the given name.
func (m *Model) Get(name string) (Ref, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.refs), func(i int) bool {
		return m.refs[i].Name >= name
	})
	if i < len(m.refs) && m.refs[i].Name == name {
		return m.refs[i], true
	}
	return Ref{}, false
}
