package ref

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Rules classify raw ref names into kinds using doublestar globs. Patterns
// are tried in order HEAD, branch, tag; the first match wins.
type Rules struct {
	Head     []string `yaml:"head"`
	Branches []string `yaml:"branches"`
	Tags     []string `yaml:"tags"`
}

// DefaultRules matches Git's ref namespaces.
func DefaultRules() Rules {
	return Rules{
		Head:     []string{"HEAD"},
		Branches: []string{"refs/heads/**", "refs/remotes/**"},
		Tags:     []string{"refs/tags/**"},
	}
}

// OrDefault returns r, or DefaultRules if r has no patterns at all.
func (r Rules) OrDefault() Rules {
	if r.Head == nil && r.Branches == nil && r.Tags == nil {
		return DefaultRules()
	}
	return r
}

// LoadRules reads rules from a YAML file. Sections missing from the file
// keep their defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("reading ref rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses YAML rules on top of the defaults.
func ParseRules(data []byte) (Rules, error) {
	var parsed Rules
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Rules{}, fmt.Errorf("parsing ref rules: %w", err)
	}

	rules := DefaultRules().Merge(parsed)
	return rules, rules.Validate()
}

// Merge returns r with every section that over sets replacing r's.
func (r Rules) Merge(over Rules) Rules {
	if over.Head != nil {
		r.Head = over.Head
	}
	if over.Branches != nil {
		r.Branches = over.Branches
	}
	if over.Tags != nil {
		r.Tags = over.Tags
	}
	return r
}

// Validate checks that every pattern is well formed.
func (r Rules) Validate() error {
	for _, group := range [][]string{r.Head, r.Branches, r.Tags} {
		for _, pattern := range group {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("invalid ref pattern %q", pattern)
			}
		}
	}
	return nil
}

// Classify returns the kind of the ref called name.
func (r Rules) Classify(name string) Kind {
	switch {
	case matchAny(r.Head, name):
		return KindHead
	case matchAny(r.Branches, name):
		return KindBranch
	case matchAny(r.Tags, name):
		return KindTag
	default:
		return KindOther
	}
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, name)
		if err != nil {
			continue
		}
		if match {
			return true
		}
	}
	return false
}
