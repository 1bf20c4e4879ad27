package source

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vcslog/internal/commitid"
	"vcslog/internal/ref"
)

var (
	hashA = strings.Repeat("a", 40)
	hashB = strings.Repeat("b", 40)
	hashC = strings.Repeat("c", 40)
)

const historyYAML = `commits:
  - hash: cccccccccccccccccccccccccccccccccccccccc
    parents:
      - aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
      - bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb
  - hash: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
  - hash: bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb
refs:
  - name: refs/heads/main
    hash: cccccccccccccccccccccccccccccccccccccccc
  - name: refs/tags/v1
    hash: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
  - name: refs/custom/topic
    hash: bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb
    kind: branch
`

func TestParseYAML(t *testing.T) {
	commits, refs, err := ParseYAML([]byte(historyYAML), ref.Rules{})
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}

	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}
	c := commits[0]
	if c.Hash != commitid.MustParse(hashC) {
		t.Errorf("first commit = %s", c.Hash)
	}
	if len(c.Parents) != 2 || c.Parents[0] != commitid.MustParse(hashA) || c.Parents[1] != commitid.MustParse(hashB) {
		t.Errorf("parents = %v", c.Parents)
	}
	if len(commits[1].Parents) != 0 {
		t.Errorf("root has parents: %v", commits[1].Parents)
	}

	want := map[string]ref.Kind{
		"refs/heads/main":   ref.KindBranch,
		"refs/tags/v1":      ref.KindTag,
		"refs/custom/topic": ref.KindBranch, // explicit kind wins
	}
	if len(refs) != len(want) {
		t.Fatalf("expected %d refs, got %d", len(want), len(refs))
	}
	for _, r := range refs {
		if r.Kind != want[r.Name] {
			t.Errorf("%s kind = %s, want %s", r.Name, r.Kind, want[r.Name])
		}
	}
}

func TestParseYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "commits: [\n"},
		{"short hash", "commits:\n  - hash: abc\n"},
		{"bad parent", "commits:\n  - hash: " + hashA + "\n    parents: [zz]\n"},
		{"bad ref hash", "refs:\n  - name: HEAD\n    hash: nope\n"},
		{"bad ref kind", "refs:\n  - name: HEAD\n    hash: " + hashA + "\n    kind: remote\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseYAML([]byte(tt.data), ref.Rules{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.yaml")
	if err := os.WriteFile(path, []byte(historyYAML), 0644); err != nil {
		t.Fatalf("writing history: %v", err)
	}

	rules := ref.Rules{Tags: []string{"refs/tags/release-*"}}
	_, refs, err := LoadYAML(path, rules)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	for _, r := range refs {
		if r.Name == "refs/tags/v1" && r.Kind != ref.KindOther {
			t.Errorf("v1 should not match custom tag rules, got %s", r.Kind)
		}
	}
}

// setupIndex writes a commit index with three commits and two refs.
func setupIndex(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}
	stmts := []struct {
		query string
		args  []any
	}{
		{"INSERT INTO commits (hash, parents, seq) VALUES (?, ?, ?)", []any{hashA, "", 1}},
		{"INSERT INTO commits (hash, parents, seq) VALUES (?, ?, ?)", []any{hashB, hashA, 2}},
		{"INSERT INTO commits (hash, parents, seq) VALUES (?, ?, ?)", []any{hashC, hashB + " " + hashA, 3}},
		{"INSERT INTO refs (name, hash, kind) VALUES (?, ?, ?)", []any{"refs/heads/main", hashC, nil}},
		{"INSERT INTO refs (name, hash, kind) VALUES (?, ?, ?)", []any{"refs/pinned", hashA, "TAG"}},
	}
	for _, s := range stmts {
		if _, err := db.Exec(s.query, s.args...); err != nil {
			t.Fatalf("inserting: %v", err)
		}
	}
	return path
}

func TestLoadSQLite(t *testing.T) {
	path := setupIndex(t)

	commits, refs, err := LoadSQLite(context.Background(), path, ref.Rules{})
	if err != nil {
		t.Fatalf("loading: %v", err)
	}

	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}
	if commits[0].Hash != commitid.MustParse(hashA) || commits[2].Hash != commitid.MustParse(hashC) {
		t.Error("commits not in seq order")
	}
	merge := commits[2]
	if len(merge.Parents) != 2 || merge.Parents[0] != commitid.MustParse(hashB) {
		t.Errorf("merge parents = %v", merge.Parents)
	}

	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if refs[0].Name != "refs/heads/main" || refs[0].Kind != ref.KindBranch {
		t.Errorf("unexpected first ref %+v", refs[0])
	}
	if refs[1].Name != "refs/pinned" || refs[1].Kind != ref.KindTag {
		t.Errorf("unexpected second ref %+v", refs[1])
	}
}

func TestIndex_CommitsAfterSeq(t *testing.T) {
	ix, err := OpenIndex(setupIndex(t))
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	defer ix.Close()

	ctx := context.Background()
	first, last, err := ix.Commits(ctx, 0)
	if err != nil {
		t.Fatalf("reading commits: %v", err)
	}
	if len(first) != 3 || last != 3 {
		t.Fatalf("expected 3 commits up to seq 3, got %d up to %d", len(first), last)
	}

	rest, last, err := ix.Commits(ctx, 2)
	if err != nil {
		t.Fatalf("reading commits: %v", err)
	}
	if len(rest) != 1 || last != 3 {
		t.Errorf("expected 1 commit after seq 2, got %d (last %d)", len(rest), last)
	}

	none, last, err := ix.Commits(ctx, 3)
	if err != nil {
		t.Fatalf("reading commits: %v", err)
	}
	if len(none) != 0 || last != 3 {
		t.Errorf("expected nothing after seq 3, got %d (last %d)", len(none), last)
	}
}

func TestIndex_ReadOnly(t *testing.T) {
	ix, err := OpenIndex(setupIndex(t))
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	defer ix.Close()

	if _, err := ix.db.Exec("DELETE FROM commits"); err == nil {
		t.Error("expected writes to be rejected")
	}
}

func TestOpenIndex_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	if _, err := OpenIndex(path); err == nil {
		t.Fatal("expected error for missing index")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("opening a missing index should not create it")
	}
}
