package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vcslog/internal/commitid"
	"vcslog/internal/datapack"
)

var (
	hashRoot  = "1111" + strings.Repeat("0", 36)
	hashMid   = "2222" + strings.Repeat("0", 36)
	hashTip   = "22221" + strings.Repeat("0", 35)
	hashGhost = "9999" + strings.Repeat("0", 36)
)

func writeHistory(t *testing.T) string {
	t.Helper()
	content := "commits:\n" +
		"  - hash: " + hashTip + "\n    parents: [" + hashMid + "]\n" +
		"  - hash: " + hashMid + "\n    parents: [" + hashRoot + "]\n" +
		"  - hash: " + hashRoot + "\n    parents: [" + hashGhost + "]\n" +
		"refs:\n" +
		"  - name: refs/heads/main\n    hash: " + hashTip + "\n" +
		"  - name: refs/tags/v1\n    hash: " + hashRoot + "\n"

	path := filepath.Join(t.TempDir(), "history.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing history: %v", err)
	}
	return path
}

// setupPack loads the fixture history through the same path the CLI uses.
func setupPack(t *testing.T) *datapack.DataPack {
	t.Helper()
	for _, key := range []string{"VCSLOG_CACHE_SIZE", "VCSLOG_LOG_LEVEL", "VCSLOG_MAX_COMMITS", "VCSLOG_RULES"} {
		t.Setenv(key, "")
	}

	yamlPath = writeHistory(t)
	logLevel = "error"
	t.Cleanup(func() {
		yamlPath = ""
		logLevel = ""
	})

	s, err := loadSession(context.Background())
	if err != nil {
		t.Fatalf("loading pack: %v", err)
	}
	return s.pack
}

func TestLoadPack_YAML(t *testing.T) {
	pack := setupPack(t)

	if pack.Graph().RowCount() != 4 {
		t.Fatalf("expected 4 rows (3 commits and 1 placeholder), got %d", pack.Graph().RowCount())
	}
	if _, ok := pack.FakeNodeByHash(commitid.MustParse(hashGhost), true); !ok {
		t.Error("expected placeholder for the missing root parent")
	}
}

func TestLoadPack_ConflictingSources(t *testing.T) {
	yamlPath, sqlitePath = "a.yaml", "b.db"
	t.Cleanup(func() { yamlPath, sqlitePath = "", "" })

	if _, err := loadSession(context.Background()); err == nil {
		t.Error("expected error for two sources")
	}
}

func TestResolveNode(t *testing.T) {
	pack := setupPack(t)

	tests := []struct {
		rev  string
		want string
	}{
		{"main", hashTip},
		{"refs/heads/main", hashTip},
		{"v1", hashRoot},
		{hashMid, hashMid},
		{"1111", hashRoot},
		{"22220", hashMid},
		{"22221", hashTip},
		{"99990", hashGhost}, // placeholder, by its original hash
	}
	for _, tt := range tests {
		t.Run(tt.rev, func(t *testing.T) {
			n, err := resolveNode(pack, nil, tt.rev)
			if err != nil {
				t.Fatalf("resolving: %v", err)
			}
			if got := n.CommitHash(); got != commitid.MustParse(tt.want) {
				t.Errorf("resolved to %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveNode_Errors(t *testing.T) {
	pack := setupPack(t)

	tests := []struct {
		rev  string
		want string
	}{
		{"nope", "unknown"},
		{"111", "unknown"}, // too short
		{"zzzz", "unknown"},
		{"3333", "unknown"},
		{"2222", "ambiguous"},
		{"aaaa" + strings.Repeat("0", 36), "not in the loaded history"},
	}
	for _, tt := range tests {
		_, err := resolveNode(pack, nil, tt.rev)
		if err == nil {
			t.Errorf("expected error resolving %q", tt.rev)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("resolving %q: error %q does not mention %q", tt.rev, err, tt.want)
		}
	}
}
