package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"vcslog/internal/graph"
	"vcslog/internal/ref"
)

// Schema is the layout of a commit index. Parents are space-separated hex
// hashes in parent order. seq is positive and gives the load order, which
// lets callers fetch only commits added after a previous load. A NULL kind
// is classified by the ref's name.
const Schema = `
CREATE TABLE IF NOT EXISTS commits (
	hash TEXT PRIMARY KEY,
	parents TEXT NOT NULL DEFAULT '',
	seq INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commits_seq ON commits(seq);

CREATE TABLE IF NOT EXISTS refs (
	name TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	kind TEXT
);
`

// Index reads commits and refs from a SQLite commit index. The database
// is only read.
type Index struct {
	db   *sql.DB
	path string
}

// OpenIndex opens the commit index at dbPath. The file must exist.
func OpenIndex(dbPath string) (*Index, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("opening commit index: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening commit index: %w", err)
	}
	// query_only is per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring commit index: %w", err)
	}
	return &Index{db: db, path: dbPath}, nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Commits returns the commits with seq greater than afterSeq, in seq
// order, and the highest seq returned (afterSeq if none). Pass 0 to read
// everything.
func (ix *Index) Commits(ctx context.Context, afterSeq int64) ([]graph.Commit, int64, error) {
	rows, err := ix.db.QueryContext(ctx,
		"SELECT hash, parents, seq FROM commits WHERE seq > ? ORDER BY seq",
		afterSeq,
	)
	if err != nil {
		return nil, afterSeq, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	last := afterSeq
	var commits []graph.Commit
	for rows.Next() {
		var hash, parents string
		var seq int64
		if err := rows.Scan(&hash, &parents, &seq); err != nil {
			return nil, afterSeq, fmt.Errorf("scanning commit: %w", err)
		}
		c, err := parseCommit(hash, strings.Fields(parents))
		if err != nil {
			return nil, afterSeq, fmt.Errorf("commit at seq %d: %w", seq, err)
		}
		commits = append(commits, c)
		last = seq
	}
	if err := rows.Err(); err != nil {
		return nil, afterSeq, fmt.Errorf("reading commits: %w", err)
	}
	return commits, last, nil
}

// Refs returns every ref, sorted by name. Refs with no stored kind are
// classified with rules.
func (ix *Index) Refs(ctx context.Context, rules ref.Rules) ([]ref.Ref, error) {
	rules = rules.OrDefault()

	rows, err := ix.db.QueryContext(ctx, "SELECT name, hash, kind FROM refs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying refs: %w", err)
	}
	defer rows.Close()

	var refs []ref.Ref
	for rows.Next() {
		var name, hash string
		var kind sql.NullString
		if err := rows.Scan(&name, &hash, &kind); err != nil {
			return nil, fmt.Errorf("scanning ref: %w", err)
		}

		entry := RefEntry{Name: name, Hash: hash}
		if kind.Valid {
			k, err := ref.ParseKind(kind.String)
			if err != nil {
				return nil, fmt.Errorf("ref %s: %w", name, err)
			}
			entry.Kind = &k
		}
		r, err := entry.toRef(rules)
		if err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading refs: %w", err)
	}
	return refs, nil
}

// LoadSQLite reads a whole commit index.
func LoadSQLite(ctx context.Context, dbPath string, rules ref.Rules) ([]graph.Commit, []ref.Ref, error) {
	ix, err := OpenIndex(dbPath)
	if err != nil {
		return nil, nil, err
	}
	defer ix.Close()

	commits, _, err := ix.Commits(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	refs, err := ix.Refs(ctx, rules)
	if err != nil {
		return nil, nil, err
	}
	return commits, refs, nil
}
