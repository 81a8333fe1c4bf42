// Package sqlite provides a persistent VectorIndex backed by SQLite.
//
// Embeddings are stored as JSON and ranked by brute-force cosine similarity,
// which is adequate for a single course catalogue of a few thousand chunks.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ineyio/tutorgate"
	"github.com/ineyio/tutorgate/index"
)

// Index is a SQLite-backed VectorIndex.
type Index struct {
	db *sql.DB
}

var _ tutorgate.VectorIndex = (*Index)(nil)

// Open opens (creating if needed) the index database at path.
// Use ":memory:" for a throwaway index.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tutorgate/sqlite: open: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serialises writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	x := &Index{db: db}
	if err := x.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return x, nil
}

func (x *Index) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS passages (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding TEXT NOT NULL
	);
	`
	if _, err := x.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("tutorgate/sqlite: init schema: %w", err)
	}
	return nil
}

// Add stores docs, replacing any with the same id.
func (x *Index) Add(ctx context.Context, docs ...index.Document) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tutorgate/sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO passages (id, content, metadata, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("tutorgate/sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		emb, err := json.Marshal(d.Embedding)
		if err != nil {
			return fmt.Errorf("tutorgate/sqlite: encode embedding %s: %w", d.ID, err)
		}
		meta := d.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("tutorgate/sqlite: encode metadata %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Content, string(metaJSON), string(emb)); err != nil {
			return fmt.Errorf("tutorgate/sqlite: insert %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tutorgate/sqlite: commit: %w", err)
	}
	return nil
}

// Search returns the topK stored passages most similar to embedding among
// those whose metadata matches filter.
func (x *Index) Search(ctx context.Context, embedding []float32, topK int, filter tutorgate.Filter) ([]tutorgate.Hit, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM passages`)
	if err != nil {
		return nil, fmt.Errorf("tutorgate/sqlite: query: %w", err)
	}
	defer rows.Close()

	var docs []index.Document
	for rows.Next() {
		var (
			d             index.Document
			meta, embJSON string
		)
		if err := rows.Scan(&d.ID, &d.Content, &meta, &embJSON); err != nil {
			return nil, fmt.Errorf("tutorgate/sqlite: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(embJSON), &d.Embedding); err != nil {
			continue // Skip corrupted embeddings
		}
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			d.Metadata = nil
		}
		if !filter.Matches(d.Metadata) {
			continue
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tutorgate/sqlite: rows: %w", err)
	}

	return index.Rank(docs, embedding, topK), nil
}

// Count returns the number of stored passages.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("tutorgate/sqlite: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}
