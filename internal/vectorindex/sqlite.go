package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists embedding records in SQLite, vectors serialized as
// JSON. Row id order is insertion order and is retained across upserts, so
// it serves as the stable tiebreak the same way MemoryStore's slices do.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS embedding_items (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	owner       TEXT NOT NULL,
	namespace   TEXT NOT NULL,
	ref         TEXT NOT NULL,
	content     TEXT NOT NULL,
	vector_json TEXT NOT NULL,
	dims        INTEGER NOT NULL,
	created_at  TEXT NOT NULL DEFAULT (datetime('now')),
	UNIQUE (owner, namespace, ref)
);
CREATE INDEX IF NOT EXISTS idx_embedding_partition ON embedding_items (owner, namespace);
`

// OpenSQLiteStore opens (creating if needed) a SQLite-backed index at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	// The modernc driver serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent upserts.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite index schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	vec, err := json.Marshal(rec.Vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embedding_items (owner, namespace, ref, content, vector_json, dims)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, namespace, ref) DO UPDATE SET
			content = excluded.content,
			vector_json = excluded.vector_json,
			dims = excluded.dims`,
		rec.Owner, rec.Namespace, rec.Ref, rec.Content, string(vec), len(rec.Vector))
	if err != nil {
		return fmt.Errorf("upsert embedding record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, owner, namespace string, query []float64, topK int) ([]Result, error) {
	topK = clampTopK(topK)

	rows, err := s.db.QueryContext(ctx, `
		SELECT ref, content, vector_json
		FROM embedding_items
		WHERE owner = ? AND namespace = ?
		ORDER BY id`,
		owner, namespace)
	if err != nil {
		return nil, fmt.Errorf("query embedding partition: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scored []Result
	for rows.Next() {
		var ref, content, vectorJSON string
		if err := rows.Scan(&ref, &content, &vectorJSON); err != nil {
			return nil, fmt.Errorf("scan embedding record: %w", err)
		}
		var vec []float64
		if err := json.Unmarshal([]byte(vectorJSON), &vec); err != nil {
			// A corrupt row is unrankable, not fatal.
			continue
		}
		score := Cosine(query, vec)
		if score == UnrankableScore {
			continue
		}
		scored = append(scored, Result{Ref: ref, Content: content, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding partition: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
