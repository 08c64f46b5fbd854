package longterm

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteFileName = "vector_store.db"

// SqliteStore is a durable embedding-backed long-term memory backend: an
// alternative to VectorStore's periodic JSON snapshot for deployments that
// need every Append committed to disk before it returns, rather than living
// in memory until the next flush (spec §9's flagged snapshot-durability
// ambiguity; see DESIGN.md decision 4). Every row lands even when embedding
// fails, so a degraded embedder only loses ranking for that row, not the
// content.
type SqliteStore struct {
	db       *sql.DB
	embedder Embedder
	fallback *BM25Store
}

// NewSqliteStore opens (creating if absent) dir/memory/vector_store.db.
// fallback receives every Append too and serves Search when embedding the
// query fails, matching VectorStore's degrade-to-BM25 behaviour.
func NewSqliteStore(dir string, embedder Embedder, fallback *BM25Store) (*SqliteStore, error) {
	path := filepath.Join(dir, "memory", sqliteFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &SqliteStore{db: db, embedder: embedder, fallback: fallback}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create entries table: %w", err)
	}
	return nil
}

// Append embeds content and commits the row immediately; a failed embedding
// call still lands the row with a nil embedding, so Search degrades
// per-row rather than for the whole store.
func (s *SqliteStore) Append(ctx context.Context, title, content string) error {
	if err := s.fallback.Append(ctx, title, content); err != nil {
		return err
	}
	if title == "" {
		title = time.Now().Format(time.RFC3339)
	}

	var emb []byte
	if vec, err := s.embedder.Embed(ctx, content); err == nil {
		emb = encodeEmbedding(vec)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (title, content, embedding, created_at) VALUES (?, ?, ?, ?)`,
		title, content, emb, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Search embeds query and ranks committed rows by cosine similarity,
// skipping rows with no embedding. Degrades to the BM25 fallback store if
// embedding the query fails.
func (s *SqliteStore) Search(ctx context.Context, query string, k int) ([]Result, error) {
	qEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return s.fallback.Search(ctx, query, k)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT title, content, embedding, created_at FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var title, content string
		var emb []byte
		var createdAt time.Time
		if err := rows.Scan(&title, &content, &emb, &createdAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if len(emb) == 0 {
			continue
		}
		score := cosineSimilarity(qEmb, decodeEmbedding(emb))
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			Entry: Entry{Timestamp: createdAt, Title: title, Content: content},
			Score: float64(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Entry.Timestamp.After(results[j].Entry.Timestamp)
		}
		return results[i].Score > results[j].Score
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Mode always reports "sqlite".
func (s *SqliteStore) Mode() string { return "sqlite" }

// Close releases the database handle; every Append already committed, so
// there is nothing left to flush.
func (s *SqliteStore) Close() error { return s.db.Close() }

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v
}
