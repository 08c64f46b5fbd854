// Package longterm implements the content-addressed append log and
// retrieval index backing LongTermMemory (spec §3): a BM25-style lexical
// backend over a markdown file, and an optional embedding-backed vector
// backend that falls back to BM25 when embedding is unavailable.
package longterm

import (
	"context"
	"errors"
	"time"
)

// ErrEmbedUnsupported is returned by an LlmClient.Embed implementation (or by
// a Store configured without an embedder) to signal that the caller should
// fall back to the BM25 backend.
var ErrEmbedUnsupported = errors.New("longterm: embedding not supported")

// Embedder is the capability LongTermMemory needs from an LlmClient to run
// in vector mode. Implemented by internal/agent.LlmClient.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Entry is a single block in the long-term append log.
type Entry struct {
	Timestamp time.Time
	Title     string
	Content   string
}

// Result is a single retrieval hit, ranked by Score descending.
type Result struct {
	Entry Entry
	Score float64
}

// Store is the capability set LongTermMemory needs, satisfied by both the
// BM25 and the vector backend so the ReAct loop and Compaction never know
// which mode is active.
type Store interface {
	// Append commits a new block to the log, titled with the current
	// timestamp unless title is non-empty.
	Append(ctx context.Context, title, content string) error

	// Search returns the top-k entries most relevant to query.
	Search(ctx context.Context, query string, k int) ([]Result, error)

	// Mode reports which backend is actually serving retrieval ("bm25" or
	// "vector"), since vector mode can silently degrade to BM25.
	Mode() string

	// Close flushes any pending state (vector snapshot) to disk.
	Close() error
}

// NewStore builds a Store for workspace root dir using the JSON-snapshot
// vector backend. When embedder is nil, the BM25 backend is used (spec §3's
// documented fallback). Equivalent to NewStoreWithBackend(dir, embedder, "").
func NewStore(dir string, embedder Embedder) (Store, error) {
	return NewStoreWithBackend(dir, embedder, "")
}

// NewStoreWithBackend builds a Store for workspace root dir, selecting among
// the long-term retrieval backends: "bm25" forces lexical-only retrieval;
// "sqlite" durably commits every Append to dir/memory/vector_store.db
// (DESIGN.md decision 4); anything else ("", "vector") uses the periodic
// JSON-snapshot VectorStore. When embedder is nil, bm25 is always used.
func NewStoreWithBackend(dir string, embedder Embedder, backend string) (Store, error) {
	bm25, err := NewBM25Store(dir)
	if err != nil {
		return nil, err
	}
	if embedder == nil || backend == "bm25" {
		return bm25, nil
	}

	if backend == "sqlite" {
		sq, err := NewSqliteStore(dir, embedder, bm25)
		if err != nil {
			return bm25, nil
		}
		return sq, nil
	}

	vec, err := NewVectorStore(dir, embedder, bm25)
	if err != nil {
		return bm25, nil
	}
	return vec, nil
}
