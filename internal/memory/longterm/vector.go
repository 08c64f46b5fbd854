package longterm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const vectorSnapshotFileName = "vector_snapshot.json"

// vectorRecord is the on-disk representation of one embedded entry.
type vectorRecord struct {
	Entry     Entry     `json:"entry"`
	Embedding []float32 `json:"embedding"`
}

// VectorStore is the embedding-backed long-term memory backend. New entries
// are embedded via the LlmClient and compared by cosine similarity; the
// index is periodically snapshotted to disk and reloaded on start (spec
// §3). Every write also lands in the underlying BM25 store, so a restart
// that loses in-memory vector state since the last snapshot (spec §9's
// flagged ambiguity, documented and accepted) never loses the text itself.
type VectorStore struct {
	mu       sync.RWMutex
	path     string
	embedder Embedder
	fallback *BM25Store
	records  []vectorRecord
	dirty    bool
}

// NewVectorStore loads dir/memory/vector_snapshot.json if present. fallback
// receives every Append too, and serves Search when embedding the query
// fails, per the documented degrade-to-BM25 behaviour.
func NewVectorStore(dir string, embedder Embedder, fallback *BM25Store) (*VectorStore, error) {
	v := &VectorStore{
		path:     filepath.Join(dir, "memory", vectorSnapshotFileName),
		embedder: embedder,
		fallback: fallback,
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *VectorStore) load() error {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read vector snapshot: %w", err)
	}
	var records []vectorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode vector snapshot: %w", err)
	}
	v.records = records
	return nil
}

// Snapshot flushes the current in-memory index to disk. Safe to call
// periodically (e.g. every 5 minutes, spec §5) or on clean shutdown.
func (v *VectorStore) Snapshot() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return fmt.Errorf("create memory directory: %w", err)
	}
	data, err := json.Marshal(v.records)
	if err != nil {
		return fmt.Errorf("encode vector snapshot: %w", err)
	}
	if err := os.WriteFile(v.path, data, 0o644); err != nil {
		return fmt.Errorf("write vector snapshot: %w", err)
	}
	v.dirty = false
	return nil
}

// Append embeds content and appends it to both the vector index and the
// BM25 fallback store, so a write always lands durably even if the
// embedding call fails.
func (v *VectorStore) Append(ctx context.Context, title, content string) error {
	if err := v.fallback.Append(ctx, title, content); err != nil {
		return err
	}

	emb, err := v.embedder.Embed(ctx, content)
	if err != nil {
		return nil // text is already durable via the BM25 fallback; embedding is best-effort
	}

	entries := v.fallback.entries
	var entry Entry
	if len(entries) > 0 {
		entry = entries[len(entries)-1]
	}

	v.mu.Lock()
	v.records = append(v.records, vectorRecord{Entry: entry, Embedding: emb})
	v.dirty = true
	v.mu.Unlock()
	return nil
}

// Search embeds query and ranks the index by cosine similarity. If
// embedding the query fails, it degrades to the BM25 fallback store.
func (v *VectorStore) Search(ctx context.Context, query string, k int) ([]Result, error) {
	qEmb, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return v.fallback.Search(ctx, query, k)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	results := make([]Result, 0, len(v.records))
	for _, r := range v.records {
		score := cosineSimilarity(qEmb, r.Embedding)
		if score <= 0 {
			continue
		}
		results = append(results, Result{Entry: r.Entry, Score: float64(score)})
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

// Mode always reports "vector".
func (v *VectorStore) Mode() string { return "vector" }

// Close flushes the snapshot before shutdown.
func (v *VectorStore) Close() error {
	return v.Snapshot()
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(normA))*math.Sqrt(float64(normB)))
}
