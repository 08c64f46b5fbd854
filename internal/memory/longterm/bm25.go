package longterm

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const longTermFileName = "long-term.md"

// BM25Store is the lexical long-term memory backend: a markdown file loaded
// at startup, block-delimited by "## <timestamp>" headers, ranked at query
// time by term-frequency overlap with document-length normalisation (spec
// §3). It is the always-available fallback when no embedder is configured.
type BM25Store struct {
	mu      sync.RWMutex
	path    string
	entries []Entry
	df      map[string]int
	avgLen  float64
}

// NewBM25Store loads dir/memory/long-term.md if present, or starts empty.
func NewBM25Store(dir string) (*BM25Store, error) {
	s := &BM25Store{path: filepath.Join(dir, "memory", longTermFileName)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BM25Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.rebuildIndex()
			return nil
		}
		return fmt.Errorf("open long-term store: %w", err)
	}
	defer f.Close()

	var entries []Entry
	var cur *Entry
	var body strings.Builder

	flush := func() {
		if cur != nil {
			cur.Content = strings.TrimSpace(body.String())
			entries = append(entries, *cur)
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "## ") {
			flush()
			title := strings.TrimSpace(strings.TrimPrefix(line, "## "))
			ts, _ := time.Parse(time.RFC3339, title)
			cur = &Entry{Timestamp: ts, Title: title}
			continue
		}
		if cur != nil {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read long-term store: %w", err)
	}

	s.entries = entries
	s.rebuildIndex()
	return nil
}

func (s *BM25Store) rebuildIndex() {
	df := make(map[string]int)
	totalLen := 0
	for _, e := range s.entries {
		seen := make(map[string]struct{})
		tokens := tokenize(e.Content)
		totalLen += len(tokens)
		for _, t := range tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}
	s.df = df
	if len(s.entries) > 0 {
		s.avgLen = float64(totalLen) / float64(len(s.entries))
	} else {
		s.avgLen = 0
	}
}

// Append writes a new "## <timestamp>" block to the file and updates the
// in-memory index. Append-only: existing blocks are never rewritten.
func (s *BM25Store) Append(ctx context.Context, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if title == "" {
		title = now.UTC().Format(time.RFC3339)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create memory directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open long-term store for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "## %s\n\n%s\n\n", title, strings.TrimSpace(content)); err != nil {
		return err
	}

	s.entries = append(s.entries, Entry{Timestamp: now, Title: title, Content: strings.TrimSpace(content)})
	s.rebuildIndex()
	return nil
}

// bm25K1 and bm25B are the standard Okapi BM25 tuning constants.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Search ranks every entry by BM25 term-frequency overlap against query,
// returning the top k by score descending, ties broken by recency.
func (s *BM25Store) Search(ctx context.Context, query string, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qTokens := tokenize(normaliseQuery(query))
	if len(qTokens) == 0 || len(s.entries) == 0 {
		return nil, nil
	}
	n := float64(len(s.entries))

	results := make([]Result, 0, len(s.entries))
	for _, e := range s.entries {
		docTokens := tokenize(e.Content)
		if len(docTokens) == 0 {
			continue
		}
		tf := make(map[string]int, len(docTokens))
		for _, t := range docTokens {
			tf[t]++
		}
		docLen := float64(len(docTokens))

		var score float64
		for _, qt := range qTokens {
			freq, ok := tf[qt]
			if !ok {
				continue
			}
			df := float64(s.df[qt])
			if df == 0 {
				continue
			}
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			num := float64(freq) * (bm25K1 + 1)
			den := float64(freq) + bm25K1*(1-bm25B+bm25B*docLen/maxFloat(s.avgLen, 1))
			score += idf * num / den
		}
		if score <= 0 {
			continue
		}
		results = append(results, Result{Entry: e, Score: score})
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

// Mode always reports "bm25".
func (s *BM25Store) Mode() string { return "bm25" }

// Close is a no-op: BM25Store has no buffered state beyond the append log.
func (s *BM25Store) Close() error { return nil }

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
