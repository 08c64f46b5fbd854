// Package context composes the Planner's system prompt from an ordered set
// of sections, each omitted entirely when empty (spec §4.7).
package context

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// CachedFile reads path on demand and caches the content, invalidated by the
// file's mtime, matching spec §4.7's "files read on demand with in-memory
// cache invalidated by mtime."
type CachedFile struct {
	mu      sync.Mutex
	path    string
	content string
	modTime time.Time
}

// NewCachedFile wraps path for repeated reads with mtime invalidation.
func NewCachedFile(path string) *CachedFile {
	return &CachedFile{path: path}
}

// Read returns the file's current content, re-reading only if the file has
// changed since the last read. A missing file yields "" without error.
func (c *CachedFile) Read() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", c.path, err)
	}
	if info.ModTime().Equal(c.modTime) && c.content != "" {
		return c.content, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", c.path, err)
	}
	c.content = string(data)
	c.modTime = info.ModTime()
	return c.content, nil
}

// Section is one named block of the composed system prompt.
type Section struct {
	Header string
	Body   string
}

// LongTermRetriever produces the "Relevant past knowledge" section content
// for a given utterance. Implemented by memory.Manager.RetrieveRelevant.
type LongTermRetriever func(ctx context.Context, query string) (string, error)

// Composer builds the Planner's system prompt in the fixed order spec §4.7
// mandates: base system, current goal, what has been tried, relevant past
// knowledge, behaviour constraints, procedural hints, user preferences.
type Composer struct {
	BaseSystem  *CachedFile
	Lessons     *CachedFile
	Procedural  *CachedFile
	Preferences *CachedFile
	LongTerm    LongTermRetriever
}

// NewComposer wires a Composer to the given workspace-relative file paths.
func NewComposer(baseSystemPath, lessonsPath, proceduralPath, preferencesPath string, longTerm LongTermRetriever) *Composer {
	return &Composer{
		BaseSystem:  NewCachedFile(baseSystemPath),
		Lessons:     NewCachedFile(lessonsPath),
		Procedural:  NewCachedFile(proceduralPath),
		Preferences: NewCachedFile(preferencesPath),
		LongTerm:    longTerm,
	}
}

// Compose assembles the system prompt. toolSchema is injected immediately
// after the base system text (spec §4.5: "schemas ... concatenated into the
// system prompt"). goal and whatHasBeenTried come from the current turn's
// Working scratchpad; utterance drives the long-term retrieval query.
func (c *Composer) Compose(ctx context.Context, toolSchema, goal, whatHasBeenTried, utterance string) (string, error) {
	var sections []Section

	base, err := c.BaseSystem.Read()
	if err != nil {
		return "", err
	}
	baseBlock := strings.TrimSpace(base)
	if toolSchema != "" {
		if baseBlock != "" {
			baseBlock += "\n\n"
		}
		baseBlock += toolSchema
	}
	if baseBlock != "" {
		sections = append(sections, Section{Header: "", Body: baseBlock})
	}

	if goal != "" {
		sections = append(sections, Section{Header: "Current goal", Body: goal})
	}
	if whatHasBeenTried != "" {
		sections = append(sections, Section{Header: "What has been tried", Body: whatHasBeenTried})
	}

	if c.LongTerm != nil && utterance != "" {
		knowledge, err := c.LongTerm(ctx, utterance)
		if err != nil {
			return "", fmt.Errorf("retrieve long-term knowledge: %w", err)
		}
		if strings.TrimSpace(knowledge) != "" {
			sections = append(sections, Section{Header: "Relevant past knowledge", Body: knowledge})
		}
	}

	lessons, err := c.Lessons.Read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(lessons) != "" {
		sections = append(sections, Section{Header: "Behaviour constraints", Body: lessons})
	}

	procedural, err := c.Procedural.Read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(procedural) != "" {
		sections = append(sections, Section{Header: "Procedural hints", Body: procedural})
	}

	preferences, err := c.Preferences.Read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(preferences) != "" {
		sections = append(sections, Section{Header: "User preferences", Body: preferences})
	}

	var out strings.Builder
	for i, s := range sections {
		if i > 0 {
			out.WriteString("\n\n")
		}
		if s.Header != "" {
			out.WriteString("## ")
			out.WriteString(s.Header)
			out.WriteString("\n")
		}
		out.WriteString(strings.TrimSpace(s.Body))
	}
	return out.String(), nil
}
