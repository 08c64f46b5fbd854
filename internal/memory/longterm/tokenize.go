package longterm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

var foldCase = cases.Fold()

// tokenize splits text into lowercased, width-normalised tokens. Whitespace
// tokenisation (splitting on non-letter runes) is inert for Chinese and
// similar scripts that do not use spaces between words (spec §9's flagged
// ambiguity); as a pragmatic fix, every CJK-range rune is emitted as its own
// single-rune token in addition to ordinary whitespace/punctuation-delimited
// words, so BM25 overlap still finds exact character sequences even without
// a real segmenter.
func tokenize(text string) []string {
	folded := foldCase.String(width.Fold.String(text))

	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range folded {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	out := tokens[:0]
	for _, t := range tokens {
		if len([]rune(t)) < 1 {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// normaliseQuery folds and trims a raw user query the same way tokenize
// normalises indexed content, ensuring exact-text round-trips (spec §8's
// write-then-query law) hold regardless of casing or fullwidth variants.
func normaliseQuery(q string) string {
	return strings.TrimSpace(foldCase.String(width.Fold.String(q)))
}
