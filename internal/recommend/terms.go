package recommend

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true,
	"to": true, "of": true, "in": true, "for": true, "on": true, "with": true, "at": true,
	"by": true, "from": true, "as": true, "into": true, "after": true, "before": true,
	"and": true, "but": true, "or": true, "not": true, "so": true, "all": true, "any": true,
	"more": true, "most": true, "other": true, "some": true, "such": true, "no": true,
	"only": true, "than": true, "too": true, "very": true, "just": true, "how": true,
	"what": true, "which": true, "who": true, "this": true, "that": true, "these": true,
	"those": true, "it": true, "its": true, "new": true, "about": true, "up": true,
	"out": true, "over": true, "says": true, "said": true, "you": true, "your": true,
	"we": true, "our": true, "they": true, "their": true, "his": true, "her": true,
	"chars": true, "why": true, "now": true, "here": true, "get": true, "also": true,
}

// tokens splits text into lowercase content words.
func tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if len(f) > 2 && !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

// TermEmbedder turns texts into unit-length term-frequency vectors over the
// vocabulary of the texts given in one call.
type TermEmbedder struct{}

// Embed implements Embedder.
func (TermEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	docs := make([][]string, len(texts))
	vocab := make(map[string]int)
	for i, text := range texts {
		docs[i] = tokens(text)
		for _, tok := range docs[i] {
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = 0
			}
		}
	}

	// Stable column order keeps results reproducible.
	words := make([]string, 0, len(vocab))
	for w := range vocab {
		words = append(words, w)
	}
	sort.Strings(words)
	for i, w := range words {
		vocab[w] = i
	}

	vectors := make([][]float64, len(texts))
	for i, doc := range docs {
		v := make([]float64, len(words))
		for _, tok := range doc {
			v[vocab[tok]]++
		}
		normalize(v)
		vectors[i] = v
	}
	return vectors, nil
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}
