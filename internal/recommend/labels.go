package recommend

import (
	"sort"
	"strings"

	"github.com/TobiSchelling/newssite/internal/warehouse"
)

// topicLabel names a topic after the most frequent title words of its articles.
func topicLabel(articles []warehouse.Article) string {
	counts := make(map[string]int)
	first := make(map[string]int)
	pos := 0
	for _, a := range articles {
		seen := make(map[string]bool)
		for _, w := range tokens(a.Title) {
			if seen[w] {
				continue
			}
			seen[w] = true
			counts[w]++
			if _, ok := first[w]; !ok {
				first[w] = pos
			}
			pos++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return first[words[i]] < first[words[j]]
	})
	if len(words) > 3 {
		words = words[:3]
	}
	if len(words) == 0 {
		return "general"
	}
	return strings.Join(words, " ")
}
