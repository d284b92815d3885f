package util

import (
	"sort"
	"strings"
	"unicode"
)

const defaultSnippetRunes = 420

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {},
	"why": {}, "which": {}, "that": {}, "this": {}, "these": {}, "those": {}, "with": {}, "from": {},
	"does": {}, "did": {}, "its": {}, "their": {}, "about": {}, "into": {},
}

// DisplaySnippet cleans s for display and cuts it to maxRunes, appending an
// ellipsis when cut.
func DisplaySnippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultSnippetRunes
	}
	s = strings.Join(strings.Fields(SanitizeText(s)), " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	runes := []rune(s)
	if len(runes) > maxRunes {
		return strings.TrimSpace(string(runes[:maxRunes])) + "..."
	}
	return s
}

// EvidenceSnippet returns the sentence(s) of text that share the most terms
// with query. It falls back to the leading snippet when nothing matches.
func EvidenceSnippet(text, query string, maxRunes int) string {
	terms := queryTerms(query)
	sentences := roughSentences(DisplaySnippet(text, 4000))
	if len(terms) == 0 || len(sentences) == 0 {
		return DisplaySnippet(text, maxRunes)
	}
	type scored struct {
		pos   int
		score int
	}
	ranked := make([]scored, 0, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		n := 0
		for _, t := range terms {
			if strings.Contains(low, t) {
				n++
			}
		}
		ranked = append(ranked, scored{pos: i, score: n})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if ranked[0].score == 0 {
		return DisplaySnippet(text, maxRunes)
	}
	picked := []int{ranked[0].pos}
	if len(ranked) > 1 && ranked[1].score > 0 {
		picked = append(picked, ranked[1].pos)
		sort.Ints(picked)
	}
	parts := make([]string, 0, len(picked))
	for _, p := range picked {
		parts = append(parts, sentences[p])
	}
	return DisplaySnippet(strings.Join(parts, " "), maxRunes)
}

func roughSentences(s string) []string {
	out := make([]string, 0, 8)
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			if x := strings.TrimSpace(s[start : i+1]); x != "" {
				out = append(out, x)
			}
			start = i + 1
		}
	}
	if x := strings.TrimSpace(s[start:]); x != "" {
		out = append(out, x)
	}
	return out
}

func queryTerms(q string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 8)
	for _, f := range strings.Fields(strings.ToLower(q)) {
		f = strings.Trim(f, ",.;:!?()[]{}\"'`")
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
