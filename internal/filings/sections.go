package filings

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	FullDocumentTitle = "Full Document"
	minSectionRunes   = 200
)

var itemMarker = regexp.MustCompile(`(?i)\bitem\s+\d+[a-z]?\b\.?`)

// Section is one "Item N" block of a filing.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ExtractSections splits filing text at each Item marker. A section runs
// from its marker up to the next one; sections shorter than 200 runes are
// dropped. When nothing survives, the whole text is returned as a single
// "Full Document" section.
func ExtractSections(text string) []Section {
	locs := itemMarker.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []Section{{Title: FullDocumentTitle, Content: text}}
	}
	out := make([]Section, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[0]:end])
		if utf8.RuneCountInString(body) < minSectionRunes {
			continue
		}
		title := strings.ReplaceAll(strings.TrimSpace(text[loc[0]:loc[1]]), "\n", " ")
		out = append(out, Section{Title: title, Content: body})
	}
	if len(out) == 0 {
		return []Section{{Title: FullDocumentTitle, Content: text}}
	}
	return out
}
