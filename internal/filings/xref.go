package filings

import (
	"regexp"
	"unicode/utf8"
)

const DefaultReferenceWindow = 80

var accessionRef = regexp.MustCompile(`\b\d{10}-\d{2}-\d{6}\b`)

type CrossReference struct {
	AccessionNumber string `json:"accession_number"`
	Context         string `json:"context"`
}

// ExtractReferences finds accession numbers in text along with up to window
// bytes of surrounding text on each side.
func ExtractReferences(text string, window int) []CrossReference {
	if window < 0 {
		window = DefaultReferenceWindow
	}
	locs := accessionRef.FindAllStringIndex(text, -1)
	out := make([]CrossReference, 0, len(locs))
	for _, loc := range locs {
		start := max(0, loc[0]-window)
		end := min(len(text), loc[1]+window)
		for start > 0 && !utf8.RuneStart(text[start]) {
			start--
		}
		for end < len(text) && !utf8.RuneStart(text[end]) {
			end++
		}
		out = append(out, CrossReference{
			AccessionNumber: text[loc[0]:loc[1]],
			Context:         text[start:end],
		})
	}
	return out
}
