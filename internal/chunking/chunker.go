// Package chunking splits raw text into bounded, overlapping chunks.
//
// Lengths are measured in runes. Three strategies are supported: sentence
// (default), token (approximate, 4 runes per token) and fixed.
package chunking

import (
	"strings"
	"unicode"
)

type Strategy string

const (
	StrategySentence Strategy = "sentence"
	StrategyToken    Strategy = "token"
	StrategyFixed    Strategy = "fixed"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
	charsPerToken  = 4
)

type Chunk struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Index    int            `json:"chunk_index"`
}

type Options struct {
	Size     int
	Overlap  int
	Strategy Strategy
	// Metadata is copied into every chunk alongside chunk_index.
	Metadata map[string]any
}

func ParseStrategy(s string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyToken:
		return StrategyToken
	case StrategyFixed:
		return StrategyFixed
	default:
		return StrategySentence
	}
}

func Split(text string, opts Options) []Chunk {
	size, overlap := opts.Size, opts.Overlap
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var parts []string
	switch opts.Strategy {
	case StrategyToken:
		parts = ChunkFixed(text, size*charsPerToken, overlap*charsPerToken)
	case StrategyFixed:
		parts = ChunkFixed(text, size, overlap)
	default:
		parts = ChunkSentences(text, size, overlap)
	}

	out := make([]Chunk, 0, len(parts))
	for i, p := range parts {
		md := make(map[string]any, len(opts.Metadata)+1)
		for k, v := range opts.Metadata {
			md[k] = v
		}
		md["chunk_index"] = i
		out = append(out, Chunk{Content: p, Metadata: md, Index: i})
	}
	return out
}

// ChunkSentences greedily packs sentences into chunks of at most size runes
// and seeds each new chunk with the trailing sentences of the previous one
// whose combined length fits in overlap.
func ChunkSentences(text string, size, overlap int) []string {
	sentences := make([]string, 0, 32)
	for _, s := range SplitSentences(text) {
		if runeLen(s) > size {
			// an oversized sentence is cut on word boundaries so no chunk exceeds size
			sentences = append(sentences, ChunkFixed(s, size, 0)...)
			continue
		}
		sentences = append(sentences, s)
	}

	out := make([]string, 0)
	current := make([]string, 0, 16)
	currentLen := 0
	for _, s := range sentences {
		n := runeLen(s)
		if len(current) > 0 && currentLen+1+n > size {
			out = append(out, strings.Join(current, " "))

			seed := trailingOverlap(current, overlap)
			for len(seed) > 0 && joinedLen(seed)+1+n > size {
				seed = seed[1:]
			}
			current = append(make([]string, 0, 16), seed...)
			currentLen = joinedLen(current)
		}
		if len(current) > 0 {
			currentLen++
		}
		current = append(current, s)
		currentLen += n
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, " "))
	}
	return out
}

func trailingOverlap(sentences []string, overlap int) []string {
	if overlap <= 0 {
		return nil
	}
	total := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		n := runeLen(sentences[i])
		if total+n > overlap {
			break
		}
		total += n
		start = i
	}
	return sentences[start:]
}

// ChunkFixed slices text into windows of size runes advancing by
// size-overlap, backing off to the last space when it sits in the back half
// of the window.
func ChunkFixed(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if end < len(runes) {
			window := runes[start:end]
			if ls := lastSpace(window); float64(ls) > float64(size)*0.5 {
				end = start + ls
			}
		}
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			out = append(out, part)
		}
		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// SplitSentences splits after '.', '!' or '?' when followed by whitespace.
// Blank sentences are dropped.
func SplitSentences(text string) []string {
	out := make([]string, 0, 16)
	runes := []rune(text)
	begin := 0
	for i := 0; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) || i == 0 || !isTerminal(runes[i-1]) {
			continue
		}
		j := i
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if s := strings.TrimSpace(string(runes[begin:i])); s != "" {
			out = append(out, s)
		}
		begin = j
		i = j - 1
	}
	if begin < len(runes) {
		if s := strings.TrimSpace(string(runes[begin:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == ' ' {
			return i
		}
	}
	return -1
}

func joinedLen(parts []string) int {
	if len(parts) == 0 {
		return 0
	}
	n := len(parts) - 1
	for _, p := range parts {
		n += runeLen(p)
	}
	return n
}

func runeLen(s string) int {
	return len([]rune(s))
}
