package vector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"edgarrag/internal/util"
)

// Metadata keys promoted to filterable fields.
const (
	MetaSourceType      = "source_type"
	MetaFormType        = "form_type"
	MetaCIK             = "cik"
	MetaAccessionNumber = "accession_number"
	MetaFiledDate       = "filed_date"
	MetaSection         = "section"
	MetaDocumentID      = "document_id"
	MetaChunkIndex      = "chunk_index"
)

const dateLayout = "2006-01-02"

type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"-"`
}

type SearchResult struct {
	Document
	Score float64 `json:"score"`
}

// Filter narrows a search. All set fields are combined with AND; the date
// range is inclusive on both ends.
type Filter struct {
	SourceType      string
	FormType        string
	CIK             string
	AccessionNumber string
	DocumentID      string
	FiledFrom       *time.Time
	FiledTo         *time.Time
	Where           map[string]string
}

// Index is the nearest-neighbour store over caller-identified documents.
// Scores are only comparable within one implementation.
type Index interface {
	Add(ctx context.Context, docs []Document) ([]string, error)
	Search(ctx context.Context, query []float32, topK int, filter Filter) ([]SearchResult, error)
	Delete(ctx context.Context, ids []string) (bool, error)
	GetByID(ctx context.Context, id string) (*Document, error)
	Clear(ctx context.Context) (bool, error)
	Count(ctx context.Context) (int, error)
}

// Equalities flattens the exact-match part of the filter into metadata
// key/value pairs.
func (f Filter) Equalities() map[string]string {
	out := map[string]string{}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	set(MetaSourceType, f.SourceType)
	set(MetaFormType, f.FormType)
	set(MetaCIK, f.CIK)
	set(MetaAccessionNumber, f.AccessionNumber)
	set(MetaDocumentID, f.DocumentID)
	for k, v := range f.Where {
		set(k, v)
	}
	return out
}

func (f Filter) HasDateRange() bool {
	return f.FiledFrom != nil || f.FiledTo != nil
}

// MatchesDate reports whether a filed_date metadata value falls in the range.
// Documents without a parseable date never match a non-empty range.
func (f Filter) MatchesDate(meta map[string]any) bool {
	if !f.HasDateRange() {
		return true
	}
	d, ok := ParseFiledDate(MetaString(meta, MetaFiledDate))
	if !ok {
		return false
	}
	if f.FiledFrom != nil && d.Before(truncateDay(*f.FiledFrom)) {
		return false
	}
	if f.FiledTo != nil && d.After(truncateDay(*f.FiledTo)) {
		return false
	}
	return true
}

func ParseFiledDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MetaString reads a metadata value as text regardless of how the backend
// decoded it.
func MetaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(dateLayout)
	default:
		return fmt.Sprint(x)
	}
}

func MetaInt(meta map[string]any, key string) (int, bool) {
	n, err := strconv.Atoi(MetaString(meta, key))
	if err != nil {
		return 0, false
	}
	return n, true
}

func validateDocuments(docs []Document) error {
	dim := 0
	for i, d := range docs {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("%w: document %d has no id", util.ErrValidation, i)
		}
		if len(d.Embedding) == 0 {
			return fmt.Errorf("%w: document %s has no embedding", util.ErrValidation, d.ID)
		}
		if dim == 0 {
			dim = len(d.Embedding)
		} else if len(d.Embedding) != dim {
			return fmt.Errorf("%w: document %s has dimension %d, expected %d", util.ErrValidation, d.ID, len(d.Embedding), dim)
		}
	}
	return nil
}

func sortResults(rs []SearchResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Score == rs[j].Score {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Score > rs[j].Score
	})
}
