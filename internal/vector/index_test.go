package vector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"edgarrag/internal/config"
	"edgarrag/internal/util"
)

func TestFilterEqualities(t *testing.T) {
	f := Filter{SourceType: "sec_filing", FormType: " 10-K ", Where: map[string]string{"section": "Item 7", "empty": ""}}
	require.Equal(t, map[string]string{
		MetaSourceType: "sec_filing",
		MetaFormType:   "10-K",
		"section":      "Item 7",
	}, f.Equalities())
	require.Empty(t, Filter{}.Equalities())
}

func TestFilterMatchesDateInclusive(t *testing.T) {
	from := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)
	to := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	f := Filter{FiledFrom: &from, FiledTo: &to}
	require.True(t, f.MatchesDate(map[string]any{MetaFiledDate: "2024-01-01"}))
	require.True(t, f.MatchesDate(map[string]any{MetaFiledDate: "2024-12-31T00:00:00Z"}))
	require.False(t, f.MatchesDate(map[string]any{MetaFiledDate: "2025-01-01"}))
	require.False(t, f.MatchesDate(map[string]any{}))
	require.True(t, Filter{}.MatchesDate(nil))
}

func TestPGFilterPlaceholders(t *testing.T) {
	from := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	where, args := pgFilter(Filter{FormType: "10-K", CIK: "0000320193", FiledFrom: &from, Where: map[string]string{"section": "Item 1A"}}, []any{"vec", 5})
	require.Equal(t, " AND form_type = $3 AND cik = $4 AND filed_date >= $5::date AND chunk_metadata @> $6::jsonb", where)
	require.Len(t, args, 6)
	require.Equal(t, `{"section":"Item 1A"}`, args[5])
}

func TestValidateDocumentsDimension(t *testing.T) {
	err := validateDocuments([]Document{
		{ID: "a", Embedding: []float32{1, 2}},
		{ID: "b", Embedding: []float32{1, 2, 3}},
	})
	require.ErrorIs(t, err, util.ErrValidation)
	require.ErrorIs(t, validateDocuments([]Document{{Embedding: []float32{1}}}), util.ErrValidation)
}

func TestSortResultsTieBreaksByID(t *testing.T) {
	rs := []SearchResult{
		{Document: Document{ID: "b"}, Score: 0.5},
		{Document: Document{ID: "a"}, Score: 0.5},
		{Document: Document{ID: "c"}, Score: 0.9},
	}
	sortResults(rs)
	require.Equal(t, "c", rs[0].ID)
	require.Equal(t, "a", rs[1].ID)
	require.Equal(t, "b", rs[2].ID)
}

func TestOpenSelectsBackend(t *testing.T) {
	idx, err := Open(config.Config{VectorStore: "chromem"}, nil)
	require.NoError(t, err)
	require.IsType(t, &ChromemIndex{}, idx)

	_, err = Open(config.Config{VectorStore: "pgvector"}, nil)
	require.ErrorIs(t, err, util.ErrConfiguration)
	_, err = Open(config.Config{VectorStore: "faiss"}, nil)
	require.ErrorIs(t, err, util.ErrConfiguration)
}
