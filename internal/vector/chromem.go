package vector

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
)

const defaultCollection = "edgar_documents"

// ChromemIndex is the embedded document-index backend. It persists to a
// directory when one is given and is purely in-memory otherwise.
type ChromemIndex struct {
	mu         sync.RWMutex
	db         *chromem.DB
	name       string
	collection *chromem.Collection
}

func NewChromemIndex(dir, collectionName string) (*ChromemIndex, error) {
	var db *chromem.DB
	if strings.TrimSpace(dir) == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", dir, err)
		}
	}
	if strings.TrimSpace(collectionName) == "" {
		collectionName = defaultCollection
	}
	c, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", collectionName, err)
	}
	return &ChromemIndex{db: db, name: collectionName, collection: c}, nil
}

func (c *ChromemIndex) Add(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if err := validateDocuments(docs); err != nil {
		return nil, err
	}
	out := make([]chromem.Document, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  toStringMeta(d.Metadata),
			Embedding: append([]float32(nil), d.Embedding...),
		})
		ids = append(ids, d.ID)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.collection.AddDocuments(ctx, out, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("add documents to chromem: %w", err)
	}
	return ids, nil
}

// Search ranks by L2 distance between unit vectors, derived from chromem's
// cosine similarity. The date range is not expressible as a chromem where
// clause, so it is applied after an over-fetch.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.collection.Count()
	if total == 0 {
		return []SearchResult{}, nil
	}
	n := topK
	if filter.HasDateRange() {
		n = total
	}
	if n > total {
		n = total
	}
	var where map[string]string
	if eq := filter.Equalities(); len(eq) > 0 {
		where = eq
	}
	res, err := c.collection.QueryEmbedding(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query chromem: %w", err)
	}
	results := make([]SearchResult, 0, len(res))
	for _, r := range res {
		meta := toAnyMeta(r.Metadata)
		if !filter.MatchesDate(meta) {
			continue
		}
		results = append(results, SearchResult{
			Document: Document{ID: r.ID, Content: r.Content, Metadata: meta},
			Score:    l2Score(r.Similarity),
		})
	}
	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func l2Score(similarity float32) float64 {
	d := math.Sqrt(math.Max(0, 2-2*float64(similarity)))
	return 1 / (1 + d)
}

func (c *ChromemIndex) Delete(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.collection.Count()
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return false, fmt.Errorf("delete from chromem: %w", err)
	}
	return c.collection.Count() < before, nil
}

func (c *ChromemIndex) GetByID(ctx context.Context, id string) (*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, err := c.collection.GetByID(ctx, id)
	if err != nil {
		// chromem reports a missing id as an error
		return nil, nil
	}
	return &Document{ID: d.ID, Content: d.Content, Metadata: toAnyMeta(d.Metadata), Embedding: d.Embedding}, nil
}

func (c *ChromemIndex) Clear(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.DeleteCollection(c.name); err != nil {
		return false, fmt.Errorf("drop chromem collection: %w", err)
	}
	col, err := c.db.GetOrCreateCollection(c.name, nil, nil)
	if err != nil {
		return false, fmt.Errorf("recreate chromem collection: %w", err)
	}
	c.collection = col
	return true, nil
}

func (c *ChromemIndex) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection.Count(), nil
}

func toStringMeta(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k := range meta {
		if s := MetaString(meta, k); s != "" {
			out[k] = s
		}
	}
	return out
}

func toAnyMeta(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
