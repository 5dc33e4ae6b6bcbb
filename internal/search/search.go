// Package search indexes applied field text. Meilisearch serves queries while it
// is healthy; Postgres full-text search over the fields table covers the rest.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Snippet   string `json:"snippet"`
	WordCount int    `json:"wordCount"`
}

// Query describes a search request.
type Query struct {
	Text         string
	MinWordCount int
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a searcher that also accepts writes.
type Index interface {
	Searcher
	IndexFields(records []FieldRecord) error
	DeleteField(id string) error
}

// FieldRecord is the data we index for a field.
type FieldRecord struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	PlainText string `json:"plainText"`
	WordCount int    `json:"wordCount"`
	UpdatedAt int64  `json:"updatedAt"`
}

func normalizeQuery(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.MinWordCount < 0 {
		q.MinWordCount = 0
	}
	return q
}
