package search

import (
	"context"
	"log"
	"sync"
)

// RecordLoader supplies every field for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]FieldRecord, error)
}

// Service is the facade that tries the index first and falls back to the
// database searcher.
type Service struct {
	index    Index
	fallback Searcher
	pending  sync.WaitGroup
}

// NewService creates a search service. index may be nil when Meilisearch is not
// configured.
func NewService(index Index, fallback Searcher) *Service {
	return &Service{index: index, fallback: fallback}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "index"}
		}
		log.Printf("search: index error, falling back to database: %v", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: database search error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "database"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "database"}
}

// IndexField pushes one field to the index without blocking the caller.
func (s *Service) IndexField(record FieldRecord) {
	if !s.indexReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.IndexFields([]FieldRecord{record}); err != nil {
			log.Printf("search: index field %s: %v", record.ID, err)
		}
	}()
}

// DeleteField removes a field from the index without blocking the caller.
func (s *Service) DeleteField(id string) {
	if !s.indexReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.DeleteField(id); err != nil {
			log.Printf("search: delete field %s: %v", id, err)
		}
	}()
}

// ReindexAll loads every field and pushes them to the index.
func (s *Service) ReindexAll(ctx context.Context, loader RecordLoader) {
	if !s.indexReady() || loader == nil {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.index.IndexFields(records); err != nil {
		log.Printf("search: reindex fields: %v", err)
	}
}

// Flush waits for background index writes to finish.
func (s *Service) Flush() {
	s.pending.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
