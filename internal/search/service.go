package search

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"agendas/api/internal/board"
	"agendas/api/internal/scope"
	"agendas/api/internal/store"
)

// Index is the write side of the primary backend.
type Index interface {
	Searcher
	IndexDocuments(docs []Document) error
}

// EntryLister yields every row worth indexing.
type EntryLister interface {
	ListIndicators(ctx context.Context) ([]store.IndicatorEntry, error)
}

// Service is the facade that tries the index first and falls back to SQL.
type Service struct {
	index    Index
	fallback Searcher
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{index: index, fallback: fallback, logger: logger}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise the fallback. Backend
// failures degrade to an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "index"}
		}
		s.logger.Warn("index search failed, falling back", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Warn("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "sql"}
}

// IndexIndicator indexes one durable write without blocking the caller.
func (s *Service) IndexIndicator(key scope.Key, record board.Record) {
	if !s.indexReady() {
		return
	}
	doc := NewDocument(key, record)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.index.IndexDocuments([]Document{doc}); err != nil {
			s.logger.Warn("index indicator failed", zap.Stringer("scope", key),
				zap.String("kpi", record.KPIName), zap.Error(err))
		}
	}()
}

// Reindex pushes every stored row with notes into the index.
func (s *Service) Reindex(ctx context.Context, entries EntryLister) error {
	if !s.indexReady() {
		return nil
	}
	rows, err := entries.ListIndicators(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return err
	}
	if err := s.index.IndexDocuments(documentsOf(rows)); err != nil {
		s.logger.Warn("reindex failed", zap.Error(err))
		return err
	}
	s.logger.Info("reindexed indicators", zap.Int("count", len(rows)))
	return nil
}

// Wait blocks until every background index call returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
