package search

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	loader   func(context.Context) ([]PageRecord, error)
	logger   *zap.Logger

	// Writes the primary index missed while it was down or failing.
	mu             sync.Mutex
	stale          bool
	pendingDeletes map[string]struct{}
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	s := &Service{fallback: pgfts, loader: pgfts.LoadAllPages, logger: logger.Named("search")}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
		meili.OnRecover(func() {
			if err := s.Reconcile(context.Background()); err != nil {
				s.logger.Warn("reconcile search index", zap.Error(err))
			}
		})
	}
	return s
}

// Search tries the primary index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if len(q.DriveIDs) == 0 {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}
}

func (s *Service) available() bool {
	return s.indexer != nil && s.primary != nil && s.primary.Healthy()
}

// IndexPages indexes pages in the background. Failures are logged and
// remembered for Reconcile; the Postgres fallback always sees current data.
func (s *Service) IndexPages(pages ...PageRecord) {
	if s.indexer == nil || len(pages) == 0 {
		return
	}
	if !s.available() {
		s.markStale(nil)
		return
	}
	go func() {
		if err := s.indexer.IndexPages(pages); err != nil {
			s.logger.Warn("index pages", zap.Int("count", len(pages)), zap.Error(err))
			s.markStale(nil)
		}
	}()
}

// DeletePages removes pages from the index in the background. IDs that
// cannot be removed now are kept until Reconcile runs.
func (s *Service) DeletePages(ids ...string) {
	if s.indexer == nil || len(ids) == 0 {
		return
	}
	if !s.available() {
		s.markStale(ids)
		return
	}
	go func() {
		if err := s.indexer.DeletePages(ids); err != nil {
			s.logger.Warn("delete pages", zap.Int("count", len(ids)), zap.Error(err))
			s.markStale(ids)
		}
	}()
}

func (s *Service) markStale(deleted []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
	if len(deleted) == 0 {
		return
	}
	if s.pendingDeletes == nil {
		s.pendingDeletes = make(map[string]struct{}, len(deleted))
	}
	for _, id := range deleted {
		s.pendingDeletes[id] = struct{}{}
	}
}

// Reconcile replays deletions the primary index missed and then reindexes
// every live page. It does nothing unless a write was missed.
func (s *Service) Reconcile(ctx context.Context) error {
	if !s.available() {
		return nil
	}
	s.mu.Lock()
	if !s.stale {
		s.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(s.pendingDeletes))
	for id := range s.pendingDeletes {
		ids = append(ids, id)
	}
	s.stale = false
	s.pendingDeletes = nil
	s.mu.Unlock()
	sort.Strings(ids)

	if len(ids) > 0 {
		if err := s.indexer.DeletePages(ids); err != nil {
			s.markStale(ids)
			return err
		}
	}
	n, err := s.Reindex(ctx)
	if err != nil {
		s.markStale(nil)
		return err
	}
	s.logger.Info("search index reconciled", zap.Int("deleted", len(ids)), zap.Int("indexed", n))
	return nil
}

// Reindex pushes every live page from Postgres to the primary index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if !s.available() {
		return 0, nil
	}
	pages, err := s.loader(ctx)
	if err != nil {
		return 0, err
	}
	const chunk = 500
	for start := 0; start < len(pages); start += chunk {
		end := min(start+chunk, len(pages))
		if err := s.indexer.IndexPages(pages[start:end]); err != nil {
			return start, err
		}
	}
	return len(pages), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
