package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pgfts: pgfts, logger: logger.Named("search")}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts error", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexItems indexes checklist items (fire-and-forget to Meilisearch).
func (s *Service) IndexItems(items []ItemRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(items) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexItems(items); err != nil {
			s.logger.Warn("index items", zap.Int("count", len(items)), zap.Error(err))
		}
	}()
}

// IndexOperation indexes an operation (fire-and-forget to Meilisearch).
func (s *Service) IndexOperation(op OperationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexOperation(op); err != nil {
			s.logger.Warn("index operation", zap.String("operation_id", op.ID), zap.Error(err))
		}
	}()
}

// Reindex reads every record from PG and pushes it to Meilisearch.
// Called during Bootstrap when Meilisearch is healthy.
func (s *Service) Reindex(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}

	operations, items, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("load records for reindex", zap.Error(err))
		return
	}
	if err := s.meili.IndexOperations(operations); err != nil {
		s.logger.Warn("reindex operations", zap.Error(err))
	}
	if err := s.meili.IndexItems(items); err != nil {
		s.logger.Warn("reindex items", zap.Error(err))
	}
	s.logger.Info("search reindex complete", zap.Int("operations", len(operations)), zap.Int("items", len(items)))
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
