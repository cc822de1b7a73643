package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// AnalysisService hands items without an analysis result to the external worker.
type AnalysisService struct {
	news   *NewsService
	queue  ports.AnalysisQueue
	logger *slog.Logger
}

// NewAnalysisService constructs the enqueue use case.
func NewAnalysisService(news *NewsService, queue ports.AnalysisQueue, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{news: news, queue: queue, logger: logger.With("component", "analysis")}
}

// EnqueueCandidates queues ids of matching items that have no analysis yet.
func (s *AnalysisService) EnqueueCandidates(ctx context.Context, q NewsQuery) ([]int64, error) {
	filter := s.news.filter(q)
	filter.WithoutAnalysis = true
	items, err := s.news.store.ListNews(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list analysis candidates: %w", err)
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if len(ids) == 0 {
		return ids, nil
	}
	if err := s.queue.EnqueueAnalysis(ctx, ids); err != nil {
		if !errors.Is(err, domain.ErrQueueUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrQueueUnavailable, err)
		}
		return nil, fmt.Errorf("enqueue analysis: %w", err)
	}
	s.logger.Info("analysis enqueued", "items", len(ids))
	return ids, nil
}
