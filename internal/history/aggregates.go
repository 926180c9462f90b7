// Package history resolves windowed transaction aggregates for rule evaluation.
package history

import (
	"context"
	"fmt"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Service answers aggregate queries over completed transaction history.
// It is the data-access half of aggregate rule conditions; the evaluator
// owns window parsing and threshold comparison.
type Service struct {
	repo domain.Repository
}

// NewService creates a new aggregate history service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// Aggregate resolves one metric for the group over the query window.
// An empty group value means the event has no value for the group key,
// so the aggregate is zero rather than an error.
func (s *Service) Aggregate(ctx context.Context, q domain.AggregateQuery) (float64, error) {
	if q.GroupValue == "" {
		return 0, nil
	}

	value, err := s.repo.AggregateTransactions(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate %s for %s: %w", q.Metric, q.GroupValue, err)
	}
	return value, nil
}
