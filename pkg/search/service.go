package search

import (
	"context"
	"math"

	"github.com/openartifacts/catalog/pkg/common/kafka"
	"github.com/openartifacts/catalog/pkg/common/logger"
	"github.com/openartifacts/catalog/pkg/common/models"
)

// Searcher is the composer entry point consumed by other packages (the
// recommendation engine re-invokes search through it).
type Searcher interface {
	Search(ctx context.Context, criteria Criteria) (models.SearchResult, error)
}

type Service struct {
	repo           *Repository
	producer       *kafka.Producer
	defaultPerPage int
	maxPerPage     int
}

var _ Searcher = (*Service)(nil)

func NewService(repo *Repository, producer *kafka.Producer, defaultPerPage, maxPerPage int) *Service {
	return &Service{
		repo:           repo,
		producer:       producer,
		defaultPerPage: defaultPerPage,
		maxPerPage:     maxPerPage,
	}
}

func (s *Service) Search(ctx context.Context, criteria Criteria) (models.SearchResult, error) {
	if err := criteria.Validate(s.defaultPerPage, s.maxPerPage); err != nil {
		return models.SearchResult{}, err
	}

	artifacts, total, err := s.repo.Search(ctx, criteria)
	if err != nil {
		return models.SearchResult{}, err
	}

	return models.SearchResult{
		Page:      criteria.Page,
		Total:     total,
		Pages:     Pages(total, criteria.ItemsPerPage),
		Artifacts: artifacts,
	}, nil
}

// Pages computes the page count for a result set.
func Pages(total int64, itemsPerPage int) int {
	if itemsPerPage <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(itemsPerPage)))
}

// RecordSearch logs the term for analytics. The API handler calls it for
// searches users actually typed; internal callers such as the
// recommendation engine do not, so synthetic queries stay out of the
// stats. A failed insert or publish must never fail the search itself.
func (s *Service) RecordSearch(ctx context.Context, keywords string) {
	if err := s.repo.LogSearchTerm(ctx, keywords); err != nil {
		logger.Log.WithError(err).Warn("failed to log search term")
	}
	if s.producer != nil {
		err := s.producer.PublishEvent(ctx, "search-performed", "catalog-service", map[string]interface{}{
			"keywords": keywords,
		})
		if err != nil {
			logger.Log.WithError(err).Warn("failed to publish search event")
		}
	}
}
