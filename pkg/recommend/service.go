package recommend

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/openartifacts/catalog/pkg/catalog"
	"github.com/openartifacts/catalog/pkg/common/models"
	"github.com/openartifacts/catalog/pkg/search"
)

const relatedPageSize = 10

// Library is the slice of the catalog repository the recommender needs.
type Library interface {
	GetArtifact(ctx context.Context, groupID, artifactID int64) (*catalog.Artifact, error)
	TagsBySource(ctx context.Context, artifactID int64, sourceSubstring string) ([]string, error)
	AuthorNames(ctx context.Context, artifactID int64) ([]string, error)
	GroupRatings(ctx context.Context, groupID int64) (catalog.RatingAggregate, error)
}

type Service struct {
	library  Library
	searcher search.Searcher
}

func NewService(library Library, searcher search.Searcher) *Service {
	return &Service{library: library, searcher: searcher}
}

// Related finds artifacts sharing keyword tags with the given one. The seed
// vocabulary is the artifact's own tags whose source contains "keywords";
// with no such tags the result is empty, not an error.
func (s *Service) Related(ctx context.Context, groupID, artifactID int64, page int) (models.RecommendationResult, error) {
	artifact, err := s.library.GetArtifact(ctx, groupID, artifactID)
	if err != nil {
		return models.RecommendationResult{}, err
	}

	authors, err := s.library.AuthorNames(ctx, artifact.ID)
	if err != nil {
		return models.RecommendationResult{}, fmt.Errorf("loading authors: %w", err)
	}
	if authors == nil {
		authors = []string{}
	}

	tags, err := s.library.TagsBySource(ctx, artifact.ID, "keywords")
	if err != nil {
		return models.RecommendationResult{}, fmt.Errorf("loading keyword tags: %w", err)
	}
	if len(tags) == 0 {
		return models.RecommendationResult{
			Artifacts: models.EmptySearchResult(),
			Authors:   authors,
		}, nil
	}

	related, err := s.searcher.Search(ctx, search.Criteria{
		Keywords:     strings.Join(tags, " or "),
		Types:        catalog.ArtifactTypes,
		Page:         page,
		ItemsPerPage: relatedPageSize,
	})
	if err != nil {
		return models.RecommendationResult{}, fmt.Errorf("searching related artifacts: %w", err)
	}

	ratings, err := s.library.GroupRatings(ctx, groupID)
	if err != nil {
		return models.RecommendationResult{}, fmt.Errorf("loading rating aggregate: %w", err)
	}

	var avg *float64
	if ratings.AvgRating != nil {
		rounded := math.Round(*ratings.AvgRating*100) / 100
		avg = &rounded
	}

	return models.RecommendationResult{
		Artifacts:  related,
		AvgRating:  avg,
		NumRatings: ratings.NumRatings,
		Authors:    authors,
	}, nil
}
