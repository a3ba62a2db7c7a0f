package search

import (
	"context"
	"fmt"

	"github.com/openartifacts/catalog/pkg/catalog"
	"github.com/openartifacts/catalog/pkg/common/models"
	"gorm.io/gorm"
)

type Repository struct {
	db     *gorm.DB
	uriFmt string
}

func NewRepository(db *gorm.DB, uriFmt string) *Repository {
	return &Repository{db: db, uriFmt: uriFmt}
}

// resultRow mirrors the composed query's projection, column order included.
type resultRow struct {
	ID              int64
	ArtifactGroupID int64
	Type            string
	URL             string
	Title           string
	Description     string
	OwnerID         *int64
	GroupOwnerID    int64
	Rank            float64
	NumRatings      int64
	AvgRating       float64
	NumReviews      int64
	ViewCount       int64
}

// Search executes the composed count and page queries and maps rows onto the
// summary projection.
func (r *Repository) Search(ctx context.Context, criteria Criteria) ([]models.ArtifactSummary, int64, error) {
	composer := NewComposer(criteria)

	countSQL, countArgs, err := composer.CountQuery()
	if err != nil {
		return nil, 0, fmt.Errorf("composing count query: %w", err)
	}

	var total int64
	if err := r.db.WithContext(ctx).Raw(countSQL, countArgs...).Scan(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting artifacts: %w", err)
	}

	pageSQL, pageArgs, err := composer.Query()
	if err != nil {
		return nil, 0, fmt.Errorf("composing search query: %w", err)
	}

	var rows []resultRow
	if err := r.db.WithContext(ctx).Raw(pageSQL, pageArgs...).Scan(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("executing search query: %w", err)
	}

	artifacts := make([]models.ArtifactSummary, 0, len(rows))
	for _, row := range rows {
		var ownerID int64
		if row.OwnerID != nil {
			ownerID = *row.OwnerID
		}
		artifacts = append(artifacts, models.ArtifactSummary{
			ID:              row.ID,
			ArtifactGroupID: row.ArtifactGroupID,
			ArtifactGroup:   models.GroupRef{ID: row.ArtifactGroupID, OwnerID: row.GroupOwnerID},
			URI:             fmt.Sprintf(r.uriFmt, row.ArtifactGroupID, row.ID),
			DOI:             row.URL,
			Type:            row.Type,
			Title:           row.Title,
			Description:     row.Description,
			AvgRating:       row.AvgRating,
			NumRatings:      row.NumRatings,
			NumReviews:      row.NumReviews,
			Owner:           models.OwnerRef{ID: ownerID},
			Views:           row.ViewCount,
			RelevanceScore:  row.Rank,
		})
	}

	return artifacts, total, nil
}

// LogSearchTerm records a search for analytics. Callers treat failure as
// non-fatal.
func (r *Repository) LogSearchTerm(ctx context.Context, term string) error {
	return r.db.WithContext(ctx).Create(&catalog.StatsSearch{SearchTerm: term}).Error
}
