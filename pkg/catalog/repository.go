package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("artifact not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&Person{}, &User{}, &License{}, &Organization{}, &Affiliation{},
		&ArtifactGroup{}, &Artifact{}, &ArtifactPublication{},
		&ArtifactTag{}, &ArtifactMetadata{}, &FileContent{}, &ArtifactFile{},
		&ArtifactRelease{}, &ArtifactRelationship{}, &ArtifactAffiliation{},
		&RecurringVenue{}, &Venue{}, &ArtifactVenue{},
		&Badge{}, &ArtifactBadge{},
		&ArtifactRating{}, &ArtifactReview{}, &ArtifactFavorite{},
		&StatsArtifactView{}, &StatsRecentView{}, &StatsSearch{},
		&ArtifactOwnerRequest{},
	)
}

// GetArtifact resolves one version inside its group.
func (r *Repository) GetArtifact(ctx context.Context, groupID, artifactID int64) (*Artifact, error) {
	var artifact Artifact
	err := r.db.WithContext(ctx).
		Where("id = ? AND artifact_group_id = ?", artifactID, groupID).
		First(&artifact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// RatingAggregate carries a group's rating summary. Average is nil when the
// group has never been rated.
type RatingAggregate struct {
	NumRatings int64
	AvgRating  *float64
}

func (r *Repository) GroupRatings(ctx context.Context, groupID int64) (RatingAggregate, error) {
	var row struct {
		NumRatings int64
		AvgRating  *float64
	}
	err := r.db.WithContext(ctx).
		Model(&ArtifactRating{}).
		Select("COUNT(id) AS num_ratings, AVG(rating) AS avg_rating").
		Where("artifact_group_id = ?", groupID).
		Scan(&row).Error
	if err != nil {
		return RatingAggregate{}, err
	}
	return RatingAggregate{NumRatings: row.NumRatings, AvgRating: row.AvgRating}, nil
}

func (r *Repository) GroupReviews(ctx context.Context, groupID int64) ([]ArtifactReview, error) {
	var reviews []ArtifactReview
	err := r.db.WithContext(ctx).
		Where("artifact_group_id = ?", groupID).
		Order("review_time DESC").
		Find(&reviews).Error
	return reviews, err
}

func (r *Repository) GroupViewCount(ctx context.Context, groupID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&StatsArtifactView{}).
		Select("COALESCE(SUM(view_count), 0)").
		Where("artifact_group_id = ?", groupID).
		Scan(&total).Error
	return total, err
}

// AuthorNames walks the affiliation graph for an artifact version.
func (r *Repository) AuthorNames(ctx context.Context, artifactID int64) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&ArtifactAffiliation{}).
		Select("persons.name").
		Joins("JOIN affiliations ON affiliations.id = artifact_affiliations.affiliation_id").
		Joins("JOIN persons ON persons.id = affiliations.person_id").
		Where("artifact_affiliations.artifact_id = ?", artifactID).
		Scan(&names).Error
	return names, err
}

// TagsBySource returns tag values whose source contains the given substring.
func (r *Repository) TagsBySource(ctx context.Context, artifactID int64, sourceSubstring string) ([]string, error) {
	var tags []string
	err := r.db.WithContext(ctx).
		Model(&ArtifactTag{}).
		Select("tag").
		Where("artifact_id = ? AND source LIKE ?", artifactID, "%"+sourceSubstring+"%").
		Scan(&tags).Error
	return tags, err
}

// UpsertRating relies on the (group, user) uniqueness constraint instead of
// locking: concurrent first-time raters race and the store keeps one row.
func (r *Repository) UpsertRating(ctx context.Context, rating *ArtifactRating) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "artifact_group_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rating", "artifact_id"}),
		}).
		Create(rating).Error
}

func (r *Repository) CreateReview(ctx context.Context, review *ArtifactReview) error {
	if review.ReviewTime.IsZero() {
		review.ReviewTime = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(review).Error
}

func (r *Repository) AddFavorite(ctx context.Context, favorite *ArtifactFavorite) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "artifact_group_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(favorite).Error
}

func (r *Repository) RemoveFavorite(ctx context.Context, groupID, userID int64) error {
	return r.db.WithContext(ctx).
		Where("artifact_group_id = ? AND user_id = ?", groupID, userID).
		Delete(&ArtifactFavorite{}).Error
}

// IncrementViewCount bumps the per-group counter, creating the row on first
// view. Lost updates between the update and insert are tolerated; view
// counts are advisory.
func (r *Repository) IncrementViewCount(ctx context.Context, groupID int64, userID *int64) error {
	tx := r.db.WithContext(ctx).
		Model(&StatsArtifactView{}).
		Where("artifact_group_id = ?", groupID).
		Update("view_count", gorm.Expr("view_count + 1"))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&StatsArtifactView{
		ArtifactGroupID: groupID,
		UserID:          userID,
		ViewCount:       1,
	}).Error
}

func (r *Repository) RecordRecentView(ctx context.Context, sessionID string, groupID int64, userID *int64) error {
	tx := r.db.WithContext(ctx).
		Model(&StatsRecentView{}).
		Where("session_id = ? AND artifact_group_id = ?", sessionID, groupID).
		Update("view_count", gorm.Expr("view_count + 1"))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&StatsRecentView{
		SessionID:       sessionID,
		ArtifactGroupID: groupID,
		UserID:          userID,
		ViewCount:       1,
	}).Error
}

// FindOrCreateFileContent deduplicates file bodies by content hash: the
// insert is optimistic and a uniqueness conflict resolves to the existing
// row.
func (r *Repository) FindOrCreateFileContent(ctx context.Context, content []byte) (*FileContent, error) {
	record := &FileContent{
		Content: content,
		Hash:    HashFileContent(content),
		Size:    int64(len(content)),
	}
	err := r.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return record, nil
	}
	if !isUniqueViolation(err) {
		return nil, err
	}
	var existing FileContent
	if err := r.db.WithContext(ctx).Where("hash = ?", record.Hash).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key")
}
