package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openartifacts/catalog/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

var ErrInvalidRating = errors.New("rating must be between 0 and 5")

type Service struct {
	repo          *Repository
	redis         *redis.Client
	recentViewTTL time.Duration
}

func NewService(repo *Repository, redisClient *redis.Client, recentViewTTL time.Duration) *Service {
	return &Service{repo: repo, redis: redisClient, recentViewTTL: recentViewTTL}
}

// ArtifactDetail is the full single-artifact projection.
type ArtifactDetail struct {
	Artifact   *Artifact        `json:"artifact"`
	NumRatings int64            `json:"num_ratings"`
	AvgRating  *float64         `json:"avg_rating"`
	NumReviews int64            `json:"num_reviews"`
	Reviews    []ArtifactReview `json:"reviews"`
	Views      int64            `json:"views"`
	Authors    []string         `json:"authors"`
}

// GetArtifact assembles the detail view and records the view against the
// artifact's group.
func (s *Service) GetArtifact(ctx context.Context, groupID, artifactID int64, sessionID string, userID *int64) (*ArtifactDetail, error) {
	artifact, err := s.repo.GetArtifact(ctx, groupID, artifactID)
	if err != nil {
		return nil, err
	}

	ratings, err := s.repo.GroupRatings(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading rating aggregate: %w", err)
	}
	reviews, err := s.repo.GroupReviews(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading reviews: %w", err)
	}
	views, err := s.repo.GroupViewCount(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading view count: %w", err)
	}
	authors, err := s.repo.AuthorNames(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("loading authors: %w", err)
	}

	s.recordView(ctx, groupID, sessionID, userID)

	return &ArtifactDetail{
		Artifact:   artifact,
		NumRatings: ratings.NumRatings,
		AvgRating:  ratings.AvgRating,
		NumReviews: int64(len(reviews)),
		Reviews:    reviews,
		Views:      views,
		Authors:    authors,
	}, nil
}

// recordView bumps the durable counter and the session-scoped recent-view
// list. Both are advisory; failures are logged and dropped.
func (s *Service) recordView(ctx context.Context, groupID int64, sessionID string, userID *int64) {
	if err := s.repo.IncrementViewCount(ctx, groupID, userID); err != nil {
		logger.Log.WithError(err).Warn("failed to record artifact view")
	}
	if sessionID == "" {
		return
	}
	if err := s.repo.RecordRecentView(ctx, sessionID, groupID, userID); err != nil {
		logger.Log.WithError(err).Warn("failed to record recent view")
	}
	if s.redis != nil {
		key := fmt.Sprintf("recent_views:%s", sessionID)
		pipe := s.redis.Pipeline()
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(time.Now().UnixNano()), Member: groupID})
		pipe.Expire(ctx, key, s.recentViewTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Log.WithError(err).Debug("failed to cache recent view")
		}
	}
}

// RecentViews returns the most recently viewed group ids for a session,
// newest first, served from the cache.
func (s *Service) RecentViews(ctx context.Context, sessionID string, limit int64) ([]string, error) {
	if s.redis == nil || sessionID == "" {
		return []string{}, nil
	}
	key := fmt.Sprintf("recent_views:%s", sessionID)
	return s.redis.ZRevRange(ctx, key, 0, limit-1).Result()
}

func (s *Service) RateArtifact(ctx context.Context, groupID, userID int64, artifactID *int64, rating int) error {
	if rating < 0 || rating > 5 {
		return ErrInvalidRating
	}
	return s.repo.UpsertRating(ctx, &ArtifactRating{
		UserID:          userID,
		ArtifactID:      artifactID,
		ArtifactGroupID: groupID,
		Rating:          rating,
	})
}

func (s *Service) ReviewArtifact(ctx context.Context, groupID, userID int64, artifactID *int64, review string) error {
	if review == "" {
		return errors.New("review text required")
	}
	return s.repo.CreateReview(ctx, &ArtifactReview{
		UserID:          userID,
		ArtifactID:      artifactID,
		ArtifactGroupID: groupID,
		Review:          review,
	})
}

func (s *Service) FavoriteArtifact(ctx context.Context, groupID, userID int64, artifactID *int64) error {
	return s.repo.AddFavorite(ctx, &ArtifactFavorite{
		UserID:          userID,
		ArtifactID:      artifactID,
		ArtifactGroupID: groupID,
	})
}

func (s *Service) UnfavoriteArtifact(ctx context.Context, groupID, userID int64) error {
	return s.repo.RemoveFavorite(ctx, groupID, userID)
}
