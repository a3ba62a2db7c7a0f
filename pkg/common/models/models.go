package models

import "time"

// Event is the envelope all kafka messages travel in.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // import-created, import-status-changed, search-performed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// ArtifactSummary is the projection returned by search and recommendation
// result lists.
type ArtifactSummary struct {
	ID              int64    `json:"id"`
	ArtifactGroupID int64    `json:"artifact_group_id"`
	ArtifactGroup   GroupRef `json:"artifact_group"`
	URI             string   `json:"uri"`
	DOI             string   `json:"doi"`
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	AvgRating       float64  `json:"avg_rating"`
	NumRatings      int64    `json:"num_ratings"`
	NumReviews      int64    `json:"num_reviews"`
	Owner           OwnerRef `json:"owner"`
	Views           int64    `json:"views"`
	RelevanceScore  float64  `json:"-"`
}

type GroupRef struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"owner_id"`
}

type OwnerRef struct {
	ID int64 `json:"id"`
}

// SearchResult is one page of ranked artifacts.
type SearchResult struct {
	Page      int               `json:"page"`
	Total     int64             `json:"total"`
	Pages     int               `json:"pages"`
	Artifacts []ArtifactSummary `json:"artifacts"`
}

// EmptySearchResult is the shape returned when nothing can match.
func EmptySearchResult() SearchResult {
	return SearchResult{Page: 1, Total: 0, Pages: 1, Artifacts: []ArtifactSummary{}}
}

// RecommendationResult wraps related artifacts together with the seed
// artifact's own rating aggregate and author list.
type RecommendationResult struct {
	Artifacts  SearchResult `json:"artifacts"`
	AvgRating  *float64     `json:"avg_rating"`
	NumRatings int64        `json:"num_ratings"`
	Authors    []string     `json:"authors"`
}
