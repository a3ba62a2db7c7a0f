package catalog

import (
	"crypto/sha256"
	"time"
)

var ArtifactTypes = []string{
	"publication", "presentation", "dataset", "software", "other",
}

var RelationTypes = []string{
	"cites", "supplements", "extends", "uses", "describes",
	"requires", "processes", "produces",
}

func IsValidArtifactType(t string) bool {
	for _, known := range ArtifactTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ArtifactGroup is the version-independent identity of an artifact. All
// ratings, reviews, views and favorites key off the group, never off an
// individual version.
type ArtifactGroup struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	OwnerID       int64 `gorm:"not null;index"`
	PublicationID *int64
	NextVersion   int `gorm:"not null"`

	Owner       User                 `gorm:"foreignKey:OwnerID"`
	Publication *ArtifactPublication `gorm:"foreignKey:PublicationID"`
}

func (ArtifactGroup) TableName() string { return "artifact_groups" }

// Artifact is one version of a cataloged research output.
type Artifact struct {
	ID              int64      `gorm:"primaryKey;autoIncrement"`
	ArtifactGroupID int64      `gorm:"not null;index"`
	Type            string     `gorm:"type:varchar(32);not null;index"`
	URL             string     `gorm:"size:1024;not null"`
	ExtID           string     `gorm:"size:512"`
	Title           string     `gorm:"type:text;not null"`
	Name            string     `gorm:"size:1024"`
	Ctime           time.Time  `gorm:"not null"`
	Mtime           *time.Time
	Description     string `gorm:"type:text"`
	LicenseID       *int64
	OwnerID         *int64
	ParentID        *int64

	ArtifactGroup ArtifactGroup        `gorm:"foreignKey:ArtifactGroupID"`
	License       *License             `gorm:"foreignKey:LicenseID"`
	Owner         *User                `gorm:"foreignKey:OwnerID"`
	Publication   *ArtifactPublication `gorm:"foreignKey:ArtifactID;references:ID"`
	Tags          []ArtifactTag        `gorm:"foreignKey:ArtifactID"`
	Meta          []ArtifactMetadata   `gorm:"foreignKey:ArtifactID"`
	Files         []ArtifactFile       `gorm:"foreignKey:ArtifactID"`
	Releases      []ArtifactRelease    `gorm:"foreignKey:ArtifactID"`
	Affiliations  []ArtifactAffiliation `gorm:"foreignKey:ArtifactID"`
	Badges        []ArtifactBadge      `gorm:"foreignKey:ArtifactID"`
	Venues        []ArtifactVenue      `gorm:"foreignKey:ArtifactID"`
}

func (Artifact) TableName() string { return "artifacts" }

// ArtifactPublication marks an artifact version as published. Only artifacts
// with a publication record are ever visible in search results.
type ArtifactPublication struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	ArtifactID  int64     `gorm:"not null;index"`
	Time        time.Time `gorm:"not null"`
	Notes       string    `gorm:"type:text"`
	PublisherID int64     `gorm:"not null"`
	Version     int       `gorm:"not null"`

	Publisher User `gorm:"foreignKey:PublisherID"`
}

func (ArtifactPublication) TableName() string { return "artifact_publications" }

type ArtifactTag struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	ArtifactID int64  `gorm:"not null;uniqueIndex:uq_artifact_tag,priority:2"`
	Tag        string `gorm:"size:256;not null;uniqueIndex:uq_artifact_tag,priority:1"`
	Source     string `gorm:"size:256;not null;default:'';uniqueIndex:uq_artifact_tag,priority:3"`
}

func (ArtifactTag) TableName() string { return "artifact_tags" }

type ArtifactMetadata struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	ArtifactID int64  `gorm:"not null;index"`
	Name       string `gorm:"size:64;not null"`
	Value      string `gorm:"type:text;not null"`
	Type       string `gorm:"size:256"`
	Source     string `gorm:"size:256"`
}

func (ArtifactMetadata) TableName() string { return "artifact_metadata" }

// FileContent stores deduplicated file bodies keyed by content hash.
type FileContent struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	Content []byte `gorm:"not null"`
	Hash    []byte `gorm:"type:bytea;not null;uniqueIndex"`
	Size    int64  `gorm:"not null"`
}

func (FileContent) TableName() string { return "file_content" }

func HashFileContent(content []byte) []byte {
	sum := sha256.Sum256(content)
	return sum[:]
}

type ArtifactFile struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	ArtifactID    int64  `gorm:"uniqueIndex:uq_artifact_file,priority:1"`
	URL           string `gorm:"size:512;not null;uniqueIndex:uq_artifact_file,priority:2"`
	Name          string `gorm:"size:512"`
	Filetype      string `gorm:"size:128;not null"`
	FileContentID *int64
	Size          int64
	Mtime         *time.Time

	FileContent *FileContent `gorm:"foreignKey:FileContentID"`
}

func (ArtifactFile) TableName() string { return "artifact_files" }

type ArtifactRelease struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	ArtifactID  int64  `gorm:"index"`
	URL         string `gorm:"size:512"`
	AuthorLogin string `gorm:"size:128"`
	AuthorEmail string `gorm:"size:128"`
	AuthorName  string `gorm:"size:128"`
	Tag         string `gorm:"size:128"`
	Title       string `gorm:"size:1024"`
	Time        *time.Time
	Notes       string `gorm:"type:text"`
}

func (ArtifactRelease) TableName() string { return "artifact_releases" }

type ArtifactRelationship struct {
	ID                     int64  `gorm:"primaryKey;autoIncrement"`
	ArtifactID             *int64
	ArtifactGroupID        int64  `gorm:"not null;uniqueIndex:uq_artifact_rel,priority:1"`
	Relation               string `gorm:"type:varchar(32);uniqueIndex:uq_artifact_rel,priority:2"`
	RelatedArtifactID      *int64
	RelatedArtifactGroupID int64 `gorm:"not null;uniqueIndex:uq_artifact_rel,priority:3"`
}

func (ArtifactRelationship) TableName() string { return "artifact_relationships" }

type License struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	ShortName string `gorm:"size:64"`
	LongName  string `gorm:"size:512;not null"`
	URL       string `gorm:"size:1024;not null"`
	Verified  bool   `gorm:"not null;default:false"`
}

func (License) TableName() string { return "licenses" }

// Person carries a precomputed text vector so author filters can rank and
// match without re-deriving the document at query time.
type Person struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	Name              string `gorm:"size:1024"`
	Email             string `gorm:"size:256"`
	ResearchInterests string `gorm:"type:text"`
	Website           string `gorm:"type:text"`
	PersonTsv         string `gorm:"type:tsvector;column:person_tsv"`
}

func (Person) TableName() string { return "persons" }

type Organization struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:1024;not null"`
	Type      string `gorm:"type:varchar(32);not null"`
	URL       string `gorm:"size:512"`
	State     string `gorm:"size:64"`
	Country   string `gorm:"size:64"`
	Latitude  *float64
	Longitude *float64
	Address   string `gorm:"size:512"`
	Verified  bool   `gorm:"not null;default:false"`
	OrgTsv    string `gorm:"type:tsvector;column:org_tsv"`
}

func (Organization) TableName() string { return "organizations" }

type Affiliation struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	PersonID int64  `gorm:"not null;uniqueIndex:uq_affiliation,priority:1"`
	OrgID    *int64 `gorm:"uniqueIndex:uq_affiliation,priority:2"`

	Person Person        `gorm:"foreignKey:PersonID"`
	Org    *Organization `gorm:"foreignKey:OrgID"`
}

func (Affiliation) TableName() string { return "affiliations" }

type ArtifactAffiliation struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	ArtifactID    int64  `gorm:"not null;uniqueIndex:uq_artifact_affiliation,priority:1"`
	AffiliationID int64  `gorm:"not null;uniqueIndex:uq_artifact_affiliation,priority:2"`
	Roles         string `gorm:"type:varchar(32);not null;default:'Author';uniqueIndex:uq_artifact_affiliation,priority:3"`

	Affiliation Affiliation `gorm:"foreignKey:AffiliationID"`
}

func (ArtifactAffiliation) TableName() string { return "artifact_affiliations" }

type RecurringVenue struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Type         string `gorm:"type:varchar(32);not null"`
	Title        string `gorm:"size:1024;not null"`
	Abbrev       string `gorm:"size:64"`
	URL          string `gorm:"size:1024;not null"`
	Description  string `gorm:"type:text"`
	PublisherURL string `gorm:"size:1024"`
	Verified     bool   `gorm:"not null;default:false"`
}

func (RecurringVenue) TableName() string { return "recurring_venues" }

type Venue struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	Type             string `gorm:"type:varchar(32);not null"`
	Title            string `gorm:"size:1024;not null"`
	Abbrev           string `gorm:"size:64"`
	URL              string `gorm:"size:1024;not null"`
	Description      string `gorm:"type:text"`
	Location         string `gorm:"size:1024"`
	Year             *int
	Month            *int
	Publisher        string `gorm:"size:1024"`
	ISBN             string `gorm:"size:128"`
	ISSN             string `gorm:"size:128"`
	DOI              string `gorm:"size:128"`
	Verified         bool   `gorm:"not null;default:false"`
	VenueTsv         string `gorm:"type:tsvector;column:venue_tsv"`
	RecurringVenueID *int64

	RecurringVenue *RecurringVenue `gorm:"foreignKey:RecurringVenueID"`
}

func (Venue) TableName() string { return "venues" }

type ArtifactVenue struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	ArtifactID int64 `gorm:"not null;uniqueIndex:uq_artifact_venue,priority:1"`
	VenueID    int64 `gorm:"not null;uniqueIndex:uq_artifact_venue,priority:2"`

	Venue Venue `gorm:"foreignKey:VenueID"`
}

func (ArtifactVenue) TableName() string { return "artifact_venues" }

// Badge is a verifiable quality marker attachable to artifacts.
type Badge struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Title        string `gorm:"size:1024;not null;uniqueIndex:uq_badge,priority:1"`
	URL          string `gorm:"size:1024;not null;uniqueIndex:uq_badge,priority:2"`
	ImageURL     string `gorm:"size:1024"`
	Description  string `gorm:"type:text"`
	Version      string `gorm:"size:256;not null;default:'';uniqueIndex:uq_badge,priority:3"`
	Organization string `gorm:"size:1024;not null;uniqueIndex:uq_badge,priority:4"`
	Venue        string `gorm:"size:1024"`
	IssueTime    *time.Time
	DOI          string `gorm:"size:128"`
	Verified     bool   `gorm:"not null;default:false"`
}

func (Badge) TableName() string { return "badges" }

type ArtifactBadge struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	ArtifactID int64 `gorm:"not null;uniqueIndex:uq_artifact_badge,priority:1"`
	BadgeID    int64 `gorm:"not null;uniqueIndex:uq_artifact_badge,priority:2"`

	Badge Badge `gorm:"foreignKey:BadgeID"`
}

func (ArtifactBadge) TableName() string { return "artifact_badges" }

// ArtifactRating is one user's 0-5 rating of an artifact group.
type ArtifactRating struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	UserID          int64  `gorm:"not null;uniqueIndex:uq_rating,priority:2"`
	ArtifactID      *int64
	ArtifactGroupID int64 `gorm:"not null;uniqueIndex:uq_rating,priority:1"`
	Rating          int   `gorm:"not null;check:rating >= 0 AND rating <= 5"`
}

func (ArtifactRating) TableName() string { return "artifact_ratings" }

type ArtifactReview struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	UserID          int64     `gorm:"not null;index"`
	ArtifactID      *int64
	ArtifactGroupID int64     `gorm:"not null;index"`
	Review          string    `gorm:"type:text;not null"`
	ReviewTime      time.Time `gorm:"not null"`

	Reviewer User `gorm:"foreignKey:UserID"`
}

func (ArtifactReview) TableName() string { return "artifact_reviews" }

type ArtifactFavorite struct {
	ID              int64 `gorm:"primaryKey;autoIncrement"`
	UserID          int64 `gorm:"not null;uniqueIndex:uq_favorite,priority:2"`
	ArtifactID      *int64
	ArtifactGroupID int64 `gorm:"not null;uniqueIndex:uq_favorite,priority:1"`
}

func (ArtifactFavorite) TableName() string { return "artifact_favorites" }

// ArtifactSearchView maps onto the materialized view that precomputes one
// searchable text vector per artifact. The view is refreshed out of band;
// queries must tolerate staleness.
type ArtifactSearchView struct {
	ArtifactID int64  `gorm:"column:artifact_id"`
	DocVector  string `gorm:"type:tsvector;column:doc_vector"`
}

func (ArtifactSearchView) TableName() string { return "artifact_search_view" }

type StatsArtifactView struct {
	ID              int64 `gorm:"primaryKey;autoIncrement"`
	ArtifactGroupID int64 `gorm:"not null;index"`
	UserID          *int64
	ViewCount       int64 `gorm:"not null"`
}

func (StatsArtifactView) TableName() string { return "stats_views" }

type StatsRecentView struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	SessionID       string `gorm:"size:64;not null;index"`
	ArtifactGroupID int64  `gorm:"not null"`
	UserID          *int64
	ViewCount       int64 `gorm:"not null"`
}

func (StatsRecentView) TableName() string { return "recent_views" }

type StatsSearch struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	SearchTerm string `gorm:"size:512;not null"`
}

func (StatsSearch) TableName() string { return "stats_searches" }

var OwnerRequestStatuses = []string{"pending", "approved", "rejected", "pre_approved"}

type ArtifactOwnerRequest struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	UserID          int64     `gorm:"not null;uniqueIndex:uq_owner_request,priority:2"`
	ArtifactGroupID int64     `gorm:"not null;uniqueIndex:uq_owner_request,priority:1"`
	Message         string    `gorm:"type:text;not null"`
	Ctime           time.Time `gorm:"not null"`
	Status          string    `gorm:"type:varchar(32);not null"`
	ActionMessage   string    `gorm:"type:text"`
	ActionTime      *time.Time
	ActionByUserID  *int64
}

func (ArtifactOwnerRequest) TableName() string { return "artifact_owner_request" }

// User ties a person to catalog ownership and admin capability.
type User struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	PersonID int64 `gorm:"not null;uniqueIndex"`
	CanAdmin bool  `gorm:"not null;default:false"`

	Person Person `gorm:"foreignKey:PersonID"`
}

func (User) TableName() string { return "users" }
