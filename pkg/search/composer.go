package search

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Rank, filter and sort composition for artifact search.
//
// The composed query always joins the per-group rating/review/view aggregates
// with outer joins so artifacts with no ratings or views still appear, and it
// always requires a publication record so drafts never leak into results.
// Filter subqueries select DISTINCT artifact ids: an artifact with several
// matching affiliations must still count once, or pagination totals drift.

const (
	searchVectorMatch = "doc_vector @@ websearch_to_tsquery('english', ?)"

	typePriorityOrder = "CASE artifacts.type" +
		" WHEN 'software' THEN 1" +
		" WHEN 'dataset' THEN 2" +
		" WHEN 'publication' THEN 3" +
		" ELSE 4 END"
)

type Composer struct {
	criteria Criteria
}

func NewComposer(criteria Criteria) *Composer {
	return &Composer{criteria: criteria}
}

// Query renders the ranked, filtered, paginated select statement.
func (c *Composer) Query() (string, []interface{}, error) {
	cr := c.criteria

	rankCol := "0 AS rank"
	if cr.Keywords != "" {
		rankCol = "search_hits.rank AS rank"
	}

	builder, err := c.build([]string{
		"artifacts.id",
		"artifacts.artifact_group_id",
		"artifacts.type",
		"artifacts.url",
		"artifacts.title",
		"artifacts.description",
		"artifacts.owner_id",
		"artifact_groups.owner_id AS group_owner_id",
		rankCol,
		"group_ratings.num_ratings",
		"group_ratings.avg_rating",
		"group_reviews.num_reviews",
		"COALESCE(group_views.view_count, 0) AS view_count",
	}, true)
	if err != nil {
		return "", nil, err
	}

	builder = builder.OrderBy(c.orderings()...).
		Limit(uint64(cr.ItemsPerPage)).
		Offset(uint64((cr.Page - 1) * cr.ItemsPerPage))

	return builder.ToSql()
}

// CountQuery renders the companion pre-pagination row count.
func (c *Composer) CountQuery() (string, []interface{}, error) {
	builder, err := c.build([]string{"COUNT(*)"}, false)
	if err != nil {
		return "", nil, err
	}
	return builder.ToSql()
}

// build assembles the shared FROM/JOIN/WHERE skeleton. The aggregate joins
// are one-row-per-group and only needed when their columns are projected or
// sorted on, so the count variant skips them.
func (c *Composer) build(columns []string, withAggregates bool) (sq.SelectBuilder, error) {
	cr := c.criteria
	builder := sq.Select(columns...).From("artifacts")

	if cr.Keywords == "" {
		builder = builder.
			Join("artifact_groups ON artifact_groups.id = artifacts.artifact_group_id").
			Join("artifact_publications ON artifact_publications.id = artifact_groups.publication_id")
	} else {
		searchSub := "SELECT artifact_id," +
			" ts_rank_cd(doc_vector, websearch_to_tsquery('english', ?)) AS rank" +
			" FROM artifact_search_view WHERE " + searchVectorMatch
		builder = builder.
			JoinClause("JOIN ("+searchSub+") AS search_hits ON artifacts.id = search_hits.artifact_id",
				cr.Keywords, cr.Keywords).
			Join("artifact_publications ON artifact_publications.artifact_id = artifacts.id").
			Join("artifact_groups ON artifact_groups.publication_id = artifact_publications.id")
	}

	if withAggregates {
		ratingsSub, _, err := sq.Select(
			"artifact_groups.id AS artifact_group_id",
			"COUNT(artifact_ratings.id) AS num_ratings",
			"COALESCE(AVG(artifact_ratings.rating), 0) AS avg_rating",
		).From("artifact_groups").
			LeftJoin("artifact_ratings ON artifact_groups.id = artifact_ratings.artifact_group_id").
			GroupBy("artifact_groups.id").ToSql()
		if err != nil {
			return builder, err
		}

		reviewsSub, _, err := sq.Select(
			"artifact_groups.id AS artifact_group_id",
			"COUNT(artifact_reviews.id) AS num_reviews",
		).From("artifact_groups").
			LeftJoin("artifact_reviews ON artifact_groups.id = artifact_reviews.artifact_group_id").
			GroupBy("artifact_groups.id").ToSql()
		if err != nil {
			return builder, err
		}

		viewsSub, _, err := sq.Select(
			"artifact_group_id",
			"SUM(view_count) AS view_count",
		).From("stats_views").GroupBy("artifact_group_id").ToSql()
		if err != nil {
			return builder, err
		}

		builder = builder.
			JoinClause("LEFT JOIN (" + ratingsSub + ") AS group_ratings ON artifacts.artifact_group_id = group_ratings.artifact_group_id").
			JoinClause("LEFT JOIN (" + reviewsSub + ") AS group_reviews ON artifacts.artifact_group_id = group_reviews.artifact_group_id").
			JoinClause("LEFT JOIN (" + viewsSub + ") AS group_views ON artifacts.artifact_group_id = group_views.artifact_group_id")
	}

	if len(cr.AuthorKeywords) > 0 || len(cr.Organizations) > 0 {
		sub := sq.Select("DISTINCT artifacts.id").From("artifacts").
			Join("artifact_affiliations ON artifact_affiliations.artifact_id = artifacts.id").
			Join("affiliations ON affiliations.id = artifact_affiliations.affiliation_id")
		if len(cr.AuthorKeywords) > 0 {
			sub = sub.Join("persons ON persons.id = affiliations.person_id").
				Where("persons.person_tsv @@ websearch_to_tsquery('english', ?)", joinOr(cr.AuthorKeywords))
		}
		if len(cr.Organizations) > 0 {
			sub = sub.Join("organizations ON organizations.id = affiliations.org_id").
				Where("organizations.org_tsv @@ websearch_to_tsquery('english', ?)", joinOr(cr.Organizations))
		}
		subSQL, subArgs, err := sub.ToSql()
		if err != nil {
			return builder, err
		}
		builder = builder.JoinClause("JOIN ("+subSQL+") AS author_org ON artifacts.id = author_org.id", subArgs...)
	}

	if len(cr.OwnerKeywords) > 0 {
		ownerSub := "SELECT DISTINCT users.id FROM users" +
			" JOIN persons ON persons.id = users.person_id" +
			" WHERE persons.person_tsv @@ websearch_to_tsquery('english', ?)"
		builder = builder.JoinClause("JOIN ("+ownerSub+") AS owner_match ON artifacts.owner_id = owner_match.id",
			joinOr(cr.OwnerKeywords))
	}

	if len(cr.BadgeIDs) > 0 {
		subSQL, subArgs, err := sq.Select("DISTINCT artifact_badges.artifact_id").
			From("artifact_badges").
			Join("badges ON badges.id = artifact_badges.badge_id").
			Where(sq.Eq{"badges.id": cr.BadgeIDs}).ToSql()
		if err != nil {
			return builder, err
		}
		builder = builder.JoinClause("JOIN ("+subSQL+") AS badge_match ON artifacts.id = badge_match.artifact_id", subArgs...)
	}

	if len(cr.VenueIDs) > 0 {
		subSQL, subArgs, err := sq.Select("DISTINCT artifact_venues.artifact_id").
			From("artifact_venues").
			Join("venues ON venues.id = artifact_venues.venue_id").
			Where(sq.Eq{"venues.id": cr.VenueIDs}).ToSql()
		if err != nil {
			return builder, err
		}
		builder = builder.JoinClause("JOIN ("+subSQL+") AS venue_match ON artifacts.id = venue_match.artifact_id", subArgs...)
	}

	if cr.VenueKeywords != "" {
		venueSub := "SELECT DISTINCT artifact_venues.artifact_id FROM artifact_venues" +
			" JOIN venues ON venues.id = artifact_venues.venue_id" +
			" WHERE venues.venue_tsv @@ websearch_to_tsquery('english', ?)"
		builder = builder.JoinClause("JOIN ("+venueSub+") AS venue_kw_match ON artifacts.id = venue_kw_match.artifact_id",
			cr.VenueKeywords)
	}

	builder = builder.Where("artifact_publications.id IS NOT NULL")
	if len(cr.Types) > 0 {
		builder = builder.Where(sq.Eq{"artifacts.type": cr.Types})
	}

	return builder, nil
}

// orderings returns the ORDER BY terms: the explicit sort directive first,
// then relevance (or the fixed type priority when unranked), then artifact id
// descending so repeated searches paginate identically.
func (c *Composer) orderings() []string {
	cr := c.criteria
	dir := strings.ToUpper(cr.SortOrder)

	var terms []string
	switch cr.SortBy {
	case SortDate:
		terms = append(terms, "artifacts.ctime "+dir)
	case SortRating:
		terms = append(terms, "group_ratings.avg_rating "+dir, "group_reviews.num_reviews "+dir)
	case SortViews:
		terms = append(terms, "view_count "+dir)
	}

	if cr.Keywords != "" {
		terms = append(terms, "rank DESC")
	} else {
		terms = append(terms, typePriorityOrder)
	}

	return append(terms, "artifacts.id DESC")
}
