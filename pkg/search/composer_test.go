package search

import (
	"strings"
	"testing"
)

func validated(t *testing.T, c Criteria) Criteria {
	t.Helper()
	if err := c.Validate(10, 20); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return c
}

func TestQueryWithoutKeywords(t *testing.T) {
	c := validated(t, Criteria{})
	sql, args, err := NewComposer(c).Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
	for _, want := range []string{
		"FROM artifacts",
		"JOIN artifact_groups ON artifact_groups.id = artifacts.artifact_group_id",
		"JOIN artifact_publications ON artifact_publications.id = artifact_groups.publication_id",
		"LEFT JOIN (",
		"artifact_publications.id IS NOT NULL",
		"CASE artifacts.type WHEN 'software' THEN 1 WHEN 'dataset' THEN 2 WHEN 'publication' THEN 3 ELSE 4 END",
		"artifacts.id DESC",
		"LIMIT 10 OFFSET 0",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("query missing %q\nsql: %s", want, sql)
		}
	}
	if strings.Contains(sql, "search_hits") {
		t.Errorf("unranked query must not join the search view\nsql: %s", sql)
	}
}

func TestQueryWithKeywords(t *testing.T) {
	c := validated(t, Criteria{Keywords: "gene sequencing"})
	sql, args, err := NewComposer(c).Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for _, want := range []string{
		"ts_rank_cd(doc_vector, websearch_to_tsquery('english', ?))",
		"doc_vector @@ websearch_to_tsquery('english', ?)",
		"AS search_hits ON artifacts.id = search_hits.artifact_id",
		"JOIN artifact_publications ON artifact_publications.artifact_id = artifacts.id",
		"rank DESC",
		"artifacts.id DESC",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("query missing %q\nsql: %s", want, sql)
		}
	}
	// The keyword string binds once for the rank column, once for the match.
	if len(args) != 2 || args[0] != "gene sequencing" || args[1] != "gene sequencing" {
		t.Errorf("args = %v, want the keywords twice", args)
	}
	if strings.Contains(sql, "CASE artifacts.type") {
		t.Errorf("ranked query must not use the type priority order\nsql: %s", sql)
	}
}

func TestQueryTypeFilter(t *testing.T) {
	c := validated(t, Criteria{Types: []string{"software", "dataset"}})
	sql, args, err := NewComposer(c).Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !strings.Contains(sql, "artifacts.type IN (?,?)") {
		t.Errorf("query missing type filter\nsql: %s", sql)
	}
	if len(args) != 2 || args[0] != "software" || args[1] != "dataset" {
		t.Errorf("args = %v, want [software dataset]", args)
	}
}

func TestQueryAuthorAndOrganization(t *testing.T) {
	c := validated(t, Criteria{
		AuthorKeywords: []string{"smith", "jones"},
		Organizations:  []string{"cornell"},
	})
	sql, args, err := NewComposer(c).Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for _, want := range []string{
		"SELECT DISTINCT artifacts.id",
		"persons.person_tsv @@ websearch_to_tsquery('english', ?)",
		"organizations.org_tsv @@ websearch_to_tsquery('english', ?)",
		"AS author_org ON artifacts.id = author_org.id",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("query missing %q\nsql: %s", want, sql)
		}
	}
	if len(args) != 2 || args[0] != "smith or jones" || args[1] != "cornell" {
		t.Errorf("args = %v, want [\"smith or jones\" cornell]", args)
	}
}

func TestQueryBadgeAndVenueIDs(t *testing.T) {
	c := validated(t, Criteria{BadgeIDs: []int64{5, 3}, VenueIDs: []int64{7}})
	sql, args, err := NewComposer(c).Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for _, want := range []string{
		"SELECT DISTINCT artifact_badges.artifact_id",
		"badges.id IN (?,?)",
		"AS badge_match ON artifacts.id = badge_match.artifact_id",
		"SELECT DISTINCT artifact_venues.artifact_id",
		"venues.id IN (?)",
		"AS venue_match ON artifacts.id = venue_match.artifact_id",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("query missing %q\nsql: %s", want, sql)
		}
	}
	// Badge ids bind in request order.
	if len(args) != 3 || args[0] != int64(5) || args[1] != int64(3) || args[2] != int64(7) {
		t.Errorf("args = %v, want [5 3 7]", args)
	}
}

func TestQueryOwnerAndVenueKeywords(t *testing.T) {
	c := validated(t, Criteria{
		OwnerKeywords: []string{"brown"},
		VenueKeywords: "usenix",
	})
	sql, args, err := NewComposer(c).Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for _, want := range []string{
		"AS owner_match ON artifacts.owner_id = owner_match.id",
		"venues.venue_tsv @@ websearch_to_tsquery('english', ?)",
		"AS venue_kw_match ON artifacts.id = venue_kw_match.artifact_id",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("query missing %q\nsql: %s", want, sql)
		}
	}
	if len(args) != 2 || args[0] != "brown" || args[1] != "usenix" {
		t.Errorf("args = %v, want [brown usenix]", args)
	}
}

func TestQuerySortDirectives(t *testing.T) {
	tests := []struct {
		sortBy string
		order  string
		want   []string
	}{
		{SortDate, OrderAsc, []string{"artifacts.ctime ASC"}},
		{SortDate, OrderDesc, []string{"artifacts.ctime DESC"}},
		{SortRating, OrderDesc, []string{"group_ratings.avg_rating DESC", "group_reviews.num_reviews DESC"}},
		{SortViews, OrderAsc, []string{"view_count ASC"}},
	}
	for _, tt := range tests {
		c := validated(t, Criteria{SortBy: tt.sortBy, SortOrder: tt.order})
		sql, _, err := NewComposer(c).Query()
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		for _, want := range tt.want {
			if !strings.Contains(sql, want) {
				t.Errorf("sort %s/%s: query missing %q\nsql: %s", tt.sortBy, tt.order, want, sql)
			}
		}
		// Explicit sort directives come before the fallback orderings.
		idx := strings.Index(sql, tt.want[0])
		fallback := strings.Index(sql, "artifacts.id DESC")
		if idx < 0 || fallback < idx {
			t.Errorf("sort %s/%s: directive must precede id tie-break", tt.sortBy, tt.order)
		}
	}
}

func TestQueryPagination(t *testing.T) {
	c := validated(t, Criteria{Page: 3, ItemsPerPage: 15})
	sql, _, err := NewComposer(c).Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !strings.Contains(sql, "LIMIT 15 OFFSET 30") {
		t.Errorf("query missing pagination\nsql: %s", sql)
	}
}

func TestCountQuery(t *testing.T) {
	c := validated(t, Criteria{Keywords: "testbed", Types: []string{"software"}})
	sql, args, err := NewComposer(c).CountQuery()
	if err != nil {
		t.Fatalf("CountQuery() error = %v", err)
	}
	if !strings.HasPrefix(sql, "SELECT COUNT(*)") {
		t.Errorf("count query must project only COUNT(*)\nsql: %s", sql)
	}
	for _, banned := range []string{"LIMIT", "OFFSET", "ORDER BY", "group_ratings", "group_views"} {
		if strings.Contains(sql, banned) {
			t.Errorf("count query must not contain %q\nsql: %s", banned, sql)
		}
	}
	// Same filters bind in the same order as the row query.
	if len(args) != 3 || args[0] != "testbed" || args[1] != "testbed" || args[2] != "software" {
		t.Errorf("args = %v, want [testbed testbed software]", args)
	}
}

func TestQueryDeterministicAcrossCalls(t *testing.T) {
	c := validated(t, Criteria{Keywords: "iot", Types: []string{"dataset"}, SortBy: SortRating})
	first, firstArgs, err := NewComposer(c).Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	second, secondArgs, err := NewComposer(c).Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if first != second {
		t.Errorf("same criteria produced different SQL:\n%s\n%s", first, second)
	}
	if len(firstArgs) != len(secondArgs) {
		t.Errorf("same criteria produced different args: %v vs %v", firstArgs, secondArgs)
	}
}
