package recommend

import (
	"context"
	"reflect"
	"testing"

	"github.com/openartifacts/catalog/pkg/catalog"
	"github.com/openartifacts/catalog/pkg/common/models"
	"github.com/openartifacts/catalog/pkg/search"
)

type fakeLibrary struct {
	artifact *catalog.Artifact
	tags     []string
	authors  []string
	ratings  catalog.RatingAggregate

	getErr error
}

func (f *fakeLibrary) GetArtifact(ctx context.Context, groupID, artifactID int64) (*catalog.Artifact, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.artifact, nil
}

func (f *fakeLibrary) TagsBySource(ctx context.Context, artifactID int64, sourceSubstring string) ([]string, error) {
	return f.tags, nil
}

func (f *fakeLibrary) AuthorNames(ctx context.Context, artifactID int64) ([]string, error) {
	return f.authors, nil
}

func (f *fakeLibrary) GroupRatings(ctx context.Context, groupID int64) (catalog.RatingAggregate, error) {
	return f.ratings, nil
}

type fakeSearcher struct {
	got    search.Criteria
	result models.SearchResult
}

func (f *fakeSearcher) Search(ctx context.Context, criteria search.Criteria) (models.SearchResult, error) {
	f.got = criteria
	return f.result, nil
}

func TestRelatedNoKeywordTags(t *testing.T) {
	lib := &fakeLibrary{
		artifact: &catalog.Artifact{ID: 7, ArtifactGroupID: 3},
		authors:  []string{"Ada Lovelace"},
	}
	searcher := &fakeSearcher{}
	svc := NewService(lib, searcher)

	result, err := svc.Related(context.Background(), 3, 7, 1)
	if err != nil {
		t.Fatalf("Related() error = %v", err)
	}
	if result.Artifacts.Total != 0 || result.Artifacts.Page != 1 || result.Artifacts.Pages != 1 {
		t.Errorf("empty result shape = %+v, want total 0, page 1, pages 1", result.Artifacts)
	}
	if result.Artifacts.Artifacts == nil {
		t.Error("Artifacts slice must be non-nil")
	}
	if !reflect.DeepEqual(result.Authors, []string{"Ada Lovelace"}) {
		t.Errorf("Authors = %v, want the artifact's authors", result.Authors)
	}
	if searcher.got.Keywords != "" {
		t.Error("no search should run without keyword tags")
	}
}

func TestRelatedJoinsTagsWithOr(t *testing.T) {
	avg := 4.336
	lib := &fakeLibrary{
		artifact: &catalog.Artifact{ID: 7, ArtifactGroupID: 3},
		tags:     []string{"iot", "testbed", "wireless"},
		ratings:  catalog.RatingAggregate{NumRatings: 12, AvgRating: &avg},
	}
	searcher := &fakeSearcher{
		result: models.SearchResult{Page: 1, Total: 2, Pages: 1},
	}
	svc := NewService(lib, searcher)

	result, err := svc.Related(context.Background(), 3, 7, 1)
	if err != nil {
		t.Fatalf("Related() error = %v", err)
	}
	if searcher.got.Keywords != "iot or testbed or wireless" {
		t.Errorf("Keywords = %q, want tags joined with or", searcher.got.Keywords)
	}
	if !reflect.DeepEqual(searcher.got.Types, catalog.ArtifactTypes) {
		t.Errorf("Types = %v, want all artifact types", searcher.got.Types)
	}
	if searcher.got.ItemsPerPage != relatedPageSize {
		t.Errorf("ItemsPerPage = %d, want %d", searcher.got.ItemsPerPage, relatedPageSize)
	}
	if result.Artifacts.Total != 2 {
		t.Errorf("Total = %d, want the searcher's total", result.Artifacts.Total)
	}
	if result.NumRatings != 12 {
		t.Errorf("NumRatings = %d, want 12", result.NumRatings)
	}
	if result.AvgRating == nil || *result.AvgRating != 4.34 {
		t.Errorf("AvgRating = %v, want 4.34 (rounded to 2 decimals)", result.AvgRating)
	}
}

func TestRelatedPropagatesNotFound(t *testing.T) {
	lib := &fakeLibrary{getErr: catalog.ErrNotFound}
	svc := NewService(lib, &fakeSearcher{})

	_, err := svc.Related(context.Background(), 99, 1, 1)
	if err != catalog.ErrNotFound {
		t.Errorf("Related() error = %v, want catalog.ErrNotFound", err)
	}
}

func TestRelatedAuthorsNeverNil(t *testing.T) {
	lib := &fakeLibrary{
		artifact: &catalog.Artifact{ID: 1, ArtifactGroupID: 1},
	}
	svc := NewService(lib, &fakeSearcher{})

	result, err := svc.Related(context.Background(), 1, 1, 1)
	if err != nil {
		t.Fatalf("Related() error = %v", err)
	}
	if result.Authors == nil {
		t.Error("Authors must be an empty slice, not nil")
	}
}
