package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gorilla/mux"

	"github.com/openartifacts/catalog/pkg/common/logger"
	"github.com/openartifacts/catalog/pkg/common/models"
)

func init() {
	logger.Init()
}

type stubSearcher struct {
	got    Criteria
	result models.SearchResult
	err    error
}

func (s *stubSearcher) Search(ctx context.Context, criteria Criteria) (models.SearchResult, error) {
	s.got = criteria
	return s.result, s.err
}

func TestHandleSearchParsesParams(t *testing.T) {
	stub := &stubSearcher{result: models.SearchResult{Page: 2, Total: 21, Pages: 3, Artifacts: []models.ArtifactSummary{}}}
	router := mux.NewRouter()
	NewHTTPHandler(stub, nil).Register(router)

	req := httptest.NewRequest(http.MethodGet,
		"/artifacts/search?keywords=iot&type=software&type=dataset&author=smith"+
			"&organization=cornell&owner=brown&badge_id=5&badge_id=3&venue_id=7"+
			"&venue_keywords=usenix&sort=rating&order=asc&page=2&items_per_page=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	want := Criteria{
		Keywords:       "iot",
		Types:          []string{"software", "dataset"},
		AuthorKeywords: []string{"smith"},
		Organizations:  []string{"cornell"},
		OwnerKeywords:  []string{"brown"},
		BadgeIDs:       []int64{5, 3},
		VenueIDs:       []int64{7},
		VenueKeywords:  "usenix",
		SortBy:         "rating",
		SortOrder:      "asc",
		Page:           2,
		ItemsPerPage:   10,
	}
	if !reflect.DeepEqual(stub.got, want) {
		t.Errorf("criteria = %+v\nwant %+v", stub.got, want)
	}

	var body models.SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if body.Total != 21 || body.Pages != 3 {
		t.Errorf("body = %+v", body)
	}
}

type stubStatsRecorder struct {
	terms []string
}

func (s *stubStatsRecorder) RecordSearch(ctx context.Context, keywords string) {
	s.terms = append(s.terms, keywords)
}

func TestHandleSearchRecordsTerm(t *testing.T) {
	stub := &stubSearcher{result: models.SearchResult{Artifacts: []models.ArtifactSummary{}}}
	stats := &stubStatsRecorder{}
	router := mux.NewRouter()
	NewHTTPHandler(stub, stats).Register(router)

	req := httptest.NewRequest(http.MethodGet, "/artifacts/search?keywords=iot", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(stats.terms) != 1 || stats.terms[0] != "iot" {
		t.Errorf("recorded terms = %v, want [iot]", stats.terms)
	}

	// Malformed requests are rejected before anything is recorded.
	req = httptest.NewRequest(http.MethodGet, "/artifacts/search?page=x", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(stats.terms) != 1 {
		t.Errorf("recorded terms = %v, want only the valid search", stats.terms)
	}
}

func TestHandleSearchRejectsBadParams(t *testing.T) {
	for _, url := range []string{
		"/artifacts/search?page=x",
		"/artifacts/search?items_per_page=ten",
		"/artifacts/search?badge_id=gold",
		"/artifacts/search?venue_id=usenix",
	} {
		stub := &stubSearcher{}
		router := mux.NewRouter()
		NewHTTPHandler(stub, nil).Register(router)

		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, rec.Code)
		}
	}
}

func TestHandleSearchValidationErrorFromService(t *testing.T) {
	stub := &stubSearcher{err: &ValidationError{Field: "type", Value: "artwork"}}
	router := mux.NewRouter()
	NewHTTPHandler(stub, nil).Register(router)

	req := httptest.NewRequest(http.MethodGet, "/artifacts/search?type=artwork", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
