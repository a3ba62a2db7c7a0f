package search

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/openartifacts/catalog/pkg/common/logger"
)

// StatsRecorder logs executed search terms. Only searches arriving through
// the API are recorded; internal callers use Searcher directly.
type StatsRecorder interface {
	RecordSearch(ctx context.Context, keywords string)
}

type HTTPHandler struct {
	service Searcher
	stats   StatsRecorder
}

func NewHTTPHandler(service Searcher, stats StatsRecorder) *HTTPHandler {
	return &HTTPHandler{service: service, stats: stats}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/artifacts/search", h.handleSearch).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.stats != nil {
		h.stats.RecordSearch(r.Context(), criteria.Keywords)
	}

	result, err := h.service.Search(r.Context(), criteria)
	if err != nil {
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("artifact search failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func criteriaFromRequest(r *http.Request) (Criteria, error) {
	q := r.URL.Query()

	criteria := Criteria{
		Keywords:       q.Get("keywords"),
		Types:          q["type"],
		AuthorKeywords: q["author"],
		Organizations:  q["organization"],
		OwnerKeywords:  q["owner"],
		VenueKeywords:  q.Get("venue_keywords"),
		SortBy:         q.Get("sort"),
		SortOrder:      q.Get("order"),
	}

	var err error
	if criteria.Page, err = intParam(q.Get("page"), 1); err != nil {
		return Criteria{}, &ValidationError{Field: "page", Value: q.Get("page")}
	}
	if criteria.ItemsPerPage, err = intParam(q.Get("items_per_page"), 0); err != nil {
		return Criteria{}, &ValidationError{Field: "items_per_page", Value: q.Get("items_per_page")}
	}
	if criteria.BadgeIDs, err = idParams(q["badge_id"]); err != nil {
		return Criteria{}, &ValidationError{Field: "badge_id", Value: q.Get("badge_id")}
	}
	if criteria.VenueIDs, err = idParams(q["venue_id"]); err != nil {
		return Criteria{}, &ValidationError{Field: "venue_id", Value: q.Get("venue_id")}
	}

	return criteria, nil
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func idParams(raw []string) ([]int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(raw))
	for _, value := range raw {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
