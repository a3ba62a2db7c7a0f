package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/openartifacts/catalog/pkg/common/logger"
	"github.com/openartifacts/catalog/pkg/middleware"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// Register attaches the read endpoints on the public router and the write
// endpoints on the session-protected one.
func (h *HTTPHandler) Register(public, protected *mux.Router) {
	public.HandleFunc("/artifact/{group_id}/{artifact_id}", h.handleGet).Methods(http.MethodGet)

	protected.HandleFunc("/artifact/rating/{group_id}", h.handleRate).Methods(http.MethodPost)
	protected.HandleFunc("/artifact/review/{group_id}", h.handleReview).Methods(http.MethodPost)
	protected.HandleFunc("/artifact/favorite/{group_id}", h.handleFavorite).Methods(http.MethodPost)
	protected.HandleFunc("/artifact/favorite/{group_id}", h.handleUnfavorite).Methods(http.MethodDelete)
	protected.HandleFunc("/artifacts/recent", h.handleRecentViews).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	groupID, artifactID, err := pathIDs(r, "group_id", "artifact_id")
	if err != nil {
		http.Error(w, "invalid artifact ID", http.StatusBadRequest)
		return
	}

	var sessionID string
	var userID *int64
	if info, ok := middleware.SessionFrom(r.Context()); ok {
		sessionID = info.Token
		userID = &info.UserID
	}

	detail, err := h.service.GetArtifact(r.Context(), groupID, artifactID, sessionID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to load artifact")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

type ratingRequest struct {
	ArtifactID *int64 `json:"artifact_id,omitempty"`
	Rating     int    `json:"rating"`
}

func (h *HTTPHandler) handleRate(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	groupID, err := pathID(r, "group_id")
	if err != nil {
		http.Error(w, "invalid artifact group ID", http.StatusBadRequest)
		return
	}

	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.RateArtifact(r.Context(), groupID, info.UserID, req.ArtifactID, req.Rating); err != nil {
		if errors.Is(err, ErrInvalidRating) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to store rating")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type reviewRequest struct {
	ArtifactID *int64 `json:"artifact_id,omitempty"`
	Review     string `json:"review"`
}

func (h *HTTPHandler) handleReview(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	groupID, err := pathID(r, "group_id")
	if err != nil {
		http.Error(w, "invalid artifact group ID", http.StatusBadRequest)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.ReviewArtifact(r.Context(), groupID, info.UserID, req.ArtifactID, req.Review); err != nil {
		logger.Log.WithError(err).Error("failed to store review")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleFavorite(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	groupID, err := pathID(r, "group_id")
	if err != nil {
		http.Error(w, "invalid artifact group ID", http.StatusBadRequest)
		return
	}

	if err := h.service.FavoriteArtifact(r.Context(), groupID, info.UserID, nil); err != nil {
		logger.Log.WithError(err).Error("failed to store favorite")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleUnfavorite(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	groupID, err := pathID(r, "group_id")
	if err != nil {
		http.Error(w, "invalid artifact group ID", http.StatusBadRequest)
		return
	}

	if err := h.service.UnfavoriteArtifact(r.Context(), groupID, info.UserID); err != nil {
		logger.Log.WithError(err).Error("failed to remove favorite")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleRecentViews(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	groups, err := h.service.RecentViews(r.Context(), info.Token, 20)
	if err != nil {
		logger.Log.WithError(err).Error("failed to load recent views")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"artifact_group_ids": groups})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func pathIDs(r *http.Request, first, second string) (int64, int64, error) {
	a, err := pathID(r, first)
	if err != nil {
		return 0, 0, err
	}
	b, err := pathID(r, second)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
