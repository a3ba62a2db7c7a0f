package recommend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/openartifacts/catalog/pkg/catalog"
	"github.com/openartifacts/catalog/pkg/common/logger"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/artifact/recommendation/{group_id}/{artifact_id}", h.handleRelated).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleRelated(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := strconv.ParseInt(vars["group_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid artifact group ID", http.StatusBadRequest)
		return
	}
	artifactID, err := strconv.ParseInt(vars["artifact_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid artifact ID", http.StatusBadRequest)
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
	}

	result, err := h.service.Related(r.Context(), groupID, artifactID, page)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "invalid artifact ID", http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("recommendation failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
