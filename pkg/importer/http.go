package importer

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

// Register attaches the import endpoints. User-facing endpoints ride the
// session-protected router; instance endpoints live on the public router
// and authenticate with the instance's registration key instead.
func (h *HTTPHandler) Register(public, protected *mux.Router) {
	protected.HandleFunc("/artifact/imports", h.handleCreateImport).Methods(http.MethodPost)
	protected.HandleFunc("/artifact/imports", h.handleListImports).Methods(http.MethodGet)
	protected.HandleFunc("/artifact/import/{id}", h.handleGetImport).Methods(http.MethodGet)
	protected.HandleFunc("/artifact/import/{id}", h.handleArchiveImport).Methods(http.MethodDelete)

	protected.HandleFunc("/importers", h.handleRegisterInstance).Methods(http.MethodPost)
	protected.HandleFunc("/importers", h.handleListInstances).Methods(http.MethodGet)
	protected.HandleFunc("/importer/{id}", h.handleSetAdminStatus).Methods(http.MethodPut)
	protected.HandleFunc("/importer/{id}", h.handleDeleteInstance).Methods(http.MethodDelete)

	public.HandleFunc("/importer/{id}/heartbeat", h.withInstance(h.handleHeartbeat)).Methods(http.MethodPost)
	public.HandleFunc("/importer/{id}/claims", h.withInstance(h.handleClaim)).Methods(http.MethodPost)
	public.HandleFunc("/importer/{id}/import/{import_id}/status", h.withInstance(h.handleReportStatus)).Methods(http.MethodPut)
	public.HandleFunc("/importer/{id}/import/{import_id}/release", h.withInstance(h.handleRelease)).Methods(http.MethodPut)
}

type createImportRequest struct {
	URL        string `json:"url"`
	Type       string `json:"type"`
	Module     string `json:"importer_module"`
	NoFetch    bool   `json:"nofetch"`
	NoExtract  bool   `json:"noextract"`
	NoRemove   bool   `json:"noremove"`
	AutoFollow bool   `json:"autofollow"`
	GroupID    *int64 `json:"artifact_group_id"`
	ArtifactID *int64 `json:"artifact_id"`
}

func (h *HTTPHandler) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req createImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ai, existed, err := h.service.CreateImport(r.Context(), info.UserID, CreateImportRequest{
		URL:        req.URL,
		Type:       req.Type,
		Module:     req.Module,
		NoFetch:    req.NoFetch,
		NoExtract:  req.NoExtract,
		NoRemove:   req.NoRemove,
		AutoFollow: req.AutoFollow,
		GroupID:    req.GroupID,
		ArtifactID: req.ArtifactID,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidType) {
			http.Error(w, "invalid import type", http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to create import")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, ai)
}

func (h *HTTPHandler) handleListImports(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("items_per_page"))
	includeArchived := r.URL.Query().Get("archived") == "1"

	ownerID := info.UserID
	if info.IsAdmin && r.URL.Query().Get("all_users") == "1" {
		ownerID = 0
	}
	imports, total, err := h.service.ListImports(r.Context(), ownerID, includeArchived, page, perPage)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list imports")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if imports == nil {
		imports = []ArtifactImport{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifact_imports": imports,
		"total":            total,
	})
}

func (h *HTTPHandler) handleGetImport(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid import ID", http.StatusBadRequest)
		return
	}
	ai, err := h.service.GetImport(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "import not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to load import")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ai.OwnerID != info.UserID && !info.IsAdmin {
		http.Error(w, "import not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ai)
}

func (h *HTTPHandler) handleArchiveImport(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid import ID", http.StatusBadRequest)
		return
	}
	err = h.service.ArchiveImport(r.Context(), id, info.UserID, info.IsAdmin)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "import not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to archive import")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type registerInstanceRequest struct {
	URL      string `json:"url"`
	MaxTasks int    `json:"max_tasks"`
}

func (h *HTTPHandler) handleRegisterInstance(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok || !info.IsAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	var req registerInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	inst, key, err := h.service.RegisterInstance(r.Context(), req.URL, req.MaxTasks)
	if err != nil {
		if errors.Is(err, ErrInstanceExists) {
			http.Error(w, "instance URL already registered", http.StatusConflict)
			return
		}
		logger.Log.WithError(err).Error("failed to register importer instance")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// The plaintext key appears exactly once, in this response.
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":        inst.ID,
		"url":       inst.URL,
		"max_tasks": inst.MaxTasks,
		"key":       key,
	})
}

func (h *HTTPHandler) handleListInstances(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok || !info.IsAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	instances, err := h.service.ListInstances(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to list importer instances")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	type instanceView struct {
		ID          int64  `json:"id"`
		URL         string `json:"url"`
		MaxTasks    int    `json:"max_tasks"`
		Status      string `json:"status"`
		AdminStatus string `json:"admin_status"`
	}
	views := make([]instanceView, 0, len(instances))
	for _, inst := range instances {
		views = append(views, instanceView{
			ID:          inst.ID,
			URL:         inst.URL,
			MaxTasks:    inst.MaxTasks,
			Status:      inst.Status,
			AdminStatus: inst.AdminStatus,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"importers": views})
}

type adminStatusRequest struct {
	AdminStatus string `json:"admin_status"`
}

func (h *HTTPHandler) handleSetAdminStatus(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok || !info.IsAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid importer ID", http.StatusBadRequest)
		return
	}
	var req adminStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AdminStatus != AdminEnabled && req.AdminStatus != AdminDisabled {
		http.Error(w, "invalid admin status", http.StatusBadRequest)
		return
	}
	inst, err := h.service.SetInstanceAdminStatus(r.Context(), id, req.AdminStatus == AdminEnabled)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "importer not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to update importer instance")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":           inst.ID,
		"admin_status": inst.AdminStatus,
	})
}

func (h *HTTPHandler) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok || !info.IsAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid importer ID", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteInstance(r.Context(), id); err != nil {
		logger.Log.WithError(err).Error("failed to delete importer instance")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type instanceHandler func(w http.ResponseWriter, r *http.Request, inst *ImporterInstance)

// withInstance authenticates an importer instance from the path id and the
// X-Importer-Key header.
func (h *HTTPHandler) withInstance(next instanceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			http.Error(w, "invalid importer ID", http.StatusBadRequest)
			return
		}
		key := r.Header.Get("X-Importer-Key")
		if key == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		inst, err := h.service.AuthenticateInstance(r.Context(), id, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadKey) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			logger.Log.WithError(err).Error("failed to authenticate importer instance")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		next(w, r, inst)
	}
}

func (h *HTTPHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request, inst *ImporterInstance) {
	if err := h.service.Heartbeat(r.Context(), inst); err != nil {
		logger.Log.WithError(err).Error("failed to record heartbeat")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleClaim(w http.ResponseWriter, r *http.Request, inst *ImporterInstance) {
	claimed, err := h.service.ClaimScheduled(r.Context(), inst)
	if err != nil {
		logger.Log.WithError(err).Error("failed to claim scheduled imports")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if claimed == nil {
		claimed = []ArtifactImport{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifact_imports": claimed})
}

type statusReportRequest struct {
	Status         string            `json:"status"`
	Phase          string            `json:"phase"`
	Message        string            `json:"message"`
	Progress       float64           `json:"progress"`
	BytesRetrieved int64             `json:"bytes_retrieved"`
	BytesExtracted int64             `json:"bytes_extracted"`
	Log            string            `json:"log"`
	RemoteID       *int64            `json:"remote_id"`
	Artifact       *ImportedArtifact `json:"artifact"`
}

func (h *HTTPHandler) handleReportStatus(w http.ResponseWriter, r *http.Request, inst *ImporterInstance) {
	importID, err := pathID(r, "import_id")
	if err != nil {
		http.Error(w, "invalid import ID", http.StatusBadRequest)
		return
	}
	var req statusReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RemoteID != nil {
		if err := h.service.SetRemoteID(r.Context(), importID, *req.RemoteID, inst.ID); err != nil {
			logger.Log.WithError(err).Warn("failed to record remote import ID")
		}
	}
	ai, err := h.service.ReportStatus(r.Context(), importID, inst.ID, StatusReport{
		Status:         req.Status,
		Phase:          req.Phase,
		Message:        req.Message,
		Progress:       req.Progress,
		BytesRetrieved: req.BytesRetrieved,
		BytesExtracted: req.BytesExtracted,
		Log:            req.Log,
		Artifact:       req.Artifact,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "import not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidPhase):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrTerminal):
			http.Error(w, "import already finished", http.StatusConflict)
		case errors.Is(err, ErrNotAssigned):
			http.Error(w, "import is not assigned to this instance", http.StatusForbidden)
		default:
			logger.Log.WithError(err).Error("failed to apply status report")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, ai)
}

func (h *HTTPHandler) handleRelease(w http.ResponseWriter, r *http.Request, inst *ImporterInstance) {
	importID, err := pathID(r, "import_id")
	if err != nil {
		http.Error(w, "invalid import ID", http.StatusBadRequest)
		return
	}
	if err := h.service.ReleaseImport(r.Context(), importID, inst.ID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "import not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidTransition):
			http.Error(w, "import is not scheduled", http.StatusConflict)
		case errors.Is(err, ErrNotAssigned):
			http.Error(w, "import is not assigned to this instance", http.StatusForbidden)
		default:
			logger.Log.WithError(err).Error("failed to release import")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
