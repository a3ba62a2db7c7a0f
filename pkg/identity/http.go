package identity

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openartifacts/catalog/pkg/common/logger"
	"github.com/openartifacts/catalog/pkg/middleware"
)

// AuthHeader carries the session's SSO token on authenticated requests.
const AuthHeader = "X-Auth-Token"

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(public, protected *mux.Router) {
	public.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)

	protected.HandleFunc("/logout", h.handleLogout).Methods(http.MethodPost)
	protected.HandleFunc("/user", h.handleWhoAmI).Methods(http.MethodGet)
	protected.HandleFunc("/admin", h.handleSetAdminMode).Methods(http.MethodPut)
}

// SessionMiddleware resolves the auth token into session info for
// downstream handlers. Requests without a valid session are rejected.
func (h *HTTPHandler) SessionMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(AuthHeader)
			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			sess, user, err := h.service.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionExpired) {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				logger.Log.WithError(err).Error("session lookup failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			info := &middleware.SessionInfo{
				SessionID: sess.ID,
				UserID:    user.ID,
				PersonID:  user.PersonID,
				CanAdmin:  user.CanAdmin,
				IsAdmin:   sess.IsAdmin,
				Token:     token,
			}
			next.ServeHTTP(w, r.WithContext(middleware.WithSession(r.Context(), info)))
		})
	}
}

type loginRequest struct {
	Strategy string `json:"strategy"`
	Token    string `json:"token"`
}

func (h *HTTPHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.service.Login(r.Context(), req.Strategy, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidStrategy):
			http.Error(w, "unknown login strategy", http.StatusBadRequest)
		case errors.Is(err, ErrTokenRejected):
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		default:
			logger.Log.WithError(err).Error("login failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	status := http.StatusOK
	if result.NewUser {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"session_id": result.Session.ID,
		"expires":    result.Session.Expires,
		"is_admin":   result.Session.IsAdmin,
		"user": map[string]interface{}{
			"id":        result.User.ID,
			"person_id": result.User.PersonID,
			"name":      result.User.Person.Name,
			"email":     result.User.Person.Email,
			"can_admin": result.User.CanAdmin,
		},
	})
}

func (h *HTTPHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.service.Logout(r.Context(), info.Token); err != nil {
		logger.Log.WithError(err).Error("logout failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := h.service.store.GetUser(r.Context(), info.UserID)
	if err != nil {
		logger.Log.WithError(err).Error("user lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        user.ID,
		"person_id": user.PersonID,
		"name":      user.Person.Name,
		"email":     user.Person.Email,
		"can_admin": user.CanAdmin,
		"is_admin":  info.IsAdmin,
	})
}

type adminModeRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *HTTPHandler) handleSetAdminMode(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req adminModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sess, user, err := h.service.Authenticate(r.Context(), info.Token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.service.SetAdminMode(r.Context(), sess, user, req.Enabled); err != nil {
		if errors.Is(err, ErrNotAdmin) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		logger.Log.WithError(err).Error("failed to set admin mode")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"is_admin": sess.IsAdmin})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
