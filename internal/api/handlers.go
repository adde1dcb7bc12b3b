package api

import (
	"errors"
	"net/http"

	"reelhub/internal/auth"
	"reelhub/internal/media"
	"reelhub/internal/storage"
)

type Handler struct {
	Store               storage.Repository
	Tokens              *auth.TokenService
	Media               media.Host
	SessionCookiePolicy SessionCookiePolicy
}

func NewHandler(store storage.Repository, tokens *auth.TokenService, host media.Host) *Handler {
	return &Handler{Store: store, Tokens: tokens, Media: host}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.Store.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// NotFound answers every unrouted path with the same JSON error shape the
// rest of the API uses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, errors.New("resource not found"))
}

// storeStatus maps repository sentinel errors onto HTTP status codes.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrDuplicateAccount):
		return http.StatusConflict
	case errors.Is(err, storage.ErrAccountNotFound), errors.Is(err, storage.ErrVideoNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}
