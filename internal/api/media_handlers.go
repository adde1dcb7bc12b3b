package api

import (
	"fmt"
	"net/http"

	"reelhub/internal/storage"
)

func (h *Handler) Avatar(w http.ResponseWriter, r *http.Request) {
	h.replaceAccountMedia(w, r, "avatar", "avatars")
}

func (h *Handler) CoverImage(w http.ResponseWriter, r *http.Request) {
	h.replaceAccountMedia(w, r, "coverImage", "covers")
}

// replaceAccountMedia uploads the replacement file, persists its URL, and
// only then retires the previous object. A failed upload leaves the old
// image untouched.
func (h *Handler) replaceAccountMedia(w http.ResponseWriter, r *http.Request, field, folder string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	url, found, err := h.uploadFormFile(r, field, folder)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s file is required", field))
		return
	}

	previous := account.AvatarURL
	update := storage.MediaUpdate{AvatarURL: &url}
	if field == "coverImage" {
		previous = account.CoverImageURL
		update = storage.MediaUpdate{CoverImageURL: &url}
	}

	updated, err := h.Store.SetAccountMedia(account.ID, update)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}

	// Best effort: the account already points at the new object, a stale
	// original is not worth failing the request over.
	if previous != "" {
		_ = h.Media.Delete(r.Context(), previous)
	}

	writeJSON(w, http.StatusOK, newAccountResponse(updated))
}
