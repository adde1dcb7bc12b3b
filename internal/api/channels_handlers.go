package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"reelhub/internal/models"
	"reelhub/internal/storage"
)

type channelProfileResponse struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	FullName          string `json:"fullName"`
	AvatarURL         string `json:"avatarUrl"`
	CoverImageURL     string `json:"coverImageUrl,omitempty"`
	SubscriberCount   int    `json:"subscriberCount"`
	SubscribedToCount int    `json:"subscribedToCount"`
	IsSubscribed      bool   `json:"isSubscribed"`
}

func newChannelProfileResponse(profile models.ChannelProfile) channelProfileResponse {
	return channelProfileResponse{
		ID:                profile.Account.ID,
		Username:          profile.Account.Username,
		FullName:          profile.Account.FullName,
		AvatarURL:         profile.Account.AvatarURL,
		CoverImageURL:     profile.Account.CoverImageURL,
		SubscriberCount:   profile.SubscriberCount,
		SubscribedToCount: profile.SubscribedTo,
		IsSubscribed:      profile.IsSubscribed,
	}
}

type watchOwnerResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
}

type watchEntryResponse struct {
	VideoID         string             `json:"videoId"`
	Title           string             `json:"title"`
	ThumbnailURL    string             `json:"thumbnailUrl,omitempty"`
	DurationSeconds int                `json:"durationSeconds"`
	Owner           watchOwnerResponse `json:"owner"`
}

func newWatchEntryResponse(entry models.WatchEntry) watchEntryResponse {
	return watchEntryResponse{
		VideoID:         entry.Video.ID,
		Title:           entry.Video.Title,
		ThumbnailURL:    entry.Video.ThumbnailURL,
		DurationSeconds: entry.Video.DurationSeconds,
		Owner: watchOwnerResponse{
			ID:        entry.Owner.ID,
			Username:  entry.Owner.Username,
			FullName:  entry.Owner.FullName,
			AvatarURL: entry.Owner.AvatarURL,
		},
	}
}

// ChannelByUsername serves /api/v1/users/c/{username} and its subscribe
// subroute. Profile reads work anonymously; subscribing requires auth.
func (h *Handler) ChannelByUsername(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/users/c/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("username missing"))
		return
	}
	username := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		viewerID := ""
		if viewer, ok := AccountFromContext(r.Context()); ok {
			viewerID = viewer.ID
		}
		profile, err := h.Store.ChannelProfile(username, viewerID)
		if err != nil {
			status := storeStatus(err)
			if errors.Is(err, storage.ErrAccountNotFound) {
				err = fmt.Errorf("channel %s not found", username)
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, newChannelProfileResponse(profile))
		return
	}

	if len(parts) == 2 && parts[1] == "subscribe" {
		h.subscribe(w, r, username)
		return
	}

	writeError(w, http.StatusNotFound, fmt.Errorf("unknown channel path"))
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request, username string) {
	actor, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	channel, exists := h.Store.GetAccountByUsername(username)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", username))
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := h.Store.Subscribe(actor.ID, channel.ID); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	case http.MethodDelete:
		if err := h.Store.Unsubscribe(actor.ID, channel.ID); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	default:
		w.Header().Set("Allow", "POST, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	profile, err := h.Store.ChannelProfile(username, actor.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newChannelProfileResponse(profile))
}

// History serves GET /api/v1/users/history and POST /history/{videoID}.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/users/history"), "/")
	if rest == "" {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		entries, err := h.Store.WatchHistory(account.ID)
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		response := make([]watchEntryResponse, 0, len(entries))
		for _, entry := range entries {
			response = append(response, newWatchEntryResponse(entry))
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown history path"))
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if err := h.Store.AddWatchEntry(account.ID, rest); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "watch recorded"})
}
