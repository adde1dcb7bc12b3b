package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"reelhub/internal/auth"
	"reelhub/internal/media"
	"reelhub/internal/models"
	"reelhub/internal/storage"
)

const maxMultipartMemory = 32 << 20

type accountResponse struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	FullName      string   `json:"fullName"`
	AvatarURL     string   `json:"avatarUrl"`
	CoverImageURL string   `json:"coverImageUrl,omitempty"`
	WatchHistory  []string `json:"watchHistory"`
	CreatedAt     string   `json:"createdAt"`
	UpdatedAt     string   `json:"updatedAt"`
}

func newAccountResponse(account models.Account) accountResponse {
	return accountResponse{
		ID:            account.ID,
		Username:      account.Username,
		Email:         account.Email,
		FullName:      account.FullName,
		AvatarURL:     account.AvatarURL,
		CoverImageURL: account.CoverImageURL,
		WatchHistory:  append([]string{}, account.WatchHistory...),
		CreatedAt:     account.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     account.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type sessionResponse struct {
	Account      accountResponse `json:"account"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type resetPasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type updateAccountRequest struct {
	FullName *string `json:"fullName"`
	Email    *string `json:"email"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	username := r.FormValue("username")
	email := r.FormValue("email")
	fullName := r.FormValue("fullName")
	password := r.FormValue("password")
	if username == "" || email == "" || fullName == "" || password == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("username, email, fullName and password are required"))
		return
	}

	avatarURL, found, err := h.uploadFormFile(r, "avatar", "avatars")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeError(w, http.StatusBadRequest, fmt.Errorf("avatar file is required"))
		return
	}

	coverImageURL, _, err := h.uploadFormFile(r, "coverImage", "covers")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	account, err := h.Store.CreateAccount(storage.CreateAccountParams{
		Username:      username,
		Email:         email,
		FullName:      fullName,
		Password:      password,
		AvatarURL:     avatarURL,
		CoverImageURL: coverImageURL,
	})
	if err != nil {
		// The objects were uploaded before the uniqueness check; without
		// an account record pointing at them they are orphans.
		_ = h.Media.Delete(r.Context(), avatarURL)
		if coverImageURL != "" {
			_ = h.Media.Delete(r.Context(), coverImageURL)
		}
		writeError(w, storeStatus(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Email == "" && req.Username == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("email or username is required"))
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("password is required"))
		return
	}

	account, err := h.Store.AuthenticateAccount(req.Email, req.Username, req.Password)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}

	session, err := h.issueSession(w, r, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	if err := h.Store.ClearRefreshToken(account.ID); err != nil && !errors.Is(err, storage.ErrAccountNotFound) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.clearAuthCookies(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	token := ""
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		token = cookie.Value
	}
	if token == "" {
		var req refreshRequest
		if err := decodeJSON(r, &req); err == nil {
			token = req.RefreshToken
		}
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("missing refresh token"))
		return
	}

	accountID, err := h.Tokens.Verify(token, auth.TokenKindRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or expired refresh token"))
		return
	}
	account, exists := h.Store.GetAccount(accountID)
	if !exists {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("account not found"))
		return
	}
	// A token that verifies but no longer matches the stored value has been
	// rotated away; accepting it would resurrect the superseded session.
	if account.RefreshToken != token {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("refresh token superseded"))
		return
	}

	session, err := h.issueSession(w, r, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("oldPassword and newPassword are required"))
		return
	}

	if _, err := h.Store.AuthenticateAccount(account.Email, "", req.OldPassword); err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("old password is incorrect"))
		return
	}

	if err := h.Store.SetAccountPassword(account.ID, req.NewPassword); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	var req updateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.FullName == nil && req.Email == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("fullName or email is required"))
		return
	}

	updated, err := h.Store.UpdateAccount(account.ID, storage.AccountUpdate{
		FullName: req.FullName,
		Email:    req.Email,
	})
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(updated))
}

// issueSession signs a fresh token pair, rotates the stored refresh token,
// and sets both session cookies.
func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, account models.Account) (sessionResponse, error) {
	access, accessExpires, err := h.Tokens.IssueAccess(account.ID)
	if err != nil {
		return sessionResponse{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExpires, err := h.Tokens.IssueRefresh(account.ID)
	if err != nil {
		return sessionResponse{}, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := h.Store.SetRefreshToken(account.ID, refresh); err != nil {
		return sessionResponse{}, fmt.Errorf("persist refresh token: %w", err)
	}
	h.setAuthCookies(w, r, access, accessExpires, refresh, refreshExpires)
	return sessionResponse{
		Account:      newAccountResponse(account),
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// uploadFormFile relocates a multipart file field to the media host and
// returns the public URL. found reports whether the field was present.
func (h *Handler) uploadFormFile(r *http.Request, field, folder string) (string, bool, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s file: %w", field, err)
	}
	defer file.Close()

	url, err := h.Media.Upload(r.Context(), media.Upload{
		Folder:      folder,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		return "", true, fmt.Errorf("upload %s: %w", field, err)
	}
	return url, true, nil
}
