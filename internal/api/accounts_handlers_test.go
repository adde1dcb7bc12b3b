package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"reelhub/internal/auth"
	"reelhub/internal/media"
	"reelhub/internal/storage"
)

type fakeMediaHost struct {
	uploads int
	deleted []string
}

func (f *fakeMediaHost) Upload(_ context.Context, upload media.Upload) (string, error) {
	f.uploads++
	return fmt.Sprintf("https://cdn.test/%s/object-%d", upload.Folder, f.uploads), nil
}

func (f *fakeMediaHost) Delete(_ context.Context, publicURL string) error {
	f.deleted = append(f.deleted, publicURL)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeMediaHost) {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	tokens, err := auth.NewTokenService(auth.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	host := &fakeMediaHost{}
	return NewHandler(store, tokens, host), host
}

func registerRequest(t *testing.T, fields map[string]string, files ...string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField %s: %v", key, err)
		}
	}
	for _, field := range files {
		part, err := writer.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatalf("CreateFormFile %s: %v", field, err)
		}
		if _, err := part.Write([]byte("image bytes")); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func registerTestAccount(t *testing.T, handler *Handler, username, email string) accountResponse {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.Register(recorder, registerRequest(t, map[string]string{
		"username": username,
		"email":    email,
		"fullName": "Test Account",
		"password": "supersecret",
	}, "avatar"))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var account accountResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &account); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return account
}

func loginTestAccount(t *testing.T, handler *Handler, email, password string) (sessionResponse, *httptest.ResponseRecorder) {
	t.Helper()
	payload := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", strings.NewReader(payload))
	recorder := httptest.NewRecorder()
	handler.Login(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var session sessionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return session, recorder
}

func authenticatedRequest(t *testing.T, handler *Handler, method, target, body string) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	account, exists := handler.Store.GetAccountByUsername("tester")
	if !exists {
		t.Fatalf("expected tester account to exist")
	}
	return req.WithContext(ContextWithAccount(req.Context(), account))
}

func TestRegisterCreatesAccount(t *testing.T) {
	handler, host := newTestHandler(t)

	account := registerTestAccount(t, handler, "Tester", "tester@example.com")
	if account.Username != "tester" {
		t.Fatalf("expected folded username, got %q", account.Username)
	}
	if !strings.HasPrefix(account.AvatarURL, "https://cdn.test/avatars/") {
		t.Fatalf("unexpected avatar url %q", account.AvatarURL)
	}
	if host.uploads != 1 {
		t.Fatalf("expected a single upload, got %d", host.uploads)
	}
}

func TestRegisterResponseOmitsCredentials(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := httptest.NewRecorder()
	handler.Register(recorder, registerRequest(t, map[string]string{
		"username": "tester",
		"email":    "tester@example.com",
		"fullName": "Test Account",
		"password": "supersecret",
	}, "avatar", "coverImage"))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, forbidden := range []string{"passwordHash", "refreshToken", "password"} {
		if _, present := raw[forbidden]; present {
			t.Fatalf("response leaked %s", forbidden)
		}
	}
	if raw["coverImageUrl"] == "" {
		t.Fatalf("expected cover image url to be set")
	}
}

func TestRegisterRequiresAvatar(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := httptest.NewRecorder()
	handler.Register(recorder, registerRequest(t, map[string]string{
		"username": "tester",
		"email":    "tester@example.com",
		"fullName": "Test Account",
		"password": "supersecret",
	}))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestRegisterDuplicateConflict(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")

	recorder := httptest.NewRecorder()
	handler.Register(recorder, registerRequest(t, map[string]string{
		"username": "TESTER",
		"email":    "other@example.com",
		"fullName": "Other Account",
		"password": "supersecret",
	}, "avatar"))
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestRegisterConflictRetiresUploadedObjects(t *testing.T) {
	handler, host := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")
	uploadsBefore := host.uploads

	recorder := httptest.NewRecorder()
	handler.Register(recorder, registerRequest(t, map[string]string{
		"username": "tester",
		"email":    "dupe@example.com",
		"fullName": "Duplicate Account",
		"password": "supersecret",
	}, "avatar", "coverImage"))
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}

	uploaded := host.uploads - uploadsBefore
	if uploaded != 2 {
		t.Fatalf("expected avatar and cover uploads, got %d", uploaded)
	}
	if len(host.deleted) != 2 {
		t.Fatalf("expected both orphaned objects deleted, got %v", host.deleted)
	}
	for _, url := range host.deleted {
		if !strings.Contains(url, "object-") {
			t.Fatalf("unexpected deleted url %q", url)
		}
	}
}

func TestLoginStatusPerFailureMode(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")

	cases := []struct {
		name    string
		payload string
		want    int
	}{
		{"missing password", `{"email":"tester@example.com"}`, http.StatusBadRequest},
		{"missing identifier", `{"password":"supersecret"}`, http.StatusBadRequest},
		{"unknown account", `{"email":"nobody@example.com","password":"supersecret"}`, http.StatusNotFound},
		{"wrong password", `{"email":"tester@example.com","password":"wrong"}`, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", strings.NewReader(tc.payload))
		recorder := httptest.NewRecorder()
		handler.Login(recorder, req)
		if recorder.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, recorder.Code)
		}
	}
}

func TestLoginSetsSessionCookies(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")

	session, recorder := loginTestAccount(t, handler, "tester@example.com", "supersecret")
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("expected both tokens in response body")
	}

	cookies := recorder.Result().Cookies()
	found := map[string]bool{}
	for _, cookie := range cookies {
		found[cookie.Name] = true
		if !cookie.HttpOnly {
			t.Fatalf("cookie %s is not http-only", cookie.Name)
		}
	}
	if !found["accessToken"] || !found["refreshToken"] {
		t.Fatalf("expected accessToken and refreshToken cookies, got %v", found)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")
	first, _ := loginTestAccount(t, handler, "tester@example.com", "supersecret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refreshToken", nil)
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: first.RefreshToken})
	recorder := httptest.NewRecorder()
	handler.Refresh(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("refresh returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var second sessionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected refresh to rotate the token")
	}

	// The superseded token verifies but no longer matches the stored value.
	replay := httptest.NewRequest(http.MethodPost, "/api/v1/users/refreshToken", nil)
	replay.AddCookie(&http.Cookie{Name: "refreshToken", Value: first.RefreshToken})
	recorder = httptest.NewRecorder()
	handler.Refresh(recorder, replay)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for superseded token, got %d", recorder.Code)
	}
}

func TestRefreshFromJSONBody(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")
	session, _ := loginTestAccount(t, handler, "tester@example.com", "supersecret")

	payload := fmt.Sprintf(`{"refreshToken":%q}`, session.RefreshToken)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refreshToken", strings.NewReader(payload))
	recorder := httptest.NewRecorder()
	handler.Refresh(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("refresh returned %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestRefreshWithoutTokenUnauthorized(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refreshToken", nil)
	recorder := httptest.NewRecorder()
	handler.Refresh(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")
	session, _ := loginTestAccount(t, handler, "tester@example.com", "supersecret")

	recorder := httptest.NewRecorder()
	handler.Logout(recorder, authenticatedRequest(t, handler, http.MethodPost, "/api/v1/users/logout", ""))
	if recorder.Code != http.StatusOK {
		t.Fatalf("logout returned %d: %s", recorder.Code, recorder.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refreshToken", nil)
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: session.RefreshToken})
	recorder = httptest.NewRecorder()
	handler.Refresh(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", recorder.Code)
	}

	// Logging out twice is harmless.
	recorder = httptest.NewRecorder()
	handler.Logout(recorder, authenticatedRequest(t, handler, http.MethodPost, "/api/v1/users/logout", ""))
	if recorder.Code != http.StatusOK {
		t.Fatalf("second logout returned %d", recorder.Code)
	}
}

func TestResetPasswordVerifiesOldPassword(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")

	recorder := httptest.NewRecorder()
	handler.ResetPassword(recorder, authenticatedRequest(t, handler, http.MethodPost, "/api/v1/users/resetPassword",
		`{"oldPassword":"wrong","newPassword":"next-password"}`))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong old password, got %d", recorder.Code)
	}
	loginTestAccount(t, handler, "tester@example.com", "supersecret")

	recorder = httptest.NewRecorder()
	handler.ResetPassword(recorder, authenticatedRequest(t, handler, http.MethodPost, "/api/v1/users/resetPassword",
		`{"oldPassword":"supersecret","newPassword":"next-password"}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("reset password returned %d: %s", recorder.Code, recorder.Body.String())
	}
	loginTestAccount(t, handler, "tester@example.com", "next-password")
}

func TestUpdateAccountChangesProfileFields(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")

	recorder := httptest.NewRecorder()
	handler.UpdateAccount(recorder, authenticatedRequest(t, handler, http.MethodPost, "/api/v1/users/updateAccount",
		`{"fullName":"Renamed Person","email":"renamed@example.com"}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var account accountResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &account); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if account.FullName != "Renamed Person" || account.Email != "renamed@example.com" {
		t.Fatalf("unexpected account view %+v", account)
	}

	recorder = httptest.NewRecorder()
	handler.UpdateAccount(recorder, authenticatedRequest(t, handler, http.MethodPost, "/api/v1/users/updateAccount", `{}`))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", recorder.Code)
	}
}

func TestCurrentUserReturnsContextAccount(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")

	recorder := httptest.NewRecorder()
	handler.CurrentUser(recorder, authenticatedRequest(t, handler, http.MethodGet, "/api/v1/users/currentUser", ""))
	if recorder.Code != http.StatusOK {
		t.Fatalf("currentUser returned %d", recorder.Code)
	}
	var account accountResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &account); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if account.Username != "tester" {
		t.Fatalf("unexpected account %q", account.Username)
	}
}

func TestCurrentUserCarriesWatchHistory(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")
	owner, _ := handler.Store.GetAccountByUsername("tester")
	first := seedTestVideo(t, handler, owner.ID, "first")
	second := seedTestVideo(t, handler, owner.ID, "second")

	if err := handler.Store.AddWatchEntry(owner.ID, first.ID); err != nil {
		t.Fatalf("AddWatchEntry: %v", err)
	}
	if err := handler.Store.AddWatchEntry(owner.ID, second.ID); err != nil {
		t.Fatalf("AddWatchEntry: %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.CurrentUser(recorder, authenticatedRequest(t, handler, http.MethodGet, "/api/v1/users/currentUser", ""))
	if recorder.Code != http.StatusOK {
		t.Fatalf("currentUser returned %d", recorder.Code)
	}
	var account accountResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &account); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(account.WatchHistory) != 2 {
		t.Fatalf("expected two watch entries, got %v", account.WatchHistory)
	}
	if account.WatchHistory[0] != second.ID || account.WatchHistory[1] != first.ID {
		t.Fatalf("expected most recent first, got %v", account.WatchHistory)
	}
}

func TestAvatarUploadRetiresPreviousObject(t *testing.T) {
	handler, host := newTestHandler(t)
	created := registerTestAccount(t, handler, "tester", "tester@example.com")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("avatar", "replacement.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte("new image")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/avatar", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	account, _ := handler.Store.GetAccountByUsername("tester")
	req = req.WithContext(ContextWithAccount(req.Context(), account))

	recorder := httptest.NewRecorder()
	handler.Avatar(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("avatar returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var updated accountResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if updated.AvatarURL == created.AvatarURL {
		t.Fatalf("expected avatar url to change")
	}
	if len(host.deleted) != 1 || host.deleted[0] != created.AvatarURL {
		t.Fatalf("expected old avatar %q to be deleted, got %v", created.AvatarURL, host.deleted)
	}
}

func TestAuthenticateRequestResolvesAccount(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerTestAccount(t, handler, "tester", "tester@example.com")
	session, _ := loginTestAccount(t, handler, "tester@example.com", "supersecret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/currentUser", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	account, err := handler.AuthenticateRequest(req)
	if err != nil {
		t.Fatalf("AuthenticateRequest: %v", err)
	}
	if account.Username != "tester" {
		t.Fatalf("unexpected account %q", account.Username)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/currentUser", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: session.AccessToken})
	if _, err := handler.AuthenticateRequest(req); err != nil {
		t.Fatalf("AuthenticateRequest via cookie: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/currentUser", nil)
	req.Header.Set("Authorization", "Bearer "+session.RefreshToken)
	if _, err := handler.AuthenticateRequest(req); err == nil {
		t.Fatalf("expected refresh token to be rejected as access token")
	}
}
