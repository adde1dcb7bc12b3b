package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"reelhub/internal/auth"
	"reelhub/internal/models"
)

type contextKey string

const accountContextKey contextKey = "authenticatedAccount"

// ContextWithAccount stores the authenticated account in the provided context.
func ContextWithAccount(ctx context.Context, account models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

// AccountFromContext retrieves the authenticated account from context if present.
func AccountFromContext(ctx context.Context) (models.Account, bool) {
	account, ok := ctx.Value(accountContextKey).(models.Account)
	return account, ok
}

// ExtractToken pulls the access token from the accessToken cookie, falling
// back to an Authorization bearer header.
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// AuthenticateRequest validates the access token on the request and resolves
// the account behind it.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.Account, error) {
	token := ExtractToken(r)
	if token == "" {
		return models.Account{}, fmt.Errorf("missing access token")
	}
	accountID, err := h.Tokens.Verify(token, auth.TokenKindAccess)
	if err != nil {
		return models.Account{}, fmt.Errorf("invalid or expired access token")
	}
	account, exists := h.Store.GetAccount(accountID)
	if !exists {
		return models.Account{}, fmt.Errorf("account not found")
	}
	return account, nil
}

func (h *Handler) requireAuthenticatedAccount(w http.ResponseWriter, r *http.Request) (models.Account, bool) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return models.Account{}, false
	}
	return account, true
}
