package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, opts ...Option) *TokenService {
	t.Helper()
	service, err := NewTokenService(Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	}, opts...)
	require.NoError(t, err)
	return service
}

func TestNewTokenServiceRequiresSecrets(t *testing.T) {
	_, err := NewTokenService(Config{RefreshSecret: []byte("r")})
	assert.Error(t, err)
	_, err = NewTokenService(Config{AccessSecret: []byte("a")})
	assert.Error(t, err)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	service := newTestService(t)

	access, accessExpiry, err := service.IssueAccess("acct-1")
	require.NoError(t, err)
	refresh, refreshExpiry, err := service.IssueRefresh("acct-1")
	require.NoError(t, err)

	assert.NotEqual(t, access, refresh)
	assert.True(t, refreshExpiry.After(accessExpiry))

	id, err := service.Verify(access, TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)

	id, err = service.Verify(refresh, TokenKindRefresh)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)
}

func TestVerifyRejectsCrossDomainTokens(t *testing.T) {
	service := newTestService(t)

	access, _, err := service.IssueAccess("acct-1")
	require.NoError(t, err)

	_, err = service.Verify(access, TokenKindRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	current := time.Now()
	service := newTestService(t, WithClock(func() time.Time { return current }))

	access, _, err := service.IssueAccess("acct-1")
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	_, err = service.Verify(access, TokenKindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	service := newTestService(t)
	other, err := NewTokenService(Config{
		AccessSecret:  []byte("different"),
		RefreshSecret: []byte("also-different"),
	})
	require.NoError(t, err)

	access, _, err := service.IssueAccess("acct-1")
	require.NoError(t, err)

	_, err = other.Verify(access, TokenKindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	service := newTestService(t)

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		_, err := service.Verify(token, TokenKindAccess)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}
