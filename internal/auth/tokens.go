package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind selects one of the two independent signing domains.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

const (
	// DefaultAccessTTL bounds the lifetime of stateless access tokens.
	DefaultAccessTTL = time.Hour
	// DefaultRefreshTTL bounds the lifetime of refresh tokens. Refresh tokens
	// are additionally revocable through the stored-value comparison.
	DefaultRefreshTTL = 10 * 24 * time.Hour
)

// ErrInvalidToken is returned by Verify for any token that fails signature,
// shape, or expiry checks.
var ErrInvalidToken = errors.New("invalid or expired token")

// Config carries the secrets and lifetimes for both signing domains. Secrets
// are injected at startup; the service never reads ambient state.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenService issues and verifies the signed bearer tokens used by the
// account API. Access tokens are stateless; refresh tokens are mirrored on
// the account record by the caller.
type TokenService struct {
	cfg Config
	now func() time.Time
}

// Option configures a TokenService instance.
type Option func(*TokenService)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService constructs a TokenService from the provided configuration.
// Both secrets are required; TTLs fall back to the package defaults.
func NewTokenService(cfg Config, opts ...Option) (*TokenService, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, fmt.Errorf("access token secret is required")
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("refresh token secret is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	service := &TokenService{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

// AccessTTL exposes the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// RefreshTTL exposes the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// IssueAccess signs a short-lived access token for the account.
func (s *TokenService) IssueAccess(accountID string) (string, time.Time, error) {
	return s.issue(accountID, TokenKindAccess)
}

// IssueRefresh signs a refresh token for the account. The caller is
// responsible for persisting it on the account record so rotation can
// invalidate superseded values.
func (s *TokenService) IssueRefresh(accountID string) (string, time.Time, error) {
	return s.issue(accountID, TokenKindRefresh)
}

func (s *TokenService) issue(accountID string, kind TokenKind) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, fmt.Errorf("account id is required")
	}
	secret, ttl := s.domain(kind)
	now := s.now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expiresAt, nil
}

// Verify checks the token against the requested signing domain and returns
// the embedded account ID. Any failure maps to ErrInvalidToken.
func (s *TokenService) Verify(tokenString string, kind TokenKind) (string, error) {
	if strings.TrimSpace(tokenString) == "" {
		return "", ErrInvalidToken
	}
	secret, _ := s.domain(kind)
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *TokenService) domain(kind TokenKind) ([]byte, time.Duration) {
	if kind == TokenKindRefresh {
		return s.cfg.RefreshSecret, s.cfg.RefreshTTL
	}
	return s.cfg.AccessSecret, s.cfg.AccessTTL
}
