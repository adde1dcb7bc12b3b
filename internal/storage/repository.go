package storage

import (
	"context"
	"errors"

	"reelhub/internal/models"
)

// Repository exposes the datastore operations required by the account API
// handlers and the seeding tools. Two implementations exist: the JSON-backed
// Storage used for development, and the Postgres repository used in
// production.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateAccount(params CreateAccountParams) (models.Account, error)
	AuthenticateAccount(email, username, password string) (models.Account, error)
	GetAccount(id string) (models.Account, bool)
	GetAccountByUsername(username string) (models.Account, bool)
	UpdateAccount(id string, update AccountUpdate) (models.Account, error)
	SetAccountPassword(id, password string) error
	SetAccountMedia(id string, update MediaUpdate) (models.Account, error)
	SetRefreshToken(id, token string) error
	ClearRefreshToken(id string) error

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)

	Subscribe(subscriberID, channelID string) error
	Unsubscribe(subscriberID, channelID string) error
	ChannelProfile(username, viewerID string) (models.ChannelProfile, error)

	AddWatchEntry(accountID, videoID string) error
	WatchHistory(accountID string) ([]models.WatchEntry, error)
}

var _ Repository = (*Storage)(nil)

// CreateAccountParams carries the inputs for registering an account. Password
// arrives in plaintext and is hashed exactly once before persistence.
type CreateAccountParams struct {
	Username      string
	Email         string
	FullName      string
	Password      string
	AvatarURL     string
	CoverImageURL string
}

// AccountUpdate mutates profile fields. Nil pointers leave the stored value
// untouched; the password hash is never reachable through this path.
type AccountUpdate struct {
	FullName *string
	Email    *string
}

// MediaUpdate overwrites stored media references.
type MediaUpdate struct {
	AvatarURL     *string
	CoverImageURL *string
}

// CreateVideoParams carries the inputs for publishing a video.
type CreateVideoParams struct {
	OwnerID         string
	Title           string
	ThumbnailURL    string
	DurationSeconds int
}

var (
	// ErrDuplicateAccount indicates the username or email is already taken.
	ErrDuplicateAccount = errors.New("username or email already in use")
	// ErrAccountNotFound indicates no account matched the lookup.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidCredentials indicates a password verification failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrVideoNotFound indicates no video matched the lookup.
	ErrVideoNotFound = errors.New("video not found")
	// ErrSelfSubscription indicates an account tried to subscribe to itself.
	ErrSelfSubscription = errors.New("cannot subscribe to own channel")
)
