package models

import (
	"time"
)

// Account is the persisted identity record. PasswordHash and RefreshToken are
// internal fields; API response types never serialize them.
type Account struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"fullName"`
	AvatarURL     string    `json:"avatarUrl"`
	CoverImageURL string    `json:"coverImageUrl,omitempty"`
	PasswordHash  string    `json:"passwordHash,omitempty"`
	RefreshToken  string    `json:"refreshToken,omitempty"`
	WatchHistory  []string  `json:"watchHistory"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasActiveSession reports whether a refresh token is currently stored for the
// account.
func (a Account) HasActiveSession() bool {
	return a.RefreshToken != ""
}

// Video is a published piece of content. Watch-history entries reference
// videos by ID.
type Video struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	Title           string    `json:"title"`
	ThumbnailURL    string    `json:"thumbnailUrl,omitempty"`
	DurationSeconds int       `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Subscription links a subscriber account to a channel account.
type Subscription struct {
	SubscriberID string    `json:"subscriberId"`
	ChannelID    string    `json:"channelId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PublicProfile is the minimal account view exposed when resolving other
// accounts, for example the owner of a watched video.
type PublicProfile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
}

// ChannelProfile is the aggregated channel view for a username lookup.
type ChannelProfile struct {
	Account         Account `json:"-"`
	SubscriberCount int     `json:"subscriberCount"`
	SubscribedTo    int     `json:"subscribedToCount"`
	IsSubscribed    bool    `json:"isSubscribed"`
}

// WatchEntry is a single resolved watch-history item, most recent first.
type WatchEntry struct {
	Video   Video         `json:"video"`
	Owner   PublicProfile `json:"owner"`
	Watched time.Time     `json:"-"`
}
