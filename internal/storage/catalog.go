package storage

import (
	"errors"
	"sort"
	"strings"
	"time"

	"reelhub/internal/models"
)

// CreateVideo publishes a video owned by an existing account.
func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Video{}, errors.New("title is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[params.OwnerID]; !ok {
		return models.Video{}, ErrAccountNotFound
	}

	video := models.Video{
		ID:              generateID(),
		OwnerID:         params.OwnerID,
		Title:           title,
		ThumbnailURL:    strings.TrimSpace(params.ThumbnailURL),
		DurationSeconds: params.DurationSeconds,
		CreatedAt:       time.Now().UTC(),
	}

	updatedData := cloneDataset(s.data)
	updatedData.Videos[video.ID] = video
	if err := s.persistDataset(updatedData); err != nil {
		return models.Video{}, err
	}
	s.data = updatedData

	return video, nil
}

// GetVideo fetches a video by ID.
func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}

// Subscribe records the subscriber against the channel account. Subscribing
// twice is a no-op.
func (s *Storage) Subscribe(subscriberID, channelID string) error {
	if subscriberID == channelID {
		return ErrSelfSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[subscriberID]; !ok {
		return ErrAccountNotFound
	}
	if _, ok := s.data.Accounts[channelID]; !ok {
		return ErrAccountNotFound
	}
	if _, ok := s.data.Subscriptions[channelID][subscriberID]; ok {
		return nil
	}

	updatedData := cloneDataset(s.data)
	if updatedData.Subscriptions[channelID] == nil {
		updatedData.Subscriptions[channelID] = make(map[string]models.Subscription)
	}
	updatedData.Subscriptions[channelID][subscriberID] = models.Subscription{
		SubscriberID: subscriberID,
		ChannelID:    channelID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData

	return nil
}

// Unsubscribe removes the subscription when present. Unsubscribing twice is
// a no-op.
func (s *Storage) Unsubscribe(subscriberID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Subscriptions[channelID][subscriberID]; !ok {
		return nil
	}

	updatedData := cloneDataset(s.data)
	delete(updatedData.Subscriptions[channelID], subscriberID)
	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData

	return nil
}

// ChannelProfile aggregates the channel view for a username. viewerID may be
// empty for anonymous lookups, which always report IsSubscribed false.
func (s *Storage) ChannelProfile(username, viewerID string) (models.ChannelProfile, error) {
	account, ok := s.GetAccountByUsername(username)
	if !ok {
		return models.ChannelProfile{}, ErrAccountNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	profile := models.ChannelProfile{Account: account}
	subs := s.data.Subscriptions[account.ID]
	profile.SubscriberCount = len(subs)
	if viewerID != "" {
		_, profile.IsSubscribed = subs[viewerID]
	}
	for _, channelSubs := range s.data.Subscriptions {
		if _, ok := channelSubs[account.ID]; ok {
			profile.SubscribedTo++
		}
	}

	return profile, nil
}

// AddWatchEntry records a watch, moving the video to the front of the
// account's history.
func (s *Storage) AddWatchEntry(accountID, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.data.Accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if _, ok := s.data.Videos[videoID]; !ok {
		return ErrVideoNotFound
	}

	updatedData := cloneDataset(s.data)

	history := make([]string, 0, len(account.WatchHistory)+1)
	history = append(history, videoID)
	for _, existing := range account.WatchHistory {
		if existing != videoID {
			history = append(history, existing)
		}
	}
	account = updatedData.Accounts[accountID]
	account.WatchHistory = history
	updatedData.Accounts[accountID] = account

	if updatedData.WatchedAt[accountID] == nil {
		updatedData.WatchedAt[accountID] = make(map[string]time.Time)
	}
	updatedData.WatchedAt[accountID][videoID] = time.Now().UTC()

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData

	return nil
}

// WatchHistory returns the account's history, most recent first, with every
// video's owner resolved to a minimal public profile. Entries whose video or
// owner has disappeared are skipped rather than failing the whole read.
func (s *Storage) WatchHistory(accountID string) ([]models.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.data.Accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	entries := make([]models.WatchEntry, 0, len(account.WatchHistory))
	for _, videoID := range account.WatchHistory {
		video, ok := s.data.Videos[videoID]
		if !ok {
			continue
		}
		owner, ok := s.data.Accounts[video.OwnerID]
		if !ok {
			continue
		}
		entries = append(entries, models.WatchEntry{
			Video: video,
			Owner: models.PublicProfile{
				ID:        owner.ID,
				Username:  owner.Username,
				FullName:  owner.FullName,
				AvatarURL: owner.AvatarURL,
			},
			Watched: s.data.WatchedAt[accountID][videoID],
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Watched.After(entries[j].Watched)
	})

	return entries, nil
}
