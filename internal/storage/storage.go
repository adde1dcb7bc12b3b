package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"reelhub/internal/models"
)

type dataset struct {
	Accounts      map[string]models.Account                 `json:"accounts"`
	Videos        map[string]models.Video                   `json:"videos"`
	Subscriptions map[string]map[string]models.Subscription `json:"subscriptions"`
	WatchedAt     map[string]map[string]time.Time           `json:"watchedAt"`
}

// Storage is the JSON-file-backed datastore. All mutations copy the dataset,
// apply the change, persist atomically, then swap the in-memory view.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Accounts:      make(map[string]models.Account),
		Videos:        make(map[string]models.Video),
		Subscriptions: make(map[string]map[string]models.Subscription),
		WatchedAt:     make(map[string]map[string]time.Time),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Accounts == nil {
		s.data.Accounts = make(map[string]models.Account)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
	if s.data.Subscriptions == nil {
		s.data.Subscriptions = make(map[string]map[string]models.Subscription)
	}
	if s.data.WatchedAt == nil {
		s.data.WatchedAt = make(map[string]map[string]time.Time)
	}
}

// NewStorage opens (or creates) the JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{filePath: path}
	for _, opt := range opts {
		opt.applyJSON(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewJSONRepository opens the JSON-backed datastore and returns it as a
// Repository.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()

	for id, account := range src.Accounts {
		cloned := account
		if account.WatchHistory != nil {
			cloned.WatchHistory = append([]string(nil), account.WatchHistory...)
		}
		clone.Accounts[id] = cloned
	}
	for id, video := range src.Videos {
		clone.Videos[id] = video
	}
	for channelID, subs := range src.Subscriptions {
		cloned := make(map[string]models.Subscription, len(subs))
		for subscriberID, sub := range subs {
			cloned[subscriberID] = sub
		}
		clone.Subscriptions[channelID] = cloned
	}
	for accountID, watched := range src.WatchedAt {
		cloned := make(map[string]time.Time, len(watched))
		for videoID, at := range watched {
			cloned[videoID] = at
		}
		clone.WatchedAt[accountID] = cloned
	}

	return clone
}

// Ping reports whether the datastore file location is usable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := os.Stat(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

// Close is a no-op for the file-backed store.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func generateID() string {
	return uuid.NewString()
}

// usernameFolder applies Unicode case folding so usernames compare
// case-insensitively regardless of script.
var usernameFolder = cases.Fold()

func normalizeUsername(username string) string {
	return usernameFolder.String(strings.TrimSpace(username))
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
