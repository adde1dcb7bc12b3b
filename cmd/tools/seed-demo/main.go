// Command seed-demo populates a datastore with demo accounts and videos for
// local development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"reelhub/internal/storage"
)

type demoAccount struct {
	username string
	fullName string
	videos   []demoVideo
}

type demoVideo struct {
	title    string
	duration int
}

var demoAccounts = []demoAccount{
	{
		username: "ana",
		fullName: "Ana Duarte",
		videos: []demoVideo{
			{title: "Building a home NAS on a budget", duration: 754},
			{title: "My desk setup tour", duration: 312},
		},
	},
	{
		username: "marco",
		fullName: "Marco Leigh",
		videos: []demoVideo{
			{title: "Sourdough for impatient people", duration: 1021},
		},
	},
	{
		username: "priya",
		fullName: "Priya Raman",
		videos:   nil,
	},
}

func main() {
	dataPath := flag.String("data", "data/store.json", "path to the JSON datastore to seed")
	postgresDSN := flag.String("postgres-dsn", "", "seed Postgres instead of the JSON datastore")
	password := flag.String("password", "demodemo1", "password assigned to every demo account")
	baseURL := flag.String("media-base-url", "https://cdn.reelhub.dev", "base URL used for generated media links")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var (
		store storage.Repository
		err   error
	)
	if dsn := strings.TrimSpace(*postgresDSN); dsn != "" {
		store, err = storage.NewPostgresRepository(dsn)
	} else {
		store, err = storage.NewStorage(*dataPath)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close(context.Background())
	}()

	seeded, skipped := 0, 0
	for _, demo := range demoAccounts {
		account, err := store.CreateAccount(storage.CreateAccountParams{
			Username:      demo.username,
			Email:         demo.username + "@reelhub.dev",
			FullName:      demo.fullName,
			Password:      *password,
			AvatarURL:     fmt.Sprintf("%s/avatars/%s.png", *baseURL, demo.username),
			CoverImageURL: fmt.Sprintf("%s/covers/%s.jpg", *baseURL, demo.username),
		})
		if err != nil {
			if errors.Is(err, storage.ErrDuplicateAccount) {
				logger.Info("account exists, skipping", "username", demo.username)
				skipped++
				continue
			}
			logger.Error("failed to create account", "username", demo.username, "error", err)
			os.Exit(1)
		}
		seeded++

		for i, video := range demo.videos {
			if _, err := store.CreateVideo(storage.CreateVideoParams{
				OwnerID:         account.ID,
				Title:           video.title,
				ThumbnailURL:    fmt.Sprintf("%s/thumbnails/%s-%d.jpg", *baseURL, demo.username, i+1),
				DurationSeconds: video.duration,
			}); err != nil {
				logger.Error("failed to create video", "username", demo.username, "title", video.title, "error", err)
				os.Exit(1)
			}
		}
	}

	logger.Info("seeding complete", "accounts", seeded, "skipped", skipped, "password", *password)
}
