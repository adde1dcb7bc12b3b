package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelhub/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

var _ Repository = (*postgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository. The caller must
// ensure database migrations have been applied prior to invoking this
// constructor.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	timeout := r.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// accountColumns must stay in sync with scanAccount. The last expression
// materializes the watch-history view (most recent first) so accounts read
// from Postgres carry the same list the JSON store keeps inline; it is valid
// in both SELECT and RETURNING positions.
const accountColumns = `id, username, email, full_name, avatar_url, cover_image_url, password_hash, refresh_token, created_at, updated_at,
	COALESCE((SELECT array_agg(wh.video_id ORDER BY wh.watched_at DESC)
	          FROM watch_history wh WHERE wh.account_id = accounts.id), '{}'::text[])`

func scanAccount(row pgx.Row) (models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.FullName,
		&account.AvatarURL,
		&account.CoverImageURL,
		&account.PasswordHash,
		&account.RefreshToken,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.WatchHistory,
	)
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *postgresRepository) CreateAccount(params CreateAccountParams) (models.Account, error) {
	username := normalizeUsername(params.Username)
	if username == "" {
		return models.Account{}, errors.New("username is required")
	}
	email := normalizeEmail(params.Email)
	if email == "" {
		return models.Account{}, errors.New("email is required")
	}
	fullName := strings.TrimSpace(params.FullName)
	if fullName == "" {
		return models.Account{}, errors.New("fullName is required")
	}
	if params.Password == "" {
		return models.Account{}, errors.New("password is required")
	}
	avatarURL := strings.TrimSpace(params.AvatarURL)
	if avatarURL == "" {
		return models.Account{}, errors.New("avatar is required")
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := r.opContext()
	defer cancel()

	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
INSERT INTO accounts (id, username, email, full_name, avatar_url, cover_image_url, password_hash, refresh_token, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, $8)
RETURNING `+accountColumns,
		generateID(), username, email, fullName, avatarURL, strings.TrimSpace(params.CoverImageURL), hashed, now)
	account, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Account{}, ErrDuplicateAccount
		}
		return models.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (r *postgresRepository) AuthenticateAccount(email, username, password string) (models.Account, error) {
	if password == "" {
		return models.Account{}, ErrInvalidCredentials
	}

	ctx, cancel := r.opContext()
	defer cancel()

	// Email wins when both identifiers are supplied and match different
	// accounts.
	row := r.pool.QueryRow(ctx, `
SELECT `+accountColumns+`
FROM accounts
WHERE (email = $1 AND $1 <> '') OR (username = $2 AND $2 <> '')
ORDER BY (email = $1 AND $1 <> '') DESC
LIMIT 1
`, normalizeEmail(email), normalizeUsername(username))
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	if err := verifyPassword(account.PasswordHash, password); err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (r *postgresRepository) GetAccount(id string) (models.Account, bool) {
	ctx, cancel := r.opContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		return models.Account{}, false
	}
	return account, true
}

func (r *postgresRepository) GetAccountByUsername(username string) (models.Account, bool) {
	normalized := normalizeUsername(username)
	if normalized == "" {
		return models.Account{}, false
	}

	ctx, cancel := r.opContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, normalized)
	account, err := scanAccount(row)
	if err != nil {
		return models.Account{}, false
	}
	return account, true
}

func (r *postgresRepository) UpdateAccount(id string, update AccountUpdate) (models.Account, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	setClauses := []string{"updated_at = now()"}
	args := []any{id}
	if update.FullName != nil {
		name := strings.TrimSpace(*update.FullName)
		if name == "" {
			return models.Account{}, errors.New("fullName cannot be empty")
		}
		args = append(args, name)
		setClauses = append(setClauses, fmt.Sprintf("full_name = $%d", len(args)))
	}
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if email == "" {
			return models.Account{}, errors.New("email cannot be empty")
		}
		args = append(args, email)
		setClauses = append(setClauses, fmt.Sprintf("email = $%d", len(args)))
	}

	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
UPDATE accounts SET %s WHERE id = $1
RETURNING %s`, strings.Join(setClauses, ", "), accountColumns), args...)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return models.Account{}, ErrDuplicateAccount
		}
		return models.Account{}, fmt.Errorf("update account: %w", err)
	}
	return account, nil
}

func (r *postgresRepository) SetAccountPassword(id, password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := r.opContext()
	defer cancel()

	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hashed)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *postgresRepository) SetAccountMedia(id string, update MediaUpdate) (models.Account, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	setClauses := []string{"updated_at = now()"}
	args := []any{id}
	if update.AvatarURL != nil {
		url := strings.TrimSpace(*update.AvatarURL)
		if url == "" {
			return models.Account{}, errors.New("avatar url cannot be empty")
		}
		args = append(args, url)
		setClauses = append(setClauses, fmt.Sprintf("avatar_url = $%d", len(args)))
	}
	if update.CoverImageURL != nil {
		args = append(args, strings.TrimSpace(*update.CoverImageURL))
		setClauses = append(setClauses, fmt.Sprintf("cover_image_url = $%d", len(args)))
	}

	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
UPDATE accounts SET %s WHERE id = $1
RETURNING %s`, strings.Join(setClauses, ", "), accountColumns), args...)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("update media: %w", err)
	}
	return account, nil
}

func (r *postgresRepository) SetRefreshToken(id, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("refresh token is required")
	}
	return r.writeRefreshToken(id, token)
}

func (r *postgresRepository) ClearRefreshToken(id string) error {
	return r.writeRefreshToken(id, "")
}

func (r *postgresRepository) writeRefreshToken(id, token string) error {
	ctx, cancel := r.opContext()
	defer cancel()

	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET refresh_token = $2, updated_at = now() WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *postgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Video{}, errors.New("title is required")
	}

	ctx, cancel := r.opContext()
	defer cancel()

	video := models.Video{
		ID:              generateID(),
		OwnerID:         params.OwnerID,
		Title:           title,
		ThumbnailURL:    strings.TrimSpace(params.ThumbnailURL),
		DurationSeconds: params.DurationSeconds,
		CreatedAt:       time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO videos (id, owner_id, title, thumbnail_url, duration_seconds, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, video.ID, video.OwnerID, video.Title, video.ThumbnailURL, video.DurationSeconds, video.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return models.Video{}, ErrAccountNotFound
		}
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.opContext()
	defer cancel()

	var video models.Video
	err := r.pool.QueryRow(ctx, `
SELECT id, owner_id, title, thumbnail_url, duration_seconds, created_at
FROM videos WHERE id = $1
`, id).Scan(&video.ID, &video.OwnerID, &video.Title, &video.ThumbnailURL, &video.DurationSeconds, &video.CreatedAt)
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) Subscribe(subscriberID, channelID string) error {
	if subscriberID == channelID {
		return ErrSelfSubscription
	}

	ctx, cancel := r.opContext()
	defer cancel()

	_, err := r.pool.Exec(ctx, `
INSERT INTO subscriptions (channel_id, subscriber_id, created_at)
VALUES ($1, $2, now())
ON CONFLICT (channel_id, subscriber_id) DO NOTHING
`, channelID, subscriberID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrAccountNotFound
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *postgresRepository) Unsubscribe(subscriberID, channelID string) error {
	ctx, cancel := r.opContext()
	defer cancel()

	_, err := r.pool.Exec(ctx, `DELETE FROM subscriptions WHERE channel_id = $1 AND subscriber_id = $2`, channelID, subscriberID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (r *postgresRepository) ChannelProfile(username, viewerID string) (models.ChannelProfile, error) {
	account, ok := r.GetAccountByUsername(username)
	if !ok {
		return models.ChannelProfile{}, ErrAccountNotFound
	}

	ctx, cancel := r.opContext()
	defer cancel()

	profile := models.ChannelProfile{Account: account}
	err := r.pool.QueryRow(ctx, `
SELECT
  (SELECT count(*) FROM subscriptions WHERE channel_id = $1),
  (SELECT count(*) FROM subscriptions WHERE subscriber_id = $1),
  (SELECT EXISTS (SELECT 1 FROM subscriptions WHERE channel_id = $1 AND subscriber_id = $2))
`, account.ID, viewerID).Scan(&profile.SubscriberCount, &profile.SubscribedTo, &profile.IsSubscribed)
	if err != nil {
		return models.ChannelProfile{}, fmt.Errorf("aggregate channel profile: %w", err)
	}
	if viewerID == "" {
		profile.IsSubscribed = false
	}
	return profile, nil
}

func (r *postgresRepository) AddWatchEntry(accountID, videoID string) error {
	ctx, cancel := r.opContext()
	defer cancel()

	if _, ok := r.GetVideo(videoID); !ok {
		return ErrVideoNotFound
	}

	_, err := r.pool.Exec(ctx, `
INSERT INTO watch_history (account_id, video_id, watched_at)
VALUES ($1, $2, now())
ON CONFLICT (account_id, video_id) DO UPDATE SET watched_at = now()
`, accountID, videoID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrAccountNotFound
		}
		return fmt.Errorf("insert watch entry: %w", err)
	}
	return nil
}

func (r *postgresRepository) WatchHistory(accountID string) ([]models.WatchEntry, error) {
	if _, ok := r.GetAccount(accountID); !ok {
		return nil, ErrAccountNotFound
	}

	ctx, cancel := r.opContext()
	defer cancel()

	rows, err := r.pool.Query(ctx, `
SELECT v.id, v.owner_id, v.title, v.thumbnail_url, v.duration_seconds, v.created_at,
       o.id, o.username, o.full_name, o.avatar_url,
       wh.watched_at
FROM watch_history wh
JOIN videos v ON v.id = wh.video_id
JOIN accounts o ON o.id = v.owner_id
WHERE wh.account_id = $1
ORDER BY wh.watched_at DESC
`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query watch history: %w", err)
	}
	defer rows.Close()

	entries := []models.WatchEntry{}
	for rows.Next() {
		var entry models.WatchEntry
		if err := rows.Scan(
			&entry.Video.ID, &entry.Video.OwnerID, &entry.Video.Title, &entry.Video.ThumbnailURL,
			&entry.Video.DurationSeconds, &entry.Video.CreatedAt,
			&entry.Owner.ID, &entry.Owner.Username, &entry.Owner.FullName, &entry.Owner.AvatarURL,
			&entry.Watched,
		); err != nil {
			return nil, fmt.Errorf("scan watch entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watch history: %w", err)
	}
	return entries, nil
}
