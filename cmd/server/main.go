// Command server starts the ReelHub account API HTTP service.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"reelhub/internal/api"
	"reelhub/internal/auth"
	"reelhub/internal/media"
	"reelhub/internal/observability/logging"
	"reelhub/internal/server"
	"reelhub/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	accessSecret := flag.String("access-token-secret", "", "signing secret for access tokens")
	refreshSecret := flag.String("refresh-token-secret", "", "signing secret for refresh tokens")
	accessTTL := flag.Duration("access-token-ttl", 0, "access token lifetime")
	refreshTTL := flag.Duration("refresh-token-ttl", 0, "refresh token lifetime")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated browser origins allowed to call the API")
	mediaEndpoint := flag.String("media-endpoint", "", "object storage endpoint for uploaded media (e.g. http://127.0.0.1:9000)")
	mediaRegion := flag.String("media-region", "", "object storage region for uploaded media")
	mediaAccessKey := flag.String("media-access-key", "", "object storage access key")
	mediaSecretKey := flag.String("media-secret-key", "", "object storage secret key")
	mediaBucket := flag.String("media-bucket", "", "object storage bucket for uploaded media")
	mediaPrefix := flag.String("media-prefix", "", "object storage key prefix for uploaded media")
	mediaPublicURL := flag.String("media-public-url", "", "public base URL serving uploaded media")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("REELHUB_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("REELHUB_LOG_FORMAT")),
	})

	serverMode := modeValue(*mode, os.Getenv("REELHUB_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("REELHUB_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("REELHUB_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("REELHUB_TLS_KEY"))

	accessSecretValue := resolveTokenSecret(*accessSecret, "REELHUB_ACCESS_TOKEN_SECRET", serverMode, logger)
	refreshSecretValue := resolveTokenSecret(*refreshSecret, "REELHUB_REFRESH_TOKEN_SECRET", serverMode, logger)
	if accessSecretValue == "" || refreshSecretValue == "" {
		logger.Error("production mode requires REELHUB_ACCESS_TOKEN_SECRET and REELHUB_REFRESH_TOKEN_SECRET")
		os.Exit(1)
	}

	tokens, err := auth.NewTokenService(auth.Config{
		AccessSecret:  []byte(accessSecretValue),
		RefreshSecret: []byte(refreshSecretValue),
		AccessTTL:     resolveDuration(*accessTTL, "REELHUB_ACCESS_TOKEN_TTL", auth.DefaultAccessTTL),
		RefreshTTL:    resolveDuration(*refreshTTL, "REELHUB_REFRESH_TOKEN_TTL", auth.DefaultRefreshTTL),
	})
	if err != nil {
		logger.Error("failed to configure token service", "error", err)
		os.Exit(1)
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("REELHUB_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("REELHUB_DATA"))
		store, err = storage.NewStorage(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var options []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "REELHUB_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "REELHUB_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			options = append(options, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "REELHUB_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "REELHUB_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "REELHUB_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			options = append(options, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "REELHUB_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			options = append(options, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("REELHUB_POSTGRES_APP_NAME")); appName != "" {
			options = append(options, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, options...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	mediaClient, err := media.NewClient(context.Background(), media.Config{
		Endpoint:      firstNonEmpty(*mediaEndpoint, os.Getenv("REELHUB_MEDIA_ENDPOINT")),
		Region:        firstNonEmpty(*mediaRegion, os.Getenv("REELHUB_MEDIA_REGION")),
		AccessKey:     firstNonEmpty(*mediaAccessKey, os.Getenv("REELHUB_MEDIA_ACCESS_KEY")),
		SecretKey:     firstNonEmpty(*mediaSecretKey, os.Getenv("REELHUB_MEDIA_SECRET_KEY")),
		Bucket:        firstNonEmpty(*mediaBucket, os.Getenv("REELHUB_MEDIA_BUCKET")),
		Prefix:        firstNonEmpty(*mediaPrefix, os.Getenv("REELHUB_MEDIA_PREFIX")),
		PublicBaseURL: firstNonEmpty(*mediaPublicURL, os.Getenv("REELHUB_MEDIA_PUBLIC_URL")),
	})
	if err != nil {
		logger.Error("failed to configure media storage", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, tokens, mediaClient)
	if serverMode == "production" {
		policy := api.DefaultSessionCookiePolicy()
		policy.SecureMode = api.SessionCookieSecureAlways
		handler.SessionCookiePolicy = policy
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: tlsCertPath,
			KeyFile:  tlsKeyPath,
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "REELHUB_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "REELHUB_RATE_GLOBAL_BURST"),
			LoginLimit:    resolveInt(*loginLimit, "REELHUB_RATE_LOGIN_LIMIT"),
			LoginWindow:   resolveDuration(*loginWindow, "REELHUB_RATE_LOGIN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("REELHUB_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("REELHUB_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*redisTimeout, "REELHUB_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("REELHUB_CORS_ORIGINS"))),
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("ReelHub API starting", "addr", listenAddr, "mode", serverMode, "storage", driver)

	group, groupCtx := errgroup.WithContext(rootCtx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	err = group.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closeErr := store.Close(closeCtx); closeErr != nil {
		logger.Warn("failed to close datastore", "error", closeErr)
	}

	if err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

// resolveTokenSecret falls back to an ephemeral secret in development so the
// server starts without configuration; issued tokens then die with the
// process. Production must provide real secrets.
func resolveTokenSecret(flagValue, envKey, mode string, logger *slog.Logger) string {
	secret := firstNonEmpty(flagValue, os.Getenv(envKey))
	if secret != "" {
		return secret
	}
	if mode == "production" {
		return ""
	}
	var buffer [32]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		return ""
	}
	logger.Warn("generated ephemeral token secret, sessions will not survive restarts", "env", envKey)
	return hex.EncodeToString(buffer[:])
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func validateProductionDatastore(driver, postgresDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(postgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("REELHUB_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
