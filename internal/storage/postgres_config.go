package storage

import (
	"time"
)

// PostgresConfig collects pool tuning for the Postgres repository.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{DSN: dsn, MinConnections: -1}
	for _, opt := range opts {
		opt.applyPostgres(&cfg)
	}
	return cfg
}
