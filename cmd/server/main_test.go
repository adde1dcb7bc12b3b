package main

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestModeValueDefaultsToDevelopment(t *testing.T) {
	if got := modeValue("", ""); got != "development" {
		t.Fatalf("modeValue default = %q", got)
	}
	if got := modeValue("Production", ""); got != "production" {
		t.Fatalf("modeValue flag = %q", got)
	}
	if got := modeValue("", " PRODUCTION "); got != "production" {
		t.Fatalf("modeValue env = %q", got)
	}
}

func TestResolveListenAddr(t *testing.T) {
	if got := resolveListenAddr(":9000", "development", ":7000"); got != ":9000" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveListenAddr("", "development", ":7000"); got != ":7000" {
		t.Fatalf("env should win over default, got %q", got)
	}
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("development default = %q", got)
	}
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("production default = %q", got)
	}
}

func TestResolveStorageDriver(t *testing.T) {
	driver, err := resolveStorageDriver("Postgres", "", "")
	if err != nil || driver != "postgres" {
		t.Fatalf("flag driver = %q, err = %v", driver, err)
	}
	driver, err = resolveStorageDriver("", "json", "postgres://dsn")
	if err != nil || driver != "json" {
		t.Fatalf("env driver = %q, err = %v", driver, err)
	}
	driver, err = resolveStorageDriver("", "", "postgres://dsn")
	if err != nil || driver != "postgres" {
		t.Fatalf("dsn implies postgres, got %q, err = %v", driver, err)
	}
	driver, err = resolveStorageDriver("", "", "")
	if err != nil || driver != "json" {
		t.Fatalf("default driver = %q, err = %v", driver, err)
	}
}

func TestValidateProductionDatastore(t *testing.T) {
	if err := validateProductionDatastore("json", ""); err == nil {
		t.Fatal("expected error for json driver in production")
	}
	if err := validateProductionDatastore("postgres", ""); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}
	if err := validateProductionDatastore("postgres", "postgres://dsn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveTokenSecret(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if got := resolveTokenSecret("from-flag", "REELHUB_TEST_SECRET_UNSET", "production", logger); got != "from-flag" {
		t.Fatalf("flag secret = %q", got)
	}

	t.Setenv("REELHUB_TEST_SECRET", "from-env")
	if got := resolveTokenSecret("", "REELHUB_TEST_SECRET", "production", logger); got != "from-env" {
		t.Fatalf("env secret = %q", got)
	}

	if got := resolveTokenSecret("", "REELHUB_TEST_SECRET_UNSET", "production", logger); got != "" {
		t.Fatalf("production without secret should be empty, got %q", got)
	}

	first := resolveTokenSecret("", "REELHUB_TEST_SECRET_UNSET", "development", logger)
	second := resolveTokenSecret("", "REELHUB_TEST_SECRET_UNSET", "development", logger)
	if first == "" || second == "" {
		t.Fatal("development mode should generate a secret")
	}
	if first == second {
		t.Fatal("generated secrets should be unique per call")
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example.com , ,https://b.example.com ")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("splitAndTrim = %v", got)
	}
	if got := splitAndTrim("  "); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestResolveDuration(t *testing.T) {
	if got := resolveDuration(5*time.Second, "REELHUB_TEST_DURATION_UNSET", time.Minute); got != 5*time.Second {
		t.Fatalf("flag duration = %v", got)
	}
	t.Setenv("REELHUB_TEST_DURATION", "30s")
	if got := resolveDuration(0, "REELHUB_TEST_DURATION", time.Minute); got != 30*time.Second {
		t.Fatalf("env duration = %v", got)
	}
	if got := resolveDuration(0, "REELHUB_TEST_DURATION_UNSET", time.Minute); got != time.Minute {
		t.Fatalf("fallback duration = %v", got)
	}
}
