package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.SearchDefaultItemsPerPage != 10 || cfg.SearchMaxItemsPerPage != 20 {
		t.Errorf("search paging defaults = %d/%d, want 10/20",
			cfg.SearchDefaultItemsPerPage, cfg.SearchMaxItemsPerPage)
	}
	if cfg.SchedulerTick != 30*time.Second {
		t.Errorf("SchedulerTick = %v, want 30s", cfg.SchedulerTick)
	}
	if cfg.ImportEventTopic != "artifact-imports" {
		t.Errorf("ImportEventTopic = %q", cfg.ImportEventTopic)
	}
	if cfg.PostgresMaxOpenConns != 25 || cfg.PostgresMaxIdleConns != 5 {
		t.Errorf("pool sizing defaults = %d/%d, want 25/5",
			cfg.PostgresMaxOpenConns, cfg.PostgresMaxIdleConns)
	}
	if cfg.PostgresConnMaxLifetime != 30*time.Minute {
		t.Errorf("PostgresConnMaxLifetime = %v, want 30m", cfg.PostgresConnMaxLifetime)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("SEARCH_MAX_ITEMS_PER_PAGE", "50")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SESSION_TIMEOUT", "45m")

	cfg := Load()
	if cfg.ServerPort != "9000" {
		t.Errorf("ServerPort = %q, want 9000", cfg.ServerPort)
	}
	if cfg.SearchMaxItemsPerPage != 50 {
		t.Errorf("SearchMaxItemsPerPage = %d, want 50", cfg.SearchMaxItemsPerPage)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.SessionTimeout != 45*time.Minute {
		t.Errorf("SessionTimeout = %v, want 45m", cfg.SessionTimeout)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server_port: \"7070\"\napi_key: file-key\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "9000")

	cfg := Load()
	// File values win over the environment.
	if cfg.ServerPort != "7070" {
		t.Errorf("ServerPort = %q, want 7070", cfg.ServerPort)
	}
	if cfg.APIKey != "file-key" {
		t.Errorf("APIKey = %q, want file-key", cfg.APIKey)
	}
}
