package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.WorkerPoolSize != 16 {
		t.Errorf("expected 16 workers, got %d", cfg.WorkerPoolSize)
	}
	if !cfg.SeedCatalog {
		t.Error("catalog seeding should default on")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "rp-0:9092, rp-1:9092,")
	t.Setenv("API_KEYS", "k1:ehr,k2:pharmacy")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("SEED_CATALOG", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("port = %s", cfg.Port)
	}
	if brokers := cfg.Brokers(); len(brokers) != 2 || brokers[1] != "rp-1:9092" {
		t.Errorf("brokers = %v", brokers)
	}
	keys, err := cfg.APIKeyMap()
	if err != nil || keys["k2"] != "pharmacy" {
		t.Errorf("api keys = %v, %v", keys, err)
	}
	if cfg.RequestTimeout != 2*time.Second {
		t.Errorf("timeout = %s", cfg.RequestTimeout)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("rps = %v", cfg.RateLimitRPS)
	}
	if cfg.SeedCatalog {
		t.Error("SEED_CATALOG=false should disable seeding")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad api keys":           {"API_KEYS": "no-client"},
		"zero workers":           {"WORKER_POOL_SIZE": "0"},
		"production needs admin": {"ENV": "production", "ADMIN_KEY": ""},
		"production dev api key": {"ENV": "production", "ADMIN_KEY": "s3cret"},
		"production no api keys": {"ENV": "production", "ADMIN_KEY": "s3cret", "API_KEYS": ""},
		"negative rate":          {"RATE_LIMIT_RPS": "-1"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoad_ProductionWithExplicitKeys(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_KEY", "s3cret")
	t.Setenv("API_KEYS", "k1:ehr")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keys, _ := cfg.APIKeyMap()
	if keys["k1"] != "ehr" || len(keys) != 1 {
		t.Errorf("keys = %v", keys)
	}
}
