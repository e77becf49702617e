package config

import (
	"slices"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "MODEL_STORAGE_ROOT", "MODEL_CACHE_SIZE", "EVENTS_ENABLED", "KAFKA_BROKERS", "H3_RES", "S3_SECURE"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.Addr != ":8090" || cfg.ModelCacheSize != 64 || cfg.H3Res != 8 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Events.Enabled || !slices.Equal(cfg.Events.Brokers, []string{"localhost:9092"}) {
		t.Fatalf("events defaults: %+v", cfg.Events)
	}
	if !cfg.S3.Secure {
		t.Fatalf("S3 should default to TLS")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("MODEL_STORAGE_ROOT", "/tmp/models")
	t.Setenv("EVENTS_ENABLED", "yes")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("H3_RES", "42")
	t.Setenv("CATALOG_ENABLED", "nonsense")

	cfg := FromEnv()
	if cfg.StorageRoot != "/tmp/models" || !cfg.Events.Enabled {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !slices.Equal(cfg.Events.Brokers, []string{"a:9092", "b:9092"}) {
		t.Fatalf("brokers=%v", cfg.Events.Brokers)
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Fatalf("fetch timeout=%v", cfg.FetchTimeout)
	}
	if cfg.H3Res != 8 {
		t.Fatalf("out of range H3_RES should fall back, got %d", cfg.H3Res)
	}
	if cfg.CatalogEnabled {
		t.Fatalf("unparseable bool should keep default false")
	}
}
