package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("Expected memory store, got %s", cfg.StoreBackend)
	}
	if cfg.Session.HeartbeatInterval != 30*time.Second || cfg.Session.MissedHeartbeats != 3 {
		t.Errorf("Unexpected heartbeat defaults %+v", cfg.Session)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("HOST_GRACE_PERIOD", "4m")
	t.Setenv("OUTBOUND_QUEUE_SIZE", "128")
	t.Setenv("MISSED_HEARTBEATS", "not-a-number")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.Session.GracePeriod != 4*time.Minute {
		t.Errorf("Expected 4m grace, got %v", cfg.Session.GracePeriod)
	}
	if cfg.Session.OutboundQueueSize != 128 {
		t.Errorf("Expected queue size 128, got %d", cfg.Session.OutboundQueueSize)
	}
	if cfg.Session.MissedHeartbeats != 3 {
		t.Errorf("Expected invalid int to fall back to default, got %d", cfg.Session.MissedHeartbeats)
	}
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.Environment = "production"
	cfg.StoreBackend = "etcd"
	cfg.Session.GracePeriod = 10 * time.Minute
	cfg.Session.DefaultHostPolicy = "coin-flip"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation errors")
	}
	for _, want := range []string{"JWT_SECRET", "etcd", "grace period", "coin-flip"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got %v", want, err)
		}
	}
}
