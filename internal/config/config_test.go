package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := NewViper()
	v.Set("server.ws_url", "ws://localhost:4000/socket")
	v.Set("server.rest_url", "http://localhost:4000")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InitialBackoff != 500*time.Millisecond {
		t.Fatalf("expected 500ms initial backoff, got %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 30*time.Second {
		t.Fatalf("expected 30s max backoff, got %v", cfg.MaxBackoff)
	}
	if cfg.MaxAttempts != 10 {
		t.Fatalf("expected 10 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.QueueCapacity != 200 {
		t.Fatalf("expected capacity 200, got %d", cfg.QueueCapacity)
	}
	if cfg.PollInterval != 20*time.Second {
		t.Fatalf("expected 20s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.DebounceWindow != 750*time.Millisecond {
		t.Fatalf("expected 750ms debounce, got %v", cfg.DebounceWindow)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info level, got %q", cfg.LogLevel)
	}
}

func TestLoadRejectsMissingServerURLs(t *testing.T) {
	v := NewViper()
	if _, err := Load(v); err == nil {
		t.Fatalf("expected error for missing ws url")
	}

	v.Set("server.ws_url", "ws://localhost:4000/socket")
	if _, err := Load(v); err == nil {
		t.Fatalf("expected error for missing rest url")
	}
}

func TestLoadRejectsInvalidBackoffBounds(t *testing.T) {
	v := NewViper()
	v.Set("server.ws_url", "ws://localhost:4000/socket")
	v.Set("server.rest_url", "http://localhost:4000")
	v.Set("backoff.initial_ms", 5000)
	v.Set("backoff.max_ms", 1000)

	if _, err := Load(v); err == nil {
		t.Fatalf("expected error for max below initial")
	}
}

func TestLoadRejectsNonPositiveCapacity(t *testing.T) {
	v := NewViper()
	v.Set("server.ws_url", "ws://localhost:4000/socket")
	v.Set("server.rest_url", "http://localhost:4000")
	v.Set("queue.capacity", 0)

	if _, err := Load(v); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
}
