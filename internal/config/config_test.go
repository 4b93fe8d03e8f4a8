package config

import "testing"

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("IORELAY_MASTER_SECRET", "x")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.Resource != "socket.io" {
		t.Fatalf("expected default resource socket.io, got %q", cfg.Resource)
	}
	if !cfg.TransportSet()["polling"] || !cfg.TransportSet()["websocket"] {
		t.Fatalf("expected both default transports allowed, got %v", cfg.Transports)
	}
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	t.Setenv("IORELAY_MASTER_SECRET", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfig_PortOverride(t *testing.T) {
	t.Setenv("IORELAY_MASTER_SECRET", "x")
	t.Setenv("IORELAY_PORT", "1234")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Port)
	}
}
