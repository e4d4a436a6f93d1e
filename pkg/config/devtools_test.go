package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDevtoolsConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routedev.yaml")
	body := "silent: false\nwsPort: 9001\nlogs:\n  cookies: false\n  cache: false\ndebounce: 1s\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ROUTEDEV_APP_DIR", "/srv/app")

	cfg, err := LoadDevtoolsConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WSPort != 9001 {
		t.Fatalf("expected file wsPort, got %d", cfg.WSPort)
	}
	if cfg.Logs.Cookies || cfg.Logs.Cache {
		t.Fatalf("expected cookies and cache disabled, got %+v", cfg.Logs)
	}
	if !cfg.Logs.Loaders {
		t.Fatalf("expected loader logs to keep default")
	}
	if cfg.AppDir != "/srv/app" {
		t.Fatalf("expected env override, got %q", cfg.AppDir)
	}
	if cfg.Debounce != time.Second {
		t.Fatalf("expected 1s debounce, got %s", cfg.Debounce)
	}
}

func TestLoadDevtoolsConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadDevtoolsConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestLogEnabledHonoursSilent(t *testing.T) {
	cfg := DefaultDevtoolsConfig()
	if !cfg.LogEnabled("loaders") {
		t.Fatalf("expected loaders enabled by default")
	}
	cfg.Silent = true
	if cfg.LogEnabled("loaders") {
		t.Fatalf("expected silent to suppress every category")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultDevtoolsConfig()
	cfg.WSPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadDevtoolsConfigForward(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routedev.yaml")
	body := "forward:\n  url: http://devtools.local:3000\n  interval: 250ms\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ROUTEDEV_FORWARD_TOKEN", "shared")

	cfg, err := LoadDevtoolsConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Forward.URL != "http://devtools.local:3000" || cfg.Forward.Token != "shared" {
		t.Fatalf("unexpected forward config %+v", cfg.Forward)
	}
	if cfg.Forward.Interval != 250*time.Millisecond {
		t.Fatalf("expected 250ms interval, got %s", cfg.Forward.Interval)
	}
}

func TestDefaultsBindLoopback(t *testing.T) {
	cfg := DefaultDevtoolsConfig()
	if cfg.Addr != "127.0.0.1:3000" {
		t.Fatalf("expected loopback app address, got %q", cfg.Addr)
	}
	if got := cfg.WSAddr(); got != "127.0.0.1:8887" {
		t.Fatalf("expected loopback bridge address, got %q", got)
	}
	cfg.Addr = ":3000"
	if got := cfg.WSAddr(); got != "127.0.0.1:8887" {
		t.Fatalf("expected loopback when no host is named, got %q", got)
	}
	cfg.Addr = "0.0.0.0:3000"
	if got := cfg.WSAddr(); got != "0.0.0.0:8887" {
		t.Fatalf("expected bridge to follow an explicit host, got %q", got)
	}
}
