package config

import (
	"os"
	"path/filepath"
	"testing"
)

func useTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("C3D_DIR", dir)
	ClearCache()
	t.Cleanup(ClearCache)
	return dir
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	useTempDir(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if !cfg.NotificationsEnabled {
		t.Fatal("notifications should default to enabled")
	}
	if !cfg.PermissionSound.Enabled || cfg.PermissionSound.Sound != "Glass" {
		t.Fatalf("permission sound default = %+v", cfg.PermissionSound)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := useTempDir(t)

	cfg, _ := Load()
	out := *cfg
	out.NotificationsEnabled = false
	out.TerminalApp = "Ghostty"
	out.ScanIntervalSeconds = 5
	out.InputSound = SoundConfig{Enabled: false}
	if err := Save(&out); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.NotificationsEnabled {
		t.Fatal("saved notifications_enabled=false not observed")
	}
	if got.TerminalApp != "Ghostty" || got.ScanIntervalSeconds != 5 {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	if got.InputSound.Enabled {
		t.Fatal("input sound enable flag lost")
	}
}

func TestLoadParseErrorFallsBackToDefaults(t *testing.T) {
	dir := useTempDir(t)
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("not [valid toml"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err == nil {
		t.Fatal("parse error not surfaced")
	}
	if cfg == nil || cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("defaults not returned on parse error: %+v", cfg)
	}
}

func TestSoundFor(t *testing.T) {
	cfg := defaultConfig()
	if s := cfg.SoundFor("input"); s.Sound != "Ping" {
		t.Fatalf("input sound = %+v", s)
	}
	if s := cfg.SoundFor("unknown"); s.Enabled {
		t.Fatalf("unknown category should be disabled: %+v", s)
	}
}
