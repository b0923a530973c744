// Package config loads the daemon's user configuration from
// ~/.c3d/config.toml. Missing files yield defaults; parse errors surface to
// the caller but still leave defaults in place so the daemon can start.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the TOML file under the c3d directory.
const ConfigFileName = "config.toml"

// DefaultListenAddr is where the hook and API server binds. Loopback only;
// hook payloads carry local filesystem paths.
const DefaultListenAddr = "127.0.0.1:9398"

// SoundConfig controls the sound for one notification category. An absolute
// path is played through afplay; a bare name is a system sound.
type SoundConfig struct {
	Enabled bool   `toml:"enabled"`
	Sound   string `toml:"sound"`
}

// Config is the user-facing daemon configuration.
type Config struct {
	// ListenAddr is the hook/API server bind address.
	ListenAddr string `toml:"listen_addr"`

	// ScanIntervalSeconds is the pane scan cadence. Zero means the default.
	ScanIntervalSeconds int `toml:"scan_interval_seconds"`

	// NotificationsEnabled gates all OS notifications.
	NotificationsEnabled bool `toml:"notifications_enabled"`

	// TerminalApp overrides terminal auto-detection for click-to-focus.
	TerminalApp string `toml:"terminal_app"`

	// PermissionSound, InputSound and CompleteSound configure the per-category
	// notification sounds.
	PermissionSound SoundConfig `toml:"permission_sound"`
	InputSound      SoundConfig `toml:"input_sound"`
	CompleteSound   SoundConfig `toml:"complete_sound"`

	// Log controls the daemon log output.
	Log LogConfig `toml:"log"`
}

// LogConfig mirrors the logging package knobs that users may tune.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:           DefaultListenAddr,
		NotificationsEnabled: true,
		PermissionSound:      SoundConfig{Enabled: true, Sound: "Glass"},
		InputSound:           SoundConfig{Enabled: true, Sound: "Ping"},
		CompleteSound:        SoundConfig{Enabled: true, Sound: "Hero"},
		Log:                  LogConfig{Level: "info", Format: "text"},
	}
}

var (
	cacheMu sync.RWMutex
	cache   *Config
)

// Dir returns the c3d configuration directory, honoring C3D_DIR for tests.
func Dir() (string, error) {
	if dir := os.Getenv("C3D_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".c3d"), nil
}

// Path returns the config file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// Load reads the config, caching it after the first call.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cache != nil {
		return cache, nil
	}

	def := defaultConfig()
	path, err := Path()
	if err != nil {
		cache = &def
		return cache, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cache = &def
		return cache, nil
	}

	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		cache = &def
		return cache, fmt.Errorf("config.toml parse error: %w", err)
	}
	cache = &cfg
	return cache, nil
}

// Reload discards the cache and loads fresh from disk.
func Reload() (*Config, error) {
	ClearCache()
	return Load()
}

// ClearCache resets the cached config, letting tests start clean.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

// Save writes the config atomically: temp file, fsync, rename. The cache is
// cleared so the next Load observes the new values.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# c3d configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize config save: %w", err)
	}

	ClearCache()
	return nil
}

// SoundFor returns the sound config for a notification category.
func (c *Config) SoundFor(category string) SoundConfig {
	switch category {
	case "permission":
		return c.PermissionSound
	case "input":
		return c.InputSound
	case "complete":
		return c.CompleteSound
	}
	return SoundConfig{}
}
