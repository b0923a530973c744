package hooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// hookCommandMarker identifies our entries inside Claude's settings.json.
const hookCommandMarker = "c3d hook-send"

// hookEvents lists the Claude Code hook events the daemon subscribes to.
var hookEvents = []string{
	"SessionStart",
	"PreToolUse",
	"PostToolUse",
	"PermissionRequest",
	"Notification",
	"Stop",
}

// settingsHookEntry is one command hook in Claude Code settings.
type settingsHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Async   bool   `json:"async,omitempty"`
}

// settingsHookMatcher is a matcher block in the per-event hook array.
type settingsHookMatcher struct {
	Matcher string              `json:"matcher,omitempty"`
	Hooks   []settingsHookEntry `json:"hooks"`
}

func hookEntry(event string) settingsHookEntry {
	return settingsHookEntry{
		Type:    "command",
		Command: hookCommandMarker + " " + event,
		Async:   true,
	}
}

// Install injects the daemon's hook entries into settings.json under
// configDir, preserving every existing setting and user hook. Returns true
// when hooks were newly installed, false when already present.
func Install(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	var rawSettings map[string]json.RawMessage
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("read settings.json: %w", err)
		}
		rawSettings = make(map[string]json.RawMessage)
	} else if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false, fmt.Errorf("parse settings.json: %w", err)
	}

	existingHooks := parseHooksSection(rawSettings)
	if allInstalled(existingHooks) {
		return false, nil
	}

	for _, event := range hookEvents {
		existingHooks[event] = mergeHookEvent(existingHooks[event], event)
	}

	hooksRaw, err := json.Marshal(existingHooks)
	if err != nil {
		return false, fmt.Errorf("marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksRaw

	if err := writeSettings(configDir, settingsPath, rawSettings); err != nil {
		return false, err
	}
	hookLog.Info("hooks_installed", slog.String("config_dir", configDir))
	return true, nil
}

// Uninstall removes the daemon's hook entries, leaving user hooks intact.
// Returns true when anything was removed.
func Uninstall(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read settings.json: %w", err)
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false, fmt.Errorf("parse settings.json: %w", err)
	}

	existingHooks := parseHooksSection(rawSettings)
	removed := false
	for _, event := range hookEvents {
		raw, ok := existingHooks[event]
		if !ok {
			continue
		}
		cleaned, didRemove := removeOurHooks(raw)
		if !didRemove {
			continue
		}
		removed = true
		if cleaned == nil {
			delete(existingHooks, event)
		} else {
			existingHooks[event] = cleaned
		}
	}
	if !removed {
		return false, nil
	}

	if len(existingHooks) == 0 {
		delete(rawSettings, "hooks")
	} else {
		hooksRaw, _ := json.Marshal(existingHooks)
		rawSettings["hooks"] = hooksRaw
	}

	if err := writeSettings(configDir, settingsPath, rawSettings); err != nil {
		return false, err
	}
	hookLog.Info("hooks_removed", slog.String("config_dir", configDir))
	return true, nil
}

// Installed reports whether every subscribed event carries our hook.
func Installed(configDir string) bool {
	data, err := os.ReadFile(filepath.Join(configDir, "settings.json"))
	if err != nil {
		return false
	}
	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false
	}
	return allInstalled(parseHooksSection(rawSettings))
}

// DefaultClaudeConfigDir returns ~/.claude.
func DefaultClaudeConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return filepath.Join(home, ".claude")
}

func parseHooksSection(rawSettings map[string]json.RawMessage) map[string]json.RawMessage {
	hooks := make(map[string]json.RawMessage)
	if raw, ok := rawSettings["hooks"]; ok {
		// An invalid hooks section starts fresh rather than failing install.
		_ = json.Unmarshal(raw, &hooks)
	}
	return hooks
}

func allInstalled(hooks map[string]json.RawMessage) bool {
	for _, event := range hookEvents {
		raw, ok := hooks[event]
		if !ok || !eventHasOurHook(raw) {
			return false
		}
	}
	return true
}

func eventHasOurHook(raw json.RawMessage) bool {
	var matchers []settingsHookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return false
	}
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, hookCommandMarker) {
				return true
			}
		}
	}
	return false
}

// mergeHookEvent appends our entry to the event's matcher array, preserving
// existing matchers and hooks.
func mergeHookEvent(existing json.RawMessage, event string) json.RawMessage {
	var matchers []settingsHookMatcher
	if existing != nil {
		if err := json.Unmarshal(existing, &matchers); err != nil {
			matchers = nil
		}
	}

	for i, m := range matchers {
		if m.Matcher != "" {
			continue
		}
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, hookCommandMarker) {
				result, _ := json.Marshal(matchers)
				return result
			}
		}
		matchers[i].Hooks = append(matchers[i].Hooks, hookEntry(event))
		result, _ := json.Marshal(matchers)
		return result
	}

	matchers = append(matchers, settingsHookMatcher{
		Hooks: []settingsHookEntry{hookEntry(event)},
	})
	result, _ := json.Marshal(matchers)
	return result
}

// removeOurHooks strips our entries from one event. Returns the cleaned JSON
// (nil when nothing remains) and whether a removal happened.
func removeOurHooks(raw json.RawMessage) (json.RawMessage, bool) {
	var matchers []settingsHookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return raw, false
	}

	removed := false
	var cleaned []settingsHookMatcher
	for _, m := range matchers {
		var hooks []settingsHookEntry
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, hookCommandMarker) {
				removed = true
				continue
			}
			hooks = append(hooks, h)
		}
		if len(hooks) > 0 {
			m.Hooks = hooks
			cleaned = append(cleaned, m)
		}
	}
	if !removed {
		return raw, false
	}
	if len(cleaned) == 0 {
		return nil, true
	}
	result, _ := json.Marshal(cleaned)
	return result, true
}

// writeSettings persists settings.json atomically.
func writeSettings(configDir, settingsPath string, rawSettings map[string]json.RawMessage) error {
	finalData, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, finalData, 0o644); err != nil {
		return fmt.Errorf("write settings.json.tmp: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename settings.json: %w", err)
	}
	return nil
}
