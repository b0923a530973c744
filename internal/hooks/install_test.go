package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readSettings(t *testing.T, dir string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	var settings map[string]json.RawMessage
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatal(err)
	}
	return settings
}

func TestInstallIntoEmptyDir(t *testing.T) {
	dir := t.TempDir()

	installed, err := Install(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !installed {
		t.Fatal("fresh install reported already present")
	}
	if !Installed(dir) {
		t.Fatal("Installed() false after install")
	}

	settings := readSettings(t, dir)
	var hooks map[string][]settingsHookMatcher
	if err := json.Unmarshal(settings["hooks"], &hooks); err != nil {
		t.Fatal(err)
	}
	for _, event := range hookEvents {
		matchers, ok := hooks[event]
		if !ok {
			t.Fatalf("event %s missing", event)
		}
		found := false
		for _, m := range matchers {
			for _, h := range m.Hooks {
				if strings.Contains(h.Command, hookCommandMarker) && strings.Contains(h.Command, event) {
					found = true
				}
			}
		}
		if !found {
			t.Fatalf("event %s has no c3d hook entry", event)
		}
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	if _, err := Install(dir); err != nil {
		t.Fatal(err)
	}
	installed, err := Install(dir)
	if err != nil {
		t.Fatal(err)
	}
	if installed {
		t.Fatal("second install should be a no-op")
	}
}

func TestInstallPreservesUserSettingsAndHooks(t *testing.T) {
	dir := t.TempDir()
	existing := `{
		"model": "opus",
		"hooks": {
			"Stop": [{"hooks": [{"type": "command", "command": "my-own-script.sh"}]}]
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Install(dir); err != nil {
		t.Fatal(err)
	}

	settings := readSettings(t, dir)
	var model string
	if err := json.Unmarshal(settings["model"], &model); err != nil || model != "opus" {
		t.Fatalf("user setting lost: %v %q", err, model)
	}

	var hooks map[string][]settingsHookMatcher
	if err := json.Unmarshal(settings["hooks"], &hooks); err != nil {
		t.Fatal(err)
	}
	var sawUser, sawOurs bool
	for _, m := range hooks["Stop"] {
		for _, h := range m.Hooks {
			if h.Command == "my-own-script.sh" {
				sawUser = true
			}
			if strings.Contains(h.Command, hookCommandMarker) {
				sawOurs = true
			}
		}
	}
	if !sawUser || !sawOurs {
		t.Fatalf("Stop hooks user=%v ours=%v", sawUser, sawOurs)
	}
}

func TestUninstallRemovesOnlyOurHooks(t *testing.T) {
	dir := t.TempDir()
	existing := `{
		"hooks": {
			"Stop": [{"hooks": [{"type": "command", "command": "my-own-script.sh"}]}]
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Install(dir); err != nil {
		t.Fatal(err)
	}

	removed, err := Uninstall(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("uninstall found nothing to remove")
	}
	if Installed(dir) {
		t.Fatal("Installed() still true after uninstall")
	}

	settings := readSettings(t, dir)
	var hooks map[string][]settingsHookMatcher
	if err := json.Unmarshal(settings["hooks"], &hooks); err != nil {
		t.Fatal(err)
	}
	if len(hooks["Stop"]) != 1 || hooks["Stop"][0].Hooks[0].Command != "my-own-script.sh" {
		t.Fatalf("user Stop hook damaged: %+v", hooks["Stop"])
	}
	for event, matchers := range hooks {
		for _, m := range matchers {
			for _, h := range m.Hooks {
				if strings.Contains(h.Command, hookCommandMarker) {
					t.Fatalf("our hook left behind in %s", event)
				}
			}
		}
	}
}

func TestUninstallWithoutInstall(t *testing.T) {
	dir := t.TempDir()
	removed, err := Uninstall(dir)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("uninstall on missing settings reported removal")
	}
}

func TestUninstallDropsEmptyHooksKey(t *testing.T) {
	dir := t.TempDir()
	if _, err := Install(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := Uninstall(dir); err != nil {
		t.Fatal(err)
	}

	settings := readSettings(t, dir)
	if _, ok := settings["hooks"]; ok {
		t.Fatal("empty hooks key should be removed")
	}
}
