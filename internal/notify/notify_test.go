package notify

import (
	"testing"
	"time"

	"github.com/c3tools/c3d/internal/config"
	"github.com/c3tools/c3d/internal/platform"
	"github.com/c3tools/c3d/internal/registry"
	"github.com/c3tools/c3d/internal/tmux"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type capture struct {
	sent   []platform.Notification
	played []string
}

func newTestDispatcher(cfg *config.Config) (*Dispatcher, *capture, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	rec := &capture{}
	d := New(registry.New(clock))
	d.loadConfig = func() (*config.Config, error) { return cfg, nil }
	d.send = func(n platform.Notification) { rec.sent = append(rec.sent, n) }
	d.playSound = func(s string) { rec.played = append(rec.played, s) }
	return d, rec, clock
}

func enabledConfig() *config.Config {
	return &config.Config{
		NotificationsEnabled: true,
		PermissionSound:      config.SoundConfig{Enabled: true, Sound: "Glass"},
		InputSound:           config.SoundConfig{Enabled: true},
		CompleteSound:        config.SoundConfig{Enabled: false},
		TerminalApp:          "Ghostty",
	}
}

func TestDispatchSendsWithCategorySound(t *testing.T) {
	d, rec, _ := newTestDispatcher(enabledConfig())

	d.Dispatch(Request{
		SessionID:   "tmux:main:1.0",
		Category:    "permission",
		Message:     "Claude needs permission to continue",
		Subtitle:    "Permission Required",
		ProjectName: "proj",
	})

	if len(rec.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(rec.sent))
	}
	n := rec.sent[0]
	if n.Sound != "Glass" {
		t.Fatalf("sound = %q", n.Sound)
	}
	if n.Title != "c3d — proj" {
		t.Fatalf("title = %q", n.Title)
	}
	if n.ActivateApp != "Ghostty" {
		t.Fatalf("activate app = %q", n.ActivateApp)
	}
}

func TestDispatchDisabledGlobally(t *testing.T) {
	cfg := enabledConfig()
	cfg.NotificationsEnabled = false
	d, rec, _ := newTestDispatcher(cfg)

	d.Dispatch(Request{SessionID: "a", Category: "input", Message: "m"})
	if len(rec.sent) != 0 {
		t.Fatal("disabled notifications still delivered")
	}
}

func TestDispatchDebounce(t *testing.T) {
	d, rec, clock := newTestDispatcher(enabledConfig())
	req := Request{SessionID: "a", Category: "input", Message: "m"}

	d.Dispatch(req)
	d.Dispatch(req)
	if len(rec.sent) != 1 {
		t.Fatalf("burst delivered %d notifications, want 1", len(rec.sent))
	}

	clock.now = clock.now.Add(registry.NotifyDebounce)
	d.Dispatch(req)
	if len(rec.sent) != 2 {
		t.Fatalf("post-window dispatch delivered %d, want 2", len(rec.sent))
	}
}

func TestDispatchEmptyMessageIsNoOp(t *testing.T) {
	d, rec, _ := newTestDispatcher(enabledConfig())
	d.Dispatch(Request{SessionID: "a", Category: "complete"})
	if len(rec.sent) != 0 {
		t.Fatal("empty message delivered")
	}
}

func TestDispatchDefaultSoundName(t *testing.T) {
	d, rec, _ := newTestDispatcher(enabledConfig())
	d.Dispatch(Request{SessionID: "a", Category: "input", Message: "m"})
	if rec.sent[0].Sound != "Ping" {
		t.Fatalf("default sound = %q", rec.sent[0].Sound)
	}
}

func TestDispatchCustomSoundFile(t *testing.T) {
	cfg := enabledConfig()
	cfg.PermissionSound = config.SoundConfig{Enabled: true, Sound: "/tmp/ding.aiff"}
	d, rec, _ := newTestDispatcher(cfg)

	d.Dispatch(Request{SessionID: "a", Category: "permission", Message: "m"})
	if len(rec.played) != 1 || rec.played[0] != "/tmp/ding.aiff" {
		t.Fatalf("played = %v", rec.played)
	}
	if rec.sent[0].Sound != "" {
		t.Fatalf("custom file must not set notifier sound, got %q", rec.sent[0].Sound)
	}
}

func TestDispatchDisabledCategorySound(t *testing.T) {
	d, rec, _ := newTestDispatcher(enabledConfig())
	d.Dispatch(Request{SessionID: "a", Category: "complete", Message: "m"})
	if rec.sent[0].Sound != "" {
		t.Fatalf("disabled category sound = %q", rec.sent[0].Sound)
	}
}

func TestDispatchTmuxContextEnrichesSubtitleAndClick(t *testing.T) {
	d, rec, _ := newTestDispatcher(enabledConfig())
	d.Dispatch(Request{
		SessionID: "a",
		Category:  "input",
		Message:   "m",
		Subtitle:  "Input Needed",
		Tmux:      &tmux.Context{Session: "main", Window: "1", Pane: "0", WindowName: "dev"},
	})

	n := rec.sent[0]
	if n.Subtitle != "Input Needed | main:1.0 (dev)" {
		t.Fatalf("subtitle = %q", n.Subtitle)
	}
	if n.ClickCommand == "" {
		t.Fatal("tmux context should produce a click command")
	}
	if n.ActivateApp != "" {
		t.Fatalf("click command and activate app are mutually exclusive, got %q", n.ActivateApp)
	}
}
