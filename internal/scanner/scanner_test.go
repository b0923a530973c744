package scanner

import (
	"testing"
	"time"

	"github.com/c3tools/c3d/internal/registry"
	"github.com/c3tools/c3d/internal/tmux"
	"github.com/c3tools/c3d/internal/transcript"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fixture struct {
	sc    *Scanner
	reg   *registry.Registry
	clock *fakeClock

	panes   []tmux.Pane
	results map[string]transcript.Result // keyed by project path
}

func newFixture() *fixture {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	reg := registry.New(clock)
	f := &fixture{
		reg:     reg,
		clock:   clock,
		results: make(map[string]transcript.Result),
	}

	sc := New(reg, "/fake/projects", 0)
	sc.listPanes = func() ([]tmux.Pane, error) { return f.panes, nil }
	sc.isAgent = func(p tmux.Pane) bool { return p.Command == "claude" }
	sc.locate = func(projectDir string) (string, bool) { return projectDir + "/t.jsonl", true }
	sc.inspect = func(path string, now time.Time) (transcript.Result, error) {
		for cwd, res := range f.results {
			if path == transcript.ProjectDir("/fake/projects", cwd)+"/t.jsonl" {
				return res, nil
			}
		}
		return transcript.Result{State: registry.StateProcessing}, nil
	}
	sc.modTime = func(path string) (time.Time, bool) { return time.Time{}, false }
	f.sc = sc
	return f
}

func agentPane(target, path, title string) tmux.Pane {
	return tmux.Pane{Target: target, PID: 1, Command: "claude", Path: path, Title: title, WindowName: "dev"}
}

func TestScanRegistersNewAgentPane(t *testing.T) {
	f := newFixture()
	f.panes = []tmux.Pane{agentPane("main:1.0", "/home/u/proj", "building")}

	ch := f.reg.Subscribe()
	defer f.reg.Unsubscribe(ch)

	f.sc.ScanOnce()

	s, ok := f.reg.Get("tmux:main:1.0")
	if !ok {
		t.Fatal("session not registered")
	}
	if s.State != registry.StateProcessing {
		t.Fatalf("state = %s, want processing", s.State)
	}
	if s.TmuxTarget != "main:1.0" || s.ProjectPath != "/home/u/proj" {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.ProjectName != "building" {
		t.Fatalf("project name = %q", s.ProjectName)
	}

	select {
	case ev := <-ch:
		if ev.Type != registry.EventSessionUpdate || ev.SessionID != "tmux:main:1.0" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("no update event published for new session")
	}
}

func TestScanIdleTitleUsesTranscriptClassification(t *testing.T) {
	f := newFixture()
	f.panes = []tmux.Pane{agentPane("main:1.0", "/home/u/proj", "✳ fix tests")}
	f.results["/home/u/proj"] = transcript.Result{
		State:         registry.StateAwaitingPermission,
		PendingAction: registry.PermissionPendingAction("Bash", "make"),
	}

	f.sc.ScanOnce()

	s, _ := f.reg.Get("tmux:main:1.0")
	if s.State != registry.StateAwaitingPermission {
		t.Fatalf("state = %s", s.State)
	}
	if s.PendingAction == nil || s.PendingAction.Tool != "Bash" {
		t.Fatalf("pending = %+v", s.PendingAction)
	}
	if s.ProjectName != "fix tests" {
		t.Fatalf("idle marker not stripped from name: %q", s.ProjectName)
	}
}

func TestScanShellPaneWithAgentTitleMeansComplete(t *testing.T) {
	f := newFixture()
	f.panes = []tmux.Pane{{
		Target: "main:1.0", PID: 1, Command: "zsh",
		Path: "/home/u/proj", Title: "✳ done", WindowName: "dev",
	}}

	f.sc.ScanOnce()

	s, ok := f.reg.Get("tmux:main:1.0")
	if !ok {
		t.Fatal("exited agent pane should still be tracked")
	}
	if s.State != registry.StateComplete {
		t.Fatalf("state = %s, want complete", s.State)
	}
}

func TestScanIgnoresPlainShellPane(t *testing.T) {
	f := newFixture()
	f.panes = []tmux.Pane{{Target: "main:9.0", PID: 1, Command: "zsh", Path: "/home/u", Title: "zsh"}}

	f.sc.ScanOnce()

	if _, ok := f.reg.Get("tmux:main:9.0"); ok {
		t.Fatal("plain shell pane must not create a session")
	}
}

func TestScanRespectsHookProtection(t *testing.T) {
	f := newFixture()
	id := "tmux:main:1.0"
	f.reg.Upsert(registry.Session{
		ID: id, State: registry.StateAwaitingPermission,
		PendingAction: registry.PermissionPendingAction("Bash", "rm"),
		ProjectPath:   "/old/path", TmuxTarget: "main:1.0",
	})
	f.reg.MarkHookTouched(id)

	f.panes = []tmux.Pane{agentPane("main:1.0", "/new/path", "working")}
	f.sc.ScanOnce()

	s, _ := f.reg.Get(id)
	if s.State != registry.StateAwaitingPermission {
		t.Fatalf("protected state overwritten to %s", s.State)
	}
	if s.PendingAction == nil {
		t.Fatal("protected pending action cleared")
	}
	if s.ProjectPath != "/new/path" {
		t.Fatalf("positional field not updated: %q", s.ProjectPath)
	}
}

func TestScanOverwritesAfterGraceExpiry(t *testing.T) {
	f := newFixture()
	id := "tmux:main:1.0"
	f.reg.Upsert(registry.Session{ID: id, State: registry.StateAwaitingInput, PendingAction: registry.InputPendingAction()})
	f.reg.MarkHookTouched(id)
	f.clock.now = f.clock.now.Add(registry.GraceWindow + time.Second)

	f.panes = []tmux.Pane{agentPane("main:1.0", "/p", "working")}
	f.sc.ScanOnce()

	s, _ := f.reg.Get(id)
	if s.State != registry.StateProcessing {
		t.Fatalf("expired protection should allow overwrite, state = %s", s.State)
	}
}

func TestScanRemovesVanishedPanes(t *testing.T) {
	f := newFixture()
	f.reg.Upsert(registry.Session{ID: "tmux:gone:1.0", State: registry.StateProcessing})
	f.reg.Upsert(registry.Session{ID: "manual-session", State: registry.StateProcessing})

	f.panes = nil
	f.sc.ScanOnce()

	if _, ok := f.reg.Get("tmux:gone:1.0"); ok {
		t.Fatal("vanished pane session not removed")
	}
	if _, ok := f.reg.Get("manual-session"); !ok {
		t.Fatal("non-tmux session must survive pane reconciliation")
	}
}

func TestScanUnchangedStateIsSilent(t *testing.T) {
	f := newFixture()
	f.panes = []tmux.Pane{agentPane("main:1.0", "/p", "working")}
	f.sc.ScanOnce()

	ch := f.reg.Subscribe()
	defer f.reg.Unsubscribe(ch)

	f.sc.ScanOnce()

	select {
	case ev := <-ch:
		t.Fatalf("unchanged scan published %+v", ev)
	default:
	}
}

func TestScanLastActivityFallsBackToNow(t *testing.T) {
	f := newFixture()
	f.sc.locate = func(string) (string, bool) { return "", false }
	f.panes = []tmux.Pane{agentPane("main:1.0", "/p", "working")}

	f.sc.ScanOnce()

	s, _ := f.reg.Get("tmux:main:1.0")
	if !s.LastActivity.Equal(f.clock.now) {
		t.Fatalf("last activity = %v, want clock now %v", s.LastActivity, f.clock.now)
	}
}

func TestScanLastActivityPrefersMessageTimestamp(t *testing.T) {
	f := newFixture()
	msgTime := f.clock.now.Add(-time.Hour)
	f.panes = []tmux.Pane{agentPane("main:1.0", "/home/u/proj", "✳ idle")}
	f.results["/home/u/proj"] = transcript.Result{
		State:           registry.StateAwaitingInput,
		PendingAction:   registry.InputPendingAction(),
		LastMessageTime: msgTime,
	}

	f.sc.ScanOnce()

	s, _ := f.reg.Get("tmux:main:1.0")
	if !s.LastActivity.Equal(msgTime) {
		t.Fatalf("last activity = %v, want %v", s.LastActivity, msgTime)
	}
}

func TestDeriveProjectName(t *testing.T) {
	tests := []struct {
		name string
		pane tmux.Pane
		want string
	}{
		{"title", tmux.Pane{Title: "my feature", Path: "/home/u/proj"}, "my feature"},
		{"idle marker stripped", tmux.Pane{Title: "✳ my feature", Path: "/p"}, "my feature"},
		{"hostname ignored", tmux.Pane{Title: "MacBookPro.localdomain", Path: "/home/u/proj"}, "proj"},
		{"localhost ignored", tmux.Pane{Title: "user@localhost", Path: "/home/u/proj"}, "proj"},
		{"empty everything", tmux.Pane{Title: "", Path: ""}, "claude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveProjectName(tt.pane); got != tt.want {
				t.Fatalf("deriveProjectName = %q, want %q", got, tt.want)
			}
		})
	}
}
