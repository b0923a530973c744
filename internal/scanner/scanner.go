// Package scanner polls tmux panes, derives session state from pane titles
// and conversation transcripts, and reconciles the registry against what is
// actually running. It is the slow-path writer; hook-driven writes take
// precedence via the registry's grace window.
package scanner

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c3tools/c3d/internal/logging"
	"github.com/c3tools/c3d/internal/registry"
	"github.com/c3tools/c3d/internal/tmux"
	"github.com/c3tools/c3d/internal/transcript"
)

var scanLog = logging.ForComponent(logging.CompScanner)

const (
	// DefaultInterval is the cadence of the reconciliation loop.
	DefaultInterval = 3 * time.Second

	// watchDebounce coalesces bursts of transcript writes into one
	// off-cadence scan.
	watchDebounce = 500 * time.Millisecond

	idleTitleMarker = "✳"
)

// Scanner owns the periodic scan loop. The exec-facing dependencies are
// fields so tests can substitute fakes.
type Scanner struct {
	reg          *registry.Registry
	projectsRoot string
	interval     time.Duration

	listPanes func() ([]tmux.Pane, error)
	isAgent   func(tmux.Pane) bool
	locate    func(projectDir string) (string, bool)
	inspect   func(path string, now time.Time) (transcript.Result, error)
	modTime   func(path string) (time.Time, bool)

	nudge chan struct{}
}

// New builds a scanner over the registry with production dependencies.
func New(reg *registry.Registry, projectsRoot string, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scanner{
		reg:          reg,
		projectsRoot: projectsRoot,
		interval:     interval,
		listPanes:    tmux.ListPanes,
		isAgent:      tmux.IsAgentPane,
		locate:       transcript.FindActiveTranscript,
		inspect:      transcript.Inspect,
		modTime:      transcript.FileModTime,
		nudge:        make(chan struct{}, 1),
	}
}

// Run executes scan cycles until ctx is cancelled. An in-flight cycle always
// completes; cancellation is only observed between cycles.
func (sc *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	watcher := sc.startWatcher(ctx)
	if watcher != nil {
		defer watcher.Close()
	}

	sc.ScanOnce()
	for {
		select {
		case <-ctx.Done():
			scanLog.Info("scanner_stopped")
			return
		case <-ticker.C:
			sc.ScanOnce()
		case <-sc.nudge:
			sc.ScanOnce()
		}
		sc.updateWatches(watcher)
	}
}

// ScanOnce runs a single reconciliation cycle.
func (sc *Scanner) ScanOnce() {
	panes, err := sc.listPanes()
	if err != nil {
		scanLog.Warn("list_panes_failed", slog.Any("error", err))
		return
	}

	found := make(map[string]struct{})
	for _, pane := range panes {
		if !sc.relevantPane(pane) {
			continue
		}
		found[pane.Target] = struct{}{}
		sc.reconcilePane(pane)
	}

	sc.removeVanished(found)
}

// relevantPane keeps panes running an agent, plus shell panes whose title
// still carries the agent marker (the agent exited back to the shell).
func (sc *Scanner) relevantPane(p tmux.Pane) bool {
	if sc.isAgent(p) {
		return true
	}
	agentTitle := strings.Contains(p.Title, idleTitleMarker) || strings.Contains(p.Title, "Claude")
	return agentTitle && isShell(p.Command)
}

func isShell(command string) bool {
	switch command {
	case "zsh", "bash", "fish", "sh":
		return true
	}
	return false
}

func (sc *Scanner) reconcilePane(pane tmux.Pane) {
	id := registry.TmuxSessionID(pane.Target)
	result := sc.classifyPane(pane)

	// A session the hook pipeline just wrote keeps its state; only the
	// positional fields may drift.
	if sc.reg.IsHookProtected(id) {
		if _, found, _ := sc.reg.Mutate(id, func(s *registry.Session) bool {
			s.ProjectPath = pane.Path
			s.TmuxTarget = pane.Target
			return true
		}); found {
			return
		}
	}

	lastActivity := result.LastMessageTime
	if lastActivity.IsZero() {
		if path, ok := sc.locateTranscript(pane.Path); ok {
			if mt, ok := sc.modTime(path); ok {
				lastActivity = mt
			}
		}
	}
	if lastActivity.IsZero() {
		lastActivity = sc.reg.Now()
	}

	prev, existed := sc.reg.Get(id)
	changed := !existed || prev.State != result.State

	stored := sc.reg.Upsert(registry.Session{
		ID:            id,
		ProjectName:   deriveProjectName(pane),
		ProjectPath:   pane.Path,
		State:         result.State,
		TmuxTarget:    pane.Target,
		LastActivity:  lastActivity,
		PendingAction: result.PendingAction,
	})

	// Unchanged states are written silently so subscribers only hear about
	// real transitions.
	if changed {
		scanLog.Info("scan_transition",
			slog.String("target", pane.Target),
			slog.String("project", stored.ProjectName),
			slog.String("state", string(stored.State)))
		sc.reg.PublishUpdate(stored)
	}
}

// classifyPane derives the session state. The pane title is the primary
// signal: the idle marker means the agent is waiting and the transcript
// decides between input and permission; a shell command means the agent
// exited; anything else means it is actively working.
func (sc *Scanner) classifyPane(pane tmux.Pane) transcript.Result {
	title := strings.TrimSpace(pane.Title)

	switch {
	case isShell(pane.Command):
		return transcript.Result{
			State:           registry.StateComplete,
			LastMessageTime: sc.transcriptTimestamp(pane.Path),
		}

	case strings.HasPrefix(title, idleTitleMarker):
		path, ok := sc.locateTranscript(pane.Path)
		if !ok {
			return transcript.Result{
				State:         registry.StateAwaitingInput,
				PendingAction: registry.InputPendingAction(),
			}
		}
		res, err := sc.inspect(path, sc.reg.Now())
		if err != nil {
			scanLog.Warn("transcript_inspect_failed",
				slog.String("path", path), slog.Any("error", err))
			return transcript.Result{
				State:         registry.StateAwaitingInput,
				PendingAction: registry.InputPendingAction(),
			}
		}
		return res

	default:
		return transcript.Result{
			State:           registry.StateProcessing,
			LastMessageTime: sc.transcriptTimestamp(pane.Path),
		}
	}
}

func (sc *Scanner) locateTranscript(cwd string) (string, bool) {
	if cwd == "" {
		return "", false
	}
	return sc.locate(transcript.ProjectDir(sc.projectsRoot, cwd))
}

// transcriptTimestamp fetches only the newest message timestamp, used by the
// branches whose state does not depend on transcript content.
func (sc *Scanner) transcriptTimestamp(cwd string) time.Time {
	path, ok := sc.locateTranscript(cwd)
	if !ok {
		return time.Time{}
	}
	res, err := sc.inspect(path, sc.reg.Now())
	if err != nil {
		return time.Time{}
	}
	return res.LastMessageTime
}

// deriveProjectName prefers the pane title with the idle markers stripped,
// falling back to the last path component of the working directory.
func deriveProjectName(pane tmux.Pane) string {
	title := strings.TrimSpace(pane.Title)
	if title != "" && title != "MacBookPro.localdomain" && !strings.Contains(title, "localhost") {
		clean := strings.TrimSpace(strings.TrimLeft(title, "✳✴ "))
		if clean != "" {
			return clean
		}
	}
	if base := filepath.Base(pane.Path); base != "" && base != "." && base != "/" {
		return base
	}
	return "claude"
}

// removeVanished drops scanner-owned sessions whose pane no longer exists.
// Hook-created sessions without a tmux target are left alone.
func (sc *Scanner) removeVanished(found map[string]struct{}) {
	for _, s := range sc.reg.List() {
		if !strings.HasPrefix(s.ID, registry.TmuxSessionIDPrefix) {
			continue
		}
		target := strings.TrimPrefix(s.ID, registry.TmuxSessionIDPrefix)
		if _, ok := found[target]; !ok {
			sc.reg.Remove(s.ID)
		}
	}
}

// Nudge requests an off-cadence scan. Non-blocking; a pending nudge absorbs
// further requests.
func (sc *Scanner) Nudge() {
	select {
	case sc.nudge <- struct{}{}:
	default:
	}
}

// startWatcher sets up a filesystem watcher over the transcript directories
// of registered sessions, so transcript writes trigger a scan without
// waiting for the next tick. Watch failures degrade to tick-only scanning.
func (sc *Scanner) startWatcher(ctx context.Context) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		scanLog.Warn("fswatch_unavailable", slog.Any("error", err))
		return nil
	}

	go func() {
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, sc.Nudge)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				scanLog.Debug("fswatch_error", slog.Any("error", err))
			}
		}
	}()
	return watcher
}

// updateWatches points the watcher at the transcript directories of the
// current session set. Adding an already-watched path is a no-op error and
// removal of stale paths is handled implicitly when directories disappear.
func (sc *Scanner) updateWatches(watcher *fsnotify.Watcher) {
	if watcher == nil {
		return
	}
	for _, s := range sc.reg.List() {
		if s.ProjectPath == "" {
			continue
		}
		dir := transcript.ProjectDir(sc.projectsRoot, s.ProjectPath)
		_ = watcher.Add(dir)
	}
}
