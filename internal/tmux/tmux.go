// Package tmux wraps the tmux CLI operations the daemon needs: pane
// enumeration for the scanner, focus/kill/spawn actions for remote control,
// and agent process detection.
package tmux

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/c3tools/c3d/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// panesFormat drives a single list-panes call per scan cycle. Fields are
// tab-separated; pane titles may contain spaces but never tabs.
const panesFormat = "#{session_name}:#{window_index}.#{pane_index}\t#{pane_pid}\t#{pane_current_command}\t#{pane_current_path}\t#{pane_title}\t#{window_name}"

// execOutput runs a command and returns its stdout. Swapped out by tests.
var execOutput = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// execRun runs a command for its side effect only. Swapped out by tests.
var execRun = func(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Pane is one tmux pane as reported by list-panes -a.
type Pane struct {
	Target     string // session:window.pane
	PID        int
	Command    string // pane_current_command
	Path       string // pane_current_path
	Title      string
	WindowName string
}

// ListPanes enumerates every pane across all tmux sessions. A tmux server
// that is not running yields an empty list, not an error.
func ListPanes() ([]Pane, error) {
	out, err := execOutput("tmux", "list-panes", "-a", "-F", panesFormat)
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-panes: %w", err)
	}

	var panes []Pane
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 6)
		if len(fields) < 6 {
			tmuxLog.Debug("malformed_pane_line", slog.String("line", line))
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		panes = append(panes, Pane{
			Target:     fields[0],
			PID:        pid,
			Command:    fields[2],
			Path:       fields[3],
			Title:      fields[4],
			WindowName: fields[5],
		})
	}
	return panes, nil
}

// IsAgentPane reports whether the pane hosts a Claude Code process, either
// directly or as a child of a node wrapper.
func IsAgentPane(p Pane) bool {
	if strings.Contains(p.Command, "claude") {
		return true
	}
	if p.Command == "node" {
		return hasClaudeChild(p.PID)
	}
	return false
}

// hasClaudeChild checks for a claude process parented by pid. The pgrep -f
// match covers both the bare binary and node shims invoking a claude script.
func hasClaudeChild(pid int) bool {
	out, err := execOutput("pgrep", "-P", strconv.Itoa(pid), "-f", "claude")
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(out))) > 0
}

// Target is a parsed session:window.pane coordinate.
type Target struct {
	Session string
	Window  string
	Pane    string
}

// ParseTarget splits "session:window.pane". The pane part is optional.
func ParseTarget(target string) (Target, error) {
	sess, rest, ok := strings.Cut(target, ":")
	if !ok || sess == "" || rest == "" {
		return Target{}, fmt.Errorf("malformed tmux target %q", target)
	}
	win, pane, ok := strings.Cut(rest, ".")
	if win == "" {
		return Target{}, fmt.Errorf("malformed tmux target %q", target)
	}
	t := Target{Session: sess, Window: win}
	if ok {
		t.Pane = pane
	}
	return t, nil
}

// String reassembles the coordinate.
func (t Target) String() string {
	if t.Pane == "" {
		return t.Session + ":" + t.Window
	}
	return t.Session + ":" + t.Window + "." + t.Pane
}

// FocusPane selects the pane's window and then the pane itself, bringing it
// to the foreground inside the tmux client.
func FocusPane(target string) error {
	t, err := ParseTarget(target)
	if err != nil {
		return err
	}
	if err := execRun("tmux", "select-window", "-t", t.Session+":"+t.Window); err != nil {
		return fmt.Errorf("select-window %s: %w", target, err)
	}
	if t.Pane != "" {
		if err := execRun("tmux", "select-pane", "-t", target); err != nil {
			return fmt.Errorf("select-pane %s: %w", target, err)
		}
	}
	return nil
}

// KillPane terminates the pane.
func KillPane(target string) error {
	if _, err := ParseTarget(target); err != nil {
		return err
	}
	if err := execRun("tmux", "kill-pane", "-t", target); err != nil {
		return fmt.Errorf("kill-pane %s: %w", target, err)
	}
	return nil
}

// SpawnAgentWindow opens a new window in the session at workDir and starts
// claude in it. Returns the new window's target.
func SpawnAgentWindow(session, workDir string) (string, error) {
	out, err := execOutput("tmux", "new-window", "-t", session, "-c", workDir,
		"-P", "-F", "#{session_name}:#{window_index}.#{pane_index}")
	if err != nil {
		return "", fmt.Errorf("new-window in %s: %w", session, err)
	}
	target := strings.TrimSpace(string(out))
	if err := execRun("tmux", "send-keys", "-t", target, "claude", "Enter"); err != nil {
		return "", fmt.Errorf("send-keys %s: %w", target, err)
	}
	tmuxLog.Info("agent_window_spawned",
		slog.String("target", target),
		slog.String("work_dir", workDir))
	return target, nil
}

// ServerRunning reports whether a tmux server is reachable.
func ServerRunning() bool {
	return execRun("tmux", "has-session") == nil
}

// Context is the pane coordinate set of the tmux client a helper command
// runs inside, read via display-message.
type Context struct {
	Session    string `json:"session"`
	Window     string `json:"window"`
	Pane       string `json:"pane"`
	WindowName string `json:"window_name"`
}

// CurrentContext returns the enclosing pane's coordinates, or ok=false when
// not running inside tmux.
func CurrentContext() (Context, bool) {
	out, err := execOutput("tmux", "display-message", "-p",
		"#{session_name}\t#{window_index}\t#{pane_index}\t#{window_name}")
	if err != nil {
		return Context{}, false
	}
	fields := strings.SplitN(strings.TrimSpace(string(out)), "\t", 4)
	if len(fields) < 4 {
		return Context{}, false
	}
	return Context{
		Session:    fields[0],
		Window:     fields[1],
		Pane:       fields[2],
		WindowName: fields[3],
	}, true
}

// Target assembles the session:window.pane coordinate.
func (c Context) Target() string {
	return c.Session + ":" + c.Window + "." + c.Pane
}
