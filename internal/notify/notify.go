// Package notify turns session transitions into OS notifications. It applies
// the user's per-category sound settings and the per-session debounce before
// handing delivery to the platform layer.
package notify

import (
	"log/slog"
	"os"
	"strings"

	"github.com/c3tools/c3d/internal/config"
	"github.com/c3tools/c3d/internal/logging"
	"github.com/c3tools/c3d/internal/platform"
	"github.com/c3tools/c3d/internal/registry"
	"github.com/c3tools/c3d/internal/tmux"
)

var notifLog = logging.ForComponent(logging.CompNotif)

// Request describes one notification-worthy event.
type Request struct {
	// SessionID keys the debounce. Empty requests are never debounced
	// (there is no session to attribute repeats to).
	SessionID string

	// Category selects the sound config: "permission", "input" or "complete".
	Category string

	Message     string
	Subtitle    string
	ProjectName string

	// Tmux carries the originating pane so the notification can offer
	// click-to-focus.
	Tmux *tmux.Context
}

// Dispatcher delivers notifications. Config is loaded per dispatch so
// settings edits apply without restarting the daemon.
type Dispatcher struct {
	reg *registry.Registry

	loadConfig func() (*config.Config, error)
	send       func(platform.Notification)
	playSound  func(string)
}

// New builds a dispatcher bound to the registry's debounce state.
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		reg:        reg,
		loadConfig: config.Load,
		send:       platform.Send,
		playSound:  platform.PlaySound,
	}
}

// Dispatch delivers the request unless notifications are disabled or the
// session is inside its debounce window. Suppressed deliveries do not extend
// the window.
func (d *Dispatcher) Dispatch(req Request) {
	if req.Message == "" {
		return
	}

	cfg, err := d.loadConfig()
	if err != nil {
		notifLog.Warn("settings_load_failed", slog.Any("error", err))
	}
	if !cfg.NotificationsEnabled {
		return
	}

	if req.SessionID != "" && !d.reg.ShouldNotify(req.SessionID) {
		notifLog.Debug("notification_debounced",
			slog.String("session_id", req.SessionID),
			slog.String("category", req.Category))
		return
	}

	sound := ""
	if sc := cfg.SoundFor(req.Category); sc.Enabled {
		switch {
		case sc.Sound == "":
			sound = "Ping"
		case strings.HasPrefix(sc.Sound, "/"):
			// Custom files go through afplay; the notifier only accepts
			// system sound names.
			d.playSound(sc.Sound)
		default:
			sound = sc.Sound
		}
	}

	title := "c3d"
	if req.ProjectName != "" {
		title = "c3d — " + req.ProjectName
	}

	n := platform.Notification{
		Message:  req.Message,
		Title:    title,
		Subtitle: enrichSubtitle(req.Subtitle, req.Tmux),
		Sound:    sound,
	}
	if req.Tmux != nil && req.Tmux.Session != "" && req.Tmux.Window != "" {
		n.ClickCommand = focusCommand(req.Tmux)
	} else {
		n.ActivateApp = cfg.TerminalApp
		if n.ActivateApp == "" {
			n.ActivateApp = platform.DetectTerminal()
		}
	}

	d.send(n)
	notifLog.Info("notification_sent",
		slog.String("session_id", req.SessionID),
		slog.String("category", req.Category),
		slog.String("title", title))
}

// enrichSubtitle appends the pane coordinates so the user can see which
// session is asking without clicking through.
func enrichSubtitle(base string, ctx *tmux.Context) string {
	if ctx == nil || ctx.Session == "" {
		return base
	}
	loc := ctx.Session + ":" + ctx.Window + "." + ctx.Pane + " (" + ctx.WindowName + ")"
	if base == "" {
		return loc
	}
	return base + " | " + loc
}

// focusCommand is the click handler: re-enter the daemon binary to focus the
// originating pane.
func focusCommand(ctx *tmux.Context) string {
	exe, err := os.Executable()
	if err != nil {
		exe = "c3d"
	}
	return exe + " focus '" + ctx.Target() + "'"
}
