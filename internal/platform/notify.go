package platform

import (
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/c3tools/c3d/internal/logging"
)

var notifLog = logging.ForComponent(logging.CompNotif)

// knownTerminals lists terminal apps in auto-detection preference order.
var knownTerminals = []string{
	"Ghostty",
	"iTerm",
	"Alacritty",
	"kitty",
	"WezTerm",
	"Warp",
	"Terminal",
}

// spawnCommand starts a command without waiting. Swapped out by tests.
var spawnCommand = func(name string, args ...string) error {
	return exec.Command(name, args...).Start()
}

// runCommand runs a command to completion. Swapped out by tests.
var runCommand = func(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// fileExists is stubbed in tests to fake installed apps and sound files.
var fileExists = func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DetectTerminal returns the first known terminal that is running, then the
// first one installed, or "" when none is found. macOS only.
func DetectTerminal() string {
	if Detect() != PlatformMacOS {
		return ""
	}
	for _, term := range knownTerminals {
		if runCommand("pgrep", "-x", term) == nil {
			return term
		}
	}
	for _, term := range knownTerminals {
		if fileExists("/Applications/" + term + ".app") {
			return term
		}
	}
	return ""
}

// Notification is one OS notification to deliver.
type Notification struct {
	Message  string
	Title    string
	Subtitle string

	// Sound is a system sound name passed to the notifier. Empty means
	// silent (a custom sound file is played separately via PlaySound).
	Sound string

	// ClickCommand runs when the notification is clicked, typically a tmux
	// pane switch. Empty falls back to activating the terminal app.
	ClickCommand string

	// ActivateApp is the bundle or app name to bring forward on click when
	// no ClickCommand is set.
	ActivateApp string
}

// Send delivers the notification through terminal-notifier. On non-macOS
// platforms delivery is a logged no-op.
func Send(n Notification) {
	if Detect() != PlatformMacOS {
		notifLog.Debug("notification_skipped_platform",
			slog.String("platform", Detect().String()),
			slog.String("title", n.Title))
		return
	}

	args := []string{
		"-message", n.Message,
		"-title", n.Title,
		"-subtitle", n.Subtitle,
	}
	if n.Sound != "" && !strings.HasPrefix(n.Sound, "/") {
		args = append(args, "-sound", n.Sound)
	}
	if n.ClickCommand != "" {
		args = append(args, "-execute", n.ClickCommand)
	} else if n.ActivateApp != "" {
		args = append(args, "-activate", n.ActivateApp)
	}

	if err := spawnCommand("terminal-notifier", args...); err != nil {
		notifLog.Error("notification_send_failed", slog.Any("error", err))
	}
}

// PlaySound plays a sound by system name or absolute file path via afplay.
func PlaySound(sound string) {
	if Detect() != PlatformMacOS {
		return
	}
	soundFile := sound
	if !strings.HasPrefix(sound, "/") {
		soundFile = "/System/Library/Sounds/" + sound + ".aiff"
	}
	if !fileExists(soundFile) {
		notifLog.Debug("sound_file_missing", slog.String("path", soundFile))
		return
	}
	if err := spawnCommand("afplay", soundFile); err != nil {
		notifLog.Debug("sound_play_failed", slog.Any("error", err))
	}
}

// ActivateTerminal brings the terminal app forward via osascript.
func ActivateTerminal(app string) error {
	if Detect() != PlatformMacOS || app == "" {
		return nil
	}
	return runCommand("osascript", "-e", `tell application "`+app+`" to activate`)
}
