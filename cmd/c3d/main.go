package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/c3tools/c3d/internal/config"
	"github.com/c3tools/c3d/internal/hooks"
	"github.com/c3tools/c3d/internal/logging"
	"github.com/c3tools/c3d/internal/metadb"
	"github.com/c3tools/c3d/internal/notify"
	"github.com/c3tools/c3d/internal/platform"
	"github.com/c3tools/c3d/internal/registry"
	"github.com/c3tools/c3d/internal/scanner"
	"github.com/c3tools/c3d/internal/server"
	"github.com/c3tools/c3d/internal/tmux"
	"github.com/c3tools/c3d/internal/transcript"
)

// Version is the current c3d version.
const Version = "0.4.1"

// metaRetentionDays bounds how long untouched session metadata rows live.
const metaRetentionDays = 30

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		runServe(nil)
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("c3d v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "serve":
		runServe(args[1:])
	case "hooks":
		handleHooks(args[1:])
	case "hook-send":
		handleHookSend(args[1:])
	case "sessions", "ls":
		handleSessions(args[1:])
	case "focus":
		handleFocus(args[1:])
	case "close":
		handleClose(args[1:])
	case "new":
		handleNew(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`c3d - session state daemon for AI coding agents in tmux

Usage:
  c3d [serve]              Run the daemon (default)
  c3d hooks install        Install hook entries into Claude settings
  c3d hooks uninstall      Remove our hook entries from Claude settings
  c3d hooks status         Show whether hooks are installed
  c3d hook-send <event>    Forward a hook payload from stdin to the daemon
  c3d sessions             List tracked sessions
  c3d focus <target>       Bring a tmux pane to the foreground (session:window.pane)
  c3d close <target>       Kill a tmux pane
  c3d new <session> [dir]  Start a new agent window in a tmux session
  c3d version              Print version

Serve flags:
  -addr string             Override the listen address
  -debug                   Log to stderr instead of the log file
`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addrFlag := fs.String("addr", "", "listen address (overrides config)")
	debug := fs.Bool("debug", false, "log to stderr")
	_ = fs.Parse(args)

	cfg, cfgErr := config.Load()

	dir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot resolve config dir: %v\n", err)
		os.Exit(1)
	}

	logDir := dir
	if *debug {
		logDir = ""
	}
	logging.Init(logging.Config{
		LogDir: logDir,
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Debug:  *debug,
	})
	defer logging.Shutdown()

	log := logging.Logger()
	if cfgErr != nil {
		log.Warn("config_load_failed, using defaults", slog.Any("error", cfgErr))
	}

	addr := cfg.ListenAddr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	interval := scanner.DefaultInterval
	if cfg.ScanIntervalSeconds > 0 {
		interval = time.Duration(cfg.ScanIntervalSeconds) * time.Second
	}

	projectsRoot := transcript.DefaultProjectsRoot()
	if warning := platform.CheckFsnotifySupport(projectsRoot); warning != "" {
		log.Warn("fsnotify_support", slog.String("warning", warning))
	}

	reg := registry.New(nil)
	dispatcher := notify.New(reg)
	pipeline := hooks.New(reg, dispatcher)
	sc := scanner.New(reg, projectsRoot, interval)

	meta, err := metadb.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		log.Warn("metadb_open_failed, metadata endpoints disabled", slog.Any("error", err))
		meta = nil
	} else {
		defer meta.Close()
		if n, err := meta.Prune(time.Now().AddDate(0, 0, -metaRetentionDays)); err != nil {
			log.Warn("metadb_prune_failed", slog.Any("error", err))
		} else if n > 0 {
			log.Info("metadb_pruned", slog.Int64("rows", n))
		}
	}

	srv := server.New(server.Config{
		ListenAddr: addr,
		Registry:   reg,
		Pipeline:   pipeline,
		Meta:       meta,
		Version:    Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP re-reads config.toml so sound and notification edits apply
	// without a restart. Listen address changes still need a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if _, err := config.Reload(); err != nil {
				log.Warn("config_reload_failed", slog.Any("error", err))
				continue
			}
			log.Info("config_reloaded")
		}
	}()

	go sc.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info("daemon_started",
		slog.String("version", Version),
		slog.String("addr", addr),
		slog.String("platform", platform.Detect().String()))

	select {
	case <-ctx.Done():
		log.Info("shutdown_signal")
	case err := <-errCh:
		if err != nil {
			log.Error("server_failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown_failed", slog.Any("error", err))
	}
}

func handleHooks(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: c3d hooks <install|uninstall|status>")
		os.Exit(1)
	}

	configDir := hooks.DefaultClaudeConfigDir()
	switch args[0] {
	case "install":
		changed, err := hooks.Install(configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if changed {
			fmt.Printf("Installed hooks into %s\n", filepath.Join(configDir, "settings.json"))
		} else {
			fmt.Println("Hooks already installed")
		}
	case "uninstall":
		changed, err := hooks.Uninstall(configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if changed {
			fmt.Println("Removed hooks")
		} else {
			fmt.Println("No hooks to remove")
		}
	case "status":
		if hooks.Installed(configDir) {
			fmt.Println("Hooks installed")
		} else {
			fmt.Println("Hooks not installed")
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown hooks command: %s\n", args[0])
		os.Exit(1)
	}
}

func handleSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print raw JSON")
	_ = fs.Parse(args)

	resp, err := http.Get(daemonURL() + "/sessions")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: daemon not reachable: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if *asJSON {
		if _, err := copyBody(os.Stdout, resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var sessions []registry.Session
	if err := decodeBody(resp, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return
	}
	fmt.Printf("%-24s %-20s %-12s %s\n", "ID", "PROJECT", "STATE", "TMUX")
	for _, s := range sessions {
		fmt.Printf("%-24s %-20s %-12s %s\n", s.ID, s.ProjectName, s.State, s.TmuxTarget)
	}
}

// handleFocus brings the terminal app forward, then selects the pane. This
// is the click target installed on notifications.
func handleFocus(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: c3d focus <session:window.pane>")
		os.Exit(1)
	}
	if !tmux.ServerRunning() {
		fmt.Fprintln(os.Stderr, "Error: no tmux server running")
		os.Exit(1)
	}

	cfg, _ := config.Load()
	app := cfg.TerminalApp
	if app == "" {
		app = platform.DetectTerminal()
	}
	if app != "" {
		if err := platform.ActivateTerminal(app); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot activate %s: %v\n", app, err)
		}
	}

	if err := tmux.FocusPane(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleClose(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: c3d close <session:window.pane>")
		os.Exit(1)
	}
	if err := tmux.KillPane(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// handleNew opens a fresh agent window in an existing tmux session; the
// scanner picks it up on the next cycle.
func handleNew(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: c3d new <tmux-session> [workdir]")
		os.Exit(1)
	}
	workDir := ""
	if len(args) > 1 {
		workDir = args[1]
	}
	target, err := tmux.SpawnAgentWindow(args[0], workDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(target)
}

// daemonURL resolves the daemon base URL from config, falling back to the
// default bind address when config is unreadable.
func daemonURL() string {
	cfg, err := config.Load()
	if err != nil || cfg.ListenAddr == "" {
		return "http://" + config.DefaultListenAddr
	}
	return "http://" + cfg.ListenAddr
}

func copyBody(dst io.Writer, resp *http.Response) (int64, error) {
	return io.Copy(dst, resp.Body)
}

func decodeBody(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
