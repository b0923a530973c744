// Package hooks is the fast-path writer: it maps Claude Code hook events to
// session state transitions and notification requests. Every decision,
// including skips, lands in the registry's decision log.
package hooks

import (
	"log/slog"

	"github.com/c3tools/c3d/internal/logging"
	"github.com/c3tools/c3d/internal/notify"
	"github.com/c3tools/c3d/internal/registry"
)

var hookLog = logging.ForComponent(logging.CompHooks)

// Response bodies returned to the hook script. The script greps these to
// decide whether to retry, so they are part of the wire contract.
const (
	RespSkippedPermissions = "skipped:skip_permissions"
	RespSkippedStop        = "skipped:stop_recently"
	RespNoMatch            = "no_match"
	RespUnknownHook        = "unknown_hook"
	respMatchedPrefix      = "matched:"
)

// hookRule maps one hook type to its transition and notification content.
type hookRule struct {
	state    registry.State
	message  string
	subtitle string
	category string
}

var hookRules = map[string]hookRule{
	"PermissionRequest": {registry.StateAwaitingPermission, "Claude needs permission to continue", "Permission Required", "permission"},
	"PreToolUse":        {registry.StateAwaitingPermission, "Claude needs permission to continue", "Permission Required", "permission"},
	"Notification":      {registry.StateAwaitingInput, "Claude is waiting for your response", "Input Needed", "input"},
	"Stop":              {registry.StateComplete, "Claude has finished processing", "Task Complete", "complete"},
	"SessionStart":      {registry.StateProcessing, "Session started", "Welcome Back", ""},
	"PostToolUse":       {state: registry.StateProcessing},
}

// Notifier abstracts the dispatch side so tests can observe requests.
type Notifier interface {
	Dispatch(req notify.Request)
}

// Pipeline processes hook events against the registry.
type Pipeline struct {
	reg      *registry.Registry
	notifier Notifier
}

// New builds a pipeline. A nil notifier disables notifications.
func New(reg *registry.Registry, notifier Notifier) *Pipeline {
	return &Pipeline{reg: reg, notifier: notifier}
}

// Process runs the event through the arbitration rules and returns the
// response body for the hook script.
func (p *Pipeline) Process(ev Event) string {
	hookLog.Info("hook_received",
		slog.String("hook_type", ev.HookType),
		slog.String("cwd", ev.Cwd),
		slog.Bool("skip_permissions", ev.SkipPermissions))

	// Permission prompts never fire under --dangerously-skip-permissions;
	// a permission-class hook arriving anyway is stale and must not flip
	// state.
	if ev.SkipPermissions && hookRules[ev.HookType].state == registry.StateAwaitingPermission {
		p.logDecision(ev, "", "n/a", "--dangerously-skip-permissions")
		return RespSkippedPermissions
	}

	// Claude fires Stop and Notification together when finishing; the
	// Notification arrives second and would bounce complete back to
	// awaiting_input.
	if ev.HookType == "Notification" {
		if s, ok := p.reg.MatchByPath(ev.Cwd); ok && p.reg.IsRecentlyStopped(s.ID) {
			p.logDecision(ev, "", "n/a", "Stop fired recently")
			return RespSkippedStop
		}
	}

	rule, known := hookRules[ev.HookType]
	if !known {
		p.logDecision(ev, "", "n/a", "unknown hook type")
		return RespUnknownHook
	}

	matched, found := p.reg.MatchByPath(ev.Cwd)
	if !found {
		hookLog.Warn("no_session_for_cwd", slog.String("cwd", ev.Cwd))
		p.logDecision(ev, "", string(rule.state), "no matching session")
		p.maybeNotify(ev, rule, "", "")
		return RespNoMatch
	}

	// A finished session stays finished: a trailing Notification must not
	// resurrect it as awaiting input.
	if matched.State == registry.StateComplete && rule.state == registry.StateAwaitingInput {
		p.logDecision(ev, matched.ID, string(rule.state), "session already complete")
		return respMatchedPrefix + matched.ID
	}

	updated, _, applied := p.reg.Mutate(matched.ID, func(s *registry.Session) bool {
		s.State = rule.state
		s.LastActivity = p.reg.Now()
		if rule.state == registry.StateAwaitingPermission {
			s.PendingAction = registry.PermissionPendingAction(ev.ToolName, ev.ToolCommand())
		} else {
			s.PendingAction = nil
		}
		return true
	})
	if applied {
		hookLog.Info("hook_transition",
			slog.String("session_id", matched.ID),
			slog.String("from", string(matched.State)),
			slog.String("to", string(rule.state)))
		p.reg.AppendDecision(registry.Decision{
			Timestamp:      p.reg.Now(),
			HookType:       ev.HookType,
			Cwd:            ev.Cwd,
			MatchedSession: matched.ID,
			NewState:       string(rule.state),
		})
		p.reg.MarkHookTouched(matched.ID)
		if ev.HookType == "Stop" {
			p.reg.MarkStopped(matched.ID)
		}
		p.reg.PublishUpdate(updated)
	}

	p.maybeNotify(ev, rule, matched.ID, matched.ProjectName)
	return respMatchedPrefix + matched.ID
}

func (p *Pipeline) maybeNotify(ev Event, rule hookRule, sessionID, projectName string) {
	if p.notifier == nil || rule.message == "" {
		return
	}
	p.notifier.Dispatch(notify.Request{
		SessionID:   sessionID,
		Category:    rule.category,
		Message:     rule.message,
		Subtitle:    rule.subtitle,
		ProjectName: projectName,
		Tmux:        ev.Tmux,
	})
}

func (p *Pipeline) logDecision(ev Event, matched, newState, skipReason string) {
	p.reg.AppendDecision(registry.Decision{
		Timestamp:      p.reg.Now(),
		HookType:       ev.HookType,
		Cwd:            ev.Cwd,
		MatchedSession: matched,
		NewState:       newState,
		Skipped:        true,
		SkipReason:     skipReason,
	})
	hookLog.Info("hook_skipped",
		slog.String("hook_type", ev.HookType),
		slog.String("reason", skipReason))
}
