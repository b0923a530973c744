package registry

import (
	"strings"
	"time"
)

// State is the lifecycle state of a tracked session.
type State string

const (
	StateSpawning           State = "spawning"
	StateProcessing         State = "processing"
	StateAwaitingInput      State = "awaiting_input"
	StateAwaitingPermission State = "awaiting_permission"
	StateComplete           State = "complete"
	StateError              State = "error"
)

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	switch s {
	case StateSpawning, StateProcessing, StateAwaitingInput,
		StateAwaitingPermission, StateComplete, StateError:
		return true
	}
	return false
}

// AwaitingUser reports whether the state represents a session blocked on the user.
func (s State) AwaitingUser() bool {
	return s == StateAwaitingInput || s == StateAwaitingPermission
}

// PendingAction describes what a session is currently blocked on.
// Present only while the session state is awaiting_input or awaiting_permission.
type PendingAction struct {
	Type        string `json:"type"` // "input" or "permission"
	Description string `json:"description"`
	Tool        string `json:"tool,omitempty"`
	Command     string `json:"command,omitempty"`
}

// Metrics holds optional usage counters reported by a client.
type Metrics struct {
	TokensUsed *uint64    `json:"tokensUsed,omitempty"`
	TaskCount  *uint32    `json:"taskCount,omitempty"`
	StartTime  *time.Time `json:"startTime,omitempty"`
}

// Session is one tracked agent session. The id is derived from the tmux pane
// address ("tmux:<session>:<window>.<pane>") for scanner-discovered sessions.
type Session struct {
	ID            string         `json:"id"`
	ProjectName   string         `json:"projectName"`
	ProjectPath   string         `json:"projectPath,omitempty"`
	State         State          `json:"state"`
	TmuxTarget    string         `json:"tmuxTarget,omitempty"`
	LastActivity  time.Time      `json:"lastActivity"`
	PendingAction *PendingAction `json:"pendingAction,omitempty"`
	Metrics       *Metrics       `json:"metrics,omitempty"`
}

// TmuxSessionIDPrefix marks sessions owned by the pane scanner.
const TmuxSessionIDPrefix = "tmux:"

// TmuxSessionID builds the registry id for a tmux pane target.
func TmuxSessionID(target string) string {
	return TmuxSessionIDPrefix + target
}

// maxCommandLen caps pending-action command text.
const maxCommandLen = 100

// TruncateCommand shortens command text to at most 100 characters,
// replacing the tail with an ellipsis marker.
func TruncateCommand(s string) string {
	runes := []rune(s)
	if len(runes) <= maxCommandLen {
		return s
	}
	return string(runes[:maxCommandLen-3]) + "..."
}

// InputPendingAction returns the generic "waiting for user input" action.
func InputPendingAction() *PendingAction {
	return &PendingAction{
		Type:        "input",
		Description: "Waiting for user input",
	}
}

// PermissionPendingAction builds a permission action for a tool invocation.
// The command is truncated; an empty tool name falls back to "a tool".
func PermissionPendingAction(tool, command string) *PendingAction {
	name := tool
	if name == "" {
		name = "a tool"
	}
	pa := &PendingAction{
		Type:        "permission",
		Description: "Wants to use " + name,
		Tool:        tool,
	}
	if command != "" {
		pa.Command = TruncateCommand(command)
	}
	return pa
}

func pendingActionEqual(a, b *PendingAction) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// normalize enforces record invariants before a session is stored:
// pending actions exist only in awaiting states, and command text stays
// within the truncation limit.
func (s *Session) normalize() {
	if !s.State.AwaitingUser() {
		s.PendingAction = nil
	}
	if s.PendingAction != nil && s.PendingAction.Command != "" {
		s.PendingAction.Command = TruncateCommand(s.PendingAction.Command)
	}
	if len(s.ProjectPath) > 1 {
		s.ProjectPath = strings.TrimRight(s.ProjectPath, "/")
	}
}

func (s Session) clone() Session {
	out := s
	if s.PendingAction != nil {
		pa := *s.PendingAction
		out.PendingAction = &pa
	}
	if s.Metrics != nil {
		m := *s.Metrics
		out.Metrics = &m
	}
	return out
}
