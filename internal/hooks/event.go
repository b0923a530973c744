package hooks

import (
	"encoding/json"

	"github.com/c3tools/c3d/internal/tmux"
)

// Event is the payload Claude Code hooks POST to the daemon.
type Event struct {
	HookType        string          `json:"hook_type"`
	Cwd             string          `json:"cwd"`
	SessionID       string          `json:"session_id,omitempty"`
	ToolName        string          `json:"tool_name,omitempty"`
	ToolInput       json.RawMessage `json:"tool_input,omitempty"`
	SkipPermissions bool            `json:"skip_permissions,omitempty"`
	Tmux            *tmux.Context   `json:"tmux,omitempty"`
}

// ToolCommand extracts the "command" field of the tool input, when present.
func (e *Event) ToolCommand() string {
	if len(e.ToolInput) == 0 {
		return ""
	}
	var input struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(e.ToolInput, &input); err != nil {
		return ""
	}
	return input.Command
}
