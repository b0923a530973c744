// Package transcript derives a best-guess session state from the trailing
// records of a Claude Code conversation log. The log format is externally
// owned and semi-structured; classification is an approximation, and ties
// favor "still processing" except where staleness thresholds say otherwise.
package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/c3tools/c3d/internal/registry"
)

const (
	// tailWindow is how many trailing records are considered.
	tailWindow = 30

	// userStaleAfter is the file age past which a trailing user turn (or no
	// classifiable turn at all) means the agent is idle awaiting input.
	userStaleAfter = 15 * time.Second

	// toolUseStaleAfter is the file age past which a trailing tool_use block
	// means the agent is blocked on a permission prompt.
	toolUseStaleAfter = 5 * time.Second
)

// Result is the outcome of classifying a transcript tail.
type Result struct {
	State           registry.State
	PendingAction   *registry.PendingAction
	LastMessageTime time.Time // zero when no record in the window carried a timestamp
}

// claudeDirNameRegex matches any character Claude Code replaces with a
// hyphen when deriving a project directory name from a working directory.
var claudeDirNameRegex = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// ProjectDirName converts a filesystem path to Claude's project directory
// naming format, e.g. /Users/u/code/foo -> -Users-u-code-foo.
func ProjectDirName(path string) string {
	return claudeDirNameRegex.ReplaceAllString(path, "-")
}

// DefaultProjectsRoot returns ~/.claude/projects.
func DefaultProjectsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".claude", "projects")
	}
	return filepath.Join(home, ".claude", "projects")
}

// ProjectDir maps a working directory to its transcript directory under root.
func ProjectDir(root, cwd string) string {
	return filepath.Join(root, ProjectDirName(cwd))
}

// FindActiveTranscript returns the most recently modified .jsonl file in the
// project directory. A missing or empty directory yields ok=false.
func FindActiveTranscript(projectDir string) (string, bool) {
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return "", false
	}

	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(projectDir, e.Name())
			bestMod = info.ModTime()
		}
	}
	return best, best != ""
}

// Inspect reads the transcript tail and classifies it. The file's
// modification time relative to now supplies the staleness signal.
func Inspect(path string, now time.Time) (Result, error) {
	lines, err := readLastLines(path, tailWindow)
	if err != nil {
		return Result{}, err
	}

	var age time.Duration
	if info, err := os.Stat(path); err == nil {
		age = now.Sub(info.ModTime())
	}

	return Classify(lines, age), nil
}

// FileModTime returns the transcript's modification time.
func FileModTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// readLastLines returns the trailing n lines of the file.
func readLastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, sc.Err()
}

// record is the subset of a transcript entry this package reads.
type record struct {
	Type      string          `json:"type"`
	IsMeta    bool            `json:"isMeta"`
	Timestamp string          `json:"timestamp"`
	Message   *recordMessage  `json:"message"`
	Data      *recordDataWrap `json:"data"`
}

type recordMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp string          `json:"timestamp"`
}

type recordDataWrap struct {
	Message *recordMessage `json:"message"`
}

// contentBlock is one element of an array-valued message content.
type contentBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Name  string `json:"name"`
	Input *struct {
		Command string `json:"command"`
	} `json:"input"`
}

// Classify walks the trailing records backward and derives a state from the
// most recent real conversation turn. Pure function over the record window.
func Classify(lines []string, fileAge time.Duration) Result {
	res := Result{State: registry.StateProcessing}
	res.LastMessageTime = latestTimestamp(lines)

	for i := len(lines) - 1; i >= 0; i-- {
		var rec record
		if err := json.Unmarshal([]byte(lines[i]), &rec); err != nil {
			continue
		}
		if !isConversationRecord(&rec) {
			continue
		}

		switch rec.Type {
		case "user":
			res.State, res.PendingAction = classifyUserTurn(&rec, fileAge)
			return res
		case "assistant":
			state, pa, ok := classifyAssistantTurn(&rec, fileAge)
			if !ok {
				continue
			}
			res.State, res.PendingAction = state, pa
			return res
		}
	}

	// No classifiable turn in the window: a stale file means the agent is
	// idle at the prompt, a fresh one means it is mid-generation.
	if fileAge > userStaleAfter {
		res.State = registry.StateAwaitingInput
		res.PendingAction = registry.InputPendingAction()
	}
	return res
}

func classifyUserTurn(rec *record, fileAge time.Duration) (registry.State, *registry.PendingAction) {
	if blocks, ok := contentBlocks(rec.Message); ok {
		for _, b := range blocks {
			if b.Type == "tool_result" {
				// Tool-result continuation of an ongoing tool chain.
				return registry.StateProcessing, nil
			}
		}
	}
	// Genuine free-text user turn: if the file has gone stale the agent
	// already answered and is waiting for more input; fresh means it is
	// actively generating a response.
	if fileAge > userStaleAfter {
		return registry.StateAwaitingInput, registry.InputPendingAction()
	}
	return registry.StateProcessing, nil
}

func classifyAssistantTurn(rec *record, fileAge time.Duration) (registry.State, *registry.PendingAction, bool) {
	if rec.Message == nil {
		return "", nil, false
	}

	if blocks, ok := contentBlocks(rec.Message); ok {
		var hasToolUse, hasText, hasThinking bool
		var lastTool contentBlock
		for _, b := range blocks {
			switch b.Type {
			case "tool_use":
				hasToolUse = true
				lastTool = b
			case "text":
				hasText = true
			case "thinking":
				hasThinking = true
			}
		}

		if hasToolUse {
			if fileAge > toolUseStaleAfter {
				// Stale tool_use with no result yet: blocked on permission.
				command := ""
				if lastTool.Input != nil {
					command = lastTool.Input.Command
				}
				return registry.StateAwaitingPermission,
					registry.PermissionPendingAction(lastTool.Name, command), true
			}
			return registry.StateProcessing, nil, true
		}
		if hasText {
			return registry.StateAwaitingInput, registry.InputPendingAction(), true
		}
		if hasThinking {
			return registry.StateProcessing, nil, true
		}
		return "", nil, false
	}

	if isStringContent(rec.Message) {
		return registry.StateAwaitingInput, registry.InputPendingAction(), true
	}
	return "", nil, false
}

// isConversationRecord filters out bookkeeping entries: progress/system/
// snapshot/summary types, meta-flagged records, synthetic wrapper user
// entries, and explicit interruption markers.
func isConversationRecord(rec *record) bool {
	switch rec.Type {
	case "progress", "system", "file-history-snapshot", "summary":
		return false
	}
	if rec.IsMeta {
		return false
	}
	if rec.Message == nil {
		return false
	}

	if rec.Type == "user" {
		var text string
		if json.Unmarshal(rec.Message.Content, &text) == nil {
			if strings.HasPrefix(text, "<local-command-caveat>") ||
				strings.HasPrefix(text, "<bash-input>") ||
				strings.HasPrefix(text, "<bash-stdout>") ||
				strings.HasPrefix(text, "<bash-stderr>") ||
				text == "[Request interrupted by user]" {
				return false
			}
		}
		if blocks, ok := contentBlocks(rec.Message); ok {
			for _, b := range blocks {
				if b.Type == "text" && strings.Contains(b.Text, "[Request interrupted by user]") {
					return false
				}
			}
		}
	}

	switch {
	case rec.Type == "user" && rec.Message.Role == "user":
		return true
	case rec.Type == "assistant" && rec.Message.Role == "assistant":
		return true
	}
	return false
}

func contentBlocks(msg *recordMessage) ([]contentBlock, bool) {
	if msg == nil || len(msg.Content) == 0 {
		return nil, false
	}
	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

func isStringContent(msg *recordMessage) bool {
	if msg == nil || len(msg.Content) == 0 {
		return false
	}
	var s string
	return json.Unmarshal(msg.Content, &s) == nil
}

// latestTimestamp extracts the newest timestamp found anywhere in the
// window. Each record is checked at the top level, under message, and under
// data.message (progress entries carry theirs there).
func latestTimestamp(lines []string) time.Time {
	var latest time.Time
	for _, line := range lines {
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		for _, raw := range []string{
			rec.Timestamp,
			messageTimestamp(rec.Message),
			dataMessageTimestamp(rec.Data),
		} {
			if raw == "" {
				continue
			}
			if ts, err := time.Parse(time.RFC3339, raw); err == nil && ts.After(latest) {
				latest = ts
			}
		}
	}
	return latest
}

func messageTimestamp(msg *recordMessage) string {
	if msg == nil {
		return ""
	}
	return msg.Timestamp
}

func dataMessageTimestamp(data *recordDataWrap) string {
	if data == nil || data.Message == nil {
		return ""
	}
	return data.Message.Timestamp
}
