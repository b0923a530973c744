package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/c3tools/c3d/internal/tmux"
)

// hookSendTimeout bounds the POST so a stalled daemon never blocks the agent.
const hookSendTimeout = 2 * time.Second

// handleHookSend reads the hook payload from stdin, stamps it with the event
// name and the caller's tmux coordinates, and forwards it to the daemon.
// Failures go to stderr but the exit code stays zero so the agent is never
// blocked by a missing daemon.
func handleHookSend(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: c3d hook-send <event>")
		return
	}
	event := args[0]

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hook-send: read stdin: %v\n", err)
		return
	}

	var tc *tmux.Context
	if ctx, ok := tmux.CurrentContext(); ok {
		tc = &ctx
	}

	payload, err := buildHookPayload(event, raw, tc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hook-send: %v\n", err)
		return
	}

	client := &http.Client{Timeout: hookSendTimeout}
	resp, err := client.Post(daemonURL()+"/hook", "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "hook-send: daemon not reachable: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "hook-send: daemon returned %d: %s\n", resp.StatusCode, bytes.TrimSpace(body))
		return
	}
	fmt.Println(string(bytes.TrimSpace(body)))
}

// buildHookPayload merges the event name and tmux coordinates into the raw
// payload without disturbing fields we do not understand. Empty stdin yields
// a minimal payload carrying just the event.
func buildHookPayload(event string, raw []byte, tc *tmux.Context) ([]byte, error) {
	payload := map[string]json.RawMessage{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, fmt.Errorf("parse hook payload: %w", err)
		}
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	payload["hook_type"] = eventJSON

	if tc != nil {
		ctxJSON, err := json.Marshal(tc)
		if err != nil {
			return nil, err
		}
		payload["tmux"] = ctxJSON
	}

	return json.Marshal(payload)
}
