package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c3tools/c3d/internal/hooks"
	"github.com/c3tools/c3d/internal/metadb"
)

// handleHook ingests one hook event. The response body is a plain-text
// disposition string the hook script can inspect. Malformed payloads get a
// 400 and never touch the registry.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev hooks.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		srvLog.Error("hook_payload_malformed", slog.Any("error", err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	// An empty cwd would prefix-match every session; treat it as malformed.
	if ev.Cwd == "" {
		srvLog.Error("hook_payload_missing_cwd", slog.String("hook_type", ev.HookType))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	body := s.cfg.Pipeline.Process(ev)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

// handleSessions returns the current session snapshot.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Registry.List())
}

// handleDebug exposes the arbitration internals: the decision log, hook
// protection ages, and the session snapshot.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions":       s.cfg.Registry.Decisions(),
		"protection_ages": s.cfg.Registry.ProtectionAges(),
		"sessions":        s.cfg.Registry.List(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": s.cfg.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMeta serves the persisted session metadata collection.
// GET lists all rows; POST upserts one.
func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Meta == nil {
		http.Error(w, "metadata store unavailable", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		all, err := s.cfg.Meta.All()
		if err != nil {
			srvLog.Error("meta_list_failed", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, all)

	case http.MethodPost:
		var meta metadb.Meta
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil || meta.SessionID == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.Meta.Set(meta); err != nil {
			srvLog.Error("meta_set_failed", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMetaByID serves one session's metadata: GET fetches, DELETE removes.
func (s *Server) handleMetaByID(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Meta == nil {
		http.Error(w, "metadata store unavailable", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/meta/")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		meta, ok, err := s.cfg.Meta.Get(id)
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, meta)

	case http.MethodDelete:
		if err := s.cfg.Meta.Delete(id); err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
