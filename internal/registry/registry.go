package registry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c3tools/c3d/internal/logging"
)

var regLog = logging.ForComponent(logging.CompRegistry)

const (
	// GraceWindow is how long a hook-driven write is immune to scanner
	// overwrite. The same window suppresses a Notification hook that
	// follows a Stop hook for the same session.
	GraceWindow = 10 * time.Second

	// NotifyDebounce is the minimum gap between delivered notifications
	// for one session.
	NotifyDebounce = time.Second

	// DecisionLogCap bounds the in-memory hook decision log.
	DecisionLogCap = 50
)

// Decision is one audit entry for a processed hook event.
type Decision struct {
	Timestamp      time.Time `json:"timestamp"`
	HookType       string    `json:"hook_type"`
	Cwd            string    `json:"cwd"`
	MatchedSession string    `json:"matched_session,omitempty"`
	NewState       string    `json:"new_state"`
	Skipped        bool      `json:"skipped"`
	SkipReason     string    `json:"skip_reason,omitempty"`
}

// ProtectionAge reports how long ago a session was last touched by a hook.
type ProtectionAge struct {
	SessionID string        `json:"session_id"`
	Age       time.Duration `json:"age"`
	Protected bool          `json:"protected"`
}

// Registry is the authoritative in-memory store of session records plus the
// per-session timestamp tables used for arbitration between the hook
// pipeline and the pane scanner. All methods are safe for concurrent use;
// Mutate gives a writer exclusivity across a full read-decide-write
// sequence for one session.
type Registry struct {
	clock Clock
	hub   *hub

	mu        sync.Mutex
	sessions  map[string]*Session
	hookMarks map[string]time.Time
	stopMarks map[string]time.Time
	sentMarks map[string]time.Time
	decisions []Decision
}

// New creates an empty registry. A nil clock defaults to the system clock.
func New(clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{
		clock:     clock,
		hub:       newHub(),
		sessions:  make(map[string]*Session),
		hookMarks: make(map[string]time.Time),
		stopMarks: make(map[string]time.Time),
		sentMarks: make(map[string]time.Time),
	}
}

// Now exposes the registry clock to collaborating writers.
func (r *Registry) Now() time.Time { return r.clock.Now() }

// Get returns a copy of the session record.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// List returns a snapshot of all sessions, ordered by id.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Upsert stores the session as an atomic replacement of any previous record.
// Last-activity never regresses unless the pending action was replaced.
// Returns the stored record.
func (r *Registry) Upsert(s Session) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertLocked(s)
}

func (r *Registry) upsertLocked(s Session) Session {
	s.normalize()
	if prev, ok := r.sessions[s.ID]; ok {
		if s.LastActivity.Before(prev.LastActivity) && pendingActionEqual(prev.PendingAction, s.PendingAction) {
			s.LastActivity = prev.LastActivity
		}
	}
	stored := s.clone()
	r.sessions[s.ID] = &stored
	return s
}

// Mutate runs fn against the current record for id under the registry lock.
// fn receives a working copy; returning false abandons the write. Returns
// the resulting record, whether the id existed, and whether fn applied.
func (r *Registry) Mutate(id string, fn func(s *Session) bool) (Session, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sessions[id]
	if !ok {
		return Session{}, false, false
	}
	work := cur.clone()
	if !fn(&work) {
		return cur.clone(), true, false
	}
	work.ID = id
	return r.upsertLocked(work), true, true
}

// Remove deletes the session and its timestamp marks, emitting a removal
// event when a record actually existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		delete(r.hookMarks, id)
		delete(r.stopMarks, id)
		delete(r.sentMarks, id)
	}
	r.mu.Unlock()

	if ok {
		regLog.Info("session_removed", slog.String("session_id", id))
		r.hub.publish(Event{Type: EventSessionRemoved, SessionID: id})
	}
	return ok
}

// MatchByPath finds the session whose project path corresponds to cwd.
// Exact path equality wins; otherwise prefix containment in either
// direction, preferring the candidate with the longest common prefix and
// breaking remaining ties by smallest session id.
func (r *Registry) MatchByPath(cwd string) (Session, bool) {
	if len(cwd) > 1 {
		cwd = strings.TrimRight(cwd, "/")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Session
	bestLen := -1
	for _, s := range r.sessions {
		if s.ProjectPath == "" {
			continue
		}
		if s.ProjectPath == cwd {
			return s.clone(), true
		}
		if !pathContains(cwd, s.ProjectPath) && !pathContains(s.ProjectPath, cwd) {
			continue
		}
		l := commonPrefixLen(cwd, s.ProjectPath)
		if l > bestLen || (l == bestLen && best != nil && s.ID < best.ID) {
			best = s
			bestLen = l
		}
	}
	if best == nil {
		return Session{}, false
	}
	return best.clone(), true
}

// pathContains reports whether child is inside parent (component-aware).
func pathContains(child, parent string) bool {
	if !strings.HasPrefix(child, parent) {
		return false
	}
	return len(child) == len(parent) || child[len(parent)] == '/' || strings.HasSuffix(parent, "/")
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// MarkHookTouched records that the hook pipeline just wrote this session.
func (r *Registry) MarkHookTouched(id string) {
	r.mu.Lock()
	r.hookMarks[id] = r.clock.Now()
	r.mu.Unlock()
}

// IsHookProtected reports whether the session is inside the hook grace
// window. Expiry is computed from elapsed time, never cleared.
func (r *Registry) IsHookProtected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.hookMarks[id]
	return ok && r.clock.Now().Sub(t) < GraceWindow
}

// MarkStopped records a Stop hook for the session.
func (r *Registry) MarkStopped(id string) {
	r.mu.Lock()
	r.stopMarks[id] = r.clock.Now()
	r.mu.Unlock()
}

// IsRecentlyStopped reports whether a Stop hook fired for the session
// inside the grace window.
func (r *Registry) IsRecentlyStopped(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.stopMarks[id]
	return ok && r.clock.Now().Sub(t) < GraceWindow
}

// ShouldNotify is the notification dispatch guard: the first request for a
// session is always allowed and recorded; any later request within the
// debounce window of the last allowed one is dropped without updating the
// record, so the window self-heals.
func (r *Registry) ShouldNotify(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if t, ok := r.sentMarks[id]; ok && now.Sub(t) < NotifyDebounce {
		return false
	}
	r.sentMarks[id] = now
	return true
}

// AppendDecision records a hook decision, retaining only the newest
// DecisionLogCap entries.
func (r *Registry) AppendDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	if len(r.decisions) > DecisionLogCap {
		r.decisions = r.decisions[len(r.decisions)-DecisionLogCap:]
	}
}

// Decisions returns a snapshot of the decision log, oldest first.
func (r *Registry) Decisions() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Decision, len(r.decisions))
	copy(out, r.decisions)
	return out
}

// ProtectionAges reports the age of every hook-protection mark, for the
// diagnostic surface only.
func (r *Registry) ProtectionAges() []ProtectionAge {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	out := make([]ProtectionAge, 0, len(r.hookMarks))
	for id, t := range r.hookMarks {
		age := now.Sub(t)
		out = append(out, ProtectionAge{SessionID: id, Age: age, Protected: age < GraceWindow})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// PublishUpdate broadcasts a change event carrying the given record.
func (r *Registry) PublishUpdate(s Session) {
	r.hub.publish(Event{Type: EventSessionUpdate, Session: &s, SessionID: s.ID})
}

// Subscribe registers an event channel; see Unsubscribe.
func (r *Registry) Subscribe() chan Event { return r.hub.subscribe() }

// Unsubscribe removes and closes a channel returned by Subscribe.
func (r *Registry) Unsubscribe(ch chan Event) { r.hub.unsubscribe(ch) }
