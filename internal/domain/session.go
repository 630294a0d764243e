package domain

import "slices"

// AnonSessionID is the placeholder id used when a request carries no session.
// It is never persisted and never rotated.
const AnonSessionID = "s_anon"

// DefaultRecentWindow is the number of recently served ids kept per session.
const DefaultRecentWindow = 5

// QueueScope records what the current queue was built for.
type QueueScope int

const (
	// ScopeNone means no queue is staged; the next serve rebuilds.
	ScopeNone QueueScope = iota
	// ScopeType means the queue was built for ActiveType ("" = whole catalog).
	ScopeType
	// ScopePlaylist means the queue was built from the playlist, in playlist order.
	ScopePlaylist
)

func (s QueueScope) String() string {
	switch s {
	case ScopeType:
		return "type"
	case ScopePlaylist:
		return "playlist"
	default:
		return "none"
	}
}

// SessionState holds selection state for a learner session.
type SessionState struct {
	RecentWindow        int
	RecentIDs           []string
	Queue               []Item
	Scope               QueueScope
	LastType            string
	ActiveType          string
	ServesInCurrentType int
	PlaylistIDs         []string
}

// NewSessionState returns an empty state with the given recent window.
func NewSessionState(recentWindow int) *SessionState {
	if recentWindow <= 0 {
		recentWindow = DefaultRecentWindow
	}
	return &SessionState{RecentWindow: recentWindow}
}

// PushRecent records a served id, evicting the oldest once the window is full.
func (s *SessionState) PushRecent(id string) {
	if id == "" {
		return
	}
	s.RecentIDs = append(s.RecentIDs, id)
	if over := len(s.RecentIDs) - s.RecentWindow; over > 0 {
		s.RecentIDs = slices.Clone(s.RecentIDs[over:])
	}
}

// IsRecent reports whether id is inside the recent window.
func (s *SessionState) IsRecent(id string) bool {
	return slices.Contains(s.RecentIDs, id)
}

// ClearRecent empties the recent window, allowing repeats.
func (s *SessionState) ClearRecent() {
	s.RecentIDs = nil
}

// HasPlaylist reports whether a playlist restriction is active.
func (s *SessionState) HasPlaylist() bool {
	return len(s.PlaylistIDs) > 0
}

// DropQueue empties the queue so the next serve rebuilds it.
func (s *SessionState) DropQueue() {
	s.Queue = nil
	s.Scope = ScopeNone
}

// SessionSnapshot is the persisted and externally visible view of a session.
// The queue is deliberately absent; it is rebuilt on demand.
type SessionSnapshot struct {
	RecentWindow        int      `json:"recent_window"`
	RecentIDs           []string `json:"recent_ids"`
	LastType            string   `json:"last_type"`
	ActiveType          string   `json:"active_type"`
	ServesInCurrentType int      `json:"serves_in_current_type"`
	PlaylistIDs         []string `json:"playlist_ids,omitempty"`
}

// Snapshot copies the persistable part of the state.
func (s *SessionState) Snapshot() SessionSnapshot {
	recent := slices.Clone(s.RecentIDs)
	if recent == nil {
		recent = []string{}
	}
	return SessionSnapshot{
		RecentWindow:        s.RecentWindow,
		RecentIDs:           recent,
		LastType:            s.LastType,
		ActiveType:          s.ActiveType,
		ServesInCurrentType: s.ServesInCurrentType,
		PlaylistIDs:         slices.Clone(s.PlaylistIDs),
	}
}

// SessionStateFromSnapshot rebuilds a state from a stored snapshot, repairing
// values that would break the state invariants.
func SessionStateFromSnapshot(snap SessionSnapshot, defaultWindow int) *SessionState {
	window := snap.RecentWindow
	if window <= 0 {
		window = defaultWindow
	}
	s := NewSessionState(window)
	for _, id := range snap.RecentIDs {
		s.PushRecent(id)
	}
	s.LastType = snap.LastType
	s.ActiveType = NormalizeType(snap.ActiveType)
	if snap.ServesInCurrentType > 0 {
		s.ServesInCurrentType = snap.ServesInCurrentType
	}
	s.PlaylistIDs = CleanIDs(snap.PlaylistIDs)
	return s
}

// CleanIDs drops empty ids and duplicates, keeping first occurrences in order.
func CleanIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
