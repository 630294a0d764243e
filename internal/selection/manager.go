// Package selection picks the next catalog item for a learner session.
package selection

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/metrics"
	"github.com/ashureev/shsh-tutor/internal/policy"
	"github.com/ashureev/shsh-tutor/internal/store"
)

const hydrateTimeout = 10 * time.Second

// Config holds the process-wide selection settings.
type Config struct {
	RecentWindow  int
	DefaultPolicy string
	Threshold     int
	EngineStrict  bool
}

// NextOptions are the per-call overrides for Next.
type NextOptions struct {
	// TargetType, when non-nil, scopes this call to one type and beats
	// every policy and playlist.
	TargetType *string
	// Policy overrides Config.DefaultPolicy for this call.
	Policy string
}

// Option configures a Manager.
type Option func(*Manager)

// WithRand sets the source used to shuffle queues.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rng = r }
}

// WithMetrics records serves, rebuilds and rotations.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

type sessionEntry struct {
	mu    sync.Mutex
	state *domain.SessionState
}

// Manager holds per-session selection state for the life of the process.
// Different sessions proceed in parallel; calls for one session are
// serialized.
type Manager struct {
	cfg       Config
	threshold int
	repo      store.SelectionRepository

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	// snapshots mirrors every session's latest persisted view. The persister
	// reads it, so it has its own lock and never waits on a session.
	snapMu    sync.Mutex
	snapshots map[string]domain.SessionSnapshot

	rngMu sync.Mutex
	rng   *rand.Rand

	persister *persister
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewManager builds a manager and hydrates it from repo. Sessions that fail
// to load are skipped.
func NewManager(cfg Config, repo store.SelectionRepository, opts ...Option) *Manager {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = domain.DefaultRecentWindow
	}
	if repo == nil {
		repo = store.NewNoop()
	}

	m := &Manager{
		cfg:       cfg,
		threshold: policy.Threshold(cfg.Threshold),
		repo:      repo,
		sessions:  make(map[string]*sessionEntry),
		snapshots: make(map[string]domain.SessionSnapshot),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if repo.Enabled() {
		m.hydrate()
		m.persister = newPersister(repo, m.persistedTable, m.logger, m.metrics)
	}
	m.metrics.SetSessions(len(m.sessions))

	return m
}

func (m *Manager) hydrate() {
	ctx, cancel := context.WithTimeout(context.Background(), hydrateTimeout)
	defer cancel()

	stored, err := m.repo.LoadSelectionState(ctx)
	if err != nil {
		m.metrics.ObservePersistError(m.repo.Backend(), "load")
		m.logger.Warn("Failed to load selection state, starting empty",
			"backend", m.repo.Backend(),
			"error", err,
		)
	}

	for sid, snap := range stored {
		if sid == "" || sid == domain.AnonSessionID {
			continue
		}
		st := domain.SessionStateFromSnapshot(snap, m.cfg.RecentWindow)
		m.sessions[sid] = &sessionEntry{state: st}
		m.snapshots[sid] = st.Snapshot()
	}

	m.logger.Info("Selection state loaded",
		"backend", m.repo.Backend(),
		"sessions", len(m.sessions),
	)
}

// entry returns the session's entry, creating it when missing. created
// reports whether a new state was made.
func (m *Manager) entry(sessionID string) (e *sessionEntry, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[sessionID]; ok {
		return e, false
	}
	e = &sessionEntry{state: domain.NewSessionState(m.cfg.RecentWindow)}
	m.sessions[sessionID] = e
	m.metrics.SetSessions(len(m.sessions))
	return e, true
}

// record stores the session's snapshot and schedules a save. Must be called
// with the session's lock held.
func (m *Manager) record(sessionID string, st *domain.SessionState) {
	if sessionID == "" || sessionID == domain.AnonSessionID || m.persister == nil {
		return
	}
	m.snapMu.Lock()
	m.snapshots[sessionID] = st.Snapshot()
	m.snapMu.Unlock()
	m.persister.Submit()
}

// persistedTable copies the snapshot table for a save.
func (m *Manager) persistedTable() map[string]domain.SessionSnapshot {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()

	out := make(map[string]domain.SessionSnapshot, len(m.snapshots))
	for sid, snap := range m.snapshots {
		out[sid] = snap
	}
	return out
}

func (m *Manager) shuffle(items []domain.Item) {
	swap := func(i, j int) { items[i], items[j] = items[j], items[i] }
	if m.rng == nil {
		rand.Shuffle(len(items), swap)
		return
	}
	m.rngMu.Lock()
	m.rng.Shuffle(len(items), swap)
	m.rngMu.Unlock()
}

// Next returns the next item for sessionID, or false when catalog is empty.
// An empty catalog creates no session state.
func (m *Manager) Next(sessionID string, catalog []domain.Item, opts NextOptions) (domain.Item, bool) {
	if len(catalog) == 0 {
		return domain.Item{}, false
	}

	e, created := m.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state
	if created {
		m.record(sessionID, st)
	}

	policyName := policy.ResolveName(opts.Policy, m.cfg.DefaultPolicy)
	explicit := opts.TargetType != nil
	var target string
	if explicit {
		target = domain.NormalizeType(*opts.TargetType)
	}

	var engineReco string
	if policyName == policy.PolicyEngine {
		engineReco = policy.ChooseNextType(catalogTypes(catalog), st.LastType, st.ServesInCurrentType,
			policy.Options{Strict: m.cfg.EngineStrict, Threshold: m.threshold})
	}

	var desired string
	switch {
	case explicit:
		desired = target
	case engineReco != "":
		desired = domain.NormalizeType(engineReco)
	case policyName == policy.PolicySimple && st.ActiveType != "":
		desired = st.ActiveType
	default:
		desired = domain.NormalizeType(st.LastType)
	}

	// A playlist overrides implicit type scoping; an explicit type still wins.
	if st.HasPlaylist() && !explicit {
		desired = ""
	}

	if explicit && target != st.ActiveType {
		st.ServesInCurrentType = 0
		st.ActiveType = ""
		st.DropQueue()
		m.record(sessionID, st)
	}

	pool, scope := candidatePool(catalog, st.PlaylistIDs)
	if desired != "" {
		if typed := filterByType(pool, desired); len(typed) > 0 {
			pool = typed
		} else {
			desired = ""
		}
	}

	if len(st.Queue) == 0 || st.ActiveType != desired || st.Scope != scope {
		m.rebuild(st, pool, scope)
		st.ActiveType = desired
		if desired != domain.NormalizeType(st.LastType) {
			st.ServesInCurrentType = 0
		}
		m.metrics.ObserveRebuild(scope.String())
		m.record(sessionID, st)
	}

	chosen := st.Queue[0]
	st.Queue = st.Queue[1:]
	st.PushRecent(chosen.ID)

	chosenType := chosen.NormalizedType()
	if chosenType != "" {
		if st.ActiveType == chosenType {
			st.ServesInCurrentType++
		} else {
			st.ServesInCurrentType = 1
		}
		st.LastType = chosen.Type
	}
	m.record(sessionID, st)
	m.metrics.ObserveServe(policyLabel(policyName), chosenType)

	rotate := policyName == policy.PolicySimple &&
		!explicit &&
		!st.HasPlaylist() &&
		sessionID != domain.AnonSessionID &&
		chosenType != "" &&
		st.ServesInCurrentType >= m.threshold
	if rotate {
		next := policy.NextTypeInOrder(catalogTypes(catalog), chosenType)
		st.ActiveType = next
		st.ServesInCurrentType = 0
		st.DropQueue()
		m.metrics.ObserveRotation()
		m.logger.Debug("Staged type rotation",
			"session_id", sessionID,
			"from", chosenType,
			"to", next,
		)
		m.record(sessionID, st)
	}

	return chosen, true
}

// rebuild refills the queue from pool, skipping recently served ids. When
// every candidate is recent the window is cleared and repeats are allowed.
func (m *Manager) rebuild(st *domain.SessionState, pool []domain.Item, scope domain.QueueScope) {
	queue := make([]domain.Item, 0, len(pool))
	for _, it := range pool {
		if !st.IsRecent(it.ID) {
			queue = append(queue, it)
		}
	}
	if len(queue) == 0 {
		st.ClearRecent()
		queue = append(queue, pool...)
	}
	if scope != domain.ScopePlaylist {
		m.shuffle(queue)
	}
	st.Queue = queue
	st.Scope = scope
}

// SetPlaylist restricts the session to ids, in order. Empty and duplicate
// ids are dropped. The queue is emptied so the next serve rebuilds.
func (m *Manager) SetPlaylist(sessionID string, ids []string) domain.SessionSnapshot {
	e, _ := m.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.PlaylistIDs = domain.CleanIDs(ids)
	e.state.DropQueue()
	m.record(sessionID, e.state)
	return e.state.Snapshot()
}

// ClearPlaylist removes the session's playlist restriction.
func (m *Manager) ClearPlaylist(sessionID string) domain.SessionSnapshot {
	e, _ := m.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.PlaylistIDs = nil
	e.state.DropQueue()
	m.record(sessionID, e.state)
	return e.state.Snapshot()
}

// Snapshot returns the session's current view without creating it.
func (m *Manager) Snapshot(sessionID string) (domain.SessionSnapshot, bool) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return domain.SessionSnapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot(), true
}

// SessionCount returns the number of sessions held in memory.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close writes any pending state and stops the background persister.
func (m *Manager) Close() {
	if m.persister != nil {
		m.persister.Close()
	}
}

// candidatePool restricts catalog to the playlist, in playlist order. Without
// a playlist, or when none of its ids are in the catalog, the whole catalog
// is the pool.
func candidatePool(catalog []domain.Item, playlist []string) ([]domain.Item, domain.QueueScope) {
	if len(playlist) == 0 {
		return catalog, domain.ScopeType
	}

	byID := make(map[string]domain.Item, len(catalog))
	for _, it := range catalog {
		if _, dup := byID[it.ID]; !dup && it.ID != "" {
			byID[it.ID] = it
		}
	}
	pool := make([]domain.Item, 0, len(playlist))
	for _, id := range playlist {
		if it, ok := byID[id]; ok {
			pool = append(pool, it)
		}
	}
	if len(pool) == 0 {
		return catalog, domain.ScopeType
	}
	return pool, domain.ScopePlaylist
}

func filterByType(pool []domain.Item, normType string) []domain.Item {
	var out []domain.Item
	for _, it := range pool {
		if it.NormalizedType() == normType {
			out = append(out, it)
		}
	}
	return out
}

func catalogTypes(catalog []domain.Item) []string {
	types := make([]string, 0, len(catalog))
	for _, it := range catalog {
		types = append(types, it.Type)
	}
	return types
}

func policyLabel(name string) string {
	if name == "" {
		return "none"
	}
	return name
}
