package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// PostgresStore implements SelectionRepository on PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects to databaseURL and ensures the schema.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS selection_state (
			session_id TEXT PRIMARY KEY,
			last_type TEXT NULL,
			active_type_norm TEXT NULL,
			serves_in_current_type INTEGER NOT NULL DEFAULT 0,
			recent_window INTEGER NOT NULL DEFAULT 5,
			recent_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
			playlist_ids JSONB NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS attempt_events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			serve_id TEXT NULL,
			attempt_id TEXT NULL,
			item_id TEXT NULL,
			item_type TEXT NULL,
			action TEXT NOT NULL CHECK (action IN ('served', 'answered')),
			correct BOOLEAN NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempt_events_session ON attempt_events (session_id, id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init selection schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Enabled() bool   { return true }
func (s *PostgresStore) Backend() string { return BackendPostgres }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) LoadSelectionState(ctx context.Context) (map[string]domain.SessionSnapshot, error) {
	out := make(map[string]domain.SessionSnapshot)

	rows, err := s.pool.Query(ctx,
		`SELECT session_id, last_type, active_type_norm, serves_in_current_type,
		        recent_window, recent_ids, playlist_ids
		 FROM selection_state`)
	if err != nil {
		return out, fmt.Errorf("query selection state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sid                  string
			lastType, activeType *string
			serves, window       int
			recentRaw, listRaw   []byte
		)
		if err := rows.Scan(&sid, &lastType, &activeType, &serves, &window, &recentRaw, &listRaw); err != nil {
			s.logger.Warn("Skipping unreadable session row", "error", err)
			continue
		}
		if !persistable(sid) {
			continue
		}

		snap := domain.SessionSnapshot{
			RecentWindow:        window,
			ServesInCurrentType: serves,
		}
		if lastType != nil {
			snap.LastType = *lastType
		}
		if activeType != nil {
			snap.ActiveType = *activeType
		}
		if len(recentRaw) > 0 {
			if err := json.Unmarshal(recentRaw, &snap.RecentIDs); err != nil {
				s.logger.Warn("Skipping malformed session record", "session_id", sid, "error", err)
				continue
			}
		}
		if len(listRaw) > 0 {
			if err := json.Unmarshal(listRaw, &snap.PlaylistIDs); err != nil {
				s.logger.Warn("Skipping malformed session record", "session_id", sid, "error", err)
				continue
			}
		}
		out[sid] = snap
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterate selection state: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveSelectionState(ctx context.Context, sessions map[string]domain.SessionSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for sid, snap := range sessions {
		if !persistable(sid) {
			continue
		}
		recentJSON, playlistJSON, err := encodeIDLists(snap)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO selection_state (
				session_id, last_type, active_type_norm, serves_in_current_type,
				recent_window, recent_ids, playlist_ids, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)
			ON CONFLICT (session_id) DO UPDATE SET
				last_type=EXCLUDED.last_type,
				active_type_norm=EXCLUDED.active_type_norm,
				serves_in_current_type=EXCLUDED.serves_in_current_type,
				recent_window=EXCLUDED.recent_window,
				recent_ids=EXCLUDED.recent_ids,
				playlist_ids=EXCLUDED.playlist_ids,
				updated_at=EXCLUDED.updated_at`,
			sid, nullString(snap.LastType), nullString(snap.ActiveType), snap.ServesInCurrentType,
			snap.RecentWindow, recentJSON, playlistJSON, now,
		)
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert selection state: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit selection state: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event domain.AttemptEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attempt_events (ts, session_id, serve_id, attempt_id, item_id, item_type, action, correct)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		time.Now().UTC(),
		event.SessionID,
		nullString(event.ServeID),
		nullString(event.AttemptID),
		event.ItemID,
		event.ItemType,
		string(event.Action),
		event.Correct,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReadEventsForSession(ctx context.Context, sessionID string) ([]domain.AttemptEvent, error) {
	if sessionID == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT ts, session_id, serve_id, attempt_id, item_id, item_type, action, correct
		 FROM attempt_events WHERE session_id=$1 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.AttemptEvent
	for rows.Next() {
		var (
			ev                 domain.AttemptEvent
			serveID, attemptID *string
			itemID, itemType   *string
			action             string
		)
		if err := rows.Scan(&ev.Timestamp, &ev.SessionID, &serveID, &attemptID, &itemID, &itemType, &action, &ev.Correct); err != nil {
			s.logger.Warn("Skipping unreadable event row", "session_id", sessionID, "error", err)
			continue
		}
		ev.ServeID = deref(serveID)
		ev.AttemptID = deref(attemptID)
		ev.ItemID = deref(itemID)
		ev.ItemType = deref(itemType)
		ev.Action = domain.Action(action)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return events, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ SelectionRepository = (*PostgresStore)(nil)
