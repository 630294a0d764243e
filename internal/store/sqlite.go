package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SelectionRepository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
	retry   shared.RetryPolicy
	logger  *slog.Logger
}

// NewSQLite opens (or creates) the database at dbPath and ensures the schema.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets readers proceed while the persister writes.
	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy, logger: logger}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS selection_state (
		session_id TEXT PRIMARY KEY,
		last_type TEXT,
		active_type_norm TEXT,
		serves_in_current_type INTEGER NOT NULL DEFAULT 0,
		recent_window INTEGER NOT NULL DEFAULT 5,
		recent_ids_json TEXT,
		playlist_ids_json TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempt_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		session_id TEXT NOT NULL,
		serve_id TEXT,
		attempt_id TEXT,
		item_id TEXT,
		item_type TEXT,
		action TEXT NOT NULL CHECK(action IN ('served','answered')),
		correct INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_attempt_events_session ON attempt_events(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Databases created before these columns existed.
	upgrades := []string{
		`ALTER TABLE selection_state ADD COLUMN recent_window INTEGER NOT NULL DEFAULT 5`,
		`ALTER TABLE selection_state ADD COLUMN playlist_ids_json TEXT`,
		`ALTER TABLE attempt_events ADD COLUMN serve_id TEXT`,
		`ALTER TABLE attempt_events ADD COLUMN attempt_id TEXT`,
	}
	for _, stmt := range upgrades {
		if _, err := s.db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("upgrade schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Enabled() bool   { return true }
func (s *SQLiteStore) Backend() string { return BackendSQLite }

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// LoadSelectionState reads every session row. Rows whose id lists fail to
// decode are skipped.
func (s *SQLiteStore) LoadSelectionState(ctx context.Context) (map[string]domain.SessionSnapshot, error) {
	out := make(map[string]domain.SessionSnapshot)

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, last_type, active_type_norm, serves_in_current_type,
		       recent_window, recent_ids_json, playlist_ids_json
		FROM selection_state`)
	if err != nil {
		return out, fmt.Errorf("query selection state: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close selection state rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var (
			sid                   string
			lastType, activeType  sql.NullString
			serves, window        int
			recentJSON, playlistJ sql.NullString
		)
		if err := rows.Scan(&sid, &lastType, &activeType, &serves, &window, &recentJSON, &playlistJ); err != nil {
			s.logger.Warn("Skipping unreadable session row", "error", err)
			continue
		}
		if !persistable(sid) {
			continue
		}

		snap := domain.SessionSnapshot{
			RecentWindow:        window,
			LastType:            lastType.String,
			ActiveType:          activeType.String,
			ServesInCurrentType: serves,
		}
		if snap.RecentIDs, err = decodeIDList(recentJSON); err != nil {
			s.logger.Warn("Skipping malformed session record", "session_id", sid, "error", err)
			continue
		}
		if snap.PlaylistIDs, err = decodeIDList(playlistJ); err != nil {
			s.logger.Warn("Skipping malformed session record", "session_id", sid, "error", err)
			continue
		}
		out[sid] = snap
	}

	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterate selection state: %w", err)
	}
	return out, nil
}

// SaveSelectionState upserts every session in one transaction.
func (s *SQLiteStore) SaveSelectionState(ctx context.Context, sessions map[string]domain.SessionSnapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, "save_selection_state", func() error {
		return s.saveOnce(ctx, sessions)
	})
}

func (s *SQLiteStore) saveOnce(ctx context.Context, sessions map[string]domain.SessionSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO selection_state (
			session_id, last_type, active_type_norm, serves_in_current_type,
			recent_window, recent_ids_json, playlist_ids_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			last_type = excluded.last_type,
			active_type_norm = excluded.active_type_norm,
			serves_in_current_type = excluded.serves_in_current_type,
			recent_window = excluded.recent_window,
			recent_ids_json = excluded.recent_ids_json,
			playlist_ids_json = excluded.playlist_ids_json,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for sid, snap := range sessions {
		if !persistable(sid) {
			continue
		}
		recentJSON, playlistJSON, err := encodeIDLists(snap)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			sid, nullString(snap.LastType), nullString(snap.ActiveType), snap.ServesInCurrentType,
			snap.RecentWindow, recentJSON, playlistJSON, now,
		); err != nil {
			return fmt.Errorf("upsert session %s: %w", sid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit selection state: %w", err)
	}
	return nil
}

// AppendEvent inserts one event row stamped with the current time.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event domain.AttemptEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return shared.RetryOnConflict(ctx, s.retry, "append_event", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attempt_events (ts, session_id, serve_id, attempt_id, item_id, item_type, action, correct)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ts, event.SessionID, nullString(event.ServeID), nullString(event.AttemptID),
			event.ItemID, event.ItemType, string(event.Action), nullBool(event.Correct),
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
}

// ReadEventsForSession returns the session's events in insertion order.
func (s *SQLiteStore) ReadEventsForSession(ctx context.Context, sessionID string) ([]domain.AttemptEvent, error) {
	if sessionID == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, session_id, serve_id, attempt_id, item_id, item_type, action, correct
		FROM attempt_events WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	var events []domain.AttemptEvent
	for rows.Next() {
		var (
			ts, sid, action    string
			serveID, attemptID sql.NullString
			itemID, itemType   sql.NullString
			correct            sql.NullInt64
		)
		if err := rows.Scan(&ts, &sid, &serveID, &attemptID, &itemID, &itemType, &action, &correct); err != nil {
			s.logger.Warn("Skipping unreadable event row", "session_id", sessionID, "error", err)
			continue
		}
		stamp, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			s.logger.Warn("Skipping event with malformed timestamp", "session_id", sessionID, "ts", ts)
			continue
		}

		ev := domain.AttemptEvent{
			Timestamp: stamp,
			SessionID: sid,
			ServeID:   serveID.String,
			AttemptID: attemptID.String,
			ItemID:    itemID.String,
			ItemType:  itemType.String,
			Action:    domain.Action(action),
		}
		if correct.Valid {
			ev.Correct = domain.BoolPtr(correct.Int64 == 1)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return events, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func encodeIDLists(snap domain.SessionSnapshot) (string, interface{}, error) {
	recent := snap.RecentIDs
	if recent == nil {
		recent = []string{}
	}
	recentJSON, err := json.Marshal(recent)
	if err != nil {
		return "", nil, fmt.Errorf("encode recent ids: %w", err)
	}

	var playlistJSON interface{}
	if len(snap.PlaylistIDs) > 0 {
		b, err := json.Marshal(snap.PlaylistIDs)
		if err != nil {
			return "", nil, fmt.Errorf("encode playlist ids: %w", err)
		}
		playlistJSON = string(b)
	}
	return string(recentJSON), playlistJSON, nil
}

func decodeIDList(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw.String), &ids); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}
	return ids, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

var _ SelectionRepository = (*SQLiteStore)(nil)
