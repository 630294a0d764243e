package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

const (
	stateFileName  = "selection_state.json"
	eventsFileName = "events.ndjson"

	// maxEventLine bounds a single NDJSON line when reading the log back.
	maxEventLine = 1 << 20
)

// FileStore keeps selection state in a JSON file and the event log in an
// append-only NDJSON file, both under one directory. It is meant for local
// development where no database is available.
type FileStore struct {
	dir    string
	mu     sync.Mutex // serializes writes to both files
	logger *slog.Logger
}

// NewFileStore creates the state directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) Enabled() bool   { return true }
func (s *FileStore) Backend() string { return BackendFile }

func (s *FileStore) statePath() string  { return filepath.Join(s.dir, stateFileName) }
func (s *FileStore) eventsPath() string { return filepath.Join(s.dir, eventsFileName) }

// LoadSelectionState reads the state file. A missing file is an empty table;
// entries that fail to decode are skipped.
func (s *FileStore) LoadSelectionState(_ context.Context) (map[string]domain.SessionSnapshot, error) {
	out := make(map[string]domain.SessionSnapshot)

	data, err := os.ReadFile(s.statePath())
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return out, fmt.Errorf("decode state file: %w", err)
	}

	for sid, payload := range raw {
		if !persistable(sid) {
			continue
		}
		var snap domain.SessionSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			s.logger.Warn("Skipping malformed session record", "session_id", sid, "error", err)
			continue
		}
		out[sid] = snap
	}
	return out, nil
}

// SaveSelectionState rewrites the state file atomically via a temp file and rename.
func (s *FileStore) SaveSelectionState(_ context.Context, sessions map[string]domain.SessionSnapshot) error {
	table := make(map[string]domain.SessionSnapshot, len(sessions))
	for sid, snap := range sessions {
		if persistable(sid) {
			table[sid] = snap
		}
	}

	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, stateFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.statePath()); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// AppendEvent writes one NDJSON line and syncs the file.
func (s *FileStore) AppendEvent(_ context.Context, event domain.AttemptEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	event.Timestamp = time.Now().UTC()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.eventsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write event: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync events file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close events file: %w", err)
	}
	return nil
}

// ReadEventsForSession scans the log in file order, skipping malformed lines.
func (s *FileStore) ReadEventsForSession(_ context.Context, sessionID string) ([]domain.AttemptEvent, error) {
	if sessionID == "" {
		return nil, nil
	}

	f, err := os.Open(s.eventsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			s.logger.Warn("failed to close events file", "error", closeErr)
		}
	}()

	var events []domain.AttemptEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev domain.AttemptEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			s.logger.Warn("Skipping malformed event line", "line", lineNo, "error", err)
			continue
		}
		if ev.SessionID == sessionID {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan events file: %w", err)
	}
	return events, nil
}

// Ping checks that the state directory is still reachable.
func (s *FileStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("stat state directory: %w", err)
	}
	return nil
}

// Close is a no-op; files are opened per call.
func (s *FileStore) Close() error { return nil }

var _ SelectionRepository = (*FileStore)(nil)
