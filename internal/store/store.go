// Package store provides selection-state persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// Backend names reported by SelectionRepository.Backend.
const (
	BackendNoop     = "noop"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// SelectionRepository persists selection state and the attempt event log.
// A disabled repository turns every call into a no-op.
type SelectionRepository interface {
	// Enabled reports whether this backend actually persists anything.
	Enabled() bool

	// Backend returns the backend name for logs and metrics.
	Backend() string

	// LoadSelectionState returns every stored session snapshot keyed by session id.
	// Malformed records are skipped.
	LoadSelectionState(ctx context.Context) (map[string]domain.SessionSnapshot, error)

	// SaveSelectionState upserts the whole session table. The placeholder
	// session is never written.
	SaveSelectionState(ctx context.Context, sessions map[string]domain.SessionSnapshot) error

	// AppendEvent appends one event, stamping it with the capture time.
	AppendEvent(ctx context.Context, event domain.AttemptEvent) error

	// ReadEventsForSession returns a session's events, oldest first.
	ReadEventsForSession(ctx context.Context, sessionID string) ([]domain.AttemptEvent, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// persistable reports whether a session id may be written to storage.
func persistable(sessionID string) bool {
	return sessionID != "" && sessionID != domain.AnonSessionID
}
