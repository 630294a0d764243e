package store

import (
	"context"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// NoopStore is the disabled backend: nothing is stored and nothing is read back.
type NoopStore struct{}

// NewNoop returns the disabled backend.
func NewNoop() *NoopStore { return &NoopStore{} }

func (NoopStore) Enabled() bool   { return false }
func (NoopStore) Backend() string { return BackendNoop }

func (NoopStore) LoadSelectionState(context.Context) (map[string]domain.SessionSnapshot, error) {
	return map[string]domain.SessionSnapshot{}, nil
}

func (NoopStore) SaveSelectionState(context.Context, map[string]domain.SessionSnapshot) error {
	return nil
}

func (NoopStore) AppendEvent(context.Context, domain.AttemptEvent) error { return nil }

func (NoopStore) ReadEventsForSession(context.Context, string) ([]domain.AttemptEvent, error) {
	return nil, nil
}

func (NoopStore) Ping(context.Context) error { return nil }
func (NoopStore) Close() error               { return nil }

var _ SelectionRepository = (*NoopStore)(nil)
