package store

import (
	"context"
	"log/slog"
	"strings"
)

// Config selects and configures a persistence backend.
type Config struct {
	// DBPersist enables the relational backend.
	DBPersist bool
	// DBPath is the SQLite database file used when DatabaseURL is empty.
	DBPath string
	// DatabaseURL is a PostgreSQL DSN. When set it takes precedence over DBPath.
	DatabaseURL string

	// FilePersist enables the file backend.
	FilePersist bool
	// StateDir holds the file backend's files.
	StateDir string
}

// New picks a backend: relational first, then file, then noop.
// A backend that fails to open is logged and replaced by the noop store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) SelectionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	switch {
	case cfg.DBPersist && isPostgresDSN(cfg.DatabaseURL):
		pg, err := NewPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("Postgres persistence unavailable, selection state will not be saved", "error", err)
			return NewNoop()
		}
		logger.Info("Selection persistence enabled", "backend", BackendPostgres)
		return pg

	case cfg.DBPersist:
		db, err := NewSQLite(cfg.DBPath, logger)
		if err != nil {
			logger.Warn("SQLite persistence unavailable, selection state will not be saved",
				"path", cfg.DBPath, "error", err)
			return NewNoop()
		}
		logger.Info("Selection persistence enabled", "backend", BackendSQLite, "path", cfg.DBPath)
		return db

	case cfg.FilePersist:
		fs, err := NewFileStore(cfg.StateDir, logger)
		if err != nil {
			logger.Warn("File persistence unavailable, selection state will not be saved",
				"dir", cfg.StateDir, "error", err)
			return NewNoop()
		}
		logger.Info("Selection persistence enabled", "backend", BackendFile, "dir", cfg.StateDir)
		return fs
	}

	return NewNoop()
}

func isPostgresDSN(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}
