// Package cli implements the tutorctl commands for inspecting persisted
// selection state and replaying the selection engine offline.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-tutor/internal/store"
)

var (
	stateDir    string
	dbPath      string
	databaseURL string
	formatFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:          "tutorctl",
	Short:        "Inspect and exercise the tutor selection engine",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "File backend directory (default: $DEV_STATE_DIR or ./dev_state)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: $DB_PATH when $DB_PERSIST_SELECTION is set)")
	RootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL DSN (default: $DATABASE_URL)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

// storeConfig resolves the backend from flags, then the server's environment.
func storeConfig() store.Config {
	cfg := store.Config{
		DBPath:      firstNonEmpty(dbPath, os.Getenv("DB_PATH"), "./dev_state/app.db"),
		DatabaseURL: firstNonEmpty(databaseURL, os.Getenv("DATABASE_URL")),
		StateDir:    firstNonEmpty(stateDir, os.Getenv("DEV_STATE_DIR"), "./dev_state"),
	}
	switch {
	case databaseURL != "" || dbPath != "":
		cfg.DBPersist = true
	case stateDir != "":
		cfg.FilePersist = true
	case os.Getenv("DB_PERSIST_SELECTION") == "true" || os.Getenv("DB_PERSIST_SELECTION") == "1":
		cfg.DBPersist = true
	default:
		cfg.FilePersist = true
	}
	return cfg
}

func openStore(cmd *cobra.Command) (store.SelectionRepository, error) {
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	repo := store.New(cmd.Context(), storeConfig(), logger)
	if !repo.Enabled() {
		_ = repo.Close()
		return nil, fmt.Errorf("no persistence backend could be opened")
	}
	return repo, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func textOutput() bool {
	return formatFlag == "text"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
