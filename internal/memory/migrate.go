package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// The schema version lives in SQLite's user_version pragma. Each step runs
// in its own transaction and bumps the version on commit.
type step struct {
	version    int
	name       string
	statements []string
}

var steps = []step{
	{
		version: 1,
		name:    "consultations and messages",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS consultations (
				id          TEXT PRIMARY KEY,
				type        TEXT NOT NULL,
				channel     TEXT DEFAULT '',
				title       TEXT DEFAULT '',
				provider    TEXT DEFAULT '',
				created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_consultations_updated ON consultations(updated_at)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id              TEXT PRIMARY KEY,
				consultation_id TEXT NOT NULL REFERENCES consultations(id) ON DELETE CASCADE,
				role            TEXT NOT NULL,
				text            TEXT DEFAULT '',
				is_error        INTEGER DEFAULT 0,
				created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_consultation ON messages(consultation_id, created_at)`,
		},
	},
	{
		version: 2,
		name:    "attachments",
		statements: []string{
			`ALTER TABLE messages ADD COLUMN attachment_id TEXT DEFAULT ''`,
			`ALTER TABLE messages ADD COLUMN attachment_mime TEXT DEFAULT ''`,
			`ALTER TABLE messages ADD COLUMN attachment_name TEXT DEFAULT ''`,
			`CREATE TABLE IF NOT EXISTS attachments (
				id              TEXT PRIMARY KEY,
				consultation_id TEXT NOT NULL,
				filename        TEXT DEFAULT '',
				mime_type       TEXT DEFAULT '',
				size            INTEGER DEFAULT 0,
				storage_path    TEXT NOT NULL,
				created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_attachments_consultation ON attachments(consultation_id)`,
		},
	},
}

// LatestSchema is the version a fully migrated database reports.
func LatestSchema() int { return steps[len(steps)-1].version }

// SchemaVersion reads the schema version; 0 means an empty database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// RunMigrations brings the schema up to LatestSchema. A column that already
// exists is skipped, so databases patched by hand still upgrade.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	ctx := context.Background()
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > LatestSchema() {
		return fmt.Errorf("database schema v%d is newer than this build (v%d)", current, LatestSchema())
	}

	for _, st := range steps {
		if st.version <= current {
			continue
		}
		if err := apply(ctx, db, st, logger); err != nil {
			return err
		}
		logger.Info("schema migrated", "version", st.version, "step", st.name)
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, st step, logger *slog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate v%d: %w", st.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range st.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if alreadyApplied(err) {
				logger.Debug("migration statement skipped", "version", st.version, "stmt", firstLine(stmt))
				continue
			}
			return fmt.Errorf("migrate v%d (%s): %w", st.version, firstLine(stmt), err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", st.version)); err != nil {
		return fmt.Errorf("migrate v%d: set version: %w", st.version, err)
	}
	return tx.Commit()
}

func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "("))
}
