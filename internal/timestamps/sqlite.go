package timestamps

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"github.com/Aman-CERP/amanidx/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS archive_timestamps (
	url           TEXT PRIMARY KEY,
	last_modified INTEGER NOT NULL,
	versions      TEXT NOT NULL
)`

// SQLite stores archive states in a single table.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path. A database that fails
// the integrity check is discarded and recreated empty.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	logger = logging.OrDefault(logger)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create timestamps directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := checkIntegrity(path); err != nil {
			logger.Warn("discarding corrupt timestamps database",
				slog.String("path", path),
				slog.String("error", err.Error()))
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return nil, fmt.Errorf("failed to remove corrupt database: %w", err)
				}
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

func checkIntegrity(path string) error {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

// Load returns every stored state.
func (s *SQLite) Load(ctx context.Context) (map[string]State, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT url, last_modified, versions FROM archive_timestamps")
	if err != nil {
		return nil, fmt.Errorf("failed to load timestamps: %w", err)
	}
	defer rows.Close()

	out := make(map[string]State)
	for rows.Next() {
		var (
			url      string
			modified int64
			versions string
		)
		if err := rows.Scan(&url, &modified, &versions); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		v, err := decodeVersions([]byte(versions))
		if err != nil {
			continue
		}
		out[url] = State{LastModified: modified, Versions: v}
	}
	return out, rows.Err()
}

// Write applies puts and deletes in one transaction.
func (s *SQLite) Write(ctx context.Context, puts map[string]State, deletes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO archive_timestamps (url, last_modified, versions) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET last_modified = excluded.last_modified, versions = excluded.versions`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer upsert.Close()

	for url, st := range puts {
		v, err := encodeVersions(st.Versions)
		if err != nil {
			return err
		}
		if _, err := upsert.ExecContext(ctx, url, st.LastModified, string(v)); err != nil {
			return fmt.Errorf("failed to store timestamp for %s: %w", url, err)
		}
	}
	for _, url := range deletes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM archive_timestamps WHERE url = ?", url); err != nil {
			return fmt.Errorf("failed to delete timestamp for %s: %w", url, err)
		}
	}
	return tx.Commit()
}

// Close checkpoints the WAL and closes the database.
func (s *SQLite) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
