package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/kraft/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions, kept in PRAGMA user_version:
// 0 - initial replay log
// 1 - index on steps(run_id, step)
// 2 - bindings unique per identifier only, so seeded aliases can share a handle
const currentSchemaVersion = 2

// ErrIncompatible is returned by Open for a log this build cannot extend:
// one written with another value encoding or by a newer schema.
var ErrIncompatible = errors.New("store: incompatible replay log")

// IncompatibleError describes why a log was refused.
type IncompatibleError struct {
	Path   string
	What   string // "ir_version" or "schema"
	Stored string
	Want   string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("store: %s has %s %s, this build uses %s", e.Path, e.What, e.Stored, e.Want)
}

func (e *IncompatibleError) Is(target error) bool { return target == ErrIncompatible }

// Store is the replay log. It implements engine.Sink.
// Uses SQLite with WAL mode so reports can read while a batch writes.
type Store struct {
	db *sql.DB
}

// Open creates or opens the replay log at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Older logs are migrated in place. Logs written with another IR version
// are refused with an *IncompatibleError, since their stored hashes would
// not match hashes computed now.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; batches write outcomes one at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := migrate(db, path); err != nil {
		db.Close()
		return nil, err
	}
	if err := checkEncoding(db, path); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// migrate brings the schema to currentSchemaVersion. A fresh database gets
// the current schema directly; an existing one replays the steps it lacks.
func migrate(db *sql.DB, path string) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return &IncompatibleError{
			Path:   path,
			What:   "schema",
			Stored: fmt.Sprint(version),
			Want:   fmt.Sprint(currentSchemaVersion),
		}
	}

	var tables int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'runs'").Scan(&tables); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	fresh := tables == 0

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if fresh {
		version = currentSchemaVersion
	}

	steps := []func(*sql.DB) error{migrateToV1, migrateToV2}
	for v := version; v < currentSchemaVersion; v++ {
		if err := steps[v](db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the step lookup index.
func migrateToV1(db *sql.DB) error {
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_steps_run_step ON steps(run_id, step)`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 rebuilds bindings without the per-handle unique constraint.
func migrateToV2(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`CREATE TABLE bindings_v2 (
			run_id       TEXT NOT NULL REFERENCES runs(id),
			seq          INTEGER NOT NULL,
			identifier   TEXT NOT NULL,
			handle       TEXT NOT NULL,
			seeded       INTEGER NOT NULL,
			binding_hash TEXT NOT NULL,
			PRIMARY KEY (run_id, seq),
			UNIQUE (run_id, identifier)
		)`,
		`INSERT INTO bindings_v2 (run_id, seq, identifier, handle, seeded, binding_hash)
			SELECT run_id, seq, identifier, handle, seeded, binding_hash FROM bindings`,
		`DROP TABLE bindings`,
		`ALTER TABLE bindings_v2 RENAME TO bindings`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_handle ON bindings(run_id, handle)`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// checkEncoding pins the log to one IR version. A log without the pin takes
// it from its oldest run, or from this build when it has no runs.
func checkEncoding(db *sql.DB, path string) error {
	var stored string
	err := db.QueryRow("SELECT value FROM log_info WHERE key = 'ir_version'").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		err = db.QueryRow("SELECT ir_version FROM runs ORDER BY seq LIMIT 1").Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			stored, err = ir.IRVersion, nil
		}
		if err != nil {
			return fmt.Errorf("read ir_version: %w", err)
		}
		if _, err := db.Exec("INSERT INTO log_info (key, value) VALUES ('ir_version', ?)", stored); err != nil {
			return fmt.Errorf("record ir_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read ir_version: %w", err)
	}

	if stored != ir.IRVersion {
		return &IncompatibleError{Path: path, What: "ir_version", Stored: stored, Want: ir.IRVersion}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
