// Package audit persists a record of every jail run to a local SQLite
// database, for grading platforms that need to show a student or an
// instructor what actually happened on a submission after the fact.
package audit

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ehrlich-b/jail/internal/jail"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Log is a handle to the audit database. A Log is safe for concurrent use
// across Sessions since it wraps a single *sql.DB.
type Log struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at dsn and applies any
// migrations the schema is missing. dsn may be ":memory:" for tests.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: set WAL mode: %w", err)
	}
	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return l, nil
}

func (l *Log) Close() error { return l.db.Close() }

// migrate brings the schema up to date with every *.sql file under
// migrations/, tracking what has already run in schema_migrations so
// Open is idempotent across restarts.
func (l *Log) migrate() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	pending, err := l.pendingMigrations()
	if err != nil {
		return err
	}
	for _, version := range pending {
		if err := l.applyMigration(version); err != nil {
			return err
		}
	}
	return nil
}

// pendingMigrations returns the embedded *.sql filenames, in apply order,
// that schema_migrations does not yet list as applied.
func (l *Log) pendingMigrations() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var all []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			all = append(all, e.Name())
		}
	}
	sort.Strings(all)

	var pending []string
	for _, version := range all {
		var count int
		if err := l.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return nil, fmt.Errorf("check migration %s: %w", version, err)
		}
		if count == 0 {
			pending = append(pending, version)
		}
	}
	return pending, nil
}

// applyMigration runs one migration file and records it, both inside a
// single transaction so a crash mid-migration never leaves the schema
// half-applied without a matching schema_migrations row.
func (l *Log) applyMigration(version string) error {
	content, err := migrationsFS.ReadFile("migrations/" + version)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	return tx.Commit()
}

// Entry is one recorded jail run.
type Entry struct {
	ID         string
	SessionID  string
	Command    string
	Result     jail.Result
	Limits     jail.Profile
	StartedAt  time.Time
	FinishedAt time.Time
}

// Record inserts one Entry. Callers typically call this right after
// Session.Run returns, win or lose — a failed or killed run is audited the
// same as a clean one.
func (l *Log) Record(e Entry) error {
	_, err := l.db.Exec(`INSERT INTO runs
		(id, session_id, command, status, tle, stdout_bytes, stderr_bytes, cpu_limit, time_limit, memory_limit, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Command, e.Result.Status, boolToInt(e.Result.TimeLimitExceeded),
		len(e.Result.Stdout), len(e.Result.Stderr),
		e.Limits.CPU, e.Limits.Time, e.Limits.Memory,
		e.StartedAt.UTC(), e.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("audit: record run %s: %w", e.ID, err)
	}
	return nil
}

// RunsForSession returns every recorded run for a session, oldest first.
func (l *Log) RunsForSession(sessionID string) ([]Entry, error) {
	rows, err := l.db.Query(`SELECT id, session_id, command, status, tle, started_at, finished_at
		FROM runs WHERE session_id = ? ORDER BY started_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit: query session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var tle int
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Command, &e.Result.Status, &tle, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("audit: scan run: %w", err)
		}
		e.Result.TimeLimitExceeded = tle != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
