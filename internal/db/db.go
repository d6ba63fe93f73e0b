package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingoftac/runway/internal/models"
	_ "modernc.org/sqlite"
)

// MaxInvocations is how many history rows PruneInvocations keeps by default.
const MaxInvocations = 500

var (
	ErrInvocationNotFound = errors.New("invocation not found")
	ErrAmbiguousID        = errors.New("invocation id matches more than one run")
)

type DB struct {
	*sql.DB
}

func NewDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{sqlDB}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// retryDBOperation retries op with exponential backoff while sqlite reports
// the database as busy. Several runway processes share one history file.
func retryDBOperation(op func() error) error {
	maxRetries := 5
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(1<<uint(i)) * baseDelay)
	}

	return fmt.Errorf("max retries exceeded for database operation: %w", err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			env TEXT NOT NULL,
			state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			pid INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_started_at ON invocations(started_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// InsertInvocation records the start of a run. An empty ID is filled with a
// fresh UUID.
func (db *DB) InsertInvocation(inv *models.Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now()
	}

	query := `INSERT INTO invocations (id, project, env, state, reason, port, pid, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	err := retryDBOperation(func() error {
		_, err := db.Exec(query, inv.ID, inv.Project, inv.Env, inv.State, inv.Reason, inv.Port, inv.PID, inv.StartedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert invocation: %w", err)
	}
	return nil
}

// FinishInvocation stores the terminal state of a run.
func (db *DB) FinishInvocation(inv *models.Invocation) error {
	if inv.FinishedAt.IsZero() {
		inv.FinishedAt = time.Now()
	}

	query := `UPDATE invocations SET state = ?, reason = ?, port = ?, pid = ?, finished_at = ? WHERE id = ?`
	var result sql.Result
	err := retryDBOperation(func() error {
		var err error
		result, err = db.Exec(query, inv.State, inv.Reason, inv.Port, inv.PID, inv.FinishedAt, inv.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to finish invocation: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrInvocationNotFound, inv.ID)
	}
	return nil
}

// GetInvocation returns the invocation whose id starts with id, so the short
// ids printed by history can be used.
func (db *DB) GetInvocation(id string) (*models.Invocation, error) {
	if id == "" {
		return nil, ErrInvocationNotFound
	}

	query := `SELECT id, project, env, state, reason, port, pid, started_at, finished_at FROM invocations WHERE substr(id, 1, ?) = ? LIMIT 2`
	rows, err := db.Query(query, len(id), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invocation: %w", err)
	}
	defer rows.Close()

	var found []*models.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		found = append(found, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get invocation: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrInvocationNotFound, id)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
	}
}

// ListInvocations returns up to limit invocations, newest first. A limit of
// zero or less returns everything.
func (db *DB) ListInvocations(limit int) ([]models.Invocation, error) {
	query := `SELECT id, project, env, state, reason, port, pid, started_at, finished_at FROM invocations ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	var invocations []models.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		invocations = append(invocations, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}

	return invocations, nil
}

// PruneInvocations deletes all but the newest keep invocations.
func (db *DB) PruneInvocations(keep int) error {
	query := `DELETE FROM invocations WHERE id NOT IN (SELECT id FROM invocations ORDER BY started_at DESC LIMIT ?)`
	err := retryDBOperation(func() error {
		_, err := db.Exec(query, keep)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to prune invocations: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row scanner) (*models.Invocation, error) {
	var inv models.Invocation
	var finishedAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.Project, &inv.Env, &inv.State, &inv.Reason, &inv.Port, &inv.PID, &inv.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		inv.FinishedAt = finishedAt.Time
	}
	return &inv, nil
}
