package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/openfroyo/hostprep/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu  sync.Mutex
	seq map[string]int
}

// Config holds SQLite store configuration
type Config struct {
	Path string
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{
		path: cfg.Path,
		seq:  make(map[string]int),
	}, nil
}

// Open creates, initializes and migrates a store in one step.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveRun inserts or updates a run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.Run) error {
	facts := "{}"
	if run.Facts != nil {
		data, err := json.Marshal(run.Facts)
		if err != nil {
			return fmt.Errorf("failed to encode facts: %w", err)
		}
		facts = string(data)
	}

	query := `
		INSERT INTO runs (id, host, status, dry_run, force_run, started_at, completed_at,
			duration_ms, total, succeeded, skipped, failed, facts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			total = excluded.total,
			succeeded = excluded.succeeded,
			skipped = excluded.skipped,
			failed = excluded.failed,
			facts = excluded.facts
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Host,
		string(run.Status),
		run.DryRun,
		run.Force,
		run.StartedAt.UTC(),
		nullTime(run.CompletedAt),
		run.Duration.Milliseconds(),
		run.Summary.Total,
		run.Summary.Succeeded,
		run.Summary.Skipped,
		run.Summary.Failed,
		facts,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, host, status, dry_run, force_run, started_at, completed_at,
			duration_ms, total, succeeded, skipped, failed, facts
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	query := `
		SELECT id, host, status, dry_run, force_run, started_at, completed_at,
			duration_ms, total, succeeded, skipped, failed, facts
		FROM runs
		WHERE (? = '' OR host = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, filter.Host, filter.Host, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// SaveActionResult records the outcome of one action.
func (s *SQLiteStore) SaveActionResult(ctx context.Context, runID string, seq int, result *engine.ActionResult) error {
	var code, msg string
	if result.Error != nil {
		code = result.Error.Code
		msg = result.Error.Error()
	}

	query := `
		INSERT INTO action_results (run_id, action_id, seq, status, forced, error_code,
			error_message, diagnostic, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, action_id) DO UPDATE SET
			status = excluded.status,
			forced = excluded.forced,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			diagnostic = excluded.diagnostic,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms
	`

	_, err := s.db.ExecContext(ctx, query,
		runID,
		result.ActionID,
		seq,
		string(result.Status),
		result.Forced,
		code,
		msg,
		result.Diagnostic,
		result.StartedAt.UTC(),
		result.CompletedAt.UTC(),
		result.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save action result: %w", err)
	}

	return nil
}

// ListActionResults returns a run's action results in execution order.
func (s *SQLiteStore) ListActionResults(ctx context.Context, runID string) ([]*ActionRecord, error) {
	query := `
		SELECT run_id, action_id, seq, status, forced, error_code, error_message,
			diagnostic, started_at, completed_at, duration_ms
		FROM action_results
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action results: %w", err)
	}
	defer rows.Close()

	var records []*ActionRecord
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action result: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action results: %w", err)
	}

	return records, nil
}

// LastResult returns the most recent recorded result of an action on a host.
func (s *SQLiteStore) LastResult(ctx context.Context, host, actionID string) (*ActionRecord, error) {
	query := `
		SELECT a.run_id, a.action_id, a.seq, a.status, a.forced, a.error_code, a.error_message,
			a.diagnostic, a.started_at, a.completed_at, a.duration_ms
		FROM action_results a
		JOIN runs r ON r.id = a.run_id
		WHERE r.host = ? AND a.action_id = ?
		ORDER BY a.completed_at DESC
		LIMIT 1
	`

	rec, err := scanAction(s.db.QueryRowContext(ctx, query, host, actionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %s on %s: %w", actionID, host, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last result: %w", err)
	}
	return rec, nil
}

// Publish records run and action completion events.
func (s *SQLiteStore) Publish(ctx context.Context, event *engine.Event) error {
	switch {
	case event.Run != nil:
		if err := s.SaveRun(ctx, event.Run); err != nil {
			return err
		}
		if event.Type == engine.EventTypeRunCompleted {
			s.mu.Lock()
			delete(s.seq, event.RunID)
			s.mu.Unlock()
		}
		return nil
	case event.Result != nil:
		s.mu.Lock()
		s.seq[event.RunID]++
		seq := s.seq[event.RunID]
		s.mu.Unlock()
		return s.SaveActionResult(ctx, event.RunID, seq, event.Result)
	default:
		return nil
	}
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		run         RunRecord
		status      string
		completedAt sql.NullTime
		durationMS  int64
	)
	err := row.Scan(
		&run.ID,
		&run.Host,
		&status,
		&run.DryRun,
		&run.Force,
		&run.StartedAt,
		&completedAt,
		&durationMS,
		&run.Summary.Total,
		&run.Summary.Succeeded,
		&run.Summary.Skipped,
		&run.Summary.Failed,
		&run.Facts,
	)
	if err != nil {
		return nil, err
	}

	run.Status = engine.RunStatus(status)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

func scanAction(row scanner) (*ActionRecord, error) {
	var (
		rec        ActionRecord
		status     string
		durationMS int64
	)
	err := row.Scan(
		&rec.RunID,
		&rec.ActionID,
		&rec.Seq,
		&status,
		&rec.Forced,
		&rec.ErrorCode,
		&rec.ErrorMessage,
		&rec.Diagnostic,
		&rec.StartedAt,
		&rec.CompletedAt,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = engine.ActionStatus(status)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
