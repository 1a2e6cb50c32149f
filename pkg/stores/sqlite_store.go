package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/saaskit/kitdeploy/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
	now  func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
		now:  time.Now,
	}, nil
}

// Init opens the database connection and enables WAL mode for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if s.path != memoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	dsn := fmt.Sprintf("file:%s?%s", s.path, strings.Join(pragmas, "&"))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

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

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
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

// Defaults returns every stored default attribute of kind in deployment.
func (s *SQLiteStore) Defaults(ctx context.Context, deployment, kind string) (engine.Attributes, error) {
	query := `SELECT key, value FROM defaults WHERE deployment = ? AND kind = ? ORDER BY key`
	rows, err := s.db.QueryContext(ctx, query, deployment, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query defaults: %w", err)
	}
	defer rows.Close()

	attrs := engine.Attributes{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan default: %w", err)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("failed to decode default %s.%s: %w", kind, key, err)
		}
		attrs[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating defaults: %w", err)
	}

	return attrs, nil
}

// SetDefault inserts or replaces one default attribute.
func (s *SQLiteStore) SetDefault(ctx context.Context, deployment, kind, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode default %s.%s: %w", kind, key, err)
	}

	query := `
		INSERT INTO defaults (deployment, kind, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (deployment, kind, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, deployment, kind, key, string(raw), s.now().UTC()); err != nil {
		return fmt.Errorf("failed to set default: %w", err)
	}

	return nil
}

// DeleteDefault removes one default attribute.
func (s *SQLiteStore) DeleteDefault(ctx context.Context, deployment, kind, key string) error {
	query := `DELETE FROM defaults WHERE deployment = ? AND kind = ? AND key = ?`
	result, err := s.db.ExecContext(ctx, query, deployment, kind, key)
	if err != nil {
		return fmt.Errorf("failed to delete default: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewNotFoundError(kind+" default", deployment+"/"+key)
	}

	return nil
}

// Backfill inserts the attributes that have no stored default yet. Existing
// values are never overwritten. It returns how many rows were inserted.
func (s *SQLiteStore) Backfill(ctx context.Context, deployment, kind string, attrs engine.Attributes) (int, error) {
	if len(attrs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO defaults (deployment, kind, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (deployment, kind, key) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare backfill: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	inserted := 0
	for _, key := range attrs.Keys() {
		raw, err := json.Marshal(attrs[key])
		if err != nil {
			return 0, fmt.Errorf("failed to encode default %s.%s: %w", kind, key, err)
		}
		result, err := stmt.ExecContext(ctx, deployment, kind, key, string(raw), now)
		if err != nil {
			return 0, fmt.Errorf("failed to backfill %s.%s: %w", kind, key, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit backfill: %w", err)
	}

	return inserted, nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, deployment, command, status, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Deployment,
		run.Command,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun sets the final status of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, errMsg, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, deployment, command, status, started_at, completed_at, error
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists the runs of a deployment, newest first. An empty
// deployment lists every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, deployment string, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, deployment, command, status, started_at, completed_at, error
		FROM runs
		WHERE (? = '' OR deployment = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, deployment, deployment, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
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

// RecordReconciliation appends one reconciliation outcome
func (s *SQLiteStore) RecordReconciliation(ctx context.Context, rec *Reconciliation) error {
	query := `
		INSERT INTO reconciliations (run_id, deployment, component, kind, operation, outcome,
			resource_id, error_code, error, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Deployment,
		rec.Component,
		rec.Kind,
		string(rec.Operation),
		rec.Outcome,
		rec.ResourceID,
		rec.ErrorCode,
		rec.Error,
		rec.Duration.Milliseconds(),
		rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get reconciliation id: %w", err)
	}
	rec.ID = id

	return nil
}

// ListReconciliations lists reconciliation outcomes, newest first
func (s *SQLiteStore) ListReconciliations(ctx context.Context, filter ReconciliationFilter) ([]*Reconciliation, error) {
	query := `
		SELECT id, run_id, deployment, component, kind, operation, outcome,
			resource_id, error_code, error, duration_ms, started_at
		FROM reconciliations
		WHERE 1=1
	`
	var args []interface{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Deployment != "" {
		query += " AND deployment = ?"
		args = append(args, filter.Deployment)
	}
	if filter.Component != "" {
		query += " AND component = ?"
		args = append(args, filter.Component)
	}

	query += " ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limitOrAll(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer rows.Close()

	var recs []*Reconciliation
	for rows.Next() {
		rec := &Reconciliation{}
		var (
			operation  string
			durationMS int64
		)
		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Deployment,
			&rec.Component,
			&rec.Kind,
			&operation,
			&rec.Outcome,
			&rec.ResourceID,
			&rec.ErrorCode,
			&rec.Error,
			&durationMS,
			&rec.StartedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		rec.Operation = engine.OperationType(operation)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliations: %w", err)
	}

	return recs, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Deployment,
		&run.Command,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
