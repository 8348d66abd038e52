package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver, CGO-free, compatible with CGO_ENABLED=0
)

// defaultIntentTTL bounds how long a cached planner response stays servable.
const defaultIntentTTL = 24 * time.Hour

type SQLiteRepository struct {
	db        *sql.DB
	intentTTL time.Duration
}

func NewSQLiteRepository(dsn string, intentTTL time.Duration) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if intentTTL <= 0 {
		intentTTL = defaultIntentTTL
	}
	return &SQLiteRepository{db: db, intentTTL: intentTTL}, nil
}

func migrate(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS runs (
        id          TEXT PRIMARY KEY,
        session_id  TEXT NOT NULL,
        mode        TEXT NOT NULL,
        base_ref    TEXT,
        unit_count  INTEGER NOT NULL,
        plan_count  INTEGER NOT NULL,
        created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
        duration_ms INTEGER,
        status      TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);
    CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

    CREATE TABLE IF NOT EXISTS intent_cache (
        key        TEXT PRIMARY KEY,
        response   TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_intent_created ON intent_cache(created_at);
    `
	_, err := db.Exec(schema)
	return err
}

func (r *SQLiteRepository) SaveRun(ctx context.Context, record *RunRecord) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO runs (id, session_id, mode, base_ref, unit_count, plan_count, duration_ms, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, record.ID, record.SessionID, record.Mode, record.BaseRef,
		record.UnitCount, record.PlanCount, record.DurationMs, record.Status, record.CreatedAt)
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT id, session_id, mode, base_ref, unit_count, plan_count, created_at, duration_ms, status
        FROM runs WHERE id = ?
    `, id)
	return scanRun(row)
}

func (r *SQLiteRepository) ListRunsBySession(ctx context.Context, sessionID string) ([]*RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, session_id, mode, base_ref, unit_count, plan_count, created_at, duration_ms, status
        FROM runs
        WHERE session_id = ?
        ORDER BY created_at DESC
    `, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (r *SQLiteRepository) ListRecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, session_id, mode, base_ref, unit_count, plan_count, created_at, duration_ms, status
        FROM runs
        ORDER BY created_at DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// GetIntent serves a cached planner response when the row is younger than the
// TTL. Expired rows are deleted on the way out so reads stay cheap.
func (r *SQLiteRepository) GetIntent(ctx context.Context, key string) (string, bool, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT response, created_at FROM intent_cache WHERE key = ?
    `, key)

	var response string
	var createdAt time.Time
	if err := row.Scan(&response, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}

	if time.Since(createdAt) > r.intentTTL {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM intent_cache WHERE key = ?`, key); err != nil {
			slog.Warn("delete expired intent failed", "error", err)
		}
		return "", false, nil
	}
	return response, true, nil
}

func (r *SQLiteRepository) PutIntent(ctx context.Context, key, response string) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO intent_cache (key, response, created_at)
        VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET response = excluded.response, created_at = excluded.created_at
    `, key, response, time.Now().UTC())
	return err
}

func (r *SQLiteRepository) PruneIntents(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-r.intentTTL)
	res, err := r.db.ExecContext(ctx, `DELETE FROM intent_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Scanner interface to support both Row and Rows
type Scanner interface {
	Scan(dest ...any) error
}

func scanRun(s Scanner) (*RunRecord, error) {
	var record RunRecord
	var baseRef sql.NullString

	if err := s.Scan(&record.ID, &record.SessionID, &record.Mode, &baseRef,
		&record.UnitCount, &record.PlanCount, &record.CreatedAt,
		&record.DurationMs, &record.Status); err != nil {
		return nil, err
	}
	record.BaseRef = baseRef.String
	return &record, nil
}

func collectRuns(rows *sql.Rows) ([]*RunRecord, error) {
	var runs []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			slog.Warn("scan run failed", "error", err)
			continue
		}
		runs = append(runs, record)
	}
	return runs, rows.Err()
}
