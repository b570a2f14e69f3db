package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	status              TEXT NOT NULL,
	raw_mode            TEXT NOT NULL DEFAULT '',
	raw_target_seconds  INTEGER NOT NULL DEFAULT 0,
	raw_crossfade       REAL NOT NULL DEFAULT 0,
	raw_start_pause     REAL NOT NULL DEFAULT 0,
	raw_end_pause       REAL NOT NULL DEFAULT 0,
	raw_resolution      TEXT NOT NULL DEFAULT '',
	raw_speed           TEXT NOT NULL DEFAULT '',
	mode                TEXT NOT NULL DEFAULT '',
	resolution          TEXT NOT NULL DEFAULT '',
	speed               REAL NOT NULL DEFAULT 0,
	downgraded          INTEGER NOT NULL DEFAULT 0,
	progress            INTEGER NOT NULL DEFAULT 0,
	error               TEXT NOT NULL DEFAULT '',
	error_code          TEXT NOT NULL DEFAULT '',
	input_path          TEXT NOT NULL DEFAULT '',
	output_path         TEXT NOT NULL DEFAULT '',
	artifact_url        TEXT NOT NULL DEFAULT '',
	artifact_name       TEXT NOT NULL DEFAULT '',
	artifact_expires_at INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL,
	started_at          INTEGER NOT NULL DEFAULT 0,
	completed_at        INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteRepository persists jobs in a local sqlite database so finished and
// failed jobs survive process restarts.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// prepares the schema. Jobs left RUNNING by a previous process are marked
// failed: their work directories are gone.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if _, err := db.Exec(
		`UPDATE jobs SET status = ?, error = 'interrupted by restart', error_code = 'ENGINE_FAILED', updated_at = ? WHERE status IN (?, ?)`,
		StatusFailed, time.Now().Unix(), StatusInQueue, StatusRunning,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mark interrupted jobs: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Save inserts or replaces the job row.
func (r *SQLiteRepository) Save(ctx context.Context, job *Job) error {
	j := job.Clone()
	_, err := r.db.ExecContext(ctx, `
INSERT OR REPLACE INTO jobs (
	id, status,
	raw_mode, raw_target_seconds, raw_crossfade, raw_start_pause, raw_end_pause, raw_resolution, raw_speed,
	mode, resolution, speed, downgraded,
	progress, error, error_code,
	input_path, output_path,
	artifact_url, artifact_name, artifact_expires_at,
	created_at, updated_at, started_at, completed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Status,
		j.Params.Mode, j.Params.TargetDurationSeconds, j.Params.CrossfadeSeconds,
		j.Params.StartPauseSeconds, j.Params.EndPauseSeconds, j.Params.Resolution, j.Params.Speed,
		j.Mode, j.Resolution, j.Speed, boolToInt(j.Downgraded),
		j.Progress, j.Error, j.ErrorCode,
		j.InputPath, j.OutputPath,
		j.ArtifactURL, j.ArtifactName, unixOrZero(j.ArtifactExpiresAt),
		j.CreatedAt.Unix(), j.UpdatedAt.Unix(), unixOrZero(j.StartedAt), unixOrZero(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

// FindByID retrieves a job by its ID.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, selectJobs+` WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return j, nil
}

// List returns all jobs, newest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, selectJobs+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Delete removes a job row.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

const selectJobs = `
SELECT id, status,
	raw_mode, raw_target_seconds, raw_crossfade, raw_start_pause, raw_end_pause, raw_resolution, raw_speed,
	mode, resolution, speed, downgraded,
	progress, error, error_code,
	input_path, output_path,
	artifact_url, artifact_name, artifact_expires_at,
	created_at, updated_at, started_at, completed_at
FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                                                  Job
		downgraded                                         int
		expiresAt, createdAt, updatedAt, started, finished int64
	)
	err := row.Scan(
		&j.ID, &j.Status,
		&j.Params.Mode, &j.Params.TargetDurationSeconds, &j.Params.CrossfadeSeconds,
		&j.Params.StartPauseSeconds, &j.Params.EndPauseSeconds, &j.Params.Resolution, &j.Params.Speed,
		&j.Mode, &j.Resolution, &j.Speed, &downgraded,
		&j.Progress, &j.Error, &j.ErrorCode,
		&j.InputPath, &j.OutputPath,
		&j.ArtifactURL, &j.ArtifactName, &expiresAt,
		&createdAt, &updatedAt, &started, &finished,
	)
	if err != nil {
		return nil, err
	}
	j.Downgraded = downgraded != 0
	j.ArtifactExpiresAt = timeOrZero(expiresAt)
	j.CreatedAt = time.Unix(createdAt, 0)
	j.UpdatedAt = time.Unix(updatedAt, 0)
	j.StartedAt = timeOrZero(started)
	j.CompletedAt = timeOrZero(finished)
	return &j, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
