package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

var ErrRunNotFound = errors.New("run not found")

type Run struct {
	ID           uuid.UUID       `db:"id"`
	Status       RunStatus       `db:"status"`
	InputPath    string          `db:"input_path"`
	OutputDir    string          `db:"output_dir"`
	ExportCSV    sql.NullString  `db:"export_csv"`
	ImageArchive sql.NullString  `db:"image_archive"`
	Summary      json.RawMessage `db:"summary"`
	ErrorMessage sql.NullString  `db:"error_message"`
	CreatedAt    time.Time       `db:"created_at"`
	StartedAt    sql.NullTime    `db:"started_at"`
	FinishedAt   sql.NullTime    `db:"finished_at"`
}

type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// EnsureSchema creates the runs table when it does not exist yet.
func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS harvest_runs (
			id UUID PRIMARY KEY,
			status TEXT NOT NULL,
			input_path TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			export_csv TEXT,
			image_archive TEXT,
			summary JSONB,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		)`

	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure runs schema: %w", err)
	}
	return nil
}

// Create inserts a queued run and assigns its ID.
func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = RunQueued

	query := `
		INSERT INTO harvest_runs (id, status, input_path, output_dir)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		run.ID, run.Status, run.InputPath, run.OutputDir,
	).Scan(&run.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// MarkRunning transitions a queued run to running.
func (r *RunRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE harvest_runs SET
			status = $2,
			started_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = $3`

	tag, err := r.db.Exec(ctx, query, id, RunRunning, RunQueued)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// MarkSucceeded records artifact paths and the serialized run summary.
func (r *RunRepository) MarkSucceeded(ctx context.Context, id uuid.UUID, exportCSV, imageArchive string, summary json.RawMessage) error {
	query := `
		UPDATE harvest_runs SET
			status = $2,
			export_csv = $3,
			image_archive = $4,
			summary = $5,
			finished_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, RunSucceeded, exportCSV, imageArchive, summary)
	if err != nil {
		return fmt.Errorf("failed to mark run succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// MarkFailed records the failure message on a run.
func (r *RunRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	query := `
		UPDATE harvest_runs SET
			status = $2,
			error_message = $3,
			finished_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, RunFailed, cause.Error())
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, status, input_path, output_dir, export_csv, image_archive,
		       summary, error_message, created_at, started_at, finished_at
		FROM harvest_runs
		WHERE id = $1`

	run := &Run{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Status, &run.InputPath, &run.OutputDir,
		&run.ExportCSV, &run.ImageArchive, &run.Summary,
		&run.ErrorMessage, &run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, status, input_path, output_dir, export_csv, image_archive,
		       summary, error_message, created_at, started_at, finished_at
		FROM harvest_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.Status, &run.InputPath, &run.OutputDir,
			&run.ExportCSV, &run.ImageArchive, &run.Summary,
			&run.ErrorMessage, &run.CreatedAt, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
