package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfline-wms/shelfline/internal/platform/db"
)

// Repository persists import runs in PostgreSQL. The classified outcomes and
// resolutions live as jsonb snapshots on the run row; conflicts are
// additionally projected into import_conflicts so reviewers can query them
// without unpacking a snapshot.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new run row.
func (r *Repository) Create(ctx context.Context, run Run) error {
	outcomes, resolutions, result, err := marshalRun(run)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return err
	}
	query := `INSERT INTO import_runs (id, source, source_ref, status, summary, outcomes, resolutions, result, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.db.Exec(ctx, query,
		run.ID, run.Source, run.SourceRef, run.Status, summary, outcomes, resolutions, result, run.Error,
		run.CreatedAt, run.UpdatedAt)
	return err
}

// Get loads a run with its snapshots.
func (r *Repository) Get(ctx context.Context, id string) (Run, error) {
	query := `SELECT id, source, source_ref, status, summary, outcomes, resolutions, result, error, created_at, updated_at
		FROM import_runs WHERE id = $1`
	var run Run
	var summary, outcomes, resolutions, result []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Source, &run.SourceRef, &run.Status, &summary, &outcomes, &resolutions, &result,
		&run.Error, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, err
	}
	if err := unmarshalRun(&run, summary, outcomes, resolutions, result); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Update rewrites the run row and re-projects its conflicts inside one
// transaction.
func (r *Repository) Update(ctx context.Context, run Run) error {
	outcomes, resolutions, result, err := marshalRun(run)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return err
	}

	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE import_runs
			SET status = $2, summary = $3, outcomes = $4, resolutions = $5, result = $6, error = $7, updated_at = $8
			WHERE id = $1`,
			run.ID, run.Status, summary, outcomes, resolutions, result, run.Error, run.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRunNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM import_conflicts WHERE run_id = $1`, run.ID); err != nil {
			return err
		}
		for _, conflict := range run.Conflicts() {
			payload, err := json.Marshal(conflict)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO import_conflicts (run_id, row_index, conflict_type, status, payload, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				run.ID, conflict.RowIndex, conflict.Type, conflict.Status, payload, run.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListRecent returns the newest runs for the review dashboard, without
// outcome snapshots.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, source, source_ref, status, summary, error, created_at, updated_at
		FROM import_runs ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var summary []byte
		if err := rows.Scan(&run.ID, &run.Source, &run.SourceRef, &run.Status, &summary,
			&run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return nil, fmt.Errorf("reconcile: decode summary: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func marshalRun(run Run) (outcomes, resolutions, result []byte, err error) {
	if outcomes, err = json.Marshal(run.Outcomes); err != nil {
		return nil, nil, nil, err
	}
	if resolutions, err = json.Marshal(run.Resolutions); err != nil {
		return nil, nil, nil, err
	}
	if run.Result != nil {
		if result, err = json.Marshal(run.Result); err != nil {
			return nil, nil, nil, err
		}
	}
	return outcomes, resolutions, result, nil
}

func unmarshalRun(run *Run, summary, outcomes, resolutions, result []byte) error {
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return fmt.Errorf("reconcile: decode summary: %w", err)
		}
	}
	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &run.Outcomes); err != nil {
			return fmt.Errorf("reconcile: decode outcomes: %w", err)
		}
	}
	if len(resolutions) > 0 {
		if err := json.Unmarshal(resolutions, &run.Resolutions); err != nil {
			return fmt.Errorf("reconcile: decode resolutions: %w", err)
		}
	}
	if len(result) > 0 {
		run.Result = &CommitResult{}
		if err := json.Unmarshal(result, run.Result); err != nil {
			return fmt.Errorf("reconcile: decode result: %w", err)
		}
	}
	return nil
}
