package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// modelRepo implements ModelRegistry for PostgreSQL.
type modelRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewModelRepo creates a PostgreSQL model registry.
func NewModelRepo(db *sqlx.DB, timeout time.Duration) persistence.ModelRegistry {
	return &modelRepo{db: db, timeout: timeout}
}

const versionColumns = `version_id, college_id, sample_count, accuracy, nudge, validated, deployed, trained_at`

func (r *modelRepo) Deployed(ctx context.Context, collegeID int64) (*persistence.ModelVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var v persistence.ModelVersion
	query := `SELECT ` + versionColumns + ` FROM model_versions WHERE college_id = $1 AND deployed`
	err := r.db.GetContext(ctx, &v, query, collegeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deployed model: %w", err)
	}
	return &v, nil
}

func (r *modelRepo) Latest(ctx context.Context, collegeID int64) (*persistence.ModelVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var v persistence.ModelVersion
	query := `SELECT ` + versionColumns + `
		FROM model_versions WHERE college_id = $1
		ORDER BY trained_at DESC LIMIT 1`
	err := r.db.GetContext(ctx, &v, query, collegeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest model: %w", err)
	}
	return &v, nil
}

func (r *modelRepo) SampleCount(ctx context.Context, collegeID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM outcome_samples WHERE college_id = $1`, collegeID)
	if err != nil {
		return 0, fmt.Errorf("failed to count outcome samples: %w", err)
	}
	return n, nil
}

func (r *modelRepo) AppendOutcome(ctx context.Context, sample *persistence.OutcomeSample) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if sample.ReportedAt.IsZero() {
		sample.ReportedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO outcome_samples (college_id, user_id, predicted_chance, admitted, reported_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING sample_id`
	err := r.db.QueryRowxContext(ctx, query,
		sample.CollegeID, sample.UserID, sample.PredictedChance, sample.Admitted, sample.ReportedAt).
		Scan(&sample.SampleID)
	if err != nil {
		return fmt.Errorf("failed to append outcome sample: %w", err)
	}
	return nil
}

func (r *modelRepo) ListOutcomes(ctx context.Context, collegeID int64) ([]persistence.OutcomeSample, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT sample_id, college_id, user_id, predicted_chance, admitted, reported_at
		FROM outcome_samples
		WHERE college_id = $1
		ORDER BY reported_at`
	var out []persistence.OutcomeSample
	if err := r.db.SelectContext(ctx, &out, query, collegeID); err != nil {
		return nil, fmt.Errorf("failed to list outcome samples: %w", err)
	}
	return out, nil
}

func (r *modelRepo) SaveVersion(ctx context.Context, v *persistence.ModelVersion) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if v.TrainedAt.IsZero() {
		v.TrainedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO model_versions (college_id, sample_count, accuracy, nudge, validated, deployed, trained_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		RETURNING version_id`
	err := r.db.QueryRowxContext(ctx, query,
		v.CollegeID, v.SampleCount, v.Accuracy, v.Nudge, v.Validated, v.TrainedAt).
		Scan(&v.VersionID)
	if err != nil {
		return 0, fmt.Errorf("failed to save model version: %w", err)
	}
	return v.VersionID, nil
}

// Deploy flips the deployed pointer in one transaction so readers never see
// zero or two deployed versions.
func (r *modelRepo) Deploy(ctx context.Context, collegeID, versionID int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET deployed = FALSE WHERE college_id = $1 AND deployed`, collegeID); err != nil {
		return fmt.Errorf("failed to undeploy previous version: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET deployed = TRUE WHERE college_id = $1 AND version_id = $2`,
		collegeID, versionID)
	if err != nil {
		return fmt.Errorf("failed to deploy version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("model version %d for college %d: %w", versionID, collegeID, model.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deploy: %w", err)
	}
	return nil
}
