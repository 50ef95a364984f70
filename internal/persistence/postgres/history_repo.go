package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// historyRepo implements HistoryStore for PostgreSQL.
type historyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHistoryRepo creates a PostgreSQL history repository.
func NewHistoryRepo(db *sqlx.DB, timeout time.Duration) persistence.HistoryStore {
	return &historyRepo{db: db, timeout: timeout}
}

func (r *historyRepo) AppendChance(ctx context.Context, e *model.ChanceHistoryEntry) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	factors, err := json.Marshal(e.Factors)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal factors: %w", err)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO chance_history (user_id, college_id, chance, category, factors, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING history_id`
	err = r.db.QueryRowxContext(ctx, query,
		e.UserID, e.CollegeID, e.Chance, e.Category, factors, e.RecordedAt).
		Scan(&e.HistoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to append chance history: %w", err)
	}
	return e.HistoryID, nil
}

func (r *historyRepo) LatestChance(ctx context.Context, userID, collegeID int64) (*model.ChanceHistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT history_id, user_id, college_id, chance, category, factors, recorded_at
		FROM chance_history
		WHERE user_id = $1 AND college_id = $2
		ORDER BY recorded_at DESC
		LIMIT 1`
	e, err := scanChanceEntry(r.db.QueryRowxContext(ctx, query, userID, collegeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest chance: %w", err)
	}
	return e, nil
}

func (r *historyRepo) ListChances(ctx context.Context, userID, collegeID int64, limit int) ([]model.ChanceHistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT history_id, user_id, college_id, chance, category, factors, recorded_at
		FROM chance_history
		WHERE user_id = $1 AND college_id = $2
		ORDER BY recorded_at DESC
		LIMIT $3`
	rows, err := r.db.QueryxContext(ctx, query, userID, collegeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chance history: %w", err)
	}
	defer rows.Close()

	var out []model.ChanceHistoryEntry
	for rows.Next() {
		e, err := scanChanceEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func (r *historyRepo) AppendChange(ctx context.Context, e *model.ChangeLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	query := `
		INSERT INTO change_log (user_id, entity_type, entity_id, action, field_name, old_value, new_value, changed_by, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING entry_id`
	err := r.db.QueryRowxContext(ctx, query,
		e.UserID, e.EntityType, e.EntityID, e.Action, e.FieldName,
		e.OldValue, e.NewValue, e.ChangedBy, e.At).
		Scan(&e.EntryID)
	if err != nil {
		return fmt.Errorf("failed to append change log: %w", err)
	}
	return nil
}

func (r *historyRepo) ListChanges(ctx context.Context, entityType string, entityID int64, limit int) ([]model.ChangeLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT entry_id, user_id, entity_type, entity_id, action, field_name, old_value, new_value, changed_by, at
		FROM change_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY at
		LIMIT $3`
	var out []model.ChangeLogEntry
	if err := r.db.SelectContext(ctx, &out, query, entityType, entityID, limit); err != nil {
		return nil, fmt.Errorf("failed to list change log: %w", err)
	}
	return out, nil
}

func scanChanceEntry(row rowScanner) (*model.ChanceHistoryEntry, error) {
	var e model.ChanceHistoryEntry
	var factors []byte
	err := row.Scan(&e.HistoryID, &e.UserID, &e.CollegeID, &e.Chance,
		&e.Category, &factors, &e.RecordedAt)
	if err != nil {
		return nil, err
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &e.Factors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
		}
	}
	return &e, nil
}

// overrideRepo implements OverrideStore for PostgreSQL.
type overrideRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOverrideRepo creates a PostgreSQL override repository.
func NewOverrideRepo(db *sqlx.DB, timeout time.Duration) persistence.OverrideStore {
	return &overrideRepo{db: db, timeout: timeout}
}

func (r *overrideRepo) GetOverride(ctx context.Context, userID int64, entityType string, entityID int64, field string) (*model.Override, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT override_id, user_id, entity_type, entity_id, field_name,
		       original_value, override_value, reason,
		       COALESCE(expires_at, 'epoch'::timestamptz) AS expires_at, created_at
		FROM overrides
		WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3 AND field_name = $4`
	var o model.Override
	err := r.db.GetContext(ctx, &o, query, userID, entityType, entityID, field)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get override: %w", err)
	}
	if o.ExpiresAt.Unix() == 0 {
		o.ExpiresAt = time.Time{}
	}
	return &o, nil
}

func (r *overrideRepo) SaveOverride(ctx context.Context, o *model.Override) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO overrides
		(user_id, entity_type, entity_id, field_name, original_value, override_value, reason, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, entity_type, entity_id, field_name) DO UPDATE SET
			original_value = EXCLUDED.original_value,
			override_value = EXCLUDED.override_value,
			reason = EXCLUDED.reason,
			expires_at = EXCLUDED.expires_at,
			created_at = now()
		RETURNING override_id, created_at`
	err := r.db.QueryRowxContext(ctx, query,
		o.UserID, o.EntityType, o.EntityID, o.FieldName,
		o.OriginalValue, o.OverrideValue, o.Reason, nullTime(o.ExpiresAt)).
		Scan(&o.OverrideID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}
	return nil
}

func (r *overrideRepo) ClearOverride(ctx context.Context, userID int64, entityType string, entityID int64, field string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM overrides WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3 AND field_name = $4`,
		userID, entityType, entityID, field)
	if err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	return nil
}

// weightsRepo implements WeightsStore for PostgreSQL.
type weightsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWeightsRepo creates a PostgreSQL weights repository.
func NewWeightsRepo(db *sqlx.DB, timeout time.Duration) persistence.WeightsStore {
	return &weightsRepo{db: db, timeout: timeout}
}

func (r *weightsRepo) GetWeights(ctx context.Context, userID int64) (*model.FitWeights, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var w model.FitWeights
	query := `SELECT academic, profile, financial, timeline FROM user_fit_weights WHERE user_id = $1`
	err := r.db.GetContext(ctx, &w, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get weights: %w", err)
	}
	return &w, nil
}

func (r *weightsRepo) SaveWeights(ctx context.Context, userID int64, w model.FitWeights) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO user_fit_weights (user_id, academic, profile, financial, timeline)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			academic = EXCLUDED.academic,
			profile = EXCLUDED.profile,
			financial = EXCLUDED.financial,
			timeline = EXCLUDED.timeline`
	if _, err := r.db.ExecContext(ctx, query,
		userID, w.Academic, w.Profile, w.Financial, w.Timeline); err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}
	return nil
}
