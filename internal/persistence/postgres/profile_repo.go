package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// profileRepo implements ProfileStore for PostgreSQL.
type profileRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewProfileRepo creates a PostgreSQL profile repository.
func NewProfileRepo(db *sqlx.DB, timeout time.Duration) persistence.ProfileStore {
	return &profileRepo{db: db, timeout: timeout}
}

const profileColumns = `profile_id, user_id, academic, regional, preferences,
       demographics, activities, coursework, completeness, updated_at`

func (r *profileRepo) GetProfile(ctx context.Context, profileID int64) (*model.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE profile_id = $1`
	p, err := scanProfile(r.db.QueryRowxContext(ctx, query, profileID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %d: %w", profileID, model.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

func (r *profileRepo) GetProfileByUser(ctx context.Context, userID int64) (*model.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`
	p, err := scanProfile(r.db.QueryRowxContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", userID, model.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("failed to get profile by user: %w", err)
	}
	return p, nil
}

// SaveProfile upserts inside a transaction and snapshots the written state,
// so the returned snapshot is exactly what was persisted.
func (r *profileRepo) SaveProfile(ctx context.Context, p *model.Profile) (*model.ProfileSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cols, err := marshalProfileColumns(p)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO profiles
		(user_id, academic, regional, preferences, demographics, activities, coursework, completeness, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (user_id) DO UPDATE SET
			academic = EXCLUDED.academic,
			regional = EXCLUDED.regional,
			preferences = EXCLUDED.preferences,
			demographics = EXCLUDED.demographics,
			activities = EXCLUDED.activities,
			coursework = EXCLUDED.coursework,
			completeness = EXCLUDED.completeness,
			updated_at = now()
		RETURNING profile_id, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		p.UserID, cols.academic, cols.regional, cols.preferences,
		cols.demographics, cols.activities, cols.coursework, p.Completeness).
		Scan(&p.ProfileID, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}

	snap, err := insertSnapshot(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit profile save: %w", err)
	}
	return snap, nil
}

func (r *profileRepo) Snapshot(ctx context.Context, profileID int64) (*model.ProfileSnapshot, error) {
	p, err := r.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	snap, err := insertSnapshot(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return snap, nil
}

func insertSnapshot(ctx context.Context, tx *sqlx.Tx, p *model.Profile) (*model.ProfileSnapshot, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile snapshot: %w", err)
	}
	snap := &model.ProfileSnapshot{
		SnapshotID: uuid.NewString(),
		ProfileID:  p.ProfileID,
		UserID:     p.UserID,
		Profile:    *p,
	}
	query := `
		INSERT INTO profile_snapshots (snapshot_id, profile_id, user_id, profile)
		VALUES ($1, $2, $3, $4)
		RETURNING taken_at`
	if err := tx.QueryRowxContext(ctx, query, snap.SnapshotID, p.ProfileID, p.UserID, payload).Scan(&snap.TakenAt); err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return snap, nil
}

func (r *profileRepo) GetSnapshot(ctx context.Context, snapshotID string) (*model.ProfileSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT snapshot_id, profile_id, user_id, profile, taken_at
		FROM profile_snapshots WHERE snapshot_id = $1`
	snap, err := scanSnapshot(r.db.QueryRowxContext(ctx, query, snapshotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("snapshot %s: %w", snapshotID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

func (r *profileRepo) LatestSnapshot(ctx context.Context, profileID int64) (*model.ProfileSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT snapshot_id, profile_id, user_id, profile, taken_at
		FROM profile_snapshots
		WHERE profile_id = $1
		ORDER BY taken_at DESC
		LIMIT 1`
	snap, err := scanSnapshot(r.db.QueryRowxContext(ctx, query, profileID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %d has no snapshots: %w", profileID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}

// Helper methods

type profileColumnsJSON struct {
	academic, regional, preferences, demographics, activities, coursework []byte
}

func marshalProfileColumns(p *model.Profile) (*profileColumnsJSON, error) {
	out := &profileColumnsJSON{}
	for _, part := range []struct {
		name string
		src  interface{}
		dst  *[]byte
	}{
		{"academic", p.Academic, &out.academic},
		{"regional", p.Regional, &out.regional},
		{"preferences", p.Preferences, &out.preferences},
		{"demographics", p.Demographics, &out.demographics},
		{"activities", p.Activities, &out.activities},
		{"coursework", p.Coursework, &out.coursework},
	} {
		data, err := json.Marshal(part.src)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", part.name, err)
		}
		*part.dst = data
	}
	return out, nil
}

func scanProfile(row *sqlx.Row) (*model.Profile, error) {
	var p model.Profile
	var academic, regional, preferences, demographics, activities, coursework []byte

	err := row.Scan(&p.ProfileID, &p.UserID, &academic, &regional, &preferences,
		&demographics, &activities, &coursework, &p.Completeness, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, part := range []struct {
		name string
		data []byte
		dst  interface{}
	}{
		{"academic", academic, &p.Academic},
		{"regional", regional, &p.Regional},
		{"preferences", preferences, &p.Preferences},
		{"demographics", demographics, &p.Demographics},
		{"activities", activities, &p.Activities},
		{"coursework", coursework, &p.Coursework},
	} {
		if len(part.data) == 0 {
			continue
		}
		if err := json.Unmarshal(part.data, part.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", part.name, err)
		}
	}
	return &p, nil
}

func scanSnapshot(row *sqlx.Row) (*model.ProfileSnapshot, error) {
	var snap model.ProfileSnapshot
	var payload []byte
	if err := row.Scan(&snap.SnapshotID, &snap.ProfileID, &snap.UserID, &payload, &snap.TakenAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &snap.Profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot profile: %w", err)
	}
	return &snap, nil
}
