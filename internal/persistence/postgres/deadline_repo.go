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

// deadlineRepo implements DeadlineStore for PostgreSQL.
type deadlineRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDeadlineRepo creates a PostgreSQL deadline repository.
func NewDeadlineRepo(db *sqlx.DB, timeout time.Duration) persistence.DeadlineStore {
	return &deadlineRepo{db: db, timeout: timeout}
}

func (r *deadlineRepo) ListDeadlines(ctx context.Context, userID, collegeID int64) ([]model.UserDeadline, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT deadline_id, user_id, college_id, application_id, title,
		       deadline_date, type, risk_level, buffer_hours, active
		FROM user_deadlines
		WHERE user_id = $1 AND active AND ($2 = 0 OR college_id = $2)
		ORDER BY deadline_date`
	var out []model.UserDeadline
	if err := r.db.SelectContext(ctx, &out, query, userID, collegeID); err != nil {
		return nil, fmt.Errorf("failed to list deadlines: %w", err)
	}
	return out, nil
}

func (r *deadlineRepo) SaveDeadline(ctx context.Context, d *model.UserDeadline) (*model.UserDeadline, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if d.DeadlineID == 0 {
		query := `
			INSERT INTO user_deadlines
			(user_id, college_id, application_id, title, deadline_date, type, risk_level, buffer_hours, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING deadline_id`
		err := r.db.QueryRowxContext(ctx, query,
			d.UserID, d.CollegeID, d.ApplicationID, d.Title, d.DeadlineDate,
			d.Type, d.RiskLevel, d.BufferHours, d.Active).
			Scan(&d.DeadlineID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert deadline: %w", err)
		}
		return d, nil
	}

	query := `
		UPDATE user_deadlines SET
			title = $2, deadline_date = $3, type = $4, risk_level = $5,
			buffer_hours = $6, active = $7
		WHERE deadline_id = $1`
	res, err := r.db.ExecContext(ctx, query,
		d.DeadlineID, d.Title, d.DeadlineDate, d.Type, d.RiskLevel, d.BufferHours, d.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to update deadline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("deadline %d: %w", d.DeadlineID, model.ErrNotFound)
	}
	return d, nil
}

func (r *deadlineRepo) UpdateRisk(ctx context.Context, deadlineID int64, level model.RiskLevel, bufferHours float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE user_deadlines SET risk_level = $2, buffer_hours = $3 WHERE deadline_id = $1`,
		deadlineID, level, bufferHours)
	if err != nil {
		return fmt.Errorf("failed to update risk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deadline %d: %w", deadlineID, model.ErrNotFound)
	}
	return nil
}

func (r *deadlineRepo) LastAlert(ctx context.Context, deadlineID int64, level model.AlertLevel) (*model.DeadlineAlert, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT alert_id, user_id, college_id, deadline_id, level, message, emitted_at
		FROM deadline_alerts
		WHERE deadline_id = $1 AND level = $2
		ORDER BY emitted_at DESC
		LIMIT 1`
	var a model.DeadlineAlert
	err := r.db.GetContext(ctx, &a, query, deadlineID, level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last alert: %w", err)
	}
	return &a, nil
}

func (r *deadlineRepo) AppendAlert(ctx context.Context, a *model.DeadlineAlert) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO deadline_alerts (alert_id, user_id, college_id, deadline_id, level, message, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query,
		a.AlertID, a.UserID, a.CollegeID, a.DeadlineID, a.Level, a.Message, a.EmittedAt); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *deadlineRepo) ListAlerts(ctx context.Context, userID int64, since time.Time) ([]model.DeadlineAlert, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT alert_id, user_id, college_id, deadline_id, level, message, emitted_at
		FROM deadline_alerts
		WHERE user_id = $1 AND emitted_at >= $2
		ORDER BY emitted_at DESC`
	var out []model.DeadlineAlert
	if err := r.db.SelectContext(ctx, &out, query, userID, since); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return out, nil
}

func (r *deadlineRepo) ListActiveUsers(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []int64
	query := `SELECT DISTINCT user_id FROM user_deadlines WHERE active ORDER BY user_id`
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return out, nil
}
