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

// collegeRepo implements CollegeStore for PostgreSQL.
type collegeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCollegeRepo creates a PostgreSQL college repository.
func NewCollegeRepo(db *sqlx.DB, timeout time.Duration) persistence.CollegeStore {
	return &collegeRepo{db: db, timeout: timeout}
}

const collegeColumns = `college_id, name, country, state, is_public, acceptance_rate,
       test_percentiles, gpa_percentiles, cost_of_attendance, meets_full_need,
       need_blind, majors, ranking, cds_factors, deadlines, requirements,
       jee_cutoffs, typical_offer, nc_cutoff, deadlines_url, last_scraped, scrape_failures`

const aliasedCollegeColumns = `c.college_id, c.name, c.country, c.state, c.is_public, c.acceptance_rate,
       c.test_percentiles, c.gpa_percentiles, c.cost_of_attendance, c.meets_full_need,
       c.need_blind, c.majors, c.ranking, c.cds_factors, c.deadlines, c.requirements,
       c.jee_cutoffs, c.typical_offer, c.nc_cutoff, c.deadlines_url, c.last_scraped, c.scrape_failures`

func (r *collegeRepo) GetCollege(ctx context.Context, collegeID int64) (*model.College, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + collegeColumns + ` FROM colleges WHERE college_id = $1`
	c, err := scanCollege(r.db.QueryRowxContext(ctx, query, collegeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("college %d: %w", collegeID, model.ErrCollegeNotFound)
		}
		return nil, fmt.Errorf("failed to get college: %w", err)
	}
	return c, nil
}

func (r *collegeRepo) ListColleges(ctx context.Context, afterID int64, limit int) ([]model.College, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + collegeColumns + `
		FROM colleges WHERE college_id > $1 ORDER BY college_id LIMIT $2`
	rows, err := r.db.QueryxContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list colleges: %w", err)
	}
	defer rows.Close()
	return scanColleges(rows)
}

func (r *collegeRepo) ListByUser(ctx context.Context, userID int64) ([]model.College, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + aliasedCollegeColumns + `
		FROM colleges c
		JOIN applications a ON a.college_id = c.college_id
		WHERE a.user_id = $1 AND a.active
		ORDER BY c.college_id`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user colleges: %w", err)
	}
	defer rows.Close()
	return scanColleges(rows)
}

func (r *collegeRepo) UpdateDeadlines(ctx context.Context, collegeID int64, deadlines model.CollegeDeadlines) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(deadlines)
	if err != nil {
		return fmt.Errorf("failed to marshal deadlines: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE colleges SET deadlines = $2 WHERE college_id = $1`, collegeID, payload)
	if err != nil {
		return fmt.Errorf("failed to update deadlines: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("college %d: %w", collegeID, model.ErrCollegeNotFound)
	}
	return nil
}

func (r *collegeRepo) MarkScraped(ctx context.Context, collegeID int64, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE colleges SET last_scraped = $2, scrape_failures = 0 WHERE college_id = $1`,
		collegeID, at)
	if err != nil {
		return fmt.Errorf("failed to mark scraped: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("college %d: %w", collegeID, model.ErrCollegeNotFound)
	}
	return nil
}

func (r *collegeRepo) RecordScrapeFailure(ctx context.Context, collegeID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var failures int
	err := r.db.QueryRowxContext(ctx,
		`UPDATE colleges SET scrape_failures = scrape_failures + 1
		 WHERE college_id = $1 RETURNING scrape_failures`, collegeID).
		Scan(&failures)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("college %d: %w", collegeID, model.ErrCollegeNotFound)
		}
		return 0, fmt.Errorf("failed to record scrape failure: %w", err)
	}
	return failures, nil
}

func (r *collegeRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.College, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Random order spreads refresh load across the catalog.
	query := `SELECT ` + collegeColumns + `
		FROM colleges WHERE last_scraped < $1 ORDER BY random() LIMIT $2`
	rows, err := r.db.QueryxContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale colleges: %w", err)
	}
	defer rows.Close()
	return scanColleges(rows)
}

func (r *collegeRepo) ListWithActiveApplications(ctx context.Context, limit int) ([]model.College, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT DISTINCT ` + aliasedCollegeColumns + `
		FROM colleges c
		JOIN applications a ON a.college_id = c.college_id AND a.active
		ORDER BY c.college_id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active colleges: %w", err)
	}
	defer rows.Close()
	return scanColleges(rows)
}

// Helper methods

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCollegeFrom(row rowScanner) (*model.College, error) {
	var c model.College
	var testPct, gpaPct, majors, cdsFactors, deadlines, requirements []byte
	var jeeCutoffs sql.NullString

	err := row.Scan(&c.CollegeID, &c.Name, &c.Country, &c.State, &c.IsPublic,
		&c.AcceptanceRate, &testPct, &gpaPct, &c.CostOfAttendance,
		&c.MeetsFullNeed, &c.NeedBlind, &majors, &c.Ranking, &cdsFactors,
		&deadlines, &requirements, &jeeCutoffs, &c.TypicalOffer, &c.NCCutoff,
		&c.DeadlinesURL, &c.LastScraped, &c.ScrapeFailures)
	if err != nil {
		return nil, err
	}
	for _, part := range []struct {
		name string
		data []byte
		dst  interface{}
	}{
		{"test_percentiles", testPct, &c.TestPercentiles},
		{"gpa_percentiles", gpaPct, &c.GPAPercentiles},
		{"majors", majors, &c.Majors},
		{"cds_factors", cdsFactors, &c.CDSFactors},
		{"deadlines", deadlines, &c.Deadlines},
		{"requirements", requirements, &c.Requirements},
	} {
		if len(part.data) == 0 {
			continue
		}
		if err := json.Unmarshal(part.data, part.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", part.name, err)
		}
	}
	if jeeCutoffs.Valid && jeeCutoffs.String != "" {
		c.JEECutoffs = &model.JEECutoffs{}
		if err := json.Unmarshal([]byte(jeeCutoffs.String), c.JEECutoffs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal jee_cutoffs: %w", err)
		}
	}
	return &c, nil
}

func scanCollege(row *sqlx.Row) (*model.College, error) {
	return scanCollegeFrom(row)
}

func scanColleges(rows *sqlx.Rows) ([]model.College, error) {
	var out []model.College
	for rows.Next() {
		c, err := scanCollegeFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
