package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/admitpath/admitpath/internal/ledger"
)

// ledgerRepo implements ledger.Store for PostgreSQL. The full record is the
// payload; indexed columns exist only for lookup.
type ledgerRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLedgerRepo creates a PostgreSQL ledger store.
func NewLedgerRepo(db *sqlx.DB, timeout time.Duration) ledger.Store {
	return &ledgerRepo{db: db, timeout: timeout}
}

func (r *ledgerRepo) Append(ctx context.Context, rec *ledger.Record) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger record: %w", err)
	}
	query := `
		INSERT INTO decision_ledger (record_id, kind, user_id, college_id, snapshot_id, payload, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query,
		rec.RecordID, rec.Kind, rec.UserID, rec.CollegeID, rec.SnapshotID, payload, rec.At); err != nil {
		return fmt.Errorf("failed to append ledger record: %w", err)
	}
	return nil
}

func (r *ledgerRepo) List(ctx context.Context, userID, collegeID int64, kind ledger.DecisionKind, limit int) ([]ledger.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT payload
		FROM decision_ledger
		WHERE user_id = $1 AND college_id = $2 AND ($3 = '' OR kind = $3)
		ORDER BY at DESC
		LIMIT $4`
	rows, err := r.db.QueryxContext(ctx, query, userID, collegeID, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan ledger payload: %w", err)
		}
		var rec ledger.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ledger record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
