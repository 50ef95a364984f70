// Package ledger is the immutable per-decision record of inputs, weights,
// factor contributions, and outputs. It is the single source of truth for
// the explain endpoints and the what-if/compare diffs; history is never
// recomputed on the fly.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/model"
)

// DecisionKind tags what produced a record.
type DecisionKind string

const (
	KindFit    DecisionKind = "fit"
	KindChance DecisionKind = "chance"
	KindRisk   DecisionKind = "risk"
)

// Contribution is one signed factor contribution inside a record.
type Contribution struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	Value    float64 `json:"value"`    // signed contribution to the output
	Evidence string  `json:"evidence"` // source key, or "missing"
}

// Record is one immutable decision trace.
type Record struct {
	RecordID   string             `json:"record_id"` // uuid
	Kind       DecisionKind       `json:"kind"`
	UserID     int64              `json:"user_id"`
	CollegeID  int64              `json:"college_id"`
	SnapshotID string             `json:"snapshot_id"`
	Inputs     map[string]string  `json:"inputs"`
	Weights    map[string]float64 `json:"weights"`
	Factors    []Contribution     `json:"factors"`
	Output     float64            `json:"output"`
	OutputText string             `json:"output_text"` // category / risk level
	Computed   float64            `json:"computed,omitempty"`     // pre-override output, when overridden
	Overridden bool               `json:"overridden,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	At         time.Time          `json:"at"`
}

// Store persists records append-only.
type Store interface {
	// Append writes one record.
	Append(ctx context.Context, r *Record) error

	// List returns records for (user, college), newest first, optionally
	// filtered by kind ("" = all).
	List(ctx context.Context, userID, collegeID int64, kind DecisionKind, limit int) ([]Record, error)
}

// Ledger observes every write-producing decision.
type Ledger struct {
	store Store
}

// New wraps a store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// RecordDecision assigns an id and timestamp and appends. Ledger failures
// are logged, not propagated: a decision must not fail because its trace
// could not be written, but the loss is visible in the logs.
func (l *Ledger) RecordDecision(ctx context.Context, r *Record) {
	if r.RecordID == "" {
		r.RecordID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	if err := l.store.Append(ctx, r); err != nil {
		log.Error().Err(err).
			Str("kind", string(r.Kind)).
			Int64("user_id", r.UserID).
			Int64("college_id", r.CollegeID).
			Msg("ledger append failed")
	}
}

// Trace is the assembled human-readable explanation for a college.
type Trace struct {
	UserID    int64        `json:"user_id"`
	CollegeID int64        `json:"college_id"`
	Records   []Record     `json:"records"`
	Lines     []string     `json:"lines"`
}

// Explain reassembles the decision trace for (user, college) from the
// ledger. Fails with NOT_FOUND when no records exist.
func (l *Ledger) Explain(ctx context.Context, userID, collegeID int64) (*Trace, error) {
	records, err := l.store.List(ctx, userID, collegeID, "", 50)
	if err != nil {
		return nil, fmt.Errorf("list ledger records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no decisions recorded for college %d: %w", collegeID, model.ErrNotFound)
	}

	trace := &Trace{UserID: userID, CollegeID: collegeID, Records: records}
	for _, r := range records {
		trace.Lines = append(trace.Lines, renderRecord(r)...)
	}
	return trace, nil
}

// LatestOf returns the newest record of a kind, or nil.
func (l *Ledger) LatestOf(ctx context.Context, userID, collegeID int64, kind DecisionKind) (*Record, error) {
	records, err := l.store.List(ctx, userID, collegeID, kind, 1)
	if err != nil {
		return nil, fmt.Errorf("list ledger records: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func renderRecord(r Record) []string {
	lines := []string{
		fmt.Sprintf("[%s] %s -> %.1f (%s)", r.At.Format(time.RFC3339), r.Kind, r.Output, r.OutputText),
	}
	if r.Overridden {
		lines = append(lines, fmt.Sprintf("  overridden: computed value was %.1f", r.Computed))
	}

	factors := append([]Contribution(nil), r.Factors...)
	sort.Slice(factors, func(i, j int) bool {
		ai, aj := factors[i].Value, factors[j].Value
		if ai < 0 {
			ai = -ai
		}
		if aj < 0 {
			aj = -aj
		}
		return ai > aj
	})
	for _, f := range factors {
		lines = append(lines, fmt.Sprintf("  %-24s %+6.1f  (%s)", f.Name, f.Value, f.Evidence))
	}
	for _, w := range r.Warnings {
		lines = append(lines, "  warning: "+w)
	}
	return lines
}

// MemStore is an in-memory Store for tests and offline mode.
type MemStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore { return &MemStore{} }

func (m *MemStore) Append(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *r)
	return nil
}

func (m *MemStore) List(_ context.Context, userID, collegeID int64, kind DecisionKind, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if r.UserID != userID || r.CollegeID != collegeID {
			continue
		}
		if kind != "" && r.Kind != kind {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
