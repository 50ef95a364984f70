package chancing

import (
	"context"
	"fmt"

	"github.com/admitpath/admitpath/internal/model"
)

// ScenarioResult is the full what-if response.
type ScenarioResult struct {
	Diffs   []model.ScenarioDiff  `json:"diffs"`
	Summary model.ScenarioSummary `json:"summary"`
	Errors  []model.BatchError    `json:"errors,omitempty"`
}

// Scenario applies proposed changes to a cloned profile and computes the
// chance delta per college. Purely functional: no profile, snapshot,
// history, or ledger writes happen here.
func (ca *Calculator) Scenario(ctx context.Context, profileID int64, changes model.ScenarioChanges, collegeIDs []int64) (*ScenarioResult, error) {
	profile, err := ca.stores.Profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if missing := profile.MissingRequiredFields(); len(missing) > 0 {
		return nil, model.NewIncompleteError(missing...)
	}
	if len(collegeIDs) > BatchMax {
		collegeIDs = collegeIDs[:BatchMax]
	}

	scenario := changes.Apply(profile)

	out := &ScenarioResult{}
	totalChange := 0.0
	for _, id := range collegeIDs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scenario cancelled: %w", model.ErrTimeout)
		}
		college, err := ca.stores.Colleges.GetCollege(ctx, id)
		if err != nil {
			out.Errors = append(out.Errors, model.BatchError{CollegeID: id, Kind: model.ErrKind(err)})
			continue
		}
		current := ca.computeForProfile(profile, college)
		proposed := ca.computeForProfile(scenario, college)

		diff := model.ScenarioDiff{
			CollegeID:       id,
			CollegeName:     college.Name,
			OldChance:       current.ChancePercent,
			NewChance:       proposed.ChancePercent,
			Change:          model.RoundDisplay(proposed.ChancePercent - current.ChancePercent),
			OldCategory:     current.Category,
			NewCategory:     proposed.Category,
			CategoryChanged: current.Category != proposed.Category,
		}
		out.Diffs = append(out.Diffs, diff)
		totalChange += diff.Change
		switch {
		case diff.Change > 0:
			out.Summary.Improved++
		case diff.Change < 0:
			out.Summary.Decreased++
		default:
			out.Summary.Unchanged++
		}
	}
	if len(out.Diffs) > 0 {
		out.Summary.AvgChange = model.RoundDisplay(totalChange / float64(len(out.Diffs)))
	}
	return out, nil
}

// CalculateBatch chances up to BatchMax colleges with per-item errors.
type BatchResult struct {
	Results   []model.ChanceResult `json:"results"`
	Errors    []model.BatchError   `json:"errors,omitempty"`
	Truncated bool                 `json:"truncated"`
}

// CalculateBatch computes chances for multiple colleges.
func (ca *Calculator) CalculateBatch(ctx context.Context, profileID int64, collegeIDs []int64) (*BatchResult, error) {
	out := &BatchResult{}
	if len(collegeIDs) > BatchMax {
		collegeIDs = collegeIDs[:BatchMax]
		out.Truncated = true
	}
	for _, id := range collegeIDs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("batch cancelled: %w", model.ErrTimeout)
		}
		r, err := ca.Calculate(ctx, profileID, id)
		if err != nil {
			out.Errors = append(out.Errors, model.BatchError{CollegeID: id, Kind: model.ErrKind(err), Message: err.Error()})
			continue
		}
		out.Results = append(out.Results, *r)
	}
	return out, nil
}

// SaveHistory appends a chance estimate to the append-only history log.
func (ca *Calculator) SaveHistory(ctx context.Context, userID, collegeID int64, chance float64, category model.ChanceCategory, factors []model.ChanceFactor) (int64, error) {
	id, err := ca.stores.History.AppendChance(ctx, &model.ChanceHistoryEntry{
		UserID:     userID,
		CollegeID:  collegeID,
		Chance:     chance,
		Category:   category,
		Factors:    factors,
		RecordedAt: ca.clk.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("append chance history: %w", err)
	}
	return id, nil
}

// CompareResult aggregates per-college history diffs.
type CompareResult struct {
	Comparisons []model.ChanceComparison `json:"comparisons"`
	Improved    int                      `json:"improved"`
	Decreased   int                      `json:"decreased"`
	AvgChange   float64                  `json:"avg_change"`
}

// Compare diffs each college on the user's application list against the
// most recent prior history entry. Prior values come from the history log;
// they are never recomputed.
func (ca *Calculator) Compare(ctx context.Context, userID int64) (*CompareResult, error) {
	profile, err := ca.stores.Profiles.GetProfileByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	colleges, err := ca.stores.Colleges.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user colleges: %w", err)
	}

	out := &CompareResult{}
	total := 0.0
	counted := 0
	for _, college := range colleges {
		prior, err := ca.stores.History.LatestChance(ctx, userID, college.CollegeID)
		if err != nil {
			return nil, fmt.Errorf("latest chance for college %d: %w", college.CollegeID, err)
		}
		if prior == nil {
			continue
		}
		current, err := ca.Calculate(ctx, profile.ProfileID, college.CollegeID)
		if err != nil {
			continue
		}
		cmp := model.ChanceComparison{
			CollegeID:     college.CollegeID,
			CollegeName:   college.Name,
			PriorChance:   prior.Chance,
			PriorAt:       prior.RecordedAt,
			CurrentChance: current.ChancePercent,
			Change:        model.RoundDisplay(current.ChancePercent - prior.Chance),
			PriorCategory: prior.Category,
			Category:      current.Category,
		}
		out.Comparisons = append(out.Comparisons, cmp)
		total += cmp.Change
		counted++
		switch {
		case cmp.Change > 0:
			out.Improved++
		case cmp.Change < 0:
			out.Decreased++
		}
	}
	if counted > 0 {
		out.AvgChange = model.RoundDisplay(total / float64(counted))
	}
	return out, nil
}
