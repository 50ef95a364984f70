package scoring

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/cache"
	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/ledger"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// requiredSignals is the denominator of the confidence formula.
const requiredSignals = 6

// lowConfidenceFloor attaches a warning below this confidence.
const lowConfidenceFloor = 0.4

// BatchMax is the hard cap on batch classification size.
const BatchMax = 50

// TaskEstimator supplies the remaining work estimate for the timeline
// subscore. Implemented by the task decomposer service.
type TaskEstimator interface {
	// RemainingHours sums estimated hours of incomplete, non-skipped tasks
	// for (user, college); when no tasks exist it estimates from the
	// college's requirement template.
	RemainingHours(ctx context.Context, userID, collegeID int64, c *model.College) (float64, error)
}

// Classifier is the fit scoring service.
type Classifier struct {
	stores    persistence.Stores
	cache     cache.Cache
	ledger    *ledger.Ledger
	estimator TaskEstimator
	cfg       config.Config
	clk       clock.Clock
}

// NewClassifier wires the classifier.
func NewClassifier(stores persistence.Stores, c cache.Cache, led *ledger.Ledger, est TaskEstimator, cfg config.Config, clk clock.Clock) *Classifier {
	return &Classifier{stores: stores, cache: c, ledger: led, estimator: est, cfg: cfg, clk: clk}
}

// ClassifyFit produces (or returns the cached) FitResult for the user's
// current snapshot against a college.
func (cl *Classifier) ClassifyFit(ctx context.Context, profileID, collegeID int64) (*model.FitResult, error) {
	profile, err := cl.stores.Profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if missing := profile.MissingRequiredFields(); len(missing) > 0 {
		return nil, model.NewIncompleteError(missing...)
	}
	college, err := cl.stores.Colleges.GetCollege(ctx, collegeID)
	if err != nil {
		return nil, err
	}

	snap, err := cl.stores.Profiles.LatestSnapshot(ctx, profileID)
	if err != nil {
		snap, err = cl.stores.Profiles.Snapshot(ctx, profileID)
		if err != nil {
			return nil, fmt.Errorf("snapshot profile %d: %w", profileID, err)
		}
	}

	key := cache.FitKey(snap.SnapshotID, collegeID)
	var cached model.FitResult
	if hit, err := cl.cache.Get(ctx, key, &cached); err == nil && hit && !cached.Expired(cl.clk.Now()) {
		return &cached, nil
	} else if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("fit cache read failed, recomputing")
	}

	result, record := cl.compute(ctx, snap, college)

	// A manual override shadows the computed category, but the computed
	// value still goes to the ledger for the diff.
	override, err := cl.stores.Overrides.GetOverride(ctx, profile.UserID, "fit", collegeID, "category")
	if err == nil && override != nil && override.ActiveAt(cl.clk.Now()) {
		record.Overridden = true
		record.Computed = result.OverallScore
		result.ComputedCategory = result.Category
		result.Category = model.FitCategory(override.OverrideValue)
		result.IsManualOverride = true
	}

	cl.ledger.RecordDecision(ctx, record)

	if _, err := cl.cache.Put(ctx, key, result, result.ComputedAt, cl.cfg.Scoring.CacheTTL()); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("fit cache write failed")
	}
	return result, nil
}

// compute is the pure scoring path: same snapshot and college always yield
// identical output, factor contributions included.
func (cl *Classifier) compute(ctx context.Context, snap *model.ProfileSnapshot, college *model.College) (*model.FitResult, *ledger.Record) {
	profile := &snap.Profile
	now := cl.clk.Now()

	weights := cl.cfg.Scoring.DefaultWeights
	if custom, err := cl.stores.Weights.GetWeights(ctx, profile.UserID); err == nil && custom != nil {
		weights = *custom
	}

	academic := academicSubscore(profile, college)
	profileScore := profileSubscore(profile, college)
	financial := financialSubscore(profile, college)

	_, earliest := college.Deadlines.Earliest(now)
	needed := 0.0
	if cl.estimator != nil {
		if h, err := cl.estimator.RemainingHours(ctx, profile.UserID, college.CollegeID, college); err == nil {
			needed = h
		}
	}
	timeline := timelineSubscore(now, earliest, needed, cl.cfg.Risk.ProductiveHoursPerDay)

	overall := weights.Academic*academic.score +
		weights.Profile*profileScore.score +
		weights.Financial*financial.score +
		weights.Timeline*timeline.score
	overall = clamp100(overall)

	missingCount := 0
	for _, sub := range []subscoreResult{academic, profileScore, financial, timeline} {
		if sub.missing {
			missingCount++
		}
	}
	if !profile.Academic.HasGPA() {
		missingCount++
	}
	if !profile.Academic.HasTestScore() {
		missingCount++
	}
	confidence := 1 - float64(missingCount)/requiredSignals
	if confidence < 0 {
		confidence = 0
	}

	var warnings []string
	if confidence < lowConfidenceFloor {
		warnings = append(warnings, "LOW_CONFIDENCE")
	}

	result := &model.FitResult{
		SnapshotID:   snap.SnapshotID,
		CollegeID:    college.CollegeID,
		UserID:       profile.UserID,
		OverallScore: overall,
		Category:     categorize(overall, college.AcceptanceRate),
		Subscores: model.FitSubscores{
			Academic:  academic.score,
			Profile:   profileScore.score,
			Financial: financial.score,
			Timeline:  timeline.score,
		},
		Weights:    weights,
		Confidence: confidence,
		Warnings:   warnings,
		ComputedAt: now,
		ExpiresAt:  now.Add(cl.cfg.Scoring.CacheTTL()),
	}

	var contributions []ledger.Contribution
	for _, sub := range [][]ledger.Contribution{academic.factors, profileScore.factors, financial.factors, timeline.factors} {
		contributions = append(contributions, sub...)
	}
	record := &ledger.Record{
		Kind:       ledger.KindFit,
		UserID:     profile.UserID,
		CollegeID:  college.CollegeID,
		SnapshotID: snap.SnapshotID,
		Inputs: map[string]string{
			"acceptance_rate": strconv.FormatFloat(college.AcceptanceRate, 'f', 3, 64),
			"gpa_50":          strconv.FormatFloat(college.GPAPercentiles.GPA50, 'f', 2, 64),
			"sat_50":          strconv.Itoa(college.TestPercentiles.SAT50),
		},
		Weights: map[string]float64{
			"academic":  weights.Academic,
			"profile":   weights.Profile,
			"financial": weights.Financial,
			"timeline":  weights.Timeline,
		},
		Factors:    contributions,
		Output:     overall,
		OutputText: string(result.Category),
		Warnings:   warnings,
		At:         now,
	}
	return result, record
}

// BatchResult is the non-failing batch response shape.
type BatchResult struct {
	Results   []model.FitResult  `json:"results"`
	Errors    []model.BatchError `json:"errors,omitempty"`
	Truncated bool               `json:"truncated"`
}

// ClassifyFitBatch classifies up to BatchMax colleges; excess ids are
// truncated and reported via the Truncated flag. Single-item failures land
// in Errors, never fail the batch.
func (cl *Classifier) ClassifyFitBatch(ctx context.Context, profileID int64, collegeIDs []int64) (*BatchResult, error) {
	out := &BatchResult{}
	if len(collegeIDs) > BatchMax {
		collegeIDs = collegeIDs[:BatchMax]
		out.Truncated = true
	}
	for _, id := range collegeIDs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("batch cancelled: %w", model.ErrTimeout)
		}
		fit, err := cl.ClassifyFit(ctx, profileID, id)
		if err != nil {
			out.Errors = append(out.Errors, model.BatchError{
				CollegeID: id, Kind: model.ErrKind(err), Message: err.Error(),
			})
			continue
		}
		out.Results = append(out.Results, *fit)
	}
	return out, nil
}

// SetUserWeights validates and stores custom weights, then invalidates the
// user's cached fits so the next read recomputes.
func (cl *Classifier) SetUserWeights(ctx context.Context, userID int64, w model.FitWeights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if err := cl.stores.Weights.SaveWeights(ctx, userID, w); err != nil {
		return fmt.Errorf("save weights for user %d: %w", userID, err)
	}
	cl.invalidateUserFits(ctx, userID)
	_ = cl.stores.History.AppendChange(ctx, &model.ChangeLogEntry{
		UserID:     userID,
		EntityType: "fit_weights",
		EntityID:   userID,
		Action:     "set",
		NewValue:   fmt.Sprintf("%.2f/%.2f/%.2f/%.2f", w.Academic, w.Profile, w.Financial, w.Timeline),
		ChangedBy:  model.ChangedByUser,
		At:         cl.clk.Now(),
	})
	return nil
}

// OverrideFit pins a category for (user, college). Recomputation preserves
// the override until ClearOverride.
func (cl *Classifier) OverrideFit(ctx context.Context, userID, collegeID int64, category model.FitCategory, reason string) (*model.FitResult, error) {
	if !model.ValidFitCategory(category) {
		return nil, fmt.Errorf("%w: unknown category %q", model.ErrInvalidArgument, category)
	}
	profile, err := cl.stores.Profiles.GetProfileByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := cl.ClassifyFit(ctx, profile.ProfileID, collegeID)
	if err != nil {
		return nil, err
	}

	o := &model.Override{
		UserID:        userID,
		EntityType:    "fit",
		EntityID:      collegeID,
		FieldName:     "category",
		OriginalValue: string(current.Category),
		OverrideValue: string(category),
		Reason:        reason,
		CreatedAt:     cl.clk.Now(),
	}
	if err := cl.stores.Overrides.SaveOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("save fit override: %w", err)
	}
	_ = cl.stores.History.AppendChange(ctx, &model.ChangeLogEntry{
		UserID:     userID,
		EntityType: "fit",
		EntityID:   collegeID,
		Action:     "override",
		FieldName:  "category",
		OldValue:   string(current.Category),
		NewValue:   string(category),
		ChangedBy:  model.ChangedByUser,
		At:         cl.clk.Now(),
	})

	// Drop the cached entry so the next read reflects the override.
	_ = cl.cache.Delete(ctx, cache.FitKey(current.SnapshotID, collegeID))
	return cl.ClassifyFit(ctx, profile.ProfileID, collegeID)
}

// ClearOverride removes a fit override and invalidates the cached result.
func (cl *Classifier) ClearOverride(ctx context.Context, userID, collegeID int64) error {
	if err := cl.stores.Overrides.ClearOverride(ctx, userID, "fit", collegeID, "category"); err != nil {
		return fmt.Errorf("clear fit override: %w", err)
	}
	cl.invalidateUserFits(ctx, userID)
	return nil
}

// invalidateUserFits drops every cached fit for the user's latest snapshot.
func (cl *Classifier) invalidateUserFits(ctx context.Context, userID int64) {
	profile, err := cl.stores.Profiles.GetProfileByUser(ctx, userID)
	if err != nil {
		return
	}
	snap, err := cl.stores.Profiles.LatestSnapshot(ctx, profile.ProfileID)
	if err != nil {
		return
	}
	if err := cl.cache.DeletePrefix(ctx, cache.SnapshotPrefix(snap.SnapshotID)); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("fit cache invalidation failed")
	}
}

// InvalidateCollege drops cached fits for a college across snapshots. Used
// by the refresh scheduler after a college's data changes.
func (cl *Classifier) InvalidateCollege(ctx context.Context, collegeID int64) {
	// Fit keys embed the snapshot first, so a per-college sweep walks the
	// whole fit keyspace.
	if err := cl.cache.DeletePrefix(ctx, "fit:"); err != nil {
		log.Warn().Err(err).Int64("college_id", collegeID).Msg("college fit invalidation failed")
	}
}
