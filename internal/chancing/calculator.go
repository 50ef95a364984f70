// Package chancing implements the region-dispatched admission-chance
// calculator. The formulas are interpretable and deterministic: the same
// (profile snapshot, college) inputs always yield byte-identical results.
// A deployed, validated per-college model may nudge the estimate by at most
// +-5 percentage points; the rule-based result stays authoritative.
package chancing

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/cache"
	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/ledger"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// BatchMax mirrors the fit classifier's batch cap.
const BatchMax = 50

// maxModelNudge bounds the learned-model overlay in percentage points.
const maxModelNudge = 5.0

// Calculator is the chancing service.
type Calculator struct {
	stores persistence.Stores
	cache  cache.Cache
	ledger *ledger.Ledger
	cfg    config.Config
	clk    clock.Clock
}

// NewCalculator wires the calculator.
func NewCalculator(stores persistence.Stores, c cache.Cache, led *ledger.Ledger, cfg config.Config, clk clock.Clock) *Calculator {
	return &Calculator{stores: stores, cache: c, ledger: led, cfg: cfg, clk: clk}
}

// Calculate produces (or returns the cached) ChanceResult for the user's
// current snapshot against a college.
func (ca *Calculator) Calculate(ctx context.Context, profileID, collegeID int64) (*model.ChanceResult, error) {
	profile, err := ca.stores.Profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if missing := profile.MissingRequiredFields(); len(missing) > 0 {
		return nil, model.NewIncompleteError(missing...)
	}
	college, err := ca.stores.Colleges.GetCollege(ctx, collegeID)
	if err != nil {
		return nil, err
	}

	snap, err := ca.stores.Profiles.LatestSnapshot(ctx, profileID)
	if err != nil {
		snap, err = ca.stores.Profiles.Snapshot(ctx, profileID)
		if err != nil {
			return nil, fmt.Errorf("snapshot profile %d: %w", profileID, err)
		}
	}

	key := cache.ChanceKey(snap.SnapshotID, collegeID)
	var cached model.ChanceResult
	if hit, err := ca.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	} else if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("chance cache read failed, recomputing")
	}

	result := ca.computeForProfile(&snap.Profile, college)
	result.SnapshotID = snap.SnapshotID
	result.UserID = snap.UserID
	result.ComputedAt = ca.clk.Now()

	ca.applyModelNudge(ctx, result, college)

	ca.ledger.RecordDecision(ctx, &ledger.Record{
		Kind:       ledger.KindChance,
		UserID:     snap.UserID,
		CollegeID:  collegeID,
		SnapshotID: snap.SnapshotID,
		Inputs: map[string]string{
			"region":          string(result.Region),
			"acceptance_rate": strconv.FormatFloat(college.AcceptanceRate, 'f', 3, 64),
		},
		Weights: map[string]float64{"model_nudge": result.ModelNudge},
		Factors: chanceContributions(result.Factors),
		Output:  result.ChancePercent,
		OutputText: string(result.Category),
		At:         result.ComputedAt,
	})

	if _, err := ca.cache.Put(ctx, key, result, result.ComputedAt, ca.cfg.Scoring.CacheTTL()); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("chance cache write failed")
	}
	return result, nil
}

// computeForProfile is the pure dispatch path: exactly one region formula
// runs per (profile, college).
func (ca *Calculator) computeForProfile(p *model.Profile, c *model.College) *model.ChanceResult {
	region := p.DispatchRegion(c.Country)
	var result *model.ChanceResult
	switch region {
	case model.RegionIndia:
		result = ca.indiaFormula(p, c)
	case model.RegionUK:
		result = ca.ukFormula(p, c)
	case model.RegionGermany:
		result = ca.germanyFormula(p, c)
	default:
		result = ca.defaultFormula(p, c)
	}
	result.CollegeID = c.CollegeID
	result.Region = region
	result.ChancePercent = ca.clamp(result.ChancePercent)
	result.ChancePercent = model.RoundDisplay(result.ChancePercent)
	return result
}

func (ca *Calculator) clamp(pct float64) float64 {
	return math.Max(ca.cfg.Chancing.ClampMin, math.Min(ca.cfg.Chancing.ClampMax, pct))
}

// applyModelNudge overlays the deployed per-college model when its
// validation gate passed. The nudge never exceeds +-5 pp.
func (ca *Calculator) applyModelNudge(ctx context.Context, r *model.ChanceResult, c *model.College) {
	deployed, err := ca.stores.Models.Deployed(ctx, c.CollegeID)
	if err != nil || deployed == nil || !deployed.Validated {
		return
	}
	nudge := math.Max(-maxModelNudge, math.Min(maxModelNudge, deployed.Nudge))
	if nudge == 0 {
		return
	}
	r.ModelNudge = nudge
	r.ChancePercent = model.RoundDisplay(ca.clamp(r.ChancePercent + nudge))
	r.Category = model.CategorizeChance(r.ChancePercent)
	r.Factors = append(r.Factors, model.ChanceFactor{
		Name:         "learned_model",
		Contribution: nudge,
		Evidence:     fmt.Sprintf("model v%d, accuracy %.2f", deployed.VersionID, deployed.Accuracy),
	})
}

// defaultFormula is the US/holistic composite.
func (ca *Calculator) defaultFormula(p *model.Profile, c *model.College) *model.ChanceResult {
	base := c.AcceptanceRate * 100
	factors := []model.ChanceFactor{{
		Name: "base_rate", Contribution: base,
		Evidence: fmt.Sprintf("acceptance rate %.1f%%", base),
	}}
	pct := base

	// GPA vs the admitted-class bands.
	if p.Academic.HasGPA() {
		gpa := p.Academic.GPAUnweighted
		var bump float64
		var evidence string
		switch {
		case c.GPAPercentiles.GPA75 > 0 && gpa >= c.GPAPercentiles.GPA75:
			bump, evidence = 20, fmt.Sprintf("gpa %.2f >= 75th pct %.2f", gpa, c.GPAPercentiles.GPA75)
		case c.GPAPercentiles.GPA50 > 0 && gpa >= c.GPAPercentiles.GPA50:
			bump, evidence = 10, fmt.Sprintf("gpa %.2f >= median %.2f", gpa, c.GPAPercentiles.GPA50)
		case c.GPAPercentiles.GPA25 > 0 && gpa < c.GPAPercentiles.GPA25:
			bump, evidence = -15, fmt.Sprintf("gpa %.2f < 25th pct %.2f", gpa, c.GPAPercentiles.GPA25)
		default:
			evidence = fmt.Sprintf("gpa %.2f within band", gpa)
		}
		pct += bump
		factors = append(factors, model.ChanceFactor{Name: "gpa", Contribution: bump, Evidence: evidence})
	} else {
		factors = append(factors, model.ChanceFactor{Name: "gpa", Evidence: "missing"})
	}

	// Test score: SAT preferred, ACT when SAT absent.
	if p.Academic.HasSAT() {
		sat := p.Academic.SATTotal
		var bump float64
		var evidence string
		switch {
		case c.TestPercentiles.SAT75 > 0 && sat >= c.TestPercentiles.SAT75:
			bump, evidence = 20, fmt.Sprintf("sat %d >= 75th pct %d", sat, c.TestPercentiles.SAT75)
		case c.TestPercentiles.SAT50 > 0 && sat >= c.TestPercentiles.SAT50:
			bump, evidence = 10, fmt.Sprintf("sat %d >= median %d", sat, c.TestPercentiles.SAT50)
		case c.TestPercentiles.SAT25 > 0 && sat < c.TestPercentiles.SAT25:
			bump, evidence = -15, fmt.Sprintf("sat %d < 25th pct %d", sat, c.TestPercentiles.SAT25)
		default:
			evidence = fmt.Sprintf("sat %d within band", sat)
		}
		pct += bump
		factors = append(factors, model.ChanceFactor{Name: "test_score", Contribution: bump, Evidence: evidence})
	} else if p.Academic.HasACT() {
		act := p.Academic.ACTComposite
		var bump float64
		var evidence string
		switch {
		case c.TestPercentiles.ACT75 > 0 && act >= c.TestPercentiles.ACT75:
			bump, evidence = 20, fmt.Sprintf("act %d >= 75th pct %d", act, c.TestPercentiles.ACT75)
		case c.TestPercentiles.ACT25 > 0 && act < c.TestPercentiles.ACT25:
			bump, evidence = -15, fmt.Sprintf("act %d < 25th pct %d", act, c.TestPercentiles.ACT25)
		default:
			bump, evidence = 10, fmt.Sprintf("act %d within band", act)
		}
		pct += bump
		factors = append(factors, model.ChanceFactor{Name: "test_score", Contribution: bump, Evidence: evidence})
	} else {
		factors = append(factors, model.ChanceFactor{Name: "test_score", Evidence: "missing"})
	}

	// Activities: tier1 x4, tier2 x2, capped at +15.
	tiers := p.TierCounts()
	activityBump := math.Min(float64(tiers[1])*4+float64(tiers[2])*2, 15)
	pct += activityBump
	factors = append(factors, model.ChanceFactor{
		Name: "activities", Contribution: activityBump,
		Evidence: fmt.Sprintf("%d tier-1, %d tier-2", tiers[1], tiers[2]),
	})

	// Course rigor.
	rigor := p.RigorCount()
	var rigorBump float64
	switch {
	case rigor >= 8:
		rigorBump = 8
	case rigor >= 5:
		rigorBump = 5
	}
	pct += rigorBump
	factors = append(factors, model.ChanceFactor{
		Name: "course_rigor", Contribution: rigorBump,
		Evidence: fmt.Sprintf("%d AP/IB courses", rigor),
	})

	// Demographic bumps apply only when the college reports the factor as
	// considered or higher.
	if p.Demographics.IsFirstGen && c.CDSImportanceOf(model.CDSFactorFirstGen).AtLeastConsidered() {
		pct += 3
		factors = append(factors, model.ChanceFactor{Name: "first_gen", Contribution: 3, Evidence: "first generation"})
	}
	if p.Demographics.IsLegacy && c.CDSImportanceOf(model.CDSFactorLegacy).AtLeastConsidered() {
		pct += 5
		factors = append(factors, model.ChanceFactor{Name: "legacy", Contribution: 5, Evidence: "legacy"})
	}
	if c.IsPublic && p.Demographics.State != "" && p.Demographics.State == c.State &&
		c.CDSImportanceOf(model.CDSFactorResidence).AtLeastConsidered() {
		pct += 5
		factors = append(factors, model.ChanceFactor{Name: "in_state", Contribution: 5, Evidence: "in-state at public college"})
	}

	return &model.ChanceResult{
		ChancePercent: pct,
		Category:      model.CategorizeChance(ca.clamp(pct)),
		Factors:       factors,
	}
}

func chanceContributions(factors []model.ChanceFactor) []ledger.Contribution {
	out := make([]ledger.Contribution, len(factors))
	for i, f := range factors {
		out[i] = ledger.Contribution{
			Name:     f.Name,
			Weight:   f.Weight,
			Value:    f.Contribution,
			Evidence: f.Evidence,
		}
	}
	return out
}
