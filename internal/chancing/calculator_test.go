package chancing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitpath/admitpath/internal/cache"
	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/ledger"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
	"github.com/admitpath/admitpath/internal/persistence/memstore"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memstore.Store
	calculator *Calculator
	clk        *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(testNow)
	store := memstore.New(clk)
	calc := NewCalculator(store.Stores(), cache.NewMemory(), ledger.New(ledger.NewMemStore()), config.Default(), clk)
	return &fixture{store: store, calculator: calc, clk: clk}
}

func (f *fixture) seed(t *testing.T, p *model.Profile, colleges ...*model.College) {
	t.Helper()
	_, err := f.store.SaveProfile(context.Background(), p)
	require.NoError(t, err)
	for _, c := range colleges {
		f.store.PutCollege(c)
	}
}

func usProfile() *model.Profile {
	return &model.Profile{
		ProfileID: 1,
		UserID:    1,
		Academic:  model.AcademicMetrics{GPAUnweighted: 3.9, SATTotal: 1500},
		Activities: []model.Activity{
			{Name: "debate", TierRating: 1},
			{Name: "orchestra", TierRating: 1},
		},
		Coursework: []model.Coursework{
			{Level: model.CourseAP}, {Level: model.CourseAP},
			{Level: model.CourseAP}, {Level: model.CourseAP},
		},
	}
}

func usCollege(id int64) *model.College {
	return &model.College{
		CollegeID:       id,
		Name:            "Flagship State",
		Country:         "US",
		AcceptanceRate:  0.45,
		GPAPercentiles:  model.GPAPercentiles{GPA25: 3.3, GPA50: 3.6, GPA75: 3.85},
		TestPercentiles: model.TestScorePercentiles{SAT25: 1250, SAT50: 1380, SAT75: 1480},
	}
}

func TestDefaultFormulaBumps(t *testing.T) {
	f := newFixture(t)
	f.seed(t, usProfile(), usCollege(10))

	r, err := f.calculator.Calculate(context.Background(), 1, 10)
	require.NoError(t, err)

	// base 45 + gpa 20 (>= p75) + sat 20 (>= p75) + activities 8 (2 tier-1).
	assert.Equal(t, 93.0, r.ChancePercent)
	assert.Equal(t, model.ChanceSafety, r.Category)
	assert.Equal(t, model.RegionUS, r.Region)
	assert.Equal(t, testNow, r.ComputedAt)
}

func TestDefaultFormulaWeakProfileClampsAtFloor(t *testing.T) {
	f := newFixture(t)
	p := usProfile()
	p.Academic = model.AcademicMetrics{GPAUnweighted: 2.8, SATTotal: 1100}
	p.Activities = nil
	p.Coursework = nil
	c := usCollege(10)
	c.AcceptanceRate = 0.05
	f.seed(t, p, c)

	r, err := f.calculator.Calculate(context.Background(), 1, 10)
	require.NoError(t, err)

	// base 5 - 15 (gpa below p25) - 15 (sat below p25) clamps to the floor.
	assert.Equal(t, 0.5, r.ChancePercent)
	assert.Equal(t, model.ChanceReach, r.Category)
}

func TestDefaultFormulaDemographicBumpsGatedOnCDS(t *testing.T) {
	f := newFixture(t)
	p := usProfile()
	p.Demographics = model.Demographics{IsFirstGen: true, IsLegacy: true, State: "OH"}

	ungated := usCollege(10)
	ungated.AcceptanceRate = 0.30
	gated := usCollege(11)
	gated.AcceptanceRate = 0.30
	gated.IsPublic = true
	gated.State = "OH"
	gated.CDSFactors = map[string]model.CDSImportance{
		model.CDSFactorFirstGen:  model.CDSConsidered,
		model.CDSFactorLegacy:    model.CDSImportant,
		model.CDSFactorResidence: model.CDSConsidered,
	}
	f.seed(t, p, ungated, gated)
	ctx := context.Background()

	plain, err := f.calculator.Calculate(ctx, 1, 10)
	require.NoError(t, err)
	boosted, err := f.calculator.Calculate(ctx, 1, 11)
	require.NoError(t, err)

	// first-gen +3, legacy +5, in-state +5 only at the reporting college.
	assert.Equal(t, plain.ChancePercent+13, boosted.ChancePercent)
}

func TestRigorBumpThresholds(t *testing.T) {
	f := newFixture(t)
	calc := f.calculator
	c := usCollege(10)

	mk := func(apCount int) *model.Profile {
		p := usProfile()
		p.Activities = nil
		p.Coursework = nil
		for i := 0; i < apCount; i++ {
			p.Coursework = append(p.Coursework, model.Coursework{Level: model.CourseAP})
		}
		return p
	}

	base := calc.computeForProfile(mk(4), c).ChancePercent
	assert.Equal(t, base+5, calc.computeForProfile(mk(5), c).ChancePercent)
	assert.Equal(t, base+8, calc.computeForProfile(mk(8), c).ChancePercent)
}

func TestIndiaFormula(t *testing.T) {
	f := newFixture(t)
	iit := &model.College{
		CollegeID: 20, Name: "IIT", Country: "India",
		JEECutoffs: &model.JEECutoffs{GeneralOpening: 1, GeneralClosing: 3000},
	}

	tests := []struct {
		name     string
		rank     int
		wantPct  float64
		wantCat  model.ChanceCategory
	}{
		{"tail of window", 2500, 65.8, model.ChanceTarget}, // 60 + 35*(1 - 2500/3000)
		{"well inside window", 1000, 83.3, model.ChanceSafety},
		{"at closing rank", 3000, 60.0, model.ChanceTarget},
		{"half window boundary", 1500, 77.5, model.ChanceSafety},
		{"beyond closing", 4500, 12.5, model.ChanceReach}, // 25 - 0.5*25
		{"far beyond closing", 9000, 1.0, model.ChanceReach},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &model.Profile{Regional: model.RegionalMetrics{JEEAdvancedRank: tt.rank}}
			r := f.calculator.computeForProfile(p, iit)
			assert.Equal(t, tt.wantPct, r.ChancePercent)
			assert.Equal(t, tt.wantCat, r.Category)
			assert.Equal(t, model.RegionIndia, r.Region)
		})
	}
}

func TestIndiaFormulaReservationBrackets(t *testing.T) {
	f := newFixture(t)
	iit := &model.College{
		CollegeID: 20, Name: "IIT", Country: "India",
		JEECutoffs: &model.JEECutoffs{
			GeneralOpening: 1, GeneralClosing: 3000,
			OBCOpening: 1, OBCClosing: 6000,
			SCOpening: 1, SCClosing: 9000,
		},
	}
	mk := func(rank int, category string) *model.Profile {
		return &model.Profile{Regional: model.RegionalMetrics{
			JEEAdvancedRank: rank, ReservationCategory: category,
		}}
	}

	// Rank 4500 is beyond the general closing but inside the OBC window.
	general := f.calculator.computeForProfile(mk(4500, ""), iit)
	assert.Equal(t, model.ChanceReach, general.Category)
	obc := f.calculator.computeForProfile(mk(4500, "OBC"), iit)
	assert.Equal(t, 68.8, obc.ChancePercent) // 60 + 35*(1 - 4500/6000)
	assert.Equal(t, model.ChanceTarget, obc.Category)
	sc := f.calculator.computeForProfile(mk(4500, "sc"), iit)
	assert.Equal(t, model.ChanceSafety, sc.Category) // within half the SC window

	// A category the college publishes no ranks for uses the general bracket.
	st := f.calculator.computeForProfile(mk(4500, "st"), iit)
	assert.Equal(t, general.ChancePercent, st.ChancePercent)
}

func TestIndiaFormulaMissingCutoffsFallsBack(t *testing.T) {
	f := newFixture(t)
	c := &model.College{CollegeID: 21, Name: "Private Uni", Country: "India", AcceptanceRate: 0.30}
	p := &model.Profile{
		Academic: model.AcademicMetrics{GPAUnweighted: 3.5},
		Regional: model.RegionalMetrics{JEEAdvancedRank: 5000},
	}

	r := f.calculator.computeForProfile(p, c)
	assert.Equal(t, model.RegionIndia, r.Region)
	var found bool
	for _, fac := range r.Factors {
		if fac.Name == "jee_cutoffs" && fac.Evidence == "missing" {
			found = true
		}
	}
	assert.True(t, found, "fallback should flag the missing cutoffs")
	assert.Equal(t, 30.0, r.ChancePercent) // holistic base rate only
}

func TestUKFormula(t *testing.T) {
	f := newFixture(t)
	oxbridge := &model.College{CollegeID: 30, Name: "Oxbridge", Country: "UK", TypicalOffer: "AAA"}

	tests := []struct {
		name    string
		profile model.RegionalMetrics
		wantPct float64
		wantCat model.ChanceCategory
	}{
		{"one grade short", model.RegionalMetrics{PredictedALevels: "AAB"}, 43.0, model.ChanceTarget},
		{"meets offer", model.RegionalMetrics{PredictedALevels: "AAA"}, 55.0, model.ChanceTarget},
		{"exceeds with A*", model.RegionalMetrics{PredictedALevels: "A*AA"}, 67.0, model.ChanceSafety},
		{"ib meets offer", model.RegionalMetrics{IBPredicted: 40}, 55.0, model.ChanceTarget},
		{"ib exceeds", model.RegionalMetrics{IBPredicted: 42}, 67.0, model.ChanceSafety},
		{"ib floor", model.RegionalMetrics{IBPredicted: 30}, 0.5, model.ChanceReach},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &model.Profile{Regional: tt.profile}
			r := f.calculator.computeForProfile(p, oxbridge)
			assert.Equal(t, tt.wantPct, r.ChancePercent)
			assert.Equal(t, tt.wantCat, r.Category)
			assert.Equal(t, model.RegionUK, r.Region)
		})
	}
}

func TestUKFormulaNoOfferFallsBack(t *testing.T) {
	f := newFixture(t)
	c := &model.College{CollegeID: 31, Name: "No Offer U", Country: "UK", AcceptanceRate: 0.40}
	p := &model.Profile{Regional: model.RegionalMetrics{PredictedALevels: "ABB"}}

	r := f.calculator.computeForProfile(p, c)
	assert.Equal(t, 40.0, r.ChancePercent)
	assert.Equal(t, model.RegionUK, r.Region)
}

func TestGermanyFormula(t *testing.T) {
	f := newFixture(t)

	open := &model.College{CollegeID: 40, Name: "TU Open", Country: "Germany"}
	nc := &model.College{CollegeID: 41, Name: "LMU", Country: "Germany", NCCutoff: 1.5}

	p := func(grade float64) *model.Profile {
		return &model.Profile{Regional: model.RegionalMetrics{AbiturGrade: grade}}
	}

	r := f.calculator.computeForProfile(p(2.5), open)
	assert.Equal(t, 90.0, r.ChancePercent)
	assert.Equal(t, model.ChanceSafety, r.Category)

	r = f.calculator.computeForProfile(p(1.2), nc)
	assert.InDelta(t, 67.0, r.ChancePercent, 0.01) // 55 + 0.3*40
	assert.Equal(t, model.ChanceSafety, r.Category)

	r = f.calculator.computeForProfile(p(2.0), nc)
	assert.InDelta(t, 35.0, r.ChancePercent, 0.01) // 55 - 0.5*40
	assert.Equal(t, model.ChanceTarget, r.Category)
	assert.Equal(t, model.RegionGermany, r.Region)
}

func TestModelNudgeRequiresDeployedValidated(t *testing.T) {
	f := newFixture(t)
	f.seed(t, usProfile(), usCollege(10))
	ctx := context.Background()

	// Latest but undeployed: no nudge.
	_, err := f.store.SaveVersion(ctx, &persistence.ModelVersion{CollegeID: 10, Nudge: 4, Validated: true})
	require.NoError(t, err)
	r, err := f.calculator.Calculate(ctx, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, r.ModelNudge)

	// Deployed but unvalidated: still no nudge.
	id, err := f.store.SaveVersion(ctx, &persistence.ModelVersion{CollegeID: 10, Nudge: 4})
	require.NoError(t, err)
	require.NoError(t, f.store.Deploy(ctx, 10, id))
	r2 := f.calculator.computeForProfile(usProfile(), mustCollege(t, f, 10))
	f.calculator.applyModelNudge(ctx, r2, mustCollege(t, f, 10))
	assert.Zero(t, r2.ModelNudge)
}

func TestModelNudgeClampedToFive(t *testing.T) {
	f := newFixture(t)
	f.seed(t, usProfile(), usCollege(10))
	ctx := context.Background()

	id, err := f.store.SaveVersion(ctx, &persistence.ModelVersion{
		CollegeID: 10, Nudge: -12, Validated: true, Accuracy: 0.8,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Deploy(ctx, 10, id))

	r, err := f.calculator.Calculate(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, -5.0, r.ModelNudge)
	assert.Equal(t, 88.0, r.ChancePercent) // 93 - 5

	last := r.Factors[len(r.Factors)-1]
	assert.Equal(t, "learned_model", last.Name)
	assert.Equal(t, -5.0, last.Contribution)
}

func mustCollege(t *testing.T, f *fixture, id int64) *model.College {
	t.Helper()
	c, err := f.store.GetCollege(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestCalculateIncompleteProfile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &model.Profile{ProfileID: 1, UserID: 1}, usCollege(10))

	_, err := f.calculator.Calculate(context.Background(), 1, 10)
	assert.True(t, errors.Is(err, model.ErrProfileIncomplete))
}

func TestCalculateBatchTruncationAndErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t, usProfile(), usCollege(10))
	ctx := context.Background()

	out, err := f.calculator.CalculateBatch(ctx, 1, []int64{10, 999})
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "COLLEGE_NOT_FOUND", out.Errors[0].Kind)
	assert.False(t, out.Truncated)

	ids := make([]int64, BatchMax+5)
	for i := range ids {
		ids[i] = int64(2000 + i)
	}
	out, err = f.calculator.CalculateBatch(ctx, 1, ids)
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.Equal(t, BatchMax, len(out.Results)+len(out.Errors))
}
