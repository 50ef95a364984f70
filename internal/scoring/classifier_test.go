package scoring

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
	"github.com/admitpath/admitpath/internal/persistence/memstore"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memstore.Store
	cache      *cache.Memory
	ledger     *ledger.Ledger
	clk        *clock.Fake
	classifier *Classifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(testNow)
	store := memstore.New(clk)
	mem := cache.NewMemory()
	led := ledger.New(ledger.NewMemStore())
	cl := NewClassifier(store.Stores(), mem, led, nil, config.Default(), clk)
	return &fixture{store: store, cache: mem, ledger: led, clk: clk, classifier: cl}
}

func strongProfile() *model.Profile {
	return &model.Profile{
		ProfileID: 1,
		UserID:    1,
		Academic:  model.AcademicMetrics{GPAUnweighted: 3.8, SATTotal: 1450},
		Preferences: model.Preferences{
			BudgetMax: 70000,
		},
		Activities: []model.Activity{
			{Name: "robotics", TierRating: 1, IsLeadership: true},
			{Name: "science olympiad", TierRating: 1},
		},
		Coursework: []model.Coursework{
			{Name: "AP Calc", Level: model.CourseAP},
			{Name: "AP Physics", Level: model.CourseAP},
			{Name: "AP Lang", Level: model.CourseAP},
			{Name: "AP CS", Level: model.CourseAP},
		},
	}
}

func openCollege(id int64) *model.College {
	return &model.College{
		CollegeID:        id,
		Name:             "State University",
		Country:          "US",
		AcceptanceRate:   0.45,
		GPAPercentiles:   model.GPAPercentiles{GPA25: 3.2, GPA50: 3.6},
		TestPercentiles:  model.TestScorePercentiles{SAT25: 1200, SAT50: 1350, SAT75: 1480},
		CostOfAttendance: 60000,
		Deadlines: model.CollegeDeadlines{
			model.DeadlineRegular: testNow.AddDate(0, 4, 0),
		},
	}
}

func (f *fixture) seed(t *testing.T, p *model.Profile, colleges ...*model.College) {
	t.Helper()
	_, err := f.store.SaveProfile(context.Background(), p)
	require.NoError(t, err)
	for _, c := range colleges {
		f.store.PutCollege(c)
	}
}

func TestPointsAgainstBand(t *testing.T) {
	tests := []struct {
		name                 string
		student, p25, median float64
		want                 float64
	}{
		{"at median", 3.6, 3.2, 3.6, 70},
		{"above median capped", 5.0, 3.2, 3.6, 100},
		{"at p25", 3.2, 3.2, 3.6, 40},
		{"midway in band", 3.4, 3.2, 3.6, 55},
		{"below floor", 2.0, 3.2, 3.6, 0},
		{"no median data", 3.9, 0, 0, neutralSubscore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, pointsAgainstBand(tt.student, tt.p25, tt.median), 0.01)
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name           string
		overall        float64
		acceptanceRate float64
		want           model.FitCategory
	}{
		{"high score open college", 85, 0.50, model.FitSafety},
		{"high score selective college", 85, 0.10, model.FitReach},
		{"high score moderately selective", 85, 0.25, model.FitTarget},
		{"mid score", 65, 0.30, model.FitTarget},
		{"mid score very selective", 65, 0.05, model.FitReach},
		{"low-mid score", 45, 0.50, model.FitReach},
		{"floor", 30, 0.90, model.FitUnrealistic},
		{"safety boundary", 80, 0.40, model.FitSafety},
		{"target boundary", 60, 0.20, model.FitTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categorize(tt.overall, tt.acceptanceRate))
		})
	}
}

func TestClassifyFitStrongProfile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, strongProfile(), openCollege(10))

	fit, err := f.classifier.ClassifyFit(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, model.FitSafety, fit.Category)
	assert.InDelta(t, 95.0, fit.OverallScore, 0.5)
	assert.InDelta(t, 87.5, fit.Subscores.Academic, 0.5)
	assert.InDelta(t, 100, fit.Subscores.Profile, 0.5)
	assert.Equal(t, 100.0, fit.Subscores.Financial)
	assert.Equal(t, 100.0, fit.Subscores.Timeline)
	assert.Equal(t, 1.0, fit.Confidence)
	assert.Empty(t, fit.Warnings)
	assert.Equal(t, testNow, fit.ComputedAt)
}

func TestClassifyFitDeterministicAndCached(t *testing.T) {
	f := newFixture(t)
	f.seed(t, strongProfile(), openCollege(10))
	ctx := context.Background()

	first, err := f.classifier.ClassifyFit(ctx, 1, 10)
	require.NoError(t, err)
	second, err := f.classifier.ClassifyFit(ctx, 1, 10)
	require.NoError(t, err)

	assert.Equal(t, first.OverallScore, second.OverallScore)
	assert.Equal(t, first.Subscores, second.Subscores)
	assert.GreaterOrEqual(t, f.cache.Stats().Hits, int64(1))
}

func TestClassifyFitIncompleteProfile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &model.Profile{ProfileID: 1, UserID: 1}, openCollege(10))

	_, err := f.classifier.ClassifyFit(context.Background(), 1, 10)
	require.Error(t, err)
	var incomplete *model.IncompleteError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"gpa", "test_score"}, incomplete.MissingFields)
}

func TestClassifyFitUnknownIDs(t *testing.T) {
	f := newFixture(t)
	f.seed(t, strongProfile())

	_, err := f.classifier.ClassifyFit(context.Background(), 99, 10)
	assert.True(t, errors.Is(err, model.ErrProfileNotFound))

	_, err = f.classifier.ClassifyFit(context.Background(), 1, 10)
	assert.True(t, errors.Is(err, model.ErrCollegeNotFound))
}

func TestClassifyFitLowConfidence(t *testing.T) {
	f := newFixture(t)
	// Only a JEE rank: passes the completeness gate but every subscore
	// falls back to neutral.
	p := &model.Profile{
		ProfileID: 1, UserID: 1,
		Regional: model.RegionalMetrics{JEEAdvancedRank: 900},
	}
	f.seed(t, p, &model.College{CollegeID: 10, Name: "Minimal U", AcceptanceRate: 0.5})

	fit, err := f.classifier.ClassifyFit(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 50.0, fit.OverallScore)
	assert.Equal(t, model.FitReach, fit.Category)
	// Four of six signals absent: academic and profile subscores plus the
	// gpa and test-score inputs. Cost and deadline data the college never
	// reported do not count against confidence.
	assert.InDelta(t, 1.0/3, fit.Confidence, 0.001)
	assert.Contains(t, fit.Warnings, "LOW_CONFIDENCE")
}

// standoutProfile carries top-of-band academics and a small but strong
// activity list, with no budget or coursework reported.
func standoutProfile() *model.Profile {
	return &model.Profile{
		ProfileID: 1,
		UserID:    1,
		Academic:  model.AcademicMetrics{GPAUnweighted: 3.95, SATTotal: 1520},
		Activities: []model.Activity{
			{Name: "national science fair", TierRating: 1},
			{Name: "state math league", TierRating: 2},
			{Name: "regional orchestra", TierRating: 2},
		},
	}
}

func TestClassifyFitStandoutAtOpenAdmitCollege(t *testing.T) {
	f := newFixture(t)
	f.seed(t, standoutProfile(), &model.College{
		CollegeID:       10,
		Name:            "Open Admit U",
		AcceptanceRate:  0.55,
		GPAPercentiles:  model.GPAPercentiles{GPA50: 3.7},
		TestPercentiles: model.TestScorePercentiles{SAT50: 1380},
	})

	fit, err := f.classifier.ClassifyFit(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, model.FitSafety, fit.Category)
	assert.GreaterOrEqual(t, fit.OverallScore, 80.0)
	assert.GreaterOrEqual(t, fit.Subscores.Academic, 90.0)
}

func TestClassifyFitStandoutAtHyperSelectiveCollege(t *testing.T) {
	f := newFixture(t)
	f.seed(t, standoutProfile(), &model.College{
		CollegeID:       10,
		Name:            "Hyper Selective U",
		AcceptanceRate:  0.05,
		GPAPercentiles:  model.GPAPercentiles{GPA50: 4.0},
		TestPercentiles: model.TestScorePercentiles{SAT50: 1550},
	})

	fit, err := f.classifier.ClassifyFit(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, model.FitReach, fit.Category)
	assert.GreaterOrEqual(t, fit.OverallScore, 40.0)
	assert.LessOrEqual(t, fit.OverallScore, 70.0)
	assert.GreaterOrEqual(t, fit.Confidence, 0.7)
}

func TestClassifyFitBatchPartialFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, strongProfile(), openCollege(10), openCollege(11))

	out, err := f.classifier.ClassifyFitBatch(context.Background(), 1, []int64{10, 999, 11})
	require.NoError(t, err)
	assert.False(t, out.Truncated)
	assert.Len(t, out.Results, 2)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, int64(999), out.Errors[0].CollegeID)
	assert.Equal(t, "COLLEGE_NOT_FOUND", out.Errors[0].Kind)
}

func TestClassifyFitBatchTruncation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, strongProfile())

	ids := make([]int64, BatchMax+10)
	for i := range ids {
		ids[i] = int64(1000 + i)
	}
	out, err := f.classifier.ClassifyFitBatch(context.Background(), 1, ids)
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.Equal(t, BatchMax, len(out.Results)+len(out.Errors))
}

func TestSetUserWeights(t *testing.T) {
	f := newFixture(t)
	f.seed(t, strongProfile(), openCollege(10))
	ctx := context.Background()

	err := f.classifier.SetUserWeights(ctx, 1, model.FitWeights{Academic: 0.9, Profile: 0.9})
	assert.True(t, errors.Is(err, model.ErrInvalidWeights))

	custom := model.FitWeights{Academic: 0.70, Profile: 0.10, Financial: 0.10, Timeline: 0.10}
	require.NoError(t, f.classifier.SetUserWeights(ctx, 1, custom))

	fit, err := f.classifier.ClassifyFit(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, custom, fit.Weights)
}

func TestOverrideFitShadowsComputedCategory(t *testing.T) {
	f := newFixture(t)
	f.seed(t, strongProfile(), openCollege(10))
	ctx := context.Background()

	_, err := f.classifier.OverrideFit(ctx, 1, 10, model.FitCategory("bogus"), "")
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))

	fit, err := f.classifier.OverrideFit(ctx, 1, 10, model.FitReach, "visited, felt like a stretch")
	require.NoError(t, err)
	assert.True(t, fit.IsManualOverride)
	assert.Equal(t, model.FitReach, fit.Category)
	assert.Equal(t, model.FitSafety, fit.ComputedCategory)

	require.NoError(t, f.classifier.ClearOverride(ctx, 1, 10))
	fit, err = f.classifier.ClassifyFit(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, fit.IsManualOverride)
	assert.Equal(t, model.FitSafety, fit.Category)
}

func TestTimelineSubscore(t *testing.T) {
	now := testNow
	deadline := now.AddDate(0, 0, 10) // 40 productive hours at 4h/day

	tests := []struct {
		name   string
		needed float64
		want   float64
	}{
		{"no work", 0, 100},
		{"ample slack", 20, 100},  // ratio 1.0
		{"moderate slack", 32, 50}, // buffer 8h, ratio 0.25
		{"no slack", 40, 0},
		{"over capacity", 60, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := timelineSubscore(now, deadline, tt.needed, 4)
			assert.InDelta(t, tt.want, sub.score, 0.01)
		})
	}

	missing := timelineSubscore(now, time.Time{}, 10, 4)
	assert.True(t, missing.missing)
	assert.Equal(t, float64(neutralSubscore), missing.score)
}
