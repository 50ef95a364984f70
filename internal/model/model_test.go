package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		weights FitWeights
		wantErr bool
	}{
		{"defaults", DefaultFitWeights(), false},
		{"custom sum 1.0", FitWeights{Academic: 0.5, Profile: 0.2, Financial: 0.2, Timeline: 0.1}, false},
		{"within tolerance", FitWeights{Academic: 0.41, Profile: 0.30, Financial: 0.15, Timeline: 0.15}, false},
		{"sum too low", FitWeights{Academic: 0.3, Profile: 0.3, Financial: 0.1, Timeline: 0.1}, true},
		{"sum too high", FitWeights{Academic: 0.5, Profile: 0.4, Financial: 0.2, Timeline: 0.1}, true},
		{"negative component", FitWeights{Academic: 1.2, Profile: -0.2, Financial: 0.0, Timeline: 0.0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidWeights))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCategorizeChance(t *testing.T) {
	assert.Equal(t, ChanceSafety, CategorizeChance(60))
	assert.Equal(t, ChanceSafety, CategorizeChance(99.5))
	assert.Equal(t, ChanceTarget, CategorizeChance(59.9))
	assert.Equal(t, ChanceTarget, CategorizeChance(30))
	assert.Equal(t, ChanceReach, CategorizeChance(29.9))
	assert.Equal(t, ChanceReach, CategorizeChance(0.5))
}

func TestRoundDisplay(t *testing.T) {
	assert.Equal(t, 65.8, RoundDisplay(65.8333))
	assert.Equal(t, 65.9, RoundDisplay(65.85))
	assert.Equal(t, -3.5, RoundDisplay(-3.45))
	assert.Equal(t, 0.0, RoundDisplay(0.04))
}

func TestDispatchRegionPrecedence(t *testing.T) {
	jee := &Profile{Regional: RegionalMetrics{JEEAdvancedRank: 1200, PredictedALevels: "AAA", AbiturGrade: 1.3}}
	assert.Equal(t, RegionIndia, jee.DispatchRegion("India"))
	assert.Equal(t, RegionUK, jee.DispatchRegion("UK"))
	assert.Equal(t, RegionGermany, jee.DispatchRegion("Germany"))
	assert.Equal(t, RegionUS, jee.DispatchRegion("US"))

	// Regional data without a matching college country falls back to US.
	plain := &Profile{Academic: AcademicMetrics{GPAUnweighted: 3.8}}
	assert.Equal(t, RegionUS, plain.DispatchRegion("India"))
	assert.Equal(t, RegionUS, plain.DispatchRegion("UK"))
}

func TestMissingRequiredFields(t *testing.T) {
	empty := &Profile{}
	assert.Equal(t, []string{"gpa", "test_score"}, empty.MissingRequiredFields())

	gpaOnly := &Profile{Academic: AcademicMetrics{GPAUnweighted: 3.5}}
	assert.Empty(t, gpaOnly.MissingRequiredFields())

	jeeOnly := &Profile{Regional: RegionalMetrics{JEEAdvancedRank: 900}}
	assert.Empty(t, jeeOnly.MissingRequiredFields())

	ibOnly := &Profile{Regional: RegionalMetrics{IBPredicted: 40}}
	assert.Empty(t, ibOnly.MissingRequiredFields())
}

func TestCollegeDeadlinesEarliest(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	d := CollegeDeadlines{
		DeadlineEarlyAction: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		DeadlineRegular:     time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC),
		DeadlineEarly1:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), // past
	}
	typ, ts := d.Earliest(now)
	assert.Equal(t, DeadlineEarlyAction, typ)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), ts)

	_, none := CollegeDeadlines{}.Earliest(now)
	assert.True(t, none.IsZero())
}

func TestScenarioChangesApplyDoesNotMutate(t *testing.T) {
	gpa := 3.9
	sat := 1520
	p := &Profile{
		Academic:   AcademicMetrics{GPAUnweighted: 3.4, SATTotal: 1300},
		Activities: []Activity{{Name: "debate", TierRating: 3}},
	}
	changes := ScenarioChanges{GPAUnweighted: &gpa, SATTotal: &sat, AddTier1: 2, AddAPCourses: 3}

	sp := changes.Apply(p)
	assert.Equal(t, 3.9, sp.Academic.GPAUnweighted)
	assert.Equal(t, 1520, sp.Academic.SATTotal)
	assert.Len(t, sp.Activities, 3)
	assert.Len(t, sp.Coursework, 3)

	// Original untouched.
	assert.Equal(t, 3.4, p.Academic.GPAUnweighted)
	assert.Equal(t, 1300, p.Academic.SATTotal)
	assert.Len(t, p.Activities, 1)
	assert.Empty(t, p.Coursework)
}

func TestTaskStatusDone(t *testing.T) {
	assert.True(t, StatusComplete.Done())
	assert.True(t, StatusSkipped.Done())
	assert.False(t, StatusInProgress.Done())
	assert.False(t, StatusBlocked.Done())
	assert.False(t, StatusNotStarted.Done())
	assert.False(t, ValidTaskStatus("done"))
	assert.True(t, ValidTaskStatus(StatusBlocked))
}

func TestRiskLevelSeverity(t *testing.T) {
	assert.Greater(t, RiskImpossible.Severity(), RiskCritical.Severity())
	assert.Greater(t, RiskCritical.Severity(), RiskTight.Severity())
	assert.Greater(t, RiskTight.Severity(), RiskSafe.Severity())
	assert.Equal(t, -1, RiskLevel("bogus").Severity())
}

func TestOverrideActiveAt(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	forever := &Override{}
	assert.True(t, forever.ActiveAt(now))

	expired := &Override{ExpiresAt: now.Add(-time.Hour)}
	assert.False(t, expired.ActiveAt(now))

	future := &Override{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, future.ActiveAt(now))
}

func TestErrKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NewIncompleteError("gpa"), "PROFILE_INCOMPLETE"},
		{&CycleError{TaskIDs: []int64{1, 2}}, "DEPENDENCY_CYCLE"},
		{ErrCollegeNotFound, "COLLEGE_NOT_FOUND"},
		{ErrRateLimited, "RATE_LIMITED"},
		{errors.New("boom"), "INTERNAL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrKind(tt.err))
	}
}

func TestIncompleteErrorFields(t *testing.T) {
	err := NewIncompleteError("gpa", "test_score")
	var incomplete *IncompleteError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"gpa", "test_score"}, incomplete.MissingFields)
	assert.Contains(t, err.Error(), "gpa, test_score")
}
