package chancing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitpath/admitpath/internal/model"
)

func TestScenarioComputesDiffs(t *testing.T) {
	f := newFixture(t)
	p := usProfile()
	p.Academic.GPAUnweighted = 3.5 // within band at usCollege, below p75
	f.seed(t, p, usCollege(10), usCollege(11))
	ctx := context.Background()

	gpa := 3.9
	out, err := f.calculator.Scenario(ctx, 1, model.ScenarioChanges{GPAUnweighted: &gpa}, []int64{10, 11})
	require.NoError(t, err)
	require.Len(t, out.Diffs, 2)

	for _, d := range out.Diffs {
		// 3.5 sits inside the band (no bump); 3.9 clears the 75th percentile.
		assert.Greater(t, d.NewChance, d.OldChance)
		assert.Equal(t, model.RoundDisplay(d.NewChance-d.OldChance), d.Change)
	}
	assert.Equal(t, 2, out.Summary.Improved)
	assert.Zero(t, out.Summary.Decreased)
	assert.Zero(t, out.Summary.Unchanged)
	assert.Greater(t, out.Summary.AvgChange, 0.0)
}

func TestScenarioIsPure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, usProfile(), usCollege(10))
	ctx := context.Background()

	gpa := 2.0
	_, err := f.calculator.Scenario(ctx, 1, model.ScenarioChanges{GPAUnweighted: &gpa}, []int64{10})
	require.NoError(t, err)

	// The stored profile is untouched and no history was written.
	stored, err := f.store.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.9, stored.Academic.GPAUnweighted)

	prior, err := f.store.LatestChance(ctx, 1, 10)
	require.NoError(t, err)
	assert.Nil(t, prior)
}

func TestScenarioPerCollegeErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t, usProfile(), usCollege(10))

	out, err := f.calculator.Scenario(context.Background(), 1, model.ScenarioChanges{AddTier1: 1}, []int64{10, 404})
	require.NoError(t, err)
	assert.Len(t, out.Diffs, 1)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, int64(404), out.Errors[0].CollegeID)
	assert.Equal(t, "COLLEGE_NOT_FOUND", out.Errors[0].Kind)
}

func TestScenarioCategoryChange(t *testing.T) {
	f := newFixture(t)
	p := usProfile()
	p.Academic = model.AcademicMetrics{GPAUnweighted: 3.2, SATTotal: 1200}
	p.Activities = nil
	p.Coursework = nil
	c := usCollege(10)
	c.AcceptanceRate = 0.25
	f.seed(t, p, c)

	// 25 - 15 (gpa below p25) - 15 (sat below p25) = floor Reach; the
	// scenario lifts both into the top band.
	gpa, sat := 3.9, 1500
	out, err := f.calculator.Scenario(context.Background(), 1,
		model.ScenarioChanges{GPAUnweighted: &gpa, SATTotal: &sat}, []int64{10})
	require.NoError(t, err)
	require.Len(t, out.Diffs, 1)

	d := out.Diffs[0]
	assert.Equal(t, model.ChanceReach, d.OldCategory)
	assert.Equal(t, model.ChanceSafety, d.NewCategory)
	assert.True(t, d.CategoryChanged)
}

func TestSaveHistoryAndCompare(t *testing.T) {
	f := newFixture(t)
	f.seed(t, usProfile(), usCollege(10), usCollege(11))
	f.store.AddApplication(1, 10)
	f.store.AddApplication(1, 11)
	ctx := context.Background()

	// Prior estimate recorded only for college 10.
	id, err := f.calculator.SaveHistory(ctx, 1, 10, 80.0, model.ChanceSafety, nil)
	require.NoError(t, err)
	assert.NotZero(t, id)

	out, err := f.calculator.Compare(ctx, 1)
	require.NoError(t, err)
	require.Len(t, out.Comparisons, 1, "colleges without history are skipped")

	cmp := out.Comparisons[0]
	assert.Equal(t, int64(10), cmp.CollegeID)
	assert.Equal(t, 80.0, cmp.PriorChance)
	assert.Equal(t, 93.0, cmp.CurrentChance)
	assert.Equal(t, 13.0, cmp.Change)
	assert.Equal(t, 1, out.Improved)
	assert.Zero(t, out.Decreased)
	assert.Equal(t, 13.0, out.AvgChange)
}
