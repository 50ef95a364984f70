package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence/memstore"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memstore.Store
	decomposer *Decomposer
	clk        *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(testNow)
	store := memstore.New(clk)
	return &fixture{
		store:      store,
		decomposer: NewDecomposer(store.Stores(), config.Default(), clk),
		clk:        clk,
	}
}

// fullCollege needs every task family: form, main essay, two supplementals,
// two teacher recs, counselor rec, test scores, interview, final submit.
func fullCollege(id int64) *model.College {
	return &model.College{
		CollegeID: id,
		Name:      "Selective U",
		Country:   "US",
		Deadlines: model.CollegeDeadlines{
			model.DeadlineRegular: time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC),
		},
		Requirements: model.RequirementProfile{
			Platform:                        "common_app",
			TestPolicy:                      model.TestRequired,
			CommonAppEssayRequired:          true,
			SupplementalEssaysCount:         2,
			TeacherRecommendationsRequired:  2,
			CounselorRecommendationRequired: true,
			Interview:                       model.InterviewInfo{Offered: true},
		},
	}
}

func kinds(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.CanonicalKind
	}
	return out
}

// plainTasks seeds n free-standing tasks with no dependency edges.
func (f *fixture) plainTasks(t *testing.T, userID int64, n int) []model.Task {
	t.Helper()
	tasks := make([]model.Task, n)
	for i := range tasks {
		tasks[i] = model.Task{
			UserID:    userID,
			CollegeID: 77,
			Title:     "custom task",
			Type:      model.TaskForm,
			Status:    model.StatusNotStarted,
			CreatedAt: testNow,
			UpdatedAt: testNow,
		}
	}
	inserted, err := f.store.CreateTasks(context.Background(), tasks, nil)
	require.NoError(t, err)
	return inserted
}

func TestCreateApplicationTasks(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))

	created, err := f.decomposer.CreateApplicationTasks(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{
		KindMainForm,
		KindMainEssay,
		"supplemental_essay_1",
		"supplemental_essay_2",
		"teacher_rec_1",
		"teacher_rec_2",
		KindCounselorRec,
		KindTestScores,
		KindInterview,
		KindFinalSubmit,
	}, kinds(created))

	last := created[len(created)-1]
	assert.Equal(t, KindFinalSubmit, last.CanonicalKind)
	assert.Equal(t, 1, last.Priority)
	// Final submit blocks on every other task, all of which are open.
	assert.Equal(t, model.StatusBlocked, last.Status)

	essay := created[1]
	assert.True(t, essay.IsReusable)
	assert.Equal(t, 15.0, essay.EstimatedHours)
	assert.Equal(t, 1, essay.Priority)

	for _, task := range created[:len(created)-1] {
		assert.Equal(t, model.StatusNotStarted, task.Status)
	}
	for _, task := range created {
		assert.Equal(t, time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC), task.Deadline)
	}
}

func TestCreateApplicationTasksIdempotent(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	ctx := context.Background()

	first, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	second, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, second, len(first))

	all, err := f.store.ListTasks(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, all, len(first))
}

func TestEstimateHours(t *testing.T) {
	// 3 form + 15 essay + 2x5 supplemental + 3x1 recs + 1 scores +
	// 2 interview + 1 submit.
	assert.Equal(t, 35.0, EstimateHours(fullCollege(10)))

	minimal := &model.College{CollegeID: 11, Name: "Direct Apply"}
	// Form, test scores (an unset policy is not test-blind), final submit.
	assert.Equal(t, 5.0, EstimateHours(minimal))

	blind := &model.College{
		CollegeID:    12,
		Name:         "Blind U",
		Requirements: model.RequirementProfile{TestPolicy: model.TestBlind},
	}
	// A test-blind college drops the score-report task.
	assert.Equal(t, 4.0, EstimateHours(blind))
}

func TestReuseLinking(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	f.store.PutCollege(fullCollege(11))
	ctx := context.Background()

	first, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	var firstEssay model.Task
	for _, task := range first {
		if task.CanonicalKind == KindMainEssay {
			firstEssay = task
		}
	}

	// Complete the first essay, then decompose the second application.
	_, _, err = f.decomposer.UpdateStatus(ctx, firstEssay.TaskID, model.StatusComplete, "")
	require.NoError(t, err)

	second, err := f.decomposer.CreateApplicationTasks(ctx, 1, 11)
	require.NoError(t, err)
	var reused model.Task
	for _, task := range second {
		if task.CanonicalKind == KindMainEssay {
			reused = task
		}
	}

	assert.Equal(t, firstEssay.TaskID, reused.ReuseTemplateID)
	assert.True(t, reused.ContentReady)
	assert.Equal(t, 2.0, reused.EstimatedHours)
	assert.Contains(t, reused.Title, "(adapt existing)")
}

func TestReuseLinkingRecommendations(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	f.store.PutCollege(fullCollege(11))
	ctx := context.Background()

	first, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	var firstRec model.Task
	for _, task := range first {
		if task.CanonicalKind == "teacher_rec_1" {
			firstRec = task
		}
	}
	require.True(t, firstRec.IsReusable)

	second, err := f.decomposer.CreateApplicationTasks(ctx, 1, 11)
	require.NoError(t, err)
	for _, task := range second {
		switch task.CanonicalKind {
		case "teacher_rec_1":
			assert.Equal(t, firstRec.TaskID, task.ReuseTemplateID)
			// Linking never raises the estimate above the template hours.
			assert.Equal(t, 1.0, task.EstimatedHours)
		case KindCounselorRec, KindTestScores:
			assert.True(t, task.IsReusable)
			assert.NotZero(t, task.ReuseTemplateID)
		}
	}
}

func TestContentReadyPropagation(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	f.store.PutCollege(fullCollege(11))
	ctx := context.Background()

	first, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	second, err := f.decomposer.CreateApplicationTasks(ctx, 1, 11)
	require.NoError(t, err)

	var tmplID, linkedID int64
	for _, task := range first {
		if task.CanonicalKind == KindMainEssay {
			tmplID = task.TaskID
		}
	}
	for _, task := range second {
		if task.CanonicalKind == KindMainEssay {
			linkedID = task.TaskID
			// Linked before completion: template id set, content not ready.
			assert.Equal(t, tmplID, task.ReuseTemplateID)
			assert.False(t, task.ContentReady)
		}
	}

	_, _, err = f.decomposer.UpdateStatus(ctx, tmplID, model.StatusComplete, "")
	require.NoError(t, err)

	linked, err := f.store.GetTask(ctx, linkedID)
	require.NoError(t, err)
	assert.True(t, linked.ContentReady)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	ctx := context.Background()

	created, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	id := created[0].TaskID

	_, _, err = f.decomposer.UpdateStatus(ctx, id, model.TaskStatus("done"), "")
	assert.True(t, errors.Is(err, model.ErrInvalidStatus))

	_, _, err = f.decomposer.UpdateStatus(ctx, 9999, model.StatusComplete, "")
	assert.True(t, errors.Is(err, model.ErrTaskNotFound))

	task, _, err := f.decomposer.UpdateStatus(ctx, id, model.StatusInProgress, "started")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, task.Status)

	// Same-status transition is a no-op: no extra history row.
	_, _, err = f.decomposer.UpdateStatus(ctx, id, model.StatusInProgress, "again")
	require.NoError(t, err)

	hist := f.store.StatusHistory(id)
	require.Len(t, hist, 1)
	assert.Equal(t, model.StatusNotStarted, hist[0].OldStatus)
	assert.Equal(t, model.StatusInProgress, hist[0].NewStatus)
	assert.Equal(t, "started", hist[0].Reason)
}

func TestUnblockDependentsWaitsForAllBlockers(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	ctx := context.Background()

	created, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)

	var submit model.Task
	for _, task := range created {
		if task.CanonicalKind == KindFinalSubmit {
			submit = task
		}
	}
	require.Equal(t, model.StatusBlocked, submit.Status)

	// Completing one blocker is not enough: the submit task stays blocked.
	_, unblocked, err := f.decomposer.UpdateStatus(ctx, created[0].TaskID, model.StatusComplete, "")
	require.NoError(t, err)
	assert.Empty(t, unblocked)
	got, err := f.store.GetTask(ctx, submit.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, got.Status)

	// Finish every other task; the last completion unblocks submit and
	// reports it.
	var last []model.Task
	for _, task := range created[1 : len(created)-1] {
		_, last, err = f.decomposer.UpdateStatus(ctx, task.TaskID, model.StatusComplete, "")
		require.NoError(t, err)
	}
	require.Len(t, last, 1)
	assert.Equal(t, submit.TaskID, last[0].TaskID)
	got, err = f.store.GetTask(ctx, submit.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotStarted, got.Status)
}

func TestSkippedCountsAsDone(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	ctx := context.Background()

	created, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)

	var submit model.Task
	for _, task := range created {
		if task.CanonicalKind == KindFinalSubmit {
			submit = task
		}
	}

	for _, task := range created[:len(created)-1] {
		_, _, err = f.decomposer.UpdateStatus(ctx, task.TaskID, model.StatusSkipped, "not needed")
		require.NoError(t, err)
	}
	got, err := f.store.GetTask(ctx, submit.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotStarted, got.Status)
}

func TestReopenedBlockerReblocks(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	ctx := context.Background()

	created, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	submitID := created[len(created)-1].TaskID

	for _, task := range created[:len(created)-1] {
		_, _, err = f.decomposer.UpdateStatus(ctx, task.TaskID, model.StatusComplete, "")
		require.NoError(t, err)
	}
	got, err := f.store.GetTask(ctx, submitID)
	require.NoError(t, err)
	require.Equal(t, model.StatusNotStarted, got.Status)

	// Reopening any blocker puts the submit task back into blocked.
	_, _, err = f.decomposer.UpdateStatus(ctx, created[0].TaskID, model.StatusInProgress, "redoing the form")
	require.NoError(t, err)
	got, err = f.store.GetTask(ctx, submitID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, got.Status)
}

func TestAddDependencyRejectsCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := f.plainTasks(t, 1, 3)
	a, b, c := tasks[0].TaskID, tasks[1].TaskID, tasks[2].TaskID

	// Self-loop.
	err := f.decomposer.AddDependency(ctx, 1, &model.TaskDependency{TaskID: a, DependsOnID: a, Type: model.DepBlocks})
	var cycle *model.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []int64{a}, cycle.TaskIDs)

	// a -> b -> c, then c -> a closes a cycle.
	require.NoError(t, f.decomposer.AddDependency(ctx, 1, &model.TaskDependency{TaskID: a, DependsOnID: b, Type: model.DepBlocks}))
	require.NoError(t, f.decomposer.AddDependency(ctx, 1, &model.TaskDependency{TaskID: b, DependsOnID: c, Type: model.DepBlocks}))
	err = f.decomposer.AddDependency(ctx, 1, &model.TaskDependency{TaskID: c, DependsOnID: a, Type: model.DepBlocks})
	require.True(t, errors.As(err, &cycle))
	assert.True(t, errors.Is(err, model.ErrDependencyCycle))
	assert.Contains(t, cycle.TaskIDs, a)
	assert.Contains(t, cycle.TaskIDs, c)
}

func TestAddDependencySoftEdgesCountTowardCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := f.plainTasks(t, 1, 2)
	a, b := tasks[0].TaskID, tasks[1].TaskID

	// Acyclicity covers every edge type: a soft edge b -> a means a
	// blocking edge a -> b would close a two-task loop.
	require.NoError(t, f.decomposer.AddDependency(ctx, 1, &model.TaskDependency{TaskID: b, DependsOnID: a, Type: model.DepSoftDepends}))
	err := f.decomposer.AddDependency(ctx, 1, &model.TaskDependency{TaskID: a, DependsOnID: b, Type: model.DepBlocks})
	var cycle *model.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Contains(t, cycle.TaskIDs, a)
	assert.Contains(t, cycle.TaskIDs, b)
}

func TestAddDependencyBlocksDependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := f.plainTasks(t, 1, 2)
	a, b := tasks[0].TaskID, tasks[1].TaskID

	// A blocking edge onto an open task blocks the dependent immediately.
	require.NoError(t, f.decomposer.AddDependency(ctx, 1, &model.TaskDependency{TaskID: a, DependsOnID: b, Type: model.DepBlocks}))
	got, err := f.store.GetTask(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, got.Status)

	// Completing the blocker releases it.
	_, unblocked, err := f.decomposer.UpdateStatus(ctx, b, model.StatusComplete, "")
	require.NoError(t, err)
	require.Len(t, unblocked, 1)
	assert.Equal(t, a, unblocked[0].TaskID)
	got, err = f.store.GetTask(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotStarted, got.Status)
}

func TestGetBlocked(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	ctx := context.Background()

	created, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	submitID := created[len(created)-1].TaskID

	blocked, err := f.decomposer.GetBlocked(ctx, 1)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, submitID, blocked[0].TaskID)

	for _, task := range created[:len(created)-1] {
		_, _, err = f.decomposer.UpdateStatus(ctx, task.TaskID, model.StatusComplete, "")
		require.NoError(t, err)
	}
	blocked, err = f.decomposer.GetBlocked(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, blocked)
}

func TestGetCriticalPath(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	ctx := context.Background()

	created, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)

	path, err := f.decomposer.GetCriticalPath(ctx, 1, 10)
	require.NoError(t, err)

	// Longest chain is main essay (15h) -> final submit (1h).
	assert.Equal(t, 16.0, path.TotalHours)
	require.Len(t, path.TaskIDs, 2)
	assert.Equal(t, created[1].TaskID, path.TaskIDs[0])
	assert.Equal(t, created[len(created)-1].TaskID, path.TaskIDs[1])
	assert.Equal(t, "Write main personal essay", path.Titles[0])

	// 2027-01-05 is ~125 days out; 4 productive hours per day.
	assert.InDelta(t, 502, path.AvailableHours, 1)
	assert.False(t, path.Exceeds)

	// Completing the essay reroutes the path to the next longest chain.
	_, _, err = f.decomposer.UpdateStatus(ctx, created[1].TaskID, model.StatusComplete, "")
	require.NoError(t, err)
	path, err = f.decomposer.GetCriticalPath(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 6.0, path.TotalHours) // supplemental essay 5h + submit 1h
}

func TestGetCriticalPathExceedsNearDeadline(t *testing.T) {
	f := newFixture(t)
	c := fullCollege(10)
	c.Deadlines = model.CollegeDeadlines{
		model.DeadlineRegular: testNow.Add(48 * time.Hour), // 8 productive hours
	}
	f.store.PutCollege(c)

	_, err := f.decomposer.CreateApplicationTasks(context.Background(), 1, 10)
	require.NoError(t, err)

	path, err := f.decomposer.GetCriticalPath(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 16.0, path.TotalHours)
	assert.InDelta(t, 8, path.AvailableHours, 0.1)
	assert.True(t, path.Exceeds)
}

func TestGetCriticalPathNoTasks(t *testing.T) {
	f := newFixture(t)
	_, err := f.decomposer.GetCriticalPath(context.Background(), 1, 10)
	assert.True(t, errors.Is(err, model.ErrTaskNotFound))
}

func TestRemainingHours(t *testing.T) {
	f := newFixture(t)
	college := fullCollege(10)
	f.store.PutCollege(college)
	ctx := context.Background()

	// No tasks yet: template estimate.
	h, err := f.decomposer.RemainingHours(ctx, 1, 10, college)
	require.NoError(t, err)
	assert.Equal(t, 35.0, h)

	created, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	h, err = f.decomposer.RemainingHours(ctx, 1, 10, college)
	require.NoError(t, err)
	assert.Equal(t, 35.0, h)

	// Completing the form removes its 3 hours.
	_, _, err = f.decomposer.UpdateStatus(ctx, created[0].TaskID, model.StatusComplete, "")
	require.NoError(t, err)
	h, err = f.decomposer.RemainingHours(ctx, 1, 10, college)
	require.NoError(t, err)
	assert.Equal(t, 32.0, h)
}

func TestRemainingHoursCountsReusedEssayAtAdaptCost(t *testing.T) {
	f := newFixture(t)
	f.store.PutCollege(fullCollege(10))
	f.store.PutCollege(fullCollege(11))
	ctx := context.Background()

	first, err := f.decomposer.CreateApplicationTasks(ctx, 1, 10)
	require.NoError(t, err)
	for _, task := range first {
		if task.CanonicalKind == KindMainEssay {
			_, _, err = f.decomposer.UpdateStatus(ctx, task.TaskID, model.StatusComplete, "")
			require.NoError(t, err)
		}
	}

	_, err = f.decomposer.CreateApplicationTasks(ctx, 1, 11)
	require.NoError(t, err)
	h, err := f.decomposer.RemainingHours(ctx, 1, 11, nil)
	require.NoError(t, err)
	// Full template is 35h; the reused essay costs 2 instead of 15.
	assert.Equal(t, 22.0, h)
}
