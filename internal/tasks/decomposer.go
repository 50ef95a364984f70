package tasks

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// Decomposer is the task decomposition and tracking service. It also
// feeds the fit classifier's timeline subscore through RemainingHours.
type Decomposer struct {
	stores persistence.Stores
	cfg    config.Config
	clk    clock.Clock
}

// NewDecomposer wires the decomposer.
func NewDecomposer(stores persistence.Stores, cfg config.Config, clk clock.Clock) *Decomposer {
	return &Decomposer{stores: stores, cfg: cfg, clk: clk}
}

// CreateApplicationTasks expands the college's requirement profile into
// tasks with dependency edges. Idempotent: when tasks already exist for the
// (user, college) pair the existing set returns unchanged.
func (d *Decomposer) CreateApplicationTasks(ctx context.Context, userID, collegeID int64) ([]model.Task, error) {
	existing, err := d.stores.Tasks.ListTasks(ctx, userID, collegeID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for user %d college %d: %w", userID, collegeID, err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	college, err := d.stores.Colleges.GetCollege(ctx, collegeID)
	if err != nil {
		return nil, err
	}
	now := d.clk.Now()
	_, deadline := college.Deadlines.Earliest(now)

	templates := decompose(college)
	created := make([]model.Task, len(templates))
	for i, t := range templates {
		task := model.Task{
			UserID:         userID,
			CollegeID:      collegeID,
			Title:          t.title,
			Type:           t.taskType,
			Status:         model.StatusNotStarted,
			EstimatedHours: t.hours,
			Deadline:       deadline,
			Priority:       t.priority,
			CanonicalKind:  t.kind,
			IsReusable:     t.reusable,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if t.reusable {
			d.linkReuseTemplate(ctx, userID, &task)
		}
		created[i] = task
	}

	// Tasks with an incoming blocking edge start blocked: every blocker is
	// open at creation time.
	deps := templateDeps(templates)
	for _, dep := range deps {
		if dep.Type != model.DepBlocks {
			continue
		}
		if idx := int(-dep.TaskID) - 1; idx >= 0 && idx < len(created) {
			created[idx].Status = model.StatusBlocked
		}
	}

	inserted, err := d.stores.Tasks.CreateTasks(ctx, created, deps)
	if err != nil {
		return nil, fmt.Errorf("create tasks for college %d: %w", collegeID, err)
	}
	log.Info().
		Int64("user_id", userID).
		Int64("college_id", collegeID).
		Int("tasks", len(inserted)).
		Msg("application decomposed")
	return inserted, nil
}

// linkReuseTemplate points a reusable task at the user's oldest prior task
// of the same kind. Linked tasks inherit content readiness and cost only the
// adaptation effort.
func (d *Decomposer) linkReuseTemplate(ctx context.Context, userID int64, task *model.Task) {
	prior, err := d.stores.Tasks.ListReusableByKind(ctx, userID, task.CanonicalKind)
	if err != nil || len(prior) == 0 {
		return
	}
	tmpl := prior[0]
	task.ReuseTemplateID = tmpl.TaskID
	task.ContentReady = tmpl.ContentReady
	task.EstimatedHours = math.Min(reuseAdaptHours, task.EstimatedHours)
	if tmpl.ContentReady {
		task.Status = model.StatusNotStarted
		task.Title += " (adapt existing)"
	}
}

// UpdateStatus transitions a task, records the change, and propagates
// through the dependency graph: completing a task can unblock dependents,
// reopening one re-blocks them, and completing a reusable task marks its
// linked copies content-ready. The second return lists the tasks this
// transition unblocked.
func (d *Decomposer) UpdateStatus(ctx context.Context, taskID int64, status model.TaskStatus, reason string) (*model.Task, []model.Task, error) {
	if !model.ValidTaskStatus(status) {
		return nil, nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidStatus, status)
	}
	task, err := d.stores.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.Status == status {
		return task, nil, nil
	}

	old := task.Status
	task.Status = status
	task.UpdatedAt = d.clk.Now()
	if status == model.StatusComplete && task.IsReusable {
		task.ContentReady = true
	}
	if err := d.stores.Tasks.UpdateTask(ctx, task); err != nil {
		return nil, nil, fmt.Errorf("update task %d: %w", taskID, err)
	}
	if err := d.stores.Tasks.AppendStatusHistory(ctx, &model.TaskStatusChange{
		TaskID:    taskID,
		OldStatus: old,
		NewStatus: status,
		Reason:    reason,
		ChangedAt: task.UpdatedAt,
	}); err != nil {
		log.Warn().Err(err).Int64("task_id", taskID).Msg("status history append failed")
	}

	var unblocked []model.Task
	if status.Done() {
		unblocked = d.unblockDependents(ctx, task)
	} else if old.Done() {
		d.reblockDependents(ctx, task)
	}
	if task.ContentReady && task.IsReusable {
		d.propagateContentReady(ctx, task)
	}
	return task, unblocked, nil
}

// unblockDependents moves blocked dependents back to not_started once every
// hard dependency is done, returning the tasks it transitioned.
func (d *Decomposer) unblockDependents(ctx context.Context, done *model.Task) []model.Task {
	deps, err := d.stores.Tasks.ListDependencies(ctx, done.UserID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", done.UserID).Msg("dependency listing failed")
		return nil
	}
	var unblocked []model.Task
	for _, edge := range deps {
		if edge.DependsOnID != done.TaskID || edge.Type != model.DepBlocks {
			continue
		}
		dependent, err := d.stores.Tasks.GetTask(ctx, edge.TaskID)
		if err != nil || dependent.Status != model.StatusBlocked {
			continue
		}
		if d.hasOpenBlocker(ctx, dependent.TaskID, deps) {
			continue
		}
		dependent.Status = model.StatusNotStarted
		dependent.UpdatedAt = d.clk.Now()
		if err := d.stores.Tasks.UpdateTask(ctx, dependent); err != nil {
			log.Warn().Err(err).Int64("task_id", dependent.TaskID).Msg("unblock failed")
			continue
		}
		_ = d.stores.Tasks.AppendStatusHistory(ctx, &model.TaskStatusChange{
			TaskID:    dependent.TaskID,
			OldStatus: model.StatusBlocked,
			NewStatus: model.StatusNotStarted,
			Reason:    fmt.Sprintf("dependency %d completed", done.TaskID),
			ChangedAt: dependent.UpdatedAt,
		})
		unblocked = append(unblocked, *dependent)
	}
	return unblocked
}

// reblockDependents puts not-started dependents back into blocked when a
// previously-done blocker reopens. Tasks already in progress keep their
// status.
func (d *Decomposer) reblockDependents(ctx context.Context, reopened *model.Task) {
	deps, err := d.stores.Tasks.ListDependencies(ctx, reopened.UserID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", reopened.UserID).Msg("dependency listing failed")
		return
	}
	for _, edge := range deps {
		if edge.DependsOnID != reopened.TaskID || edge.Type != model.DepBlocks {
			continue
		}
		dependent, err := d.stores.Tasks.GetTask(ctx, edge.TaskID)
		if err != nil || dependent.Status != model.StatusNotStarted {
			continue
		}
		dependent.Status = model.StatusBlocked
		dependent.UpdatedAt = d.clk.Now()
		if err := d.stores.Tasks.UpdateTask(ctx, dependent); err != nil {
			log.Warn().Err(err).Int64("task_id", dependent.TaskID).Msg("reblock failed")
			continue
		}
		_ = d.stores.Tasks.AppendStatusHistory(ctx, &model.TaskStatusChange{
			TaskID:    dependent.TaskID,
			OldStatus: model.StatusNotStarted,
			NewStatus: model.StatusBlocked,
			Reason:    fmt.Sprintf("dependency %d reopened", reopened.TaskID),
			ChangedAt: dependent.UpdatedAt,
		})
	}
}

// hasOpenBlocker reports whether any hard dependency of taskID is still open.
func (d *Decomposer) hasOpenBlocker(ctx context.Context, taskID int64, deps []model.TaskDependency) bool {
	for _, edge := range deps {
		if edge.TaskID != taskID || edge.Type != model.DepBlocks {
			continue
		}
		blocker, err := d.stores.Tasks.GetTask(ctx, edge.DependsOnID)
		if err != nil {
			return true
		}
		if !blocker.Status.Done() {
			return true
		}
	}
	return false
}

// propagateContentReady marks every task linked to the reusable template as
// content-ready: the written material exists, only adaptation remains.
func (d *Decomposer) propagateContentReady(ctx context.Context, tmpl *model.Task) {
	linked, err := d.stores.Tasks.ListUserTasks(ctx, tmpl.UserID)
	if err != nil {
		return
	}
	for i := range linked {
		t := &linked[i]
		if t.ReuseTemplateID != tmpl.TaskID || t.ContentReady {
			continue
		}
		t.ContentReady = true
		t.UpdatedAt = d.clk.Now()
		if err := d.stores.Tasks.UpdateTask(ctx, t); err != nil {
			log.Warn().Err(err).Int64("task_id", t.TaskID).Msg("content-ready propagation failed")
		}
	}
}

// AddDependency inserts a user-defined edge after proving the graph stays
// acyclic. A rejected edge reports the cycle's member task ids.
func (d *Decomposer) AddDependency(ctx context.Context, userID int64, dep *model.TaskDependency) error {
	if dep.TaskID == dep.DependsOnID {
		return &model.CycleError{TaskIDs: []int64{dep.TaskID}}
	}
	deps, err := d.stores.Tasks.ListDependencies(ctx, userID)
	if err != nil {
		return fmt.Errorf("list dependencies: %w", err)
	}
	if cycle := findCycle(append(deps, *dep), dep.DependsOnID, dep.TaskID); cycle != nil {
		return &model.CycleError{TaskIDs: cycle}
	}
	if err := d.stores.Tasks.CreateDependency(ctx, dep); err != nil {
		return fmt.Errorf("create dependency: %w", err)
	}
	if dep.Type == model.DepBlocks {
		d.blockOnNewEdge(ctx, dep)
	}
	return nil
}

// blockOnNewEdge transitions the dependent of a just-added blocking edge to
// blocked when its new blocker is still open.
func (d *Decomposer) blockOnNewEdge(ctx context.Context, dep *model.TaskDependency) {
	blocker, err := d.stores.Tasks.GetTask(ctx, dep.DependsOnID)
	if err != nil || blocker.Status.Done() {
		return
	}
	dependent, err := d.stores.Tasks.GetTask(ctx, dep.TaskID)
	if err != nil || dependent.Status != model.StatusNotStarted {
		return
	}
	dependent.Status = model.StatusBlocked
	dependent.UpdatedAt = d.clk.Now()
	if err := d.stores.Tasks.UpdateTask(ctx, dependent); err != nil {
		log.Warn().Err(err).Int64("task_id", dependent.TaskID).Msg("block on new edge failed")
		return
	}
	_ = d.stores.Tasks.AppendStatusHistory(ctx, &model.TaskStatusChange{
		TaskID:    dependent.TaskID,
		OldStatus: model.StatusNotStarted,
		NewStatus: model.StatusBlocked,
		Reason:    fmt.Sprintf("blocked by new dependency on %d", dep.DependsOnID),
		ChangedAt: dependent.UpdatedAt,
	})
}

// findCycle walks depends-on edges from start looking for target; a hit
// means the candidate edge closes a cycle. Returns the path or nil.
func findCycle(deps []model.TaskDependency, start, target int64) []int64 {
	adjacent := make(map[int64][]int64, len(deps))
	for _, e := range deps {
		adjacent[e.TaskID] = append(adjacent[e.TaskID], e.DependsOnID)
	}
	var path []int64
	visited := make(map[int64]bool)
	var walk func(id int64) bool
	walk = func(id int64) bool {
		if visited[id] {
			return false
		}
		visited[id] = true
		path = append(path, id)
		if id == target {
			return true
		}
		for _, next := range adjacent[id] {
			if walk(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if walk(start) {
		return append(path, start)
	}
	return nil
}

// GetBlocked returns the user's tasks currently in the blocked state.
func (d *Decomposer) GetBlocked(ctx context.Context, userID int64) ([]model.Task, error) {
	all, err := d.stores.Tasks.ListUserTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for user %d: %w", userID, err)
	}
	var blocked []model.Task
	for _, t := range all {
		if t.Status == model.StatusBlocked {
			blocked = append(blocked, t)
		}
	}
	return blocked, nil
}

// GetCriticalPath finds the longest incomplete dependency chain ending at
// the final submit task, measured in estimated hours, and compares it to
// the calendar capacity before the deadline.
func (d *Decomposer) GetCriticalPath(ctx context.Context, userID, collegeID int64) (*model.CriticalPath, error) {
	tasks, err := d.stores.Tasks.ListTasks(ctx, userID, collegeID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for user %d college %d: %w", userID, collegeID, err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks for college %d: %w", collegeID, model.ErrTaskNotFound)
	}
	deps, err := d.stores.Tasks.ListDependencies(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}

	byID := make(map[int64]*model.Task, len(tasks))
	var submit *model.Task
	for i := range tasks {
		t := &tasks[i]
		byID[t.TaskID] = t
		if t.CanonicalKind == KindFinalSubmit {
			submit = t
		}
	}
	if submit == nil {
		// User-curated lists may lack a submit task; fall back to the
		// latest-deadline task as the chain terminus.
		submit = &tasks[0]
		for i := range tasks {
			if tasks[i].Deadline.After(submit.Deadline) {
				submit = &tasks[i]
			}
		}
	}

	// Incoming blocking edges per task, restricted to this college's tasks.
	blockers := make(map[int64][]int64)
	for _, e := range deps {
		if e.Type != model.DepBlocks {
			continue
		}
		if _, ok := byID[e.TaskID]; !ok {
			continue
		}
		if _, ok := byID[e.DependsOnID]; !ok {
			continue
		}
		blockers[e.TaskID] = append(blockers[e.TaskID], e.DependsOnID)
	}

	type chain struct {
		hours float64
		ids   []int64
	}
	memo := make(map[int64]chain)
	var longest func(id int64) chain
	longest = func(id int64) chain {
		if c, ok := memo[id]; ok {
			return c
		}
		t := byID[id]
		self := chain{}
		if !t.Status.Done() {
			self = chain{hours: t.EstimatedHours, ids: []int64{id}}
		}
		best := chain{}
		for _, dep := range blockers[id] {
			if c := longest(dep); c.hours > best.hours {
				best = c
			}
		}
		combined := chain{
			hours: best.hours + self.hours,
			ids:   append(append([]int64(nil), best.ids...), self.ids...),
		}
		memo[id] = combined
		return combined
	}
	path := longest(submit.TaskID)

	now := d.clk.Now()
	available := 0.0
	if !submit.Deadline.IsZero() && submit.Deadline.After(now) {
		available = submit.Deadline.Sub(now).Hours() / 24 * d.cfg.Risk.ProductiveHoursPerDay
	}
	titles := make([]string, len(path.ids))
	for i, id := range path.ids {
		titles[i] = byID[id].Title
	}
	return &model.CriticalPath{
		TaskIDs:        path.ids,
		Titles:         titles,
		TotalHours:     path.hours,
		AvailableHours: available,
		Exceeds:        path.hours > available,
	}, nil
}

// RemainingHours sums the estimated hours of open tasks for (user, college).
// When no tasks exist yet the requirement template provides the estimate.
// Satisfies the classifier's estimator contract.
func (d *Decomposer) RemainingHours(ctx context.Context, userID, collegeID int64, c *model.College) (float64, error) {
	tasks, err := d.stores.Tasks.ListTasks(ctx, userID, collegeID)
	if err != nil {
		return 0, fmt.Errorf("list tasks for user %d college %d: %w", userID, collegeID, err)
	}
	if len(tasks) == 0 {
		if c == nil {
			return 0, nil
		}
		return EstimateHours(c), nil
	}
	total := 0.0
	for _, t := range tasks {
		if t.Status.Done() {
			continue
		}
		hours := t.EstimatedHours
		if t.ContentReady && t.ReuseTemplateID != 0 {
			hours = math.Min(reuseAdaptHours, hours)
		}
		total += hours
	}
	return total, nil
}
