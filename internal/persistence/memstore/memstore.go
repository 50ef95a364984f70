// Package memstore is an in-memory implementation of the persistence
// contracts. It backs unit tests and the CLI's offline mode; semantics match
// the postgres implementation, including snapshot-on-write.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// Store holds every entity family behind one mutex. Good enough for tests
// and offline mode; production traffic goes to postgres.
type Store struct {
	mu sync.RWMutex

	clk clock.Clock

	profiles     map[int64]*model.Profile
	snapshots    map[string]*model.ProfileSnapshot
	snapsByProf  map[int64][]string // ordered, oldest first
	colleges     map[int64]*model.College
	applications map[int64][]int64 // userID -> collegeIDs with active applications

	tasks       map[int64]*model.Task
	deps        map[int64]*model.TaskDependency
	statusHist  []model.TaskStatusChange
	nextTaskID  int64
	nextDepID   int64
	nextMiscID  int64

	deadlines map[int64]*model.UserDeadline
	alerts    []model.DeadlineAlert

	chanceHistory []model.ChanceHistoryEntry
	changeLog     []model.ChangeLogEntry

	overrides   map[string]*model.Override
	userWeights map[int64]model.FitWeights

	modelVersions map[int64][]*persistence.ModelVersion // by college, oldest first
	outcomes      map[int64][]persistence.OutcomeSample // by college, oldest first
	sampleCounts  map[int64]int
}

// New returns an empty store using the given clock.
func New(clk clock.Clock) *Store {
	return &Store{
		clk:           clk,
		profiles:      make(map[int64]*model.Profile),
		snapshots:     make(map[string]*model.ProfileSnapshot),
		snapsByProf:   make(map[int64][]string),
		colleges:      make(map[int64]*model.College),
		applications:  make(map[int64][]int64),
		tasks:         make(map[int64]*model.Task),
		deps:          make(map[int64]*model.TaskDependency),
		deadlines:     make(map[int64]*model.UserDeadline),
		overrides:     make(map[string]*model.Override),
		userWeights:   make(map[int64]model.FitWeights),
		modelVersions: make(map[int64][]*persistence.ModelVersion),
		outcomes:      make(map[int64][]persistence.OutcomeSample),
		sampleCounts:  make(map[int64]int),
		nextTaskID:    1,
		nextDepID:     1,
		nextMiscID:    1,
	}
}

// Stores bundles the store as every persistence interface.
func (s *Store) Stores() persistence.Stores {
	return persistence.Stores{
		Profiles:  s,
		Colleges:  s,
		Tasks:     s,
		Deadlines: s,
		History:   s,
		Overrides: s,
		Weights:   s,
		Models:    s,
	}
}

// --- seeding helpers (offline mode and tests) ---

// PutCollege inserts or replaces a college.
func (s *Store) PutCollege(c *model.College) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.colleges[c.CollegeID] = &cp
}

// AddApplication registers an active application for (user, college).
func (s *Store) AddApplication(userID, collegeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.applications[userID] {
		if id == collegeID {
			return
		}
	}
	s.applications[userID] = append(s.applications[userID], collegeID)
}

// SetSampleCount sets the training sample count for a college.
func (s *Store) SetSampleCount(collegeID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleCounts[collegeID] = n
}

// --- ProfileStore ---

func (s *Store) GetProfile(_ context.Context, profileID int64) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("profile %d: %w", profileID, model.ErrProfileNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) GetProfileByUser(_ context.Context, userID int64) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.UserID == userID {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("user %d: %w", userID, model.ErrProfileNotFound)
}

func (s *Store) SaveProfile(_ context.Context, p *model.Profile) (*model.ProfileSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	cp := p.Clone()
	cp.UpdatedAt = now
	s.profiles[p.ProfileID] = cp
	return s.snapshotLocked(cp, now), nil
}

func (s *Store) Snapshot(_ context.Context, profileID int64) (*model.ProfileSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("profile %d: %w", profileID, model.ErrProfileNotFound)
	}
	return s.snapshotLocked(p, s.clk.Now()), nil
}

func (s *Store) snapshotLocked(p *model.Profile, now time.Time) *model.ProfileSnapshot {
	snap := &model.ProfileSnapshot{
		SnapshotID: uuid.NewString(),
		ProfileID:  p.ProfileID,
		UserID:     p.UserID,
		Profile:    *p.Clone(),
		TakenAt:    now,
	}
	s.snapshots[snap.SnapshotID] = snap
	s.snapsByProf[p.ProfileID] = append(s.snapsByProf[p.ProfileID], snap.SnapshotID)
	return snap
}

func (s *Store) GetSnapshot(_ context.Context, snapshotID string) (*model.ProfileSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, model.ErrNotFound)
	}
	return snap, nil
}

func (s *Store) LatestSnapshot(_ context.Context, profileID int64) (*model.ProfileSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.snapsByProf[profileID]
	if len(ids) == 0 {
		return nil, fmt.Errorf("profile %d has no snapshots: %w", profileID, model.ErrNotFound)
	}
	return s.snapshots[ids[len(ids)-1]], nil
}

// --- CollegeStore ---

func (s *Store) GetCollege(_ context.Context, collegeID int64) (*model.College, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.colleges[collegeID]
	if !ok {
		return nil, fmt.Errorf("college %d: %w", collegeID, model.ErrCollegeNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListColleges(_ context.Context, afterID int64, limit int) ([]model.College, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.colleges))
	for id := range s.colleges {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.College, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.colleges[id])
	}
	return out, nil
}

func (s *Store) ListByUser(_ context.Context, userID int64) ([]model.College, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.College
	for _, id := range s.applications[userID] {
		if c, ok := s.colleges[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Store) UpdateDeadlines(_ context.Context, collegeID int64, deadlines model.CollegeDeadlines) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colleges[collegeID]
	if !ok {
		return fmt.Errorf("college %d: %w", collegeID, model.ErrCollegeNotFound)
	}
	c.Deadlines = deadlines
	return nil
}

func (s *Store) MarkScraped(_ context.Context, collegeID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colleges[collegeID]
	if !ok {
		return fmt.Errorf("college %d: %w", collegeID, model.ErrCollegeNotFound)
	}
	c.LastScraped = at
	c.ScrapeFailures = 0
	return nil
}

func (s *Store) RecordScrapeFailure(_ context.Context, collegeID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colleges[collegeID]
	if !ok {
		return 0, fmt.Errorf("college %d: %w", collegeID, model.ErrCollegeNotFound)
	}
	c.ScrapeFailures++
	return c.ScrapeFailures, nil
}

func (s *Store) ListStale(_ context.Context, cutoff time.Time, limit int) ([]model.College, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.College
	for _, c := range s.colleges {
		if c.LastScraped.Before(cutoff) {
			out = append(out, *c)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ListWithActiveApplications(_ context.Context, limit int) ([]model.College, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]bool)
	var out []model.College
	for _, ids := range s.applications {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			if c, ok := s.colleges[id]; ok {
				out = append(out, *c)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// --- TaskStore ---

func (s *Store) GetTask(_ context.Context, taskID int64) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", taskID, model.ErrTaskNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTasks(_ context.Context, userID, collegeID int64) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Task
	for _, t := range s.tasks {
		if t.UserID == userID && t.CollegeID == collegeID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *Store) ListUserTasks(_ context.Context, userID int64) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Task
	for _, t := range s.tasks {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

// CreateTasks assigns ids in slice order. Dependency edges may reference
// tasks positionally: TaskID/DependsOnID of -(index+1) resolve to the id
// assigned to tasks[index].
func (s *Store) CreateTasks(_ context.Context, tasks []model.Task, deps []model.TaskDependency) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()

	assigned := make([]int64, len(tasks))
	out := make([]model.Task, len(tasks))
	for i := range tasks {
		t := tasks[i]
		t.TaskID = s.nextTaskID
		s.nextTaskID++
		t.CreatedAt = now
		t.UpdatedAt = now
		assigned[i] = t.TaskID
		cp := t
		s.tasks[t.TaskID] = &cp
		out[i] = t
	}
	resolve := func(id int64) int64 {
		if id < 0 {
			idx := int(-id) - 1
			if idx >= 0 && idx < len(assigned) {
				return assigned[idx]
			}
		}
		return id
	}
	for i := range deps {
		d := deps[i]
		d.DependencyID = s.nextDepID
		s.nextDepID++
		d.TaskID = resolve(d.TaskID)
		d.DependsOnID = resolve(d.DependsOnID)
		cp := d
		s.deps[d.DependencyID] = &cp
	}
	return out, nil
}

func (s *Store) UpdateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.TaskID]; !ok {
		return fmt.Errorf("task %d: %w", t.TaskID, model.ErrTaskNotFound)
	}
	cp := *t
	cp.UpdatedAt = s.clk.Now()
	s.tasks[t.TaskID] = &cp
	return nil
}

func (s *Store) ListDependencies(_ context.Context, userID int64) ([]model.TaskDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TaskDependency
	for _, d := range s.deps {
		if t, ok := s.tasks[d.TaskID]; ok && t.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DependencyID < out[j].DependencyID })
	return out, nil
}

func (s *Store) CreateDependency(_ context.Context, dep *model.TaskDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep.DependencyID = s.nextDepID
	s.nextDepID++
	cp := *dep
	s.deps[dep.DependencyID] = &cp
	return nil
}

func (s *Store) AppendStatusHistory(_ context.Context, change *model.TaskStatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	change.ChangeID = s.nextMiscID
	s.nextMiscID++
	change.ChangedAt = s.clk.Now()
	s.statusHist = append(s.statusHist, *change)
	return nil
}

func (s *Store) ListReusableByKind(_ context.Context, userID int64, kind string) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Task
	for _, t := range s.tasks {
		if t.UserID == userID && t.IsReusable && t.CanonicalKind == kind {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

// StatusHistory returns the recorded transitions for a task (test helper).
func (s *Store) StatusHistory(taskID int64) []model.TaskStatusChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TaskStatusChange
	for _, c := range s.statusHist {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out
}

// --- DeadlineStore ---

func (s *Store) ListDeadlines(_ context.Context, userID, collegeID int64) ([]model.UserDeadline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.UserDeadline
	for _, d := range s.deadlines {
		if d.UserID != userID || !d.Active {
			continue
		}
		if collegeID != 0 && d.CollegeID != collegeID {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineDate.Before(out[j].DeadlineDate) })
	return out, nil
}

func (s *Store) SaveDeadline(_ context.Context, d *model.UserDeadline) (*model.UserDeadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.DeadlineID == 0 {
		d.DeadlineID = s.nextMiscID
		s.nextMiscID++
	}
	cp := *d
	s.deadlines[d.DeadlineID] = &cp
	return d, nil
}

func (s *Store) UpdateRisk(_ context.Context, deadlineID int64, level model.RiskLevel, bufferHours float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deadlines[deadlineID]
	if !ok {
		return fmt.Errorf("deadline %d: %w", deadlineID, model.ErrNotFound)
	}
	d.RiskLevel = level
	d.BufferHours = bufferHours
	return nil
}

func (s *Store) LastAlert(_ context.Context, deadlineID int64, level model.AlertLevel) (*model.DeadlineAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.DeadlineID == deadlineID && a.Level == level {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Store) AppendAlert(_ context.Context, a *model.DeadlineAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, *a)
	return nil
}

func (s *Store) ListAlerts(_ context.Context, userID int64, since time.Time) ([]model.DeadlineAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.DeadlineAlert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.UserID == userID && !a.EmittedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListActiveUsers(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]bool)
	var out []int64
	for _, d := range s.deadlines {
		if d.Active && !seen[d.UserID] {
			seen[d.UserID] = true
			out = append(out, d.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// --- HistoryStore ---

func (s *Store) AppendChance(_ context.Context, e *model.ChanceHistoryEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.HistoryID = s.nextMiscID
	s.nextMiscID++
	if e.RecordedAt.IsZero() {
		e.RecordedAt = s.clk.Now()
	}
	s.chanceHistory = append(s.chanceHistory, *e)
	return e.HistoryID, nil
}

func (s *Store) LatestChance(_ context.Context, userID, collegeID int64) (*model.ChanceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.chanceHistory) - 1; i >= 0; i-- {
		e := s.chanceHistory[i]
		if e.UserID == userID && e.CollegeID == collegeID {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Store) ListChances(_ context.Context, userID, collegeID int64, limit int) ([]model.ChanceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ChanceHistoryEntry
	for i := len(s.chanceHistory) - 1; i >= 0; i-- {
		e := s.chanceHistory[i]
		if e.UserID == userID && e.CollegeID == collegeID {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) AppendChange(_ context.Context, e *model.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.EntryID = s.nextMiscID
	s.nextMiscID++
	if e.At.IsZero() {
		e.At = s.clk.Now()
	}
	s.changeLog = append(s.changeLog, *e)
	return nil
}

func (s *Store) ListChanges(_ context.Context, entityType string, entityID int64, limit int) ([]model.ChangeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ChangeLogEntry
	for _, e := range s.changeLog {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// --- OverrideStore ---

func overrideKey(userID int64, entityType string, entityID int64, field string) string {
	return fmt.Sprintf("%d:%s:%d:%s", userID, entityType, entityID, field)
}

func (s *Store) GetOverride(_ context.Context, userID int64, entityType string, entityID int64, field string) (*model.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[overrideKey(userID, entityType, entityID, field)]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *Store) SaveOverride(_ context.Context, o *model.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.OverrideID == 0 {
		o.OverrideID = s.nextMiscID
		s.nextMiscID++
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.clk.Now()
	}
	cp := *o
	s.overrides[overrideKey(o.UserID, o.EntityType, o.EntityID, o.FieldName)] = &cp
	return nil
}

func (s *Store) ClearOverride(_ context.Context, userID int64, entityType string, entityID int64, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, overrideKey(userID, entityType, entityID, field))
	return nil
}

// --- WeightsStore ---

func (s *Store) GetWeights(_ context.Context, userID int64) (*model.FitWeights, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.userWeights[userID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (s *Store) SaveWeights(_ context.Context, userID int64, w model.FitWeights) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userWeights[userID] = w
	return nil
}

// --- ModelRegistry ---

func (s *Store) Deployed(_ context.Context, collegeID int64) (*persistence.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.modelVersions[collegeID] {
		if v.Deployed {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) Latest(_ context.Context, collegeID int64) (*persistence.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.modelVersions[collegeID]
	if len(vs) == 0 {
		return nil, nil
	}
	cp := *vs[len(vs)-1]
	return &cp, nil
}

func (s *Store) SampleCount(_ context.Context, collegeID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := len(s.outcomes[collegeID]); n > 0 {
		return n, nil
	}
	return s.sampleCounts[collegeID], nil
}

func (s *Store) AppendOutcome(_ context.Context, sample *persistence.OutcomeSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample.SampleID = s.nextMiscID
	s.nextMiscID++
	if sample.ReportedAt.IsZero() {
		sample.ReportedAt = s.clk.Now()
	}
	s.outcomes[sample.CollegeID] = append(s.outcomes[sample.CollegeID], *sample)
	return nil
}

func (s *Store) ListOutcomes(_ context.Context, collegeID int64) ([]persistence.OutcomeSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]persistence.OutcomeSample(nil), s.outcomes[collegeID]...), nil
}

func (s *Store) SaveVersion(_ context.Context, v *persistence.ModelVersion) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.VersionID = s.nextMiscID
	s.nextMiscID++
	if v.TrainedAt.IsZero() {
		v.TrainedAt = s.clk.Now()
	}
	cp := *v
	s.modelVersions[v.CollegeID] = append(s.modelVersions[v.CollegeID], &cp)
	return v.VersionID, nil
}

func (s *Store) Deploy(_ context.Context, collegeID, versionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, v := range s.modelVersions[collegeID] {
		if v.VersionID == versionID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("model version %d for college %d: %w", versionID, collegeID, model.ErrNotFound)
	}
	for _, v := range s.modelVersions[collegeID] {
		v.Deployed = v.VersionID == versionID
	}
	return nil
}
