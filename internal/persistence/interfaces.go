// Package persistence defines the storage contracts the decision engine
// consumes. Implementations live in postgres (production) and memstore
// (tests and offline mode); the serialization boundary for list-valued
// fields sits inside the implementations, never in the engine.
package persistence

import (
	"context"
	"time"

	"github.com/admitpath/admitpath/internal/model"
)

// ProfileStore provides student profile persistence. Writes are serialized
// per profile id; every write produces a new immutable snapshot.
type ProfileStore interface {
	// GetProfile retrieves a profile by id.
	GetProfile(ctx context.Context, profileID int64) (*model.Profile, error)

	// GetProfileByUser retrieves the single profile owned by a user.
	GetProfileByUser(ctx context.Context, userID int64) (*model.Profile, error)

	// SaveProfile upserts the profile and returns the snapshot taken after
	// the write. Cache invalidation is observed before this returns.
	SaveProfile(ctx context.Context, p *model.Profile) (*model.ProfileSnapshot, error)

	// Snapshot takes an immutable copy of the current profile state.
	Snapshot(ctx context.Context, profileID int64) (*model.ProfileSnapshot, error)

	// GetSnapshot retrieves a snapshot by its uuid.
	GetSnapshot(ctx context.Context, snapshotID string) (*model.ProfileSnapshot, error)

	// LatestSnapshot returns the most recent snapshot for a profile.
	LatestSnapshot(ctx context.Context, profileID int64) (*model.ProfileSnapshot, error)
}

// CollegeStore provides college catalog persistence (the reconciled view
// over the source's overlapping schemas).
type CollegeStore interface {
	// GetCollege retrieves a college by id.
	GetCollege(ctx context.Context, collegeID int64) (*model.College, error)

	// ListColleges pages through the catalog ordered by id (cursor = last id).
	ListColleges(ctx context.Context, afterID int64, limit int) ([]model.College, error)

	// ListByUser returns the colleges on a user's application list.
	ListByUser(ctx context.Context, userID int64) ([]model.College, error)

	// UpdateDeadlines replaces a college's canonical deadlines.
	UpdateDeadlines(ctx context.Context, collegeID int64, deadlines model.CollegeDeadlines) error

	// MarkScraped records a successful refresh and resets the failure count.
	MarkScraped(ctx context.Context, collegeID int64, at time.Time) error

	// RecordScrapeFailure increments the consecutive failure counter and
	// returns the new count.
	RecordScrapeFailure(ctx context.Context, collegeID int64) (int, error)

	// ListStale returns up to limit colleges whose lastScraped precedes the
	// cutoff, in random order.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.College, error)

	// ListWithActiveApplications returns colleges that have at least one
	// active application.
	ListWithActiveApplications(ctx context.Context, limit int) ([]model.College, error)
}

// TaskStore provides task and dependency persistence.
type TaskStore interface {
	// GetTask retrieves a task by id.
	GetTask(ctx context.Context, taskID int64) (*model.Task, error)

	// ListTasks returns all tasks for a (user, college) pair.
	ListTasks(ctx context.Context, userID, collegeID int64) ([]model.Task, error)

	// ListUserTasks returns all tasks for a user across colleges.
	ListUserTasks(ctx context.Context, userID int64) ([]model.Task, error)

	// CreateTasks inserts tasks and their dependencies atomically. Dependency
	// edges reference tasks by slice index via TaskID < 0 convention resolved
	// by the implementation, or carry real ids.
	CreateTasks(ctx context.Context, tasks []model.Task, deps []model.TaskDependency) ([]model.Task, error)

	// UpdateTask persists task mutations (status, content-ready, deadline).
	UpdateTask(ctx context.Context, t *model.Task) error

	// ListDependencies returns dependency edges for a user's tasks.
	ListDependencies(ctx context.Context, userID int64) ([]model.TaskDependency, error)

	// CreateDependency inserts one edge. Acyclicity is the caller's invariant.
	CreateDependency(ctx context.Context, dep *model.TaskDependency) error

	// AppendStatusHistory records a status transition.
	AppendStatusHistory(ctx context.Context, change *model.TaskStatusChange) error

	// ListReusableByKind finds a user's reusable tasks of a canonical kind,
	// oldest first, for reuse-template linking.
	ListReusableByKind(ctx context.Context, userID int64, kind string) ([]model.Task, error)
}

// DeadlineStore provides user deadline and alert persistence.
type DeadlineStore interface {
	// ListDeadlines returns a user's active deadlines, optionally filtered by
	// college (collegeID 0 = all).
	ListDeadlines(ctx context.Context, userID, collegeID int64) ([]model.UserDeadline, error)

	// SaveDeadline upserts a user deadline and returns it with its id set.
	SaveDeadline(ctx context.Context, d *model.UserDeadline) (*model.UserDeadline, error)

	// UpdateRisk stores the latest risk level and buffer for a deadline.
	UpdateRisk(ctx context.Context, deadlineID int64, level model.RiskLevel, bufferHours float64) error

	// LastAlert returns the most recent alert for (deadline, level), or nil.
	LastAlert(ctx context.Context, deadlineID int64, level model.AlertLevel) (*model.DeadlineAlert, error)

	// AppendAlert records an emitted alert.
	AppendAlert(ctx context.Context, a *model.DeadlineAlert) error

	// ListAlerts returns a user's alerts since a cutoff, newest first.
	ListAlerts(ctx context.Context, userID int64, since time.Time) ([]model.DeadlineAlert, error)

	// ListActiveUsers returns the distinct user ids holding active deadlines,
	// for the daily risk sweep.
	ListActiveUsers(ctx context.Context) ([]int64, error)
}

// HistoryStore provides chance history and the change log.
type HistoryStore interface {
	// AppendChance records a chance history entry and returns its id.
	AppendChance(ctx context.Context, e *model.ChanceHistoryEntry) (int64, error)

	// LatestChance returns the most recent entry for (user, college), or nil.
	LatestChance(ctx context.Context, userID, collegeID int64) (*model.ChanceHistoryEntry, error)

	// ListChances returns history for (user, college), newest first.
	ListChances(ctx context.Context, userID, collegeID int64, limit int) ([]model.ChanceHistoryEntry, error)

	// AppendChange records a change-log entry. Append-only, totally ordered
	// per (entity_type, entity_id).
	AppendChange(ctx context.Context, e *model.ChangeLogEntry) error

	// ListChanges returns change-log entries for an entity, oldest first.
	ListChanges(ctx context.Context, entityType string, entityID int64, limit int) ([]model.ChangeLogEntry, error)
}

// OverrideStore provides override persistence.
type OverrideStore interface {
	// GetOverride returns the override for the key, or nil when absent.
	GetOverride(ctx context.Context, userID int64, entityType string, entityID int64, field string) (*model.Override, error)

	// SaveOverride upserts an override.
	SaveOverride(ctx context.Context, o *model.Override) error

	// ClearOverride removes an override; no-op when absent.
	ClearOverride(ctx context.Context, userID int64, entityType string, entityID int64, field string) error
}

// WeightsStore persists per-user fit weight overrides.
type WeightsStore interface {
	// GetWeights returns the user's custom weights, or nil when the defaults
	// apply.
	GetWeights(ctx context.Context, userID int64) (*model.FitWeights, error)

	// SaveWeights upserts the user's custom weights. Validation is the
	// caller's job.
	SaveWeights(ctx context.Context, userID int64, w model.FitWeights) error
}

// ModelVersion is one trained per-college model artifact. Rule-based
// chancing stays authoritative; a deployed validated version may only nudge
// the estimate within a small band.
type ModelVersion struct {
	VersionID   int64     `json:"version_id" db:"version_id"`
	CollegeID   int64     `json:"college_id" db:"college_id"`
	SampleCount int       `json:"sample_count" db:"sample_count"`
	Accuracy    float64   `json:"accuracy" db:"accuracy"` // 0-1, validated holdout accuracy
	Nudge       float64   `json:"nudge" db:"nudge"`       // signed pp adjustment, |nudge| <= 5
	Validated   bool      `json:"validated" db:"validated"`
	Deployed    bool      `json:"deployed" db:"deployed"`
	TrainedAt   time.Time `json:"trained_at" db:"trained_at"`
}

// OutcomeSample is one reported admission decision paired with the estimate
// that was in force when the student applied. Training data for the
// per-college models.
type OutcomeSample struct {
	SampleID        int64     `json:"sample_id" db:"sample_id"`
	CollegeID       int64     `json:"college_id" db:"college_id"`
	UserID          int64     `json:"user_id" db:"user_id"`
	PredictedChance float64   `json:"predicted_chance" db:"predicted_chance"`
	Admitted        bool      `json:"admitted" db:"admitted"`
	ReportedAt      time.Time `json:"reported_at" db:"reported_at"`
}

// ModelRegistry tracks per-college learned models and their deployment state.
type ModelRegistry interface {
	// Deployed returns the currently deployed version for a college, or nil.
	Deployed(ctx context.Context, collegeID int64) (*ModelVersion, error)

	// Latest returns the most recently trained version, deployed or not.
	Latest(ctx context.Context, collegeID int64) (*ModelVersion, error)

	// SampleCount returns the current outcome-sample count for a college.
	SampleCount(ctx context.Context, collegeID int64) (int, error)

	// AppendOutcome records one reported admission decision.
	AppendOutcome(ctx context.Context, sample *OutcomeSample) error

	// ListOutcomes returns a college's outcome samples, oldest first.
	ListOutcomes(ctx context.Context, collegeID int64) ([]OutcomeSample, error)

	// SaveVersion inserts a new trained version (not yet deployed).
	SaveVersion(ctx context.Context, v *ModelVersion) (int64, error)

	// Deploy atomically flips the deployed pointer to versionID, undeploying
	// the previous version in the same transaction.
	Deploy(ctx context.Context, collegeID, versionID int64) error
}

// Stores aggregates every persistence interface the engine consumes.
type Stores struct {
	Profiles  ProfileStore
	Colleges  CollegeStore
	Tasks     TaskStore
	Deadlines DeadlineStore
	History   HistoryStore
	Overrides OverrideStore
	Weights   WeightsStore
	Models    ModelRegistry
}
