// Package risk implements deadline-risk assessment: available working hours
// against remaining task hours per (user, college), with alert emission on
// level transitions.
package risk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/cache"
	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/ledger"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// alertDedupWindow suppresses repeat alerts at the same level.
const alertDedupWindow = 24 * time.Hour

// WorkEstimator supplies the remaining task hours for a (user, college).
// Satisfied by the task decomposer.
type WorkEstimator interface {
	RemainingHours(ctx context.Context, userID, collegeID int64, c *model.College) (float64, error)
}

// Engine is the deadline-risk service.
type Engine struct {
	stores    persistence.Stores
	cache     cache.Cache
	ledger    *ledger.Ledger
	estimator WorkEstimator
	cfg       config.Config
	clk       clock.Clock
}

// NewEngine wires the risk engine.
func NewEngine(stores persistence.Stores, c cache.Cache, led *ledger.Ledger, est WorkEstimator, cfg config.Config, clk clock.Clock) *Engine {
	return &Engine{stores: stores, cache: c, ledger: led, estimator: est, cfg: cfg, clk: clk}
}

// levelFor bands the buffer ratio. The productive-hours model counts a fixed
// number of working hours per calendar day, not wall-clock hours.
func (e *Engine) levelFor(availableHours, neededHours float64) (model.RiskLevel, float64) {
	if neededHours <= 0 {
		return model.RiskSafe, availableHours
	}
	if availableHours <= 0 {
		return model.RiskImpossible, availableHours - neededHours
	}
	buffer := availableHours - neededHours
	ratio := buffer / neededHours
	switch {
	case ratio >= e.cfg.Risk.SafeThreshold:
		return model.RiskSafe, buffer
	case ratio >= e.cfg.Risk.TightThreshold:
		return model.RiskTight, buffer
	case ratio >= 0:
		return model.RiskCritical, buffer
	default:
		return model.RiskImpossible, buffer
	}
}

// availableHours converts the calendar gap to the deadline into productive
// working hours.
func (e *Engine) availableHours(now, deadline time.Time) float64 {
	if deadline.IsZero() || !deadline.After(now) {
		return 0
	}
	return deadline.Sub(now).Hours() / 24 * e.cfg.Risk.ProductiveHoursPerDay
}

// CalculateRisk assesses a (user, college) pair: time feasibility against
// the nearest deadline, task progress, and blocked work.
func (e *Engine) CalculateRisk(ctx context.Context, userID, collegeID int64) (*model.RiskAssessment, error) {
	college, err := e.stores.Colleges.GetCollege(ctx, collegeID)
	if err != nil {
		return nil, err
	}
	now := e.clk.Now()

	deadlines, err := e.stores.Deadlines.ListDeadlines(ctx, userID, collegeID)
	if err != nil {
		return nil, fmt.Errorf("list deadlines for user %d college %d: %w", userID, collegeID, err)
	}
	nearest := nearestDeadline(deadlines, now)
	deadlineDate := nearest.DeadlineDate
	if nearest.DeadlineID == 0 {
		_, deadlineDate = college.Deadlines.Earliest(now)
	}

	needed := 0.0
	if e.estimator != nil {
		if h, err := e.estimator.RemainingHours(ctx, userID, collegeID, college); err == nil {
			needed = h
		} else {
			log.Warn().Err(err).Int64("college_id", collegeID).Msg("remaining-hours estimate failed")
		}
	}
	available := e.availableHours(now, deadlineDate)
	level, buffer := e.levelFor(available, needed)

	tasks, err := e.stores.Tasks.ListTasks(ctx, userID, collegeID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	completed, blocked := 0, 0
	for _, t := range tasks {
		if t.Status.Done() {
			completed++
		}
		if t.Status == model.StatusBlocked {
			blocked++
		}
	}

	assessment := &model.RiskAssessment{
		UserID:           userID,
		CollegeID:        collegeID,
		TimeRiskLevel:    level,
		TimeBufferHours:  buffer,
		TasksTotal:       len(tasks),
		TasksCompleted:   completed,
		TasksBlocked:     blocked,
		NextCriticalDate: deadlineDate,
		ComputedAt:       now,
	}
	e.scoreAssessment(assessment, available, needed)

	if nearest.DeadlineID != 0 {
		prior := nearest.RiskLevel
		if err := e.stores.Deadlines.UpdateRisk(ctx, nearest.DeadlineID, level, buffer); err != nil {
			log.Warn().Err(err).Int64("deadline_id", nearest.DeadlineID).Msg("risk update failed")
		}
		e.maybeAlert(ctx, nearest, prior, level, needed)
	}

	e.ledger.RecordDecision(ctx, &ledger.Record{
		Kind:      ledger.KindRisk,
		UserID:    userID,
		CollegeID: collegeID,
		Inputs: map[string]string{
			"deadline":        deadlineDate.Format(time.RFC3339),
			"available_hours": strconv.FormatFloat(available, 'f', 1, 64),
			"needed_hours":    strconv.FormatFloat(needed, 'f', 1, 64),
		},
		Factors:    riskContributions(assessment.RiskFactors),
		Output:     assessment.OverallRiskScore,
		OutputText: string(level),
		At:         now,
	})

	key := cache.RiskKey(userID, collegeID)
	if _, err := e.cache.Put(ctx, key, assessment, now, e.cfg.Scoring.CacheTTL()); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("risk cache write failed")
	}
	return assessment, nil
}

// scoreAssessment fills the risk factors, the 0-100 score, and mitigations.
func (e *Engine) scoreAssessment(a *model.RiskAssessment, available, needed float64) {
	score := 0.0
	switch a.TimeRiskLevel {
	case model.RiskTight:
		score += 30
		a.RiskFactors = append(a.RiskFactors, model.RiskFactor{
			Name: "time_buffer", Severity: "medium", Impact: 30,
			Detail: fmt.Sprintf("%.0fh buffer for %.0fh of work", a.TimeBufferHours, needed),
		})
		a.Mitigations = append(a.Mitigations, "front-load essay work this week")
	case model.RiskCritical:
		score += 60
		a.RiskFactors = append(a.RiskFactors, model.RiskFactor{
			Name: "time_buffer", Severity: "high", Impact: 60,
			Detail: fmt.Sprintf("only %.0fh available for %.0fh of work", available, needed),
		})
		a.Mitigations = append(a.Mitigations, "cut optional tasks and work the critical path only")
	case model.RiskImpossible:
		score += 90
		a.RiskFactors = append(a.RiskFactors, model.RiskFactor{
			Name: "time_buffer", Severity: "high", Impact: 90,
			Detail: fmt.Sprintf("%.0fh short of the required hours", -a.TimeBufferHours),
		})
		a.Mitigations = append(a.Mitigations, "consider a later admission round or dropping this college")
	}
	if a.TasksBlocked > 0 {
		impact := float64(a.TasksBlocked) * 5
		score += impact
		a.RiskFactors = append(a.RiskFactors, model.RiskFactor{
			Name: "blocked_tasks", Severity: "medium", Impact: impact,
			Detail: fmt.Sprintf("%d tasks blocked on dependencies", a.TasksBlocked),
		})
		a.Mitigations = append(a.Mitigations, "complete blocking tasks to free dependent work")
	}
	if score > 100 {
		score = 100
	}
	a.OverallRiskScore = score
}

// maybeAlert emits an alert on a severity increase, deduped per
// (deadline, level) within the window.
func (e *Engine) maybeAlert(ctx context.Context, d model.UserDeadline, prior, current model.RiskLevel, needed float64) {
	if current.Severity() <= prior.Severity() {
		return
	}
	level := alertLevelFor(current)
	if level == "" {
		return
	}
	last, err := e.stores.Deadlines.LastAlert(ctx, d.DeadlineID, level)
	if err == nil && last != nil && e.clk.Now().Sub(last.EmittedAt) < alertDedupWindow {
		return
	}
	alert := &model.DeadlineAlert{
		AlertID:    uuid.NewString(),
		UserID:     d.UserID,
		CollegeID:  d.CollegeID,
		DeadlineID: d.DeadlineID,
		Level:      level,
		Message: fmt.Sprintf("%s is now %s: %.0fh of work remain before %s",
			d.Title, current, needed, d.DeadlineDate.Format("Jan 2")),
		EmittedAt: e.clk.Now(),
	}
	if err := e.stores.Deadlines.AppendAlert(ctx, alert); err != nil {
		log.Warn().Err(err).Int64("deadline_id", d.DeadlineID).Msg("alert append failed")
		return
	}
	log.Info().
		Int64("user_id", d.UserID).
		Int64("deadline_id", d.DeadlineID).
		Str("level", string(level)).
		Msg("deadline alert emitted")
}

func alertLevelFor(r model.RiskLevel) model.AlertLevel {
	switch r {
	case model.RiskTight:
		return model.AlertWarning
	case model.RiskCritical:
		return model.AlertCritical
	case model.RiskImpossible:
		return model.AlertImpossible
	}
	return ""
}

func nearestDeadline(deadlines []model.UserDeadline, now time.Time) model.UserDeadline {
	var best model.UserDeadline
	for _, d := range deadlines {
		if !d.Active || d.DeadlineDate.Before(now) {
			continue
		}
		if best.DeadlineID == 0 || d.DeadlineDate.Before(best.DeadlineDate) {
			best = d
		}
	}
	return best
}

// Overview aggregates a user's risk across their application list.
type Overview struct {
	Assessments []model.RiskAssessment `json:"assessments"`
	Impossible  []int64                `json:"impossible_college_ids,omitempty"`
	WorstLevel  model.RiskLevel        `json:"worst_level"`
}

// GetOverview assesses every college on the user's list and flags the ones
// that can no longer be finished in time.
func (e *Engine) GetOverview(ctx context.Context, userID int64) (*Overview, error) {
	colleges, err := e.stores.Colleges.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user colleges: %w", err)
	}
	out := &Overview{WorstLevel: model.RiskSafe}
	for _, c := range colleges {
		a, err := e.CalculateRisk(ctx, userID, c.CollegeID)
		if err != nil {
			log.Warn().Err(err).Int64("college_id", c.CollegeID).Msg("risk assessment failed")
			continue
		}
		out.Assessments = append(out.Assessments, *a)
		if a.TimeRiskLevel == model.RiskImpossible {
			out.Impossible = append(out.Impossible, c.CollegeID)
		}
		if a.TimeRiskLevel.Severity() > out.WorstLevel.Severity() {
			out.WorstLevel = a.TimeRiskLevel
		}
	}
	return out, nil
}

// SyncFromCollegeDeadlines mirrors the college's canonical rounds into the
// user's tracked deadlines as official entries. Existing rows update in
// place; rounds the college dropped deactivate.
func (e *Engine) SyncFromCollegeDeadlines(ctx context.Context, userID, collegeID int64) error {
	college, err := e.stores.Colleges.GetCollege(ctx, collegeID)
	if err != nil {
		return err
	}
	existing, err := e.stores.Deadlines.ListDeadlines(ctx, userID, collegeID)
	if err != nil {
		return fmt.Errorf("list deadlines: %w", err)
	}
	byTitle := make(map[string]model.UserDeadline, len(existing))
	for _, d := range existing {
		byTitle[d.Title] = d
	}

	current := make(map[string]bool, len(college.Deadlines))
	for round, date := range college.Deadlines {
		if date.IsZero() {
			continue
		}
		title := fmt.Sprintf("%s %s deadline", college.Name, round)
		current[title] = true
		d := byTitle[title]
		d.UserID = userID
		d.CollegeID = collegeID
		d.Title = title
		d.DeadlineDate = date
		d.Type = model.UserDeadlineOfficial
		d.Active = true
		if _, err := e.stores.Deadlines.SaveDeadline(ctx, &d); err != nil {
			return fmt.Errorf("save deadline %q: %w", title, err)
		}
	}

	// Official rows for rounds the college no longer publishes deactivate;
	// user-created deadlines are never touched.
	for _, d := range existing {
		if d.Type != model.UserDeadlineOfficial || current[d.Title] {
			continue
		}
		d.Active = false
		if _, err := e.stores.Deadlines.SaveDeadline(ctx, &d); err != nil {
			return fmt.Errorf("deactivate deadline %q: %w", d.Title, err)
		}
	}
	return nil
}

// RunDailyCheck recomputes risk for every user with active deadlines. The
// scheduler runs this once a day; alert dedup keeps re-runs quiet.
func (e *Engine) RunDailyCheck(ctx context.Context) error {
	users, err := e.stores.Deadlines.ListActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.GetOverview(ctx, userID); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("daily risk check failed for user")
		}
	}
	log.Info().Int("users", len(users)).Msg("daily risk check complete")
	return nil
}

func riskContributions(factors []model.RiskFactor) []ledger.Contribution {
	out := make([]ledger.Contribution, len(factors))
	for i, f := range factors {
		out[i] = ledger.Contribution{Name: f.Name, Value: f.Impact, Evidence: f.Detail}
	}
	return out
}
