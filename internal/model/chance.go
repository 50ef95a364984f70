package model

import (
	"math"
	"time"
)

// ChanceCategory bands a chance percent. Distinct from FitCategory on purpose:
// the chancing surface reports three bands, capitalized as the source did.
type ChanceCategory string

const (
	ChanceSafety ChanceCategory = "Safety"
	ChanceTarget ChanceCategory = "Target"
	ChanceReach  ChanceCategory = "Reach"
)

// ChanceFactor is one signed contribution to a chance estimate.
type ChanceFactor struct {
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"` // signed percentage points
	Evidence     string  `json:"evidence"`
}

// ChanceResult is the deterministic chance estimate for a (snapshot, college).
type ChanceResult struct {
	SnapshotID    string         `json:"snapshot_id" db:"snapshot_id"`
	CollegeID     int64          `json:"college_id" db:"college_id"`
	UserID        int64          `json:"user_id" db:"user_id"`
	ChancePercent float64        `json:"chance_percent" db:"chance_percent"` // clamped [0.5, 99.5]
	Category      ChanceCategory `json:"category" db:"category"`
	Factors       []ChanceFactor `json:"factors"`
	Region        Region         `json:"region" db:"region"`
	ModelNudge    float64        `json:"model_nudge,omitempty"` // learned-model overlay, |nudge| <= 5
	ComputedAt    time.Time      `json:"computed_at" db:"computed_at"`
}

// RoundDisplay applies the display rounding rule: half away from zero to one
// decimal. Internal arithmetic stays double precision.
func RoundDisplay(v float64) float64 {
	return math.Round(v*10) / 10
}

// CategorizeChance maps a chance percent to its band.
func CategorizeChance(pct float64) ChanceCategory {
	switch {
	case pct >= 60:
		return ChanceSafety
	case pct >= 30:
		return ChanceTarget
	default:
		return ChanceReach
	}
}

// ChanceHistoryEntry is an append-only record of a saved chance estimate.
type ChanceHistoryEntry struct {
	HistoryID  int64          `json:"history_id" db:"history_id"`
	UserID     int64          `json:"user_id" db:"user_id"`
	CollegeID  int64          `json:"college_id" db:"college_id"`
	Chance     float64        `json:"chance" db:"chance"`
	Category   ChanceCategory `json:"category" db:"category"`
	Factors    []ChanceFactor `json:"factors"`
	RecordedAt time.Time      `json:"recorded_at" db:"recorded_at"`
}

// ScenarioChanges is the set of proposed profile edits for a what-if run.
// Nil pointers mean "leave unchanged".
type ScenarioChanges struct {
	GPAUnweighted   *float64 `json:"gpa_unweighted,omitempty"`
	SATTotal        *int     `json:"sat_total,omitempty"`
	ACTComposite    *int     `json:"act_composite,omitempty"`
	AddTier1        int      `json:"add_tier1,omitempty"`
	AddTier2        int      `json:"add_tier2,omitempty"`
	AddAPCourses    int      `json:"add_ap_courses,omitempty"`
	JEEAdvancedRank *int     `json:"jee_advanced_rank,omitempty"`
}

// Apply produces the scenario profile. The receiver is never mutated.
func (c ScenarioChanges) Apply(p *Profile) *Profile {
	sp := p.Clone()
	if c.GPAUnweighted != nil {
		sp.Academic.GPAUnweighted = *c.GPAUnweighted
	}
	if c.SATTotal != nil {
		sp.Academic.SATTotal = *c.SATTotal
	}
	if c.ACTComposite != nil {
		sp.Academic.ACTComposite = *c.ACTComposite
	}
	if c.JEEAdvancedRank != nil {
		sp.Regional.JEEAdvancedRank = *c.JEEAdvancedRank
	}
	for i := 0; i < c.AddTier1; i++ {
		sp.Activities = append(sp.Activities, Activity{Name: "scenario tier-1", TierRating: 1})
	}
	for i := 0; i < c.AddTier2; i++ {
		sp.Activities = append(sp.Activities, Activity{Name: "scenario tier-2", TierRating: 2})
	}
	for i := 0; i < c.AddAPCourses; i++ {
		sp.Coursework = append(sp.Coursework, Coursework{Name: "scenario AP", Level: CourseAP})
	}
	return sp
}

// ScenarioDiff is the per-college outcome of a what-if run.
type ScenarioDiff struct {
	CollegeID       int64          `json:"college_id"`
	CollegeName     string         `json:"college_name"`
	OldChance       float64        `json:"old_chance"`
	NewChance       float64        `json:"new_chance"`
	Change          float64        `json:"change"`
	OldCategory     ChanceCategory `json:"old_category"`
	NewCategory     ChanceCategory `json:"new_category"`
	CategoryChanged bool           `json:"category_changed"`
}

// ScenarioSummary aggregates a what-if run.
type ScenarioSummary struct {
	Improved  int     `json:"improved"`
	Decreased int     `json:"decreased"`
	Unchanged int     `json:"unchanged"`
	AvgChange float64 `json:"avg_change"`
}

// ChanceComparison is the per-college delta against the latest history entry.
type ChanceComparison struct {
	CollegeID     int64          `json:"college_id"`
	CollegeName   string         `json:"college_name"`
	PriorChance   float64        `json:"prior_chance"`
	PriorAt       time.Time      `json:"prior_at"`
	CurrentChance float64        `json:"current_chance"`
	Change        float64        `json:"change"`
	PriorCategory ChanceCategory `json:"prior_category"`
	Category      ChanceCategory `json:"category"`
}
