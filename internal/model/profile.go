package model

import (
	"time"
)

// Region identifies which chancing formula applies to a profile/college pair.
type Region string

const (
	RegionUS      Region = "US"
	RegionIndia   Region = "India"
	RegionUK      Region = "UK"
	RegionGermany Region = "Germany"
	RegionEU      Region = "EU"
)

// AcademicMetrics holds US-style academic signals. Zero values mean
// "not reported"; use the Has* helpers rather than comparing to 0 inline.
type AcademicMetrics struct {
	GPAUnweighted       float64 `json:"gpa_unweighted" db:"gpa_unweighted"`
	GPAWeighted         float64 `json:"gpa_weighted" db:"gpa_weighted"`
	SATTotal            int     `json:"sat_total" db:"sat_total"`
	SATMath             int     `json:"sat_math" db:"sat_math"`
	SATEBRW             int     `json:"sat_ebrw" db:"sat_ebrw"`
	ACTComposite        int     `json:"act_composite" db:"act_composite"`
	ClassRankPercentile float64 `json:"class_rank_percentile" db:"class_rank_percentile"`
}

func (a AcademicMetrics) HasGPA() bool       { return a.GPAUnweighted > 0 }
func (a AcademicMetrics) HasSAT() bool       { return a.SATTotal > 0 }
func (a AcademicMetrics) HasACT() bool       { return a.ACTComposite > 0 }
func (a AcademicMetrics) HasTestScore() bool { return a.HasSAT() || a.HasACT() }

// RegionalMetrics holds region-specific credentials. Which group is populated
// determines the region calculator (deterministic precedence, see DispatchRegion).
type RegionalMetrics struct {
	JEEAdvancedRank     int     `json:"jee_advanced_rank" db:"jee_advanced_rank"`
	JEEMainPercentile   float64 `json:"jee_main_percentile" db:"jee_main_percentile"`
	ReservationCategory string  `json:"reservation_category,omitempty" db:"reservation_category"` // general/obc/sc/st
	PredictedALevels    string  `json:"predicted_a_levels" db:"predicted_a_levels"`               // e.g. "AAB"
	IBPredicted         int     `json:"ib_predicted" db:"ib_predicted"`                           // 0-45
	AbiturGrade         float64 `json:"abitur_grade" db:"abitur_grade"`                           // 1.0 (best) - 4.0
	BoardPercentage     float64 `json:"board_percentage" db:"board_percentage"`
}

func (r RegionalMetrics) HasJEE() bool    { return r.JEEAdvancedRank > 0 || r.JEEMainPercentile > 0 }
func (r RegionalMetrics) HasALevel() bool { return r.PredictedALevels != "" || r.IBPredicted > 0 }
func (r RegionalMetrics) HasAbitur() bool { return r.AbiturGrade > 0 }

// Preferences captures what the student wants from a college.
type Preferences struct {
	IntendedMajors     []string `json:"intended_majors"`
	PreferredCountries []string `json:"preferred_countries"`
	BudgetMax          float64  `json:"budget_max"`
	CampusSize         string   `json:"campus_size"` // small, medium, large
	Setting            string   `json:"setting"`     // urban, suburban, rural
}

// Demographics holds the admission-relevant context factors.
type Demographics struct {
	IsFirstGen bool   `json:"is_first_gen" db:"is_first_gen"`
	IsLegacy   bool   `json:"is_legacy" db:"is_legacy"`
	State      string `json:"state" db:"state"`
	Country    string `json:"country" db:"country"`
}

// Profile is the identity of a student applicant. At most one per user.
type Profile struct {
	ProfileID    int64           `json:"profile_id" db:"profile_id"`
	UserID       int64           `json:"user_id" db:"user_id"`
	Academic     AcademicMetrics `json:"academic"`
	Regional     RegionalMetrics `json:"regional"`
	Preferences  Preferences     `json:"preferences"`
	Demographics Demographics    `json:"demographics"`
	Activities   []Activity      `json:"activities"`
	Coursework   []Coursework    `json:"coursework"`
	Completeness float64         `json:"completeness"` // 0-100
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// DispatchRegion resolves which region calculator applies. Precedence is
// fixed: JEE > A-Level/IB > Abitur > default US.
func (p *Profile) DispatchRegion(collegeCountry string) Region {
	switch {
	case collegeCountry == "India" && p.Regional.HasJEE():
		return RegionIndia
	case collegeCountry == "UK" && p.Regional.HasALevel():
		return RegionUK
	case collegeCountry == "Germany" && p.Regional.HasAbitur():
		return RegionGermany
	default:
		return RegionUS
	}
}

// MissingRequiredFields lists the required academic signals absent from the
// profile. Scoring requires at least one of GPA or a test credential; when
// both are missing the result is non-empty.
func (p *Profile) MissingRequiredFields() []string {
	hasGPA := p.Academic.HasGPA()
	hasTest := p.Academic.HasTestScore() ||
		p.Regional.HasJEE() || p.Regional.HasALevel() || p.Regional.HasAbitur()
	if hasGPA || hasTest {
		return nil
	}
	return []string{"gpa", "test_score"}
}

// Clone returns a deep copy suitable for scenario ("what-if") evaluation.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Preferences.IntendedMajors = append([]string(nil), p.Preferences.IntendedMajors...)
	cp.Preferences.PreferredCountries = append([]string(nil), p.Preferences.PreferredCountries...)
	cp.Activities = append([]Activity(nil), p.Activities...)
	cp.Coursework = append([]Coursework(nil), p.Coursework...)
	return &cp
}

// Activity is an extracurricular owned by a Profile.
type Activity struct {
	ActivityID        int64  `json:"activity_id" db:"activity_id"`
	ProfileID         int64  `json:"profile_id" db:"profile_id"`
	Name              string `json:"name" db:"name"`
	Description       string `json:"description" db:"description"`
	TierRating        int    `json:"tier_rating" db:"tier_rating"` // 1 national .. 4 participation
	HoursPerWeek      int    `json:"hours_per_week" db:"hours_per_week"`
	WeeksPerYear      int    `json:"weeks_per_year" db:"weeks_per_year"`
	YearsParticipated int    `json:"years_participated" db:"years_participated"`
	IsLeadership      bool   `json:"is_leadership" db:"is_leadership"`
	GradeLevels       []int  `json:"grade_levels"`
}

// TotalHours is the lifetime hour commitment of the activity.
func (a Activity) TotalHours() int {
	return a.HoursPerWeek * a.WeeksPerYear * a.YearsParticipated
}

// CourseLevel classifies coursework rigor.
type CourseLevel string

const (
	CourseAP             CourseLevel = "AP"
	CourseIB             CourseLevel = "IB"
	CourseHonors         CourseLevel = "Honors"
	CourseRegular        CourseLevel = "Regular"
	CourseDualEnrollment CourseLevel = "DualEnrollment"
)

// Coursework is a single course record owned by a Profile.
type Coursework struct {
	CourseworkID int64       `json:"coursework_id" db:"coursework_id"`
	ProfileID    int64       `json:"profile_id" db:"profile_id"`
	Name         string      `json:"name" db:"name"`
	Level        CourseLevel `json:"level" db:"level"`
	FinalGrade   string      `json:"final_grade" db:"final_grade"`
	ExamScore    int         `json:"exam_score" db:"exam_score"` // 0 when not taken
}

// RigorCount counts AP/IB/dual-enrollment courses, the signal used by both
// the fit classifier and the chancing formulas.
func (p *Profile) RigorCount() int {
	n := 0
	for _, c := range p.Coursework {
		switch c.Level {
		case CourseAP, CourseIB, CourseDualEnrollment:
			n++
		}
	}
	return n
}

// TierCounts returns activity counts indexed by tier (1..4).
func (p *Profile) TierCounts() map[int]int {
	counts := make(map[int]int, 4)
	for _, a := range p.Activities {
		if a.TierRating >= 1 && a.TierRating <= 4 {
			counts[a.TierRating]++
		}
	}
	return counts
}

// HasLeadership reports whether any activity carries a leadership flag.
func (p *Profile) HasLeadership() bool {
	for _, a := range p.Activities {
		if a.IsLeadership {
			return true
		}
	}
	return false
}

// ProfileSnapshot is an immutable copy of a profile at decision time. Every
// FitResult, ChanceResult, and ledger record references one so the decision
// stays reproducible after later profile edits.
type ProfileSnapshot struct {
	SnapshotID string    `json:"snapshot_id" db:"snapshot_id"` // uuid
	ProfileID  int64     `json:"profile_id" db:"profile_id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	Profile    Profile   `json:"profile"`
	TakenAt    time.Time `json:"taken_at" db:"taken_at"`
}
