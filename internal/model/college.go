package model

import (
	"strings"
	"time"
)

// CDSImportance is a Common Data Set factor weight as colleges report it.
type CDSImportance string

const (
	CDSVeryImportant CDSImportance = "very_important"
	CDSImportant     CDSImportance = "important"
	CDSConsidered    CDSImportance = "considered"
	CDSNotConsidered CDSImportance = "not_considered"
)

// AtLeastConsidered reports whether the factor carries any admission weight.
func (i CDSImportance) AtLeastConsidered() bool {
	return i == CDSConsidered || i == CDSImportant || i == CDSVeryImportant
}

// Well-known CDS factor names.
const (
	CDSFactorRigor           = "rigor"
	CDSFactorGPA             = "gpa"
	CDSFactorTestScores      = "test_scores"
	CDSFactorEssay           = "essay"
	CDSFactorRecommendation  = "recommendation"
	CDSFactorExtracurricular = "extracurricular"
	CDSFactorFirstGen        = "first_generation"
	CDSFactorLegacy          = "alumni_relation"
	CDSFactorResidence       = "state_residency"
)

// TestScorePercentiles are the admitted-class score bands from the CDS.
type TestScorePercentiles struct {
	SAT25 int `json:"sat_25" db:"sat_25"`
	SAT50 int `json:"sat_50" db:"sat_50"`
	SAT75 int `json:"sat_75" db:"sat_75"`
	ACT25 int `json:"act_25" db:"act_25"`
	ACT75 int `json:"act_75" db:"act_75"`
}

// GPAPercentiles are the admitted-class GPA bands.
type GPAPercentiles struct {
	GPA25 float64 `json:"gpa_25" db:"gpa_25"`
	GPA50 float64 `json:"gpa_50" db:"gpa_50"`
	GPA75 float64 `json:"gpa_75" db:"gpa_75"`
}

// TestPolicy is the college's standardized-testing stance.
type TestPolicy string

const (
	TestRequired TestPolicy = "required"
	TestOptional TestPolicy = "optional"
	TestBlind    TestPolicy = "test-blind"
	TestFlexible TestPolicy = "flexible"
)

// InterviewInfo describes the college's interview offering.
type InterviewInfo struct {
	Offered  bool   `json:"offered"`
	Required bool   `json:"required"`
	Type     string `json:"type"` // alumni, admissions, third-party
}

// RequirementProfile enumerates what a complete application to the college
// needs. It drives task decomposition.
type RequirementProfile struct {
	CollegeID                       int64         `json:"college_id" db:"college_id"`
	Platform                        string        `json:"platform" db:"platform"` // common_app, coalition, direct, ucas
	TestPolicy                      TestPolicy    `json:"test_policy" db:"test_policy"`
	CommonAppEssayRequired          bool          `json:"common_app_essay_required" db:"common_app_essay_required"`
	SupplementalEssaysCount         int           `json:"supplemental_essays_count" db:"supplemental_essays_count"`
	TeacherRecommendationsRequired  int           `json:"teacher_recommendations_required" db:"teacher_recommendations_required"`
	CounselorRecommendationRequired bool          `json:"counselor_recommendation_required" db:"counselor_recommendation_required"`
	PeerRecommendationRequired      bool          `json:"peer_recommendation_required" db:"peer_recommendation_required"`
	Interview                       InterviewInfo `json:"interview"`
	PortfolioRequired               bool          `json:"portfolio_required" db:"portfolio_required"`
	AuditionRequired                bool          `json:"audition_required" db:"audition_required"`
	TOEFLMin                        int           `json:"toefl_min" db:"toefl_min"`
	IELTSMin                        float64       `json:"ielts_min" db:"ielts_min"`
}

// DeadlineType distinguishes the admission rounds a college offers.
type DeadlineType string

const (
	DeadlineEarly1        DeadlineType = "early1"
	DeadlineEarly2        DeadlineType = "early2"
	DeadlineEarlyAction   DeadlineType = "early_action"
	DeadlineRestrictiveEA DeadlineType = "restrictive_ea"
	DeadlineRegular       DeadlineType = "regular"
	DeadlineRolling       DeadlineType = "rolling"
)

// CollegeDeadlines maps round to date; zero time means the round is not offered.
type CollegeDeadlines map[DeadlineType]time.Time

// Earliest returns the nearest future deadline relative to now, or the zero
// time when none remain.
func (d CollegeDeadlines) Earliest(now time.Time) (DeadlineType, time.Time) {
	var bestType DeadlineType
	var best time.Time
	for typ, ts := range d {
		if ts.IsZero() || ts.Before(now) {
			continue
		}
		if best.IsZero() || ts.Before(best) {
			best = ts
			bestType = typ
		}
	}
	return bestType, best
}

// JEECutoffs holds opening/closing ranks per reservation category for Indian
// entrance-exam admissions.
type JEECutoffs struct {
	GeneralOpening int `json:"general_opening"`
	GeneralClosing int `json:"general_closing"`
	OBCOpening     int `json:"obc_opening"`
	OBCClosing     int `json:"obc_closing"`
	SCOpening      int `json:"sc_opening"`
	SCClosing      int `json:"sc_closing"`
	STOpening      int `json:"st_opening"`
	STClosing      int `json:"st_closing"`
}

// Bracket resolves the cutoff window for a reservation category. A category
// without published ranks falls back to the general bracket; the returned
// label names the bracket actually used.
func (j *JEECutoffs) Bracket(category string) (opening, closing int, label string) {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "obc":
		opening, closing, label = j.OBCOpening, j.OBCClosing, "obc"
	case "sc":
		opening, closing, label = j.SCOpening, j.SCClosing, "sc"
	case "st":
		opening, closing, label = j.STOpening, j.STClosing, "st"
	}
	if closing <= 0 {
		return j.GeneralOpening, j.GeneralClosing, "general"
	}
	return opening, closing, label
}

// College is the reconciled view over the source's overlapping college
// schemas: one logical entity with the union of fields.
type College struct {
	CollegeID        int64                    `json:"college_id" db:"college_id"`
	Name             string                   `json:"name" db:"name"`
	Country          string                   `json:"country" db:"country"`
	State            string                   `json:"state" db:"state"`
	IsPublic         bool                     `json:"is_public" db:"is_public"`
	AcceptanceRate   float64                  `json:"acceptance_rate" db:"acceptance_rate"` // 0-1
	TestPercentiles  TestScorePercentiles     `json:"test_percentiles"`
	GPAPercentiles   GPAPercentiles           `json:"gpa_percentiles"`
	CostOfAttendance float64                  `json:"cost_of_attendance" db:"cost_of_attendance"`
	MeetsFullNeed    bool                     `json:"meets_full_need" db:"meets_full_need"`
	NeedBlind        bool                     `json:"need_blind" db:"need_blind"`
	Majors           []string                 `json:"majors"`
	Ranking          int                      `json:"ranking" db:"ranking"`
	CDSFactors       map[string]CDSImportance `json:"cds_factors"`
	Deadlines        CollegeDeadlines         `json:"deadlines"`
	Requirements     RequirementProfile       `json:"requirements"`
	JEECutoffs       *JEECutoffs              `json:"jee_cutoffs,omitempty"`
	TypicalOffer     string                   `json:"typical_offer" db:"typical_offer"` // UK, e.g. "AAA"
	NCCutoff         float64                  `json:"nc_cutoff" db:"nc_cutoff"`         // Germany numerus clausus
	DeadlinesURL     string                   `json:"deadlines_url" db:"deadlines_url"`
	LastScraped      time.Time                `json:"last_scraped" db:"last_scraped"`
	ScrapeFailures   int                      `json:"scrape_failures" db:"scrape_failures"`
}

// CDSImportanceOf returns the reported importance of a factor, defaulting to
// not_considered when the college's CDS omits it.
func (c *College) CDSImportanceOf(factor string) CDSImportance {
	if imp, ok := c.CDSFactors[factor]; ok {
		return imp
	}
	return CDSNotConsidered
}
