// Package scoring implements the fit classifier: a weighted multi-signal
// composite over a profile snapshot and a college record. The output ranks
// and categorizes colleges consistently; it is not a probability.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/admitpath/admitpath/internal/ledger"
	"github.com/admitpath/admitpath/internal/model"
)

const neutralSubscore = 50 // fallback when an optional signal is missing

// subscoreResult carries one subscore with its ledger contributions.
type subscoreResult struct {
	score   float64
	factors []ledger.Contribution
	missing bool
}

// clamp01 clamps v into [0,1].
func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// clamp100 clamps v into [0,100].
func clamp100(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// pointsAgainstBand maps a student metric against a college's (p25, median)
// band. 70 at the median rising to 100 one band-width above it, partial
// credit down to the 25th percentile, zero below the floor
// median - 1.5*(median - p25). The curve is continuous across the band edges.
func pointsAgainstBand(student, p25, median float64) float64 {
	if median <= 0 {
		return neutralSubscore
	}
	if p25 <= 0 || p25 >= median {
		p25 = median * 0.95
	}
	floor := median - 1.5*(median-p25)
	switch {
	case student >= median:
		over := (student - median) / math.Max(median-p25, 1e-9)
		return clamp100(70 + 30*math.Min(over, 1))
	case student >= p25:
		// Partial credit between p25 (40) and median (70).
		frac := (student - p25) / (median - p25)
		return 40 + 30*frac
	case student > floor:
		// Decay from 40 at p25 to 0 at the floor.
		frac := (student - floor) / (p25 - floor)
		return 40 * frac
	default:
		return 0
	}
}

// academicSubscore maps (gpa, testScore) against the college's medians.
func academicSubscore(p *model.Profile, c *model.College) subscoreResult {
	var parts []float64
	var factors []ledger.Contribution

	if p.Academic.HasGPA() {
		gpaScore := pointsAgainstBand(p.Academic.GPAUnweighted, c.GPAPercentiles.GPA25, c.GPAPercentiles.GPA50)
		parts = append(parts, gpaScore)
		factors = append(factors, ledger.Contribution{
			Name: "gpa", Value: gpaScore,
			Evidence: fmt.Sprintf("gpa %.2f vs median %.2f", p.Academic.GPAUnweighted, c.GPAPercentiles.GPA50),
		})
	} else {
		factors = append(factors, ledger.Contribution{Name: "gpa", Value: 0, Evidence: "missing"})
	}

	switch {
	case p.Academic.HasSAT():
		satScore := pointsAgainstBand(float64(p.Academic.SATTotal), float64(c.TestPercentiles.SAT25), float64(c.TestPercentiles.SAT50))
		parts = append(parts, satScore)
		factors = append(factors, ledger.Contribution{
			Name: "sat", Value: satScore,
			Evidence: fmt.Sprintf("sat %d vs median %d", p.Academic.SATTotal, c.TestPercentiles.SAT50),
		})
	case p.Academic.HasACT():
		actMedian := float64(c.TestPercentiles.ACT25+c.TestPercentiles.ACT75) / 2
		actScore := pointsAgainstBand(float64(p.Academic.ACTComposite), float64(c.TestPercentiles.ACT25), actMedian)
		parts = append(parts, actScore)
		factors = append(factors, ledger.Contribution{
			Name: "act", Value: actScore,
			Evidence: fmt.Sprintf("act %d vs median %.0f", p.Academic.ACTComposite, actMedian),
		})
	default:
		factors = append(factors, ledger.Contribution{Name: "test_score", Value: 0, Evidence: "missing"})
	}

	if len(parts) == 0 {
		return subscoreResult{score: neutralSubscore, factors: factors, missing: true}
	}
	sum := 0.0
	for _, v := range parts {
		sum += v
	}
	return subscoreResult{score: clamp100(sum / float64(len(parts))), factors: factors}
}

// Activity tier points by national/regional reach.
var tierPoints = map[int]float64{1: 15, 2: 8, 3: 3, 4: 1}

const rigorCapCourses = 8 // AP/IB counted up to this many

// activityHalfPoint is the tier-point total at which the activity component
// reaches half credit; the saturating curve 100*pts/(pts+half) means one
// strong activity already scores well and more show diminishing returns.
const activityHalfPoint = 5.0

// profileSubscore is the extracurricular + rigor composite, scaled by the
// college's CDS factor importance.
func profileSubscore(p *model.Profile, c *model.College) subscoreResult {
	var factors []ledger.Contribution

	tierPts := 0.0
	for tier, count := range p.TierCounts() {
		tierPts += tierPoints[tier] * float64(count)
	}
	if c.CDSImportanceOf(model.CDSFactorExtracurricular) == model.CDSVeryImportant {
		tierPts *= 1.2
	}
	activityPts := 0.0
	if tierPts > 0 {
		activityPts = 100 * tierPts / (tierPts + activityHalfPoint)
	}
	factors = append(factors, ledger.Contribution{
		Name: "activities", Value: activityPts,
		Evidence: fmt.Sprintf("%d activities", len(p.Activities)),
	})

	rigor := math.Min(float64(p.RigorCount()), rigorCapCourses)
	rigorPts := rigor / rigorCapCourses * 40
	if c.CDSImportanceOf(model.CDSFactorRigor) == model.CDSVeryImportant {
		rigorPts = math.Min(rigorPts*1.2, 100)
	}
	factors = append(factors, ledger.Contribution{
		Name: "course_rigor", Value: rigorPts,
		Evidence: fmt.Sprintf("%d advanced courses", p.RigorCount()),
	})

	leadershipPts := 0.0
	if p.HasLeadership() {
		leadershipPts = 10
	}
	factors = append(factors, ledger.Contribution{Name: "leadership", Value: leadershipPts, Evidence: "leadership flags"})

	missing := len(p.Activities) == 0 && len(p.Coursework) == 0
	score := clamp100(activityPts + rigorPts + leadershipPts)
	if missing {
		score = neutralSubscore
	}
	return subscoreResult{score: score, factors: factors, missing: missing}
}

// financialSubscore is budget fit; need-blind or meets-full-need colleges
// raise the floor by 15. A college without cost data makes the signal
// inapplicable rather than missing: only a student-side omission lowers
// confidence.
func financialSubscore(p *model.Profile, c *model.College) subscoreResult {
	budget := p.Preferences.BudgetMax
	if c.CostOfAttendance <= 0 {
		return subscoreResult{
			score:   neutralSubscore,
			factors: []ledger.Contribution{{Name: "budget_fit", Value: neutralSubscore, Evidence: "no cost data"}},
		}
	}
	if budget <= 0 {
		return subscoreResult{
			score:   neutralSubscore,
			factors: []ledger.Contribution{{Name: "budget_fit", Value: neutralSubscore, Evidence: "missing"}},
			missing: true,
		}
	}
	fit := 1 - clamp01((c.CostOfAttendance-budget)/budget)
	score := fit * 100
	evidence := fmt.Sprintf("cost %.0f vs budget %.0f", c.CostOfAttendance, budget)
	if c.MeetsFullNeed || c.NeedBlind {
		score = math.Max(score, 15)
		score = clamp100(score + 15)
		evidence += ", meets full need"
	}
	return subscoreResult{
		score:   score,
		factors: []ledger.Contribution{{Name: "budget_fit", Value: score, Evidence: evidence}},
	}
}

// timelineSubscore compares the buffer to the required hours: 100 at >= 50%
// slack, decaying linearly to 0 at no slack. Both inputs come from college
// and task data, so an absent deadline makes the signal inapplicable rather
// than missing; it never counts against confidence.
func timelineSubscore(now, deadline time.Time, neededHours, productiveHoursPerDay float64) subscoreResult {
	if deadline.IsZero() {
		return subscoreResult{
			score:   neutralSubscore,
			factors: []ledger.Contribution{{Name: "timeline", Value: neutralSubscore, Evidence: "no deadline"}},
		}
	}
	availableHours := deadline.Sub(now).Hours() / 24 * productiveHoursPerDay
	if neededHours <= 0 {
		return subscoreResult{
			score:   100,
			factors: []ledger.Contribution{{Name: "timeline", Value: 100, Evidence: "no work remaining"}},
		}
	}
	buffer := availableHours - neededHours
	ratio := buffer / neededHours
	var score float64
	switch {
	case ratio >= 0.5:
		score = 100
	case ratio <= 0:
		score = 0
	default:
		score = ratio / 0.5 * 100
	}
	return subscoreResult{
		score: score,
		factors: []ledger.Contribution{{
			Name: "timeline", Value: score,
			Evidence: fmt.Sprintf("%.0fh available for %.0fh of work", availableHours, neededHours),
		}},
	}
}

// categorize applies the category thresholds to the overall score and the
// college's acceptance rate. Ties resolve toward the more conservative
// label: the higher label requires both conditions.
func categorize(overall, acceptanceRate float64) model.FitCategory {
	switch {
	case overall >= 80 && acceptanceRate >= 0.40:
		return model.FitSafety
	case overall >= 60 && acceptanceRate >= 0.20:
		return model.FitTarget
	case overall >= 40:
		return model.FitReach
	default:
		return model.FitUnrealistic
	}
}
