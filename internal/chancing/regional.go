package chancing

import (
	"fmt"
	"math"
	"strings"

	"github.com/admitpath/admitpath/internal/model"
)

// indiaFormula chances a JEE profile against the cutoff bracket for the
// student's reservation category, falling back to the general bracket when
// the category has no published ranks. Rank position inside the
// (opening, closing) window drives both the percent and the band: well
// inside the window is a Safety, the tail half is a Target, beyond the
// closing rank is a Reach.
func (ca *Calculator) indiaFormula(p *model.Profile, c *model.College) *model.ChanceResult {
	rank := p.Regional.JEEAdvancedRank
	factors := []model.ChanceFactor{{
		Name: "jee_rank", Evidence: fmt.Sprintf("advanced rank %d", rank),
	}}

	var opening, closing int
	bracket := "general"
	if c.JEECutoffs != nil {
		opening, closing, bracket = c.JEECutoffs.Bracket(p.Regional.ReservationCategory)
	}
	if closing <= 0 {
		// No cutoff data; fall back to the holistic formula but keep the
		// region tag.
		result := ca.defaultFormula(p, c)
		result.Factors = append(result.Factors, model.ChanceFactor{
			Name: "jee_cutoffs", Evidence: "missing",
		})
		return result
	}
	if opening <= 0 || opening >= closing {
		opening = 1
	}

	var pct float64
	var category model.ChanceCategory
	switch {
	case rank <= 0:
		pct, category = 5, model.ChanceReach
		factors = append(factors, model.ChanceFactor{Name: "cutoff", Evidence: "no rank reported"})
	case rank <= closing:
		// Inside the admission window: 60 at the closing rank rising to 95
		// at the opening rank.
		frac := 1 - float64(rank)/float64(closing)
		pct = 60 + 35*frac
		if rank <= closing/2 {
			category = model.ChanceSafety
		} else {
			category = model.ChanceTarget
		}
		factors = append(factors, model.ChanceFactor{
			Name: "cutoff", Contribution: pct,
			Evidence: fmt.Sprintf("rank %d within %s closing %d", rank, bracket, closing),
		})
	default:
		// Beyond the closing rank: decay toward the floor.
		over := float64(rank-closing) / float64(closing)
		pct = math.Max(25-over*25, 1)
		category = model.ChanceReach
		factors = append(factors, model.ChanceFactor{
			Name: "cutoff", Contribution: pct,
			Evidence: fmt.Sprintf("rank %d beyond %s closing %d", rank, bracket, closing),
		})
	}

	return &model.ChanceResult{ChancePercent: pct, Category: category, Factors: factors}
}

// A-level grade points; UCAS-style ordering, one point per grade step.
var aLevelPoints = map[byte]int{'E': 1, 'D': 2, 'C': 3, 'B': 4, 'A': 5}

// gradeStringPoints sums a grade string like "A*AB". The asterisk upgrades
// the preceding A.
func gradeStringPoints(grades string) int {
	pts := 0
	s := strings.ToUpper(strings.TrimSpace(grades))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '*' {
			pts++ // A* = A + 1
			continue
		}
		pts += aLevelPoints[ch]
	}
	return pts
}

// ibToOfferPoints maps an IB predicted total (out of 45) onto the A-level
// point scale of a three-grade offer.
func ibToOfferPoints(ib int) int {
	switch {
	case ib >= 42:
		return 16 // A*A*A equivalent
	case ib >= 40:
		return 15 // AAA
	case ib >= 38:
		return 14
	case ib >= 36:
		return 13
	case ib >= 34:
		return 12
	case ib >= 32:
		return 11
	default:
		return 10
	}
}

// ukFormula compares predicted grades against the college's typical offer.
func (ca *Calculator) ukFormula(p *model.Profile, c *model.College) *model.ChanceResult {
	var studentPts int
	var evidence string
	if p.Regional.PredictedALevels != "" {
		studentPts = gradeStringPoints(p.Regional.PredictedALevels)
		evidence = fmt.Sprintf("predicted %s", p.Regional.PredictedALevels)
	} else {
		studentPts = ibToOfferPoints(p.Regional.IBPredicted)
		evidence = fmt.Sprintf("IB predicted %d", p.Regional.IBPredicted)
	}
	factors := []model.ChanceFactor{{Name: "predicted_grades", Evidence: evidence}}

	offer := c.TypicalOffer
	if offer == "" {
		result := ca.defaultFormula(p, c)
		result.Factors = append(result.Factors, model.ChanceFactor{Name: "typical_offer", Evidence: "missing"})
		return result
	}
	offerPts := gradeStringPoints(offer)

	// One grade step swings the estimate by 12 points around a meets-offer
	// baseline of 55.
	diff := studentPts - offerPts
	pct := 55 + float64(diff)*12
	factors = append(factors, model.ChanceFactor{
		Name: "offer_gap", Contribution: float64(diff) * 12,
		Evidence: fmt.Sprintf("predicted %d pts vs offer %s (%d pts)", studentPts, offer, offerPts),
	})

	pct = ca.clamp(pct)
	return &model.ChanceResult{
		ChancePercent: pct,
		Category:      model.CategorizeChance(pct),
		Factors:       factors,
	}
}

// germanyFormula compares the Abitur grade (1.0 best) against the course's
// numerus clausus cutoff.
func (ca *Calculator) germanyFormula(p *model.Profile, c *model.College) *model.ChanceResult {
	grade := p.Regional.AbiturGrade
	factors := []model.ChanceFactor{{
		Name: "abitur", Evidence: fmt.Sprintf("abitur %.1f", grade),
	}}

	if c.NCCutoff <= 0 {
		// Open admission.
		factors = append(factors, model.ChanceFactor{
			Name: "nc_cutoff", Contribution: 90, Evidence: "no numerus clausus",
		})
		return &model.ChanceResult{ChancePercent: 90, Category: model.ChanceSafety, Factors: factors}
	}

	// Lower is better for Abitur: each 0.1 below the cutoff adds 4 points
	// over a meets-cutoff baseline of 55.
	diff := c.NCCutoff - grade
	pct := 55 + diff*40
	factors = append(factors, model.ChanceFactor{
		Name: "nc_cutoff", Contribution: diff * 40,
		Evidence: fmt.Sprintf("abitur %.1f vs NC %.1f", grade, c.NCCutoff),
	})

	pct = ca.clamp(pct)
	return &model.ChanceResult{
		ChancePercent: pct,
		Category:      model.CategorizeChance(pct),
		Factors:       factors,
	}
}
