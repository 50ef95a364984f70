// Package tasks implements application task decomposition: a college's
// requirement profile expands into atomic tasks wired with dependency edges,
// and status transitions propagate through the dependency DAG.
package tasks

import (
	"fmt"

	"github.com/admitpath/admitpath/internal/model"
)

// Canonical task kinds. Kinds are stable identifiers: reuse linking and
// dependency wiring match on them, titles are display only.
const (
	KindMainForm           = "main_form"
	KindMainEssay          = "main_essay"
	KindSupplementalEssay  = "supplemental_essay" // suffixed _1.._n
	KindTeacherRec         = "teacher_rec"        // suffixed _1.._n
	KindCounselorRec       = "counselor_rec"
	KindPeerRec            = "peer_rec"
	KindTestScores         = "test_scores"
	KindEnglishProficiency = "english_proficiency"
	KindInterview          = "interview"
	KindPortfolio          = "portfolio"
	KindFinalSubmit        = "final_submit"
)

// reuseAdaptHours is the cost of adapting an already-written reusable essay.
const reuseAdaptHours = 2

// template is one pre-materialized task.
type template struct {
	kind     string
	title    string
	taskType model.TaskType
	hours    float64
	priority int
	reusable bool
}

// recLeadDays is the advisory lead time recommenders need before submission.
const recLeadDays = 14

// decompose expands a college's requirement profile into the canonical task
// templates, in a stable order: the final submit template is always last.
func decompose(c *model.College) []template {
	req := c.Requirements
	var out []template

	platformTitle := "application form"
	switch req.Platform {
	case "common_app":
		platformTitle = "Common App form"
	case "coalition":
		platformTitle = "Coalition form"
	case "ucas":
		platformTitle = "UCAS form"
	}
	out = append(out, template{
		kind: KindMainForm, title: "Complete " + platformTitle,
		taskType: model.TaskForm, hours: 3, priority: 3,
	})

	if req.CommonAppEssayRequired {
		out = append(out, template{
			kind: KindMainEssay, title: "Write main personal essay",
			taskType: model.TaskEssay, hours: 15, priority: 1, reusable: true,
		})
	}
	for i := 1; i <= req.SupplementalEssaysCount; i++ {
		out = append(out, template{
			kind:     fmt.Sprintf("%s_%d", KindSupplementalEssay, i),
			title:    fmt.Sprintf("Write supplemental essay %d for %s", i, c.Name),
			taskType: model.TaskEssay, hours: 5, priority: 1,
		})
	}

	// Recommendations and score reports are reusable: the same letter or
	// report serves every application once obtained.
	for i := 1; i <= req.TeacherRecommendationsRequired; i++ {
		out = append(out, template{
			kind:     fmt.Sprintf("%s_%d", KindTeacherRec, i),
			title:    fmt.Sprintf("Request teacher recommendation %d", i),
			taskType: model.TaskRecommendation, hours: 1, priority: 2, reusable: true,
		})
	}
	if req.CounselorRecommendationRequired {
		out = append(out, template{
			kind: KindCounselorRec, title: "Request counselor recommendation",
			taskType: model.TaskRecommendation, hours: 1, priority: 2, reusable: true,
		})
	}
	if req.PeerRecommendationRequired {
		out = append(out, template{
			kind: KindPeerRec, title: "Request peer recommendation",
			taskType: model.TaskRecommendation, hours: 1, priority: 2,
		})
	}

	// Everything short of test-blind gets a score-report task; an empty
	// policy reads as test-optional.
	if req.TestPolicy != model.TestBlind {
		out = append(out, template{
			kind: KindTestScores, title: "Send official test scores",
			taskType: model.TaskTest, hours: 1, priority: 3, reusable: true,
		})
	}
	if req.TOEFLMin > 0 || req.IELTSMin > 0 {
		out = append(out, template{
			kind: KindEnglishProficiency, title: "Send English proficiency scores",
			taskType: model.TaskTest, hours: 1, priority: 3, reusable: true,
		})
	}

	if req.Interview.Offered {
		title := "Schedule optional interview"
		if req.Interview.Required {
			title = "Schedule required interview"
		}
		out = append(out, template{
			kind: KindInterview, title: title,
			taskType: model.TaskInterview, hours: 2, priority: 3,
		})
	}
	if req.PortfolioRequired || req.AuditionRequired {
		out = append(out, template{
			kind: KindPortfolio, title: "Prepare portfolio/audition materials",
			taskType: model.TaskPortfolio, hours: 20, priority: 1,
		})
	}

	out = append(out, template{
		kind: KindFinalSubmit, title: "Review and submit application to " + c.Name,
		taskType: model.TaskForm, hours: 1, priority: 1,
	})
	return out
}

// EstimateHours sums the template hours for a college, the fallback estimate
// used before any tasks exist.
func EstimateHours(c *model.College) float64 {
	total := 0.0
	for _, t := range decompose(c) {
		total += t.hours
	}
	return total
}

// templateDeps wires the canonical dependency edges over a decomposed task
// list using the negative-index convention (-(i+1) refers to tasks[i]).
// Final submit blocks on everything, supplemental essays soft-depend on the
// main essay, and recommendations carry an advisory lead before submission.
func templateDeps(templates []template) []model.TaskDependency {
	var deps []model.TaskDependency
	submitIdx, mainEssayIdx := -1, -1
	for i, t := range templates {
		switch t.kind {
		case KindFinalSubmit:
			submitIdx = i
		case KindMainEssay:
			mainEssayIdx = i
		}
	}
	for i, t := range templates {
		if submitIdx >= 0 && i != submitIdx {
			deps = append(deps, model.TaskDependency{
				TaskID:      int64(-(submitIdx + 1)),
				DependsOnID: int64(-(i + 1)),
				Type:        model.DepBlocks,
			})
		}
		if mainEssayIdx >= 0 && t.taskType == model.TaskEssay && i != mainEssayIdx {
			deps = append(deps, model.TaskDependency{
				TaskID:      int64(-(i + 1)),
				DependsOnID: int64(-(mainEssayIdx + 1)),
				Type:        model.DepSoftDepends,
			})
		}
		if submitIdx >= 0 && t.taskType == model.TaskRecommendation {
			deps = append(deps, model.TaskDependency{
				TaskID:      int64(-(submitIdx + 1)),
				DependsOnID: int64(-(i + 1)),
				Type:        model.DepShouldCompleteFirst,
				LeadDays:    recLeadDays,
			})
		}
	}
	return deps
}
