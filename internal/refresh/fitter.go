package refresh

import (
	"context"
	"fmt"
	"math"

	"github.com/admitpath/admitpath/internal/persistence"
)

// holdoutStride holds out every nth sample for validation.
const holdoutStride = 5

// minHoldout is the smallest holdout that counts as a validation run.
const minHoldout = 5

// fitterNudgeMax bounds the calibration adjustment, matching the calculator's
// overlay cap.
const fitterNudgeMax = 5.0

// CalibrationFitter trains a per-college calibration model: the signed gap
// between the realized admit rate and the mean rule-based estimate over the
// training samples becomes the nudge, and the held-out samples score it.
type CalibrationFitter struct {
	registry persistence.ModelRegistry
}

// NewCalibrationFitter wires the fitter to the model registry.
func NewCalibrationFitter(registry persistence.ModelRegistry) *CalibrationFitter {
	return &CalibrationFitter{registry: registry}
}

// Fit implements Fitter.
func (f *CalibrationFitter) Fit(ctx context.Context, collegeID int64, _ int) (*persistence.ModelVersion, error) {
	samples, err := f.registry.ListOutcomes(ctx, collegeID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes for college %d: %w", collegeID, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no outcome samples for college %d", collegeID)
	}

	var train, holdout []persistence.OutcomeSample
	for i, s := range samples {
		if (i+1)%holdoutStride == 0 {
			holdout = append(holdout, s)
		} else {
			train = append(train, s)
		}
	}

	admitted := 0
	sumPredicted := 0.0
	for _, s := range train {
		if s.Admitted {
			admitted++
		}
		sumPredicted += s.PredictedChance
	}
	admitRate := float64(admitted) / float64(len(train)) * 100
	meanPredicted := sumPredicted / float64(len(train))
	nudge := math.Max(-fitterNudgeMax, math.Min(fitterNudgeMax, admitRate-meanPredicted))

	version := &persistence.ModelVersion{
		CollegeID: collegeID,
		Nudge:     nudge,
	}
	if len(holdout) < minHoldout {
		return version, nil
	}

	correct := 0
	for _, s := range holdout {
		predictedAdmit := s.PredictedChance+nudge >= 50
		if predictedAdmit == s.Admitted {
			correct++
		}
	}
	version.Accuracy = float64(correct) / float64(len(holdout))
	version.Validated = true
	return version, nil
}
