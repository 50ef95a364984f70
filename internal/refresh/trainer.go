package refresh

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/persistence"
)

// Fitter trains one per-college model from the accumulated outcome samples.
// The trainer owns gating and deployment; fitting math lives behind this
// seam so the algorithm can change without touching the pipeline.
type Fitter interface {
	// Fit trains and validates a new version. Accuracy is holdout accuracy
	// in [0,1]; Validated reports whether validation completed.
	Fit(ctx context.Context, collegeID int64, sampleCount int) (*persistence.ModelVersion, error)
}

// Trainer gates retraining and atomically deploys validated versions, the
// training half of the refresh pipeline.
type Trainer struct {
	stores persistence.Stores
	fitter Fitter
	cfg    config.Config
	clk    clock.Clock
}

// NewTrainer wires the trainer.
func NewTrainer(stores persistence.Stores, fitter Fitter, cfg config.Config, clk clock.Clock) *Trainer {
	return &Trainer{stores: stores, fitter: fitter, cfg: cfg, clk: clk}
}

// RetrainOutcome reports what MaybeRetrain decided.
type RetrainOutcome string

const (
	RetrainSkipped  RetrainOutcome = "skipped"  // gates not met
	RetrainDeployed RetrainOutcome = "deployed" // new version live
	RetrainShelved  RetrainOutcome = "shelved"  // trained but failed the regression gate
)

// MaybeRetrain retrains a college's model when the sample gates pass. A new
// version deploys only when validated and not materially worse than the
// currently deployed one; otherwise it is saved undeployed for inspection.
func (t *Trainer) MaybeRetrain(ctx context.Context, collegeID int64) (RetrainOutcome, error) {
	samples, err := t.stores.Models.SampleCount(ctx, collegeID)
	if err != nil {
		return RetrainSkipped, fmt.Errorf("sample count for college %d: %w", collegeID, err)
	}
	if samples < t.cfg.Training.MinSamples {
		return RetrainSkipped, nil
	}
	latest, err := t.stores.Models.Latest(ctx, collegeID)
	if err != nil {
		return RetrainSkipped, fmt.Errorf("latest model for college %d: %w", collegeID, err)
	}
	if latest != nil && latest.SampleCount > 0 {
		growth := float64(samples-latest.SampleCount) / float64(latest.SampleCount)
		if growth < t.cfg.Training.GrowthThreshold {
			return RetrainSkipped, nil
		}
	}

	version, err := t.fitter.Fit(ctx, collegeID, samples)
	if err != nil {
		return RetrainSkipped, fmt.Errorf("fit model for college %d: %w", collegeID, err)
	}
	version.CollegeID = collegeID
	version.SampleCount = samples
	version.TrainedAt = t.clk.Now()

	versionID, err := t.stores.Models.SaveVersion(ctx, version)
	if err != nil {
		return RetrainSkipped, fmt.Errorf("save model version: %w", err)
	}

	if !version.Validated {
		log.Warn().Int64("college_id", collegeID).Int64("version_id", versionID).
			Msg("model failed validation, not deploying")
		return RetrainShelved, nil
	}
	deployed, err := t.stores.Models.Deployed(ctx, collegeID)
	if err != nil {
		return RetrainShelved, fmt.Errorf("deployed model for college %d: %w", collegeID, err)
	}
	if deployed != nil {
		tolerance := t.cfg.Training.RegressionTolerancePct / 100
		if version.Accuracy < deployed.Accuracy-tolerance {
			log.Warn().Int64("college_id", collegeID).
				Float64("new_accuracy", version.Accuracy).
				Float64("deployed_accuracy", deployed.Accuracy).
				Msg("new model regressed, keeping deployed version")
			return RetrainShelved, nil
		}
	}

	if err := t.stores.Models.Deploy(ctx, collegeID, versionID); err != nil {
		return RetrainShelved, fmt.Errorf("deploy model version %d: %w", versionID, err)
	}
	log.Info().Int64("college_id", collegeID).Int64("version_id", versionID).
		Int("samples", samples).Float64("accuracy", version.Accuracy).
		Msg("model deployed")
	return RetrainDeployed, nil
}

// RetrainAll walks colleges with active applications and retrains the
// eligible ones. Per-college failures do not stop the sweep.
func (t *Trainer) RetrainAll(ctx context.Context) (deployed int, err error) {
	colleges, err := t.stores.Colleges.ListWithActiveApplications(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list active colleges: %w", err)
	}
	for _, c := range colleges {
		if ctx.Err() != nil {
			break
		}
		outcome, err := t.MaybeRetrain(ctx, c.CollegeID)
		if err != nil {
			log.Warn().Err(err).Int64("college_id", c.CollegeID).Msg("retrain failed")
			continue
		}
		if outcome == RetrainDeployed {
			deployed++
		}
	}
	return deployed, nil
}
