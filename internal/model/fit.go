package model

import (
	"fmt"
	"math"
	"time"
)

// FitCategory ranks overall suitability. Not a probability.
type FitCategory string

const (
	FitSafety      FitCategory = "safety"
	FitTarget      FitCategory = "target"
	FitReach       FitCategory = "reach"
	FitUnrealistic FitCategory = "unrealistic"
)

// ValidFitCategory reports whether c is a recognized category.
func ValidFitCategory(c FitCategory) bool {
	switch c {
	case FitSafety, FitTarget, FitReach, FitUnrealistic:
		return true
	}
	return false
}

// FitWeights are the four subscore weights. They must sum to 1.0 +- 0.01.
type FitWeights struct {
	Academic  float64 `json:"academic" yaml:"academic"`
	Profile   float64 `json:"profile" yaml:"profile"`
	Financial float64 `json:"financial" yaml:"financial"`
	Timeline  float64 `json:"timeline" yaml:"timeline"`
}

// DefaultFitWeights are the shipped weights; user overrides replace them.
func DefaultFitWeights() FitWeights {
	return FitWeights{Academic: 0.40, Profile: 0.30, Financial: 0.15, Timeline: 0.15}
}

// Validate rejects weight tuples whose sum differs from 1.0 by more than 0.01
// or that carry a negative component.
func (w FitWeights) Validate() error {
	sum := w.Academic + w.Profile + w.Financial + w.Timeline
	// The epsilon keeps a sum sitting exactly on the 0.01 boundary valid
	// despite float addition error.
	if math.Abs(sum-1.0) > 0.01+1e-9 {
		return fmt.Errorf("%w: weights sum to %.3f, want 1.0 +- 0.01", ErrInvalidWeights, sum)
	}
	for name, v := range map[string]float64{
		"academic": w.Academic, "profile": w.Profile,
		"financial": w.Financial, "timeline": w.Timeline,
	} {
		if v < 0 {
			return fmt.Errorf("%w: negative weight %s = %.3f", ErrInvalidWeights, name, v)
		}
	}
	return nil
}

// FitSubscores are the four component scores, each in [0,100].
type FitSubscores struct {
	Academic  float64 `json:"academic"`
	Profile   float64 `json:"profile"`
	Financial float64 `json:"financial"`
	Timeline  float64 `json:"timeline"`
}

// FitResult is the cached classification for a (snapshot, college) pair.
type FitResult struct {
	SnapshotID       string       `json:"snapshot_id" db:"snapshot_id"`
	CollegeID        int64        `json:"college_id" db:"college_id"`
	UserID           int64        `json:"user_id" db:"user_id"`
	OverallScore     float64      `json:"overall_score" db:"overall_score"` // 0-100
	Category         FitCategory  `json:"category" db:"category"`
	Subscores        FitSubscores `json:"subscores"`
	Weights          FitWeights   `json:"weights"`
	Confidence       float64      `json:"confidence" db:"confidence"` // 0-1
	Warnings         []string     `json:"warnings,omitempty"`
	IsManualOverride bool         `json:"is_manual_override" db:"is_manual_override"`
	ComputedCategory FitCategory  `json:"computed_category,omitempty"` // pre-override value, kept for the ledger diff
	ComputedAt       time.Time    `json:"computed_at" db:"computed_at"`
	ExpiresAt        time.Time    `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the cached result is past its TTL.
func (f *FitResult) Expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && now.After(f.ExpiresAt)
}
