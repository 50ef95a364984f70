package model

import (
	"time"
)

// RiskLevel is the per-deadline feasibility band.
type RiskLevel string

const (
	RiskSafe       RiskLevel = "safe"
	RiskTight      RiskLevel = "tight"
	RiskCritical   RiskLevel = "critical"
	RiskImpossible RiskLevel = "impossible"
)

// Severity orders risk levels for monotonicity checks; higher is worse.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskSafe:
		return 0
	case RiskTight:
		return 1
	case RiskCritical:
		return 2
	case RiskImpossible:
		return 3
	}
	return -1
}

// UserDeadlineType distinguishes where a user deadline came from.
type UserDeadlineType string

const (
	UserDeadlineOfficial UserDeadlineType = "official"
	UserDeadlineInternal UserDeadlineType = "internal"
	UserDeadlineBuffer   UserDeadlineType = "buffer"
	UserDeadlinePersonal UserDeadlineType = "personal"
)

// UserDeadline is a tracked deadline for a user, usually synced from the
// college's canonical deadlines.
type UserDeadline struct {
	DeadlineID    int64            `json:"deadline_id" db:"deadline_id"`
	UserID        int64            `json:"user_id" db:"user_id"`
	CollegeID     int64            `json:"college_id" db:"college_id"` // 0 for personal deadlines
	ApplicationID int64            `json:"application_id" db:"application_id"`
	Title         string           `json:"title" db:"title"`
	DeadlineDate  time.Time        `json:"deadline_date" db:"deadline_date"`
	Type          UserDeadlineType `json:"type" db:"type"`
	RiskLevel     RiskLevel        `json:"risk_level" db:"risk_level"`
	BufferHours   float64          `json:"buffer_hours" db:"buffer_hours"`
	Active        bool             `json:"active" db:"active"`
}

// RiskFactor is one named contributor to an assessment.
type RiskFactor struct {
	Name     string  `json:"name"`
	Severity string  `json:"severity"` // low, medium, high
	Detail   string  `json:"detail"`
	Impact   float64 `json:"impact"` // points added to overall risk score
}

// RiskAssessment is the derived risk state for a (user, college).
type RiskAssessment struct {
	UserID           int64        `json:"user_id" db:"user_id"`
	CollegeID        int64        `json:"college_id" db:"college_id"`
	TimeRiskLevel    RiskLevel    `json:"time_risk_level" db:"time_risk_level"`
	TimeBufferHours  float64      `json:"time_buffer_hours" db:"time_buffer_hours"`
	TasksTotal       int          `json:"tasks_total" db:"tasks_total"`
	TasksCompleted   int          `json:"tasks_completed" db:"tasks_completed"`
	TasksBlocked     int          `json:"tasks_blocked" db:"tasks_blocked"`
	OverallRiskScore float64      `json:"overall_risk_score" db:"overall_risk_score"` // 0-100
	RiskFactors      []RiskFactor `json:"risk_factors"`
	Mitigations      []string     `json:"mitigations"`
	NextCriticalDate time.Time    `json:"next_critical_date" db:"next_critical_date"`
	ComputedAt       time.Time    `json:"computed_at" db:"computed_at"`
}

// AlertLevel classifies deadline alerts.
type AlertLevel string

const (
	AlertReminder   AlertLevel = "reminder"
	AlertWarning    AlertLevel = "warning"
	AlertCritical   AlertLevel = "critical"
	AlertImpossible AlertLevel = "impossible"
)

// DeadlineAlert is emitted on risk-level transitions, deduped per
// (deadline, level) within 24 hours.
type DeadlineAlert struct {
	AlertID    string     `json:"alert_id" db:"alert_id"` // uuid
	UserID     int64      `json:"user_id" db:"user_id"`
	CollegeID  int64      `json:"college_id" db:"college_id"`
	DeadlineID int64      `json:"deadline_id" db:"deadline_id"`
	Level      AlertLevel `json:"level" db:"level"`
	Message    string     `json:"message" db:"message"`
	EmittedAt  time.Time  `json:"emitted_at" db:"emitted_at"`
}
