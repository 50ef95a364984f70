package model

import (
	"time"
)

// TaskType classifies the atomic work items an application decomposes into.
type TaskType string

const (
	TaskEssay          TaskType = "essay"
	TaskTest           TaskType = "test"
	TaskTranscript     TaskType = "transcript"
	TaskRecommendation TaskType = "recommendation"
	TaskPortfolio      TaskType = "portfolio"
	TaskForm           TaskType = "form"
	TaskInterview      TaskType = "interview"
	TaskOther          TaskType = "other"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusNotStarted TaskStatus = "not_started"
	StatusInProgress TaskStatus = "in_progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusComplete   TaskStatus = "complete"
	StatusSkipped    TaskStatus = "skipped"
)

// ValidTaskStatus reports whether s is a recognized status value.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusBlocked, StatusComplete, StatusSkipped:
		return true
	}
	return false
}

// Done reports whether the status satisfies downstream dependencies.
func (s TaskStatus) Done() bool { return s == StatusComplete || s == StatusSkipped }

// DependencyType distinguishes hard blocks from advisory ordering.
type DependencyType string

const (
	DepBlocks              DependencyType = "blocks"
	DepSoftDepends         DependencyType = "soft_depends"
	DepShouldCompleteFirst DependencyType = "should_complete_first"
)

// Task is one atomic work item owned by a (user, college) application.
type Task struct {
	TaskID          int64      `json:"task_id" db:"task_id"`
	UserID          int64      `json:"user_id" db:"user_id"`
	CollegeID       int64      `json:"college_id" db:"college_id"`
	ApplicationID   int64      `json:"application_id" db:"application_id"`
	Title           string     `json:"title" db:"title"`
	Type            TaskType   `json:"type" db:"type"`
	Status          TaskStatus `json:"status" db:"status"`
	EstimatedHours  float64    `json:"estimated_hours" db:"estimated_hours"`
	Deadline        time.Time  `json:"deadline" db:"deadline"`
	Priority        int        `json:"priority" db:"priority"` // 1 highest .. 4
	CanonicalKind   string     `json:"canonical_kind" db:"canonical_kind"`
	IsReusable      bool       `json:"is_reusable" db:"is_reusable"`
	ReuseTemplateID int64      `json:"reuse_template_id,omitempty" db:"reuse_template_id"`
	ContentReady    bool       `json:"content_ready" db:"content_ready"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// TaskDependency is a directed edge task -> depends-on.
type TaskDependency struct {
	DependencyID int64          `json:"dependency_id" db:"dependency_id"`
	TaskID       int64          `json:"task_id" db:"task_id"`
	DependsOnID  int64          `json:"depends_on_id" db:"depends_on_id"`
	Type         DependencyType `json:"type" db:"type"`
	LeadDays     int            `json:"lead_days" db:"lead_days"` // should_complete_first advisory lead
}

// TaskStatusChange is one row of the task status history.
type TaskStatusChange struct {
	ChangeID  int64      `json:"change_id" db:"change_id"`
	TaskID    int64      `json:"task_id" db:"task_id"`
	OldStatus TaskStatus `json:"old_status" db:"old_status"`
	NewStatus TaskStatus `json:"new_status" db:"new_status"`
	Reason    string     `json:"reason" db:"reason"`
	ChangedAt time.Time  `json:"changed_at" db:"changed_at"`
}

// CriticalPath is the longest incomplete chain to the final-submit task.
type CriticalPath struct {
	TaskIDs        []int64  `json:"task_ids"`
	Titles         []string `json:"titles"`
	TotalHours     float64  `json:"total_hours"`
	AvailableHours float64  `json:"available_hours"`
	Exceeds        bool     `json:"exceeds"` // cumulative hours exceed calendar capacity
}
