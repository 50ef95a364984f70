package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors forming the engine-wide taxonomy. Callers match with
// errors.Is; layers wrap with fmt.Errorf("...: %w", err).
var (
	// Input errors
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrProfileIncomplete  = errors.New("profile incomplete")
	ErrInvalidWeights     = errors.New("invalid weights")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrBatchLimitExceeded = errors.New("batch limit exceeded")

	// Not-found errors
	ErrProfileNotFound = errors.New("profile not found")
	ErrCollegeNotFound = errors.New("college not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrNotFound        = errors.New("not found")

	// State errors
	ErrDependencyCycle     = errors.New("dependency cycle")
	ErrAlreadyExists       = errors.New("already exists")
	ErrConflictingOverride = errors.New("conflicting override")

	// Capacity errors
	ErrRateLimited = errors.New("rate limited")
	ErrTimeout     = errors.New("timeout")

	// Integrity errors
	ErrCacheCorruption = errors.New("cache corruption")
)

// IncompleteError carries the precise list of missing profile fields so
// callers can surface ["gpa", "test_score"] style detail.
type IncompleteError struct {
	MissingFields []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("profile incomplete: missing %s", strings.Join(e.MissingFields, ", "))
}

func (e *IncompleteError) Unwrap() error { return ErrProfileIncomplete }

// NewIncompleteError builds an IncompleteError for the given fields.
func NewIncompleteError(fields ...string) error {
	return &IncompleteError{MissingFields: fields}
}

// CycleError reports the task ids participating in a rejected dependency cycle.
type CycleError struct {
	TaskIDs []int64
}

func (e *CycleError) Error() string {
	ids := make([]string, len(e.TaskIDs))
	for i, id := range e.TaskIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("dependency cycle through tasks [%s]", strings.Join(ids, ", "))
}

func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// BatchError is the per-item failure shape for batch operations. Batches
// never fail wholesale on a single bad item.
type BatchError struct {
	CollegeID int64  `json:"college_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message,omitempty"`
}

// ErrKind maps an error to its taxonomy label for wire responses and the ledger.
func ErrKind(err error) string {
	switch {
	case errors.Is(err, ErrProfileIncomplete):
		return "PROFILE_INCOMPLETE"
	case errors.Is(err, ErrInvalidWeights):
		return "INVALID_WEIGHTS"
	case errors.Is(err, ErrInvalidStatus):
		return "INVALID_STATUS"
	case errors.Is(err, ErrBatchLimitExceeded):
		return "BATCH_LIMIT_EXCEEDED"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrProfileNotFound):
		return "PROFILE_NOT_FOUND"
	case errors.Is(err, ErrCollegeNotFound):
		return "COLLEGE_NOT_FOUND"
	case errors.Is(err, ErrTaskNotFound):
		return "TASK_NOT_FOUND"
	case errors.Is(err, ErrDependencyCycle):
		return "DEPENDENCY_CYCLE"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrConflictingOverride):
		return "CONFLICTING_OVERRIDE"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrCacheCorruption):
		return "CACHE_CORRUPTION"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
