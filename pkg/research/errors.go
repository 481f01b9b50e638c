package research

import (
	"context"
	"errors"
	"fmt"
)

// Stage names one pipeline step.
type Stage string

const (
	StageQuestions   Stage = "questions"
	StageReportPlan  Stage = "report-plan"
	StageSERPQuery   Stage = "serp-query"
	StageSearchTask  Stage = "search-task"
	StageReview      Stage = "review"
	StageFinalReport Stage = "final-report"
	StageKnowledge   Stage = "knowledge"
)

var (
	// ErrStaleTaskList rejects a task-list write based on an old version.
	ErrStaleTaskList = errors.New("task list changed since it was read")
	// ErrTaskNotFound is returned for an unknown task query.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition rejects a backwards task state change.
	ErrInvalidTransition = errors.New("invalid task state transition")
	// ErrResourceNotFound is returned for an unknown resource id.
	ErrResourceNotFound = errors.New("resource not found")

	errInvalidSearchResults = errors.New("invalid search results")
)

// StreamError is a provider failure caught at a stage boundary.
type StreamError struct {
	Stage Stage
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// IsAbort reports whether err comes from a user cancellation.
func IsAbort(err error) bool {
	return errors.Is(err, context.Canceled)
}

// failedStage returns the stage of a StreamError, or "".
func failedStage(err error) Stage {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
