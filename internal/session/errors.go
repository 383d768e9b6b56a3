package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotStarted = errors.New("session: not started")
	ErrFinished   = errors.New("session: activity already completed")

	ErrUnknownTask    = errors.New("session: unknown task")
	ErrTaskNotVisible = errors.New("session: task not visible in this context")
	ErrPhaseLocked    = errors.New("session: phase locked until previous phase completes")
	ErrDependencies   = errors.New("session: dependencies not completed")
	ErrPhotoRequired  = errors.New("session: required photos not uploaded")
	ErrUnknownPhoto   = errors.New("session: unknown photo")
	ErrPhotoNotFailed = errors.New("session: photo is not in failed state")

	// ErrIncompleteRequiredTasks blocks completion until every visible
	// required task is done.
	ErrIncompleteRequiredTasks = errors.New("session: required tasks incomplete")

	// ErrExportFailed is returned after a successful completion whose
	// record could not be exported. The activity is still completed.
	ErrExportFailed = errors.New("session: completion record export failed")
)

// GuestReportPendingError hands control off to the guest-report sub-flow.
// Completion is retried after the flow marks itself done.
type GuestReportPendingError struct {
	HomeID     string
	ActivityID string
	BookingID  string
}

func (e *GuestReportPendingError) Error() string {
	return fmt.Sprintf("session: guest report pending for home %s activity %s", e.HomeID, e.ActivityID)
}
