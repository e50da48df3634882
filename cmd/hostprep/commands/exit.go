package commands

import (
	"errors"
	"fmt"
)

// MaxExitCode caps the failed-action count reported as the exit status.
// Higher statuses are reserved by shells.
const MaxExitCode = 125

// FailedActionsError reports a run that finished with failed actions.
type FailedActionsError struct {
	Failed []string
}

func (e *FailedActionsError) Error() string {
	return fmt.Sprintf("%d actions failed: %v", len(e.Failed), e.Failed)
}

// Code returns the process exit status for the failure.
func (e *FailedActionsError) Code() int {
	if len(e.Failed) > MaxExitCode {
		return MaxExitCode
	}
	return len(e.Failed)
}

func checkFailed(failed []string) error {
	if len(failed) == 0 {
		return nil
	}
	return &FailedActionsError{Failed: failed}
}

// ExitCode maps a command error to a process exit status: 0 on success,
// the capped failed-action count when actions failed, and 1 for any other
// error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var failed *FailedActionsError
	if errors.As(err, &failed) {
		return failed.Code()
	}
	return 1
}

// IsFatal reports whether err stopped the command before a run could
// report per-action results.
func IsFatal(err error) bool {
	var failed *FailedActionsError
	return err != nil && !errors.As(err, &failed)
}
