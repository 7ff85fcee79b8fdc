package pipeline

import "fmt"

// ModeCommitError reports that the engine rejected the switch to tracking.
// The session cannot continue without a well-defined mode.
type ModeCommitError struct {
	Regions int
	Err     error
}

func (e *ModeCommitError) Error() string {
	return fmt.Sprintf("commit tracking mode with %d regions: %v", e.Regions, e.Err)
}

func (e *ModeCommitError) Unwrap() error {
	return e.Err
}
