package recognition

import "fmt"

// Status is a non-success engine status code
type Status int

const (
	StatusNoError          Status = 0
	StatusInvalidArgument  Status = -1
	StatusNotConfigured    Status = -2
	StatusProcessFailed    Status = -3
	StatusWrongMode        Status = -4
	StatusNoResults        Status = -5
	StatusFeatureNotActive Status = -6
)

var statusNames = map[Status]string{
	StatusNoError:          "no error",
	StatusInvalidArgument:  "invalid argument",
	StatusNotConfigured:    "not configured",
	StatusProcessFailed:    "process failed",
	StatusWrongMode:        "wrong mode",
	StatusNoResults:        "no results",
	StatusFeatureNotActive: "feature not active",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// StatusError reports a failed engine call
type StatusError struct {
	Op     string
	Code   Status
	Detail string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("recognition %s: %s", e.Op, e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any StatusError with the same code, so the Err* sentinels work
// with errors.Is regardless of Op.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidArgument = &StatusError{Op: "call", Code: StatusInvalidArgument}
	ErrNotConfigured   = &StatusError{Op: "call", Code: StatusNotConfigured}
	ErrProcessFailed   = &StatusError{Op: "call", Code: StatusProcessFailed}
	ErrWrongMode       = &StatusError{Op: "call", Code: StatusWrongMode}
)
