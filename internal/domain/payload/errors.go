package payload

import "errors"

// Build errors. ErrUnknownUser and ErrGuestUser are filtering conditions;
// callers discard the event without reporting a failure.
var (
	ErrUnknownUser     = errors.New("unknown user")
	ErrGuestUser       = errors.New("guest user")
	ErrUnknownCourse   = errors.New("unknown course")
	ErrUnsupportedKind = errors.New("unsupported event kind")
	ErrProvider        = errors.New("data provider failed")
)
