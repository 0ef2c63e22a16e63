package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrUnknownFunction = errors.New("unknown query function")
	ErrEventFailed     = errors.New("event could not be queued")
)
