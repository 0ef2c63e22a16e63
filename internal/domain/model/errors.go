package model

import "errors"

// Sentinel errors shared across layers.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnknownKind  = errors.New("unknown event kind")
	ErrInvalidEvent = errors.New("invalid event")
)
