package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNoTask        = errors.New("no task due")
	ErrTaskNotFound  = errors.New("task not found")
	ErrInvalidStatus = errors.New("invalid task status")
	ErrInvalidLimit  = errors.New("invalid limit")
	ErrStoreClosed   = errors.New("store closed")
)
