package moodledb

import "errors"

var (
	// ErrEmptyDSN is returned by Open when no connection string is configured.
	ErrEmptyDSN = errors.New("moodledb: empty DSN")
	// ErrInvalidPrefix is returned when the table prefix is not a plain identifier.
	ErrInvalidPrefix = errors.New("moodledb: invalid table prefix")
)
