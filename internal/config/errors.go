package config

import "errors"

// Sentinel errors wrapped by Load and Validate.
var (
	ErrInvalidConfig = errors.New("config: invalid")
	ErrLoadConfig    = errors.New("config: load failed")
)
