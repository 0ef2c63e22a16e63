package bus

import "errors"

var (
	// ErrNoURL is returned by Start when no broker URL is configured.
	ErrNoURL = errors.New("bus: amqp url is empty")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("bus: already started")
)
