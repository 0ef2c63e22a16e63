package model

import "maps"

// Payload keys present on every record.
const (
	FieldAction         = "action"
	FieldDomain         = "moodle_domain"
	FieldUserID         = "userid"
	FieldUsername       = "username"
	FieldCourseID       = "courseid"
	FieldTimestamp      = "timestamp"
	FieldIdempotencyKey = "idempotency_key"
)

// Payload is the flat JSON record sent to the business system. It is built
// once per event and never mutated after it is handed to the queue.
type Payload map[string]any

// Action returns the payload's action field.
func (p Payload) Action() string {
	s, _ := p[FieldAction].(string)
	return s
}

// IdempotencyKey returns the payload's idempotency key, if any.
func (p Payload) IdempotencyKey() string {
	s, _ := p[FieldIdempotencyKey].(string)
	return s
}

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	return maps.Clone(p)
}
