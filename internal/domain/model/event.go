// Package model contains domain models passed between layers.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind identifies a tracked host action.
type Kind string

// Supported event kinds. Values double as the payload "action" field.
const (
	KindUserLoggedIn     Kind = "user_loggedin"
	KindUserLoggedOut    Kind = "user_loggedout"
	KindCourseViewed     Kind = "course_viewed"
	KindModuleViewed     Kind = "module_viewed"
	KindGradeUpdated     Kind = "grade_updated"
	KindGradeItemCreated Kind = "grade_item_created"
	KindGradeItemUpdated Kind = "grade_item_updated"
	KindGradeItemDeleted Kind = "grade_item_deleted"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindUserLoggedIn,
		KindUserLoggedOut,
		KindCourseViewed,
		KindModuleViewed,
		KindGradeUpdated,
		KindGradeItemCreated,
		KindGradeItemUpdated,
		KindGradeItemDeleted,
	}
}

// ParseKind converts s into a Kind. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUserLoggedIn, KindUserLoggedOut, KindCourseViewed, KindModuleViewed,
		KindGradeUpdated, KindGradeItemCreated, KindGradeItemUpdated, KindGradeItemDeleted:
		return true
	}
	return false
}

// IsGradeKind reports whether k concerns a user's grades.
func (k Kind) IsGradeKind() bool { return k == KindGradeUpdated }

// IsStructuralKind reports whether k edits the gradebook structure.
func (k Kind) IsStructuralKind() bool {
	return k == KindGradeItemCreated || k == KindGradeItemUpdated || k == KindGradeItemDeleted
}

// IsViewKind reports whether k is a course or module access.
func (k Kind) IsViewKind() bool {
	return k == KindCourseViewed || k == KindModuleViewed
}

// NeedsCourse reports whether events of kind k must carry a course id.
func (k Kind) NeedsCourse() bool {
	return k.IsViewKind() || k.IsGradeKind() || k.IsStructuralKind()
}

func (k Kind) String() string { return string(k) }

// DomainEvent is a notification raised by the host. It is read-only to the
// bridge and lives only until its payload is built.
type DomainEvent struct {
	Kind          Kind  `json:"kind"`
	ActorUserID   int64 `json:"actor_user_id"`
	CourseID      int64 `json:"course_id,omitempty"`
	ObjectID      int64 `json:"object_id,omitempty"`
	OccurredAt    int64 `json:"occurred_at"`
	RelatedUserID int64 `json:"related_user_id,omitempty"`
}

// Subject returns the user the event is about: the graded student when the
// event carries one, the actor otherwise.
func (e DomainEvent) Subject() int64 {
	if e.RelatedUserID != 0 {
		return e.RelatedUserID
	}
	return e.ActorUserID
}

// Validate checks the identifiers required for the event's kind.
func (e DomainEvent) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.ActorUserID <= 0 && e.RelatedUserID <= 0 {
		return fmt.Errorf("%w: missing user id", ErrInvalidEvent)
	}
	if e.Kind.NeedsCourse() && e.CourseID <= 0 {
		return fmt.Errorf("%w: %s requires a course id", ErrInvalidEvent, e.Kind)
	}
	if e.Kind.IsStructuralKind() && e.ObjectID <= 0 {
		return fmt.Errorf("%w: %s requires a grade item id", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// IdempotencyKey is stable across retries and redeliveries of the same event.
func (e DomainEvent) IdempotencyKey() string {
	raw := fmt.Sprintf("%s|%d|%d|%d|%d|%d",
		e.Kind, e.ActorUserID, e.RelatedUserID, e.CourseID, e.ObjectID, e.OccurredAt)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
