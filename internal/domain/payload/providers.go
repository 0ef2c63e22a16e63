package payload

import (
	"context"

	"github.com/okian/lmsbridge/internal/domain/model"
)

// Data providers consumed by the Builder. Each returns model.ErrNotFound
// (possibly wrapped) when the record does not exist.

// Users resolves host accounts.
type Users interface {
	UserByID(ctx context.Context, id int64) (model.User, error)
	UserByUsername(ctx context.Context, username string) (model.User, error)
}

// Courses resolves host courses.
type Courses interface {
	Course(ctx context.Context, id int64) (model.Course, error)
}

// Gradebook lists grade items and a user's grades.
type Gradebook interface {
	GradeItems(ctx context.Context, courseID int64) ([]model.GradeItem, error)
	UserGrades(ctx context.Context, userID, courseID int64) ([]model.Grade, error)
}

// Activity reports course access times and presence.
type Activity interface {
	CourseAccess(ctx context.Context, userID, courseID int64) (model.CourseAccess, error)
}

// Tracking reports dedication and completion aggregates.
type Tracking interface {
	Dedication(ctx context.Context, userID, courseID int64) (model.Dedication, error)
	CompletionPercentage(ctx context.Context, userID, courseID int64) (float64, error)
}

// Groups lists the course groups a user belongs to.
type Groups interface {
	UserGroups(ctx context.Context, userID, courseID int64) ([]string, error)
}
