package payload

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/lmsbridge/internal/domain/grading"
	"github.com/okian/lmsbridge/internal/domain/model"
)

// Read-only lookups served by the query API.

// CourseUserInfo reports a user's access summary for a course.
func (b *Builder) CourseUserInfo(ctx context.Context, username string, courseID int64) (model.Payload, error) {
	user, err := b.userByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if _, err := b.resolveCourse(ctx, courseID); err != nil {
		return nil, err
	}
	p := model.Payload{model.FieldDomain: b.domain}
	if b.activity == nil {
		p[fieldLastLogin] = nullable(user.LastLogin)
		return p, nil
	}
	if err := b.addAccess(ctx, p, user, courseID); err != nil {
		return nil, err
	}
	return p, nil
}

// UserGrades returns the weighted grade breakdown of a user in a course.
func (b *Builder) UserGrades(ctx context.Context, username string, courseID int64) ([]grading.View, error) {
	user, err := b.userByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if _, err := b.resolveCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return b.userGradeViews(ctx, user.ID, courseID)
}

// CourseItems lists a course's weighted grade items.
func (b *Builder) CourseItems(ctx context.Context, courseID int64) ([]grading.View, error) {
	if _, err := b.resolveCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return b.itemViews(ctx, courseID)
}

func (b *Builder) userByName(ctx context.Context, username string) (model.User, error) {
	user, err := b.users.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.User{}, fmt.Errorf("%w: %q", ErrUnknownUser, username)
		}
		return model.User{}, fmt.Errorf("%w: user %q: %w", ErrProvider, username, err)
	}
	return user, nil
}
