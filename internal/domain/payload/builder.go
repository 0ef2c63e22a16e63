// Package payload assembles the JSON records forwarded to the business
// system. Building is read-only: it only queries the data providers.
package payload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/lmsbridge/internal/domain/grading"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
)

// Payload keys beyond the common ones.
const (
	fieldLastLogin        = "lastlogin"
	fieldEventTimeCreated = "event_timecreated"
	fieldFirstAccess      = "firstaccess"
	fieldLastAccess       = "lastaccess"
	fieldOnline           = "online"
	fieldDedication       = "dedication_seconds"
	fieldSessionCount     = "session_count"
	fieldMeanSession      = "mean_session_seconds"
	fieldCompletion       = "completion_percentage"
	fieldGroups           = "groups"
	fieldCourseShortName  = "course_shortname"
	fieldCourseFullName   = "course_fullname"
	fieldCMID             = "cmid"
	fieldGrades           = "grades"
	fieldItemID           = "itemid"
	fieldItems            = "items"
)

// Builder turns domain events into payloads.
type Builder struct {
	users     Users
	courses   Courses
	gradebook Gradebook

	activity Activity
	tracking Tracking
	groups   Groups

	domain         string
	loc            *time.Location
	idempotencyKey bool

	logger logger.Logger
}

// NewBuilder creates a Builder over the mandatory providers.
func NewBuilder(users Users, courses Courses, gradebook Gradebook, opts ...Option) *Builder {
	b := &Builder{
		users:          users,
		courses:        courses,
		gradebook:      gradebook,
		idempotencyKey: true,
		logger:         logger.Get().Named("payload"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the payload for ev. It fails with ErrUnknownUser,
// ErrGuestUser, ErrUnknownCourse, ErrUnsupportedKind or a wrapped ErrProvider.
func (b *Builder) Build(ctx context.Context, ev model.DomainEvent) (model.Payload, error) {
	if err := ev.Validate(); err != nil {
		if errors.Is(err, model.ErrUnknownKind) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, ev.Kind)
		}
		return nil, err
	}

	user, err := b.resolveUser(ctx, ev.Subject())
	if err != nil {
		return nil, err
	}

	p := model.Payload{
		model.FieldAction:    string(ev.Kind),
		model.FieldDomain:    b.domain,
		model.FieldUserID:    user.ID,
		model.FieldUsername:  user.Username,
		model.FieldTimestamp: b.localEpoch(ev.OccurredAt),
	}
	if b.idempotencyKey {
		p[model.FieldIdempotencyKey] = ev.IdempotencyKey()
	}

	switch {
	case ev.Kind == model.KindUserLoggedIn:
		p[fieldLastLogin] = b.localEpoch(user.LastLogin)
		p[fieldEventTimeCreated] = b.localEpoch(ev.OccurredAt)
	case ev.Kind == model.KindUserLoggedOut:
	case ev.Kind.IsViewKind():
		err = b.addView(ctx, p, ev, user)
	case ev.Kind.IsGradeKind():
		err = b.addGrades(ctx, p, ev, user)
	case ev.Kind.IsStructuralKind():
		err = b.addStructure(ctx, p, ev)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedKind, ev.Kind)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Builder) resolveUser(ctx context.Context, id int64) (model.User, error) {
	user, err := b.users.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.User{}, fmt.Errorf("%w: id %d", ErrUnknownUser, id)
		}
		return model.User{}, fmt.Errorf("%w: user %d: %w", ErrProvider, id, err)
	}
	if user.Username == "" {
		return model.User{}, fmt.Errorf("%w: id %d has no username", ErrUnknownUser, id)
	}
	if user.IsGuest() {
		return model.User{}, ErrGuestUser
	}
	return user, nil
}

func (b *Builder) resolveCourse(ctx context.Context, id int64) (model.Course, error) {
	course, err := b.courses.Course(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Course{}, fmt.Errorf("%w: id %d", ErrUnknownCourse, id)
		}
		return model.Course{}, fmt.Errorf("%w: course %d: %w", ErrProvider, id, err)
	}
	return course, nil
}

func (b *Builder) addCourse(ctx context.Context, p model.Payload, courseID int64) error {
	course, err := b.resolveCourse(ctx, courseID)
	if err != nil {
		return err
	}
	p[model.FieldCourseID] = course.ID
	p[fieldCourseShortName] = course.ShortName
	p[fieldCourseFullName] = course.FullName
	return nil
}

func (b *Builder) addView(ctx context.Context, p model.Payload, ev model.DomainEvent, user model.User) error {
	if err := b.addCourse(ctx, p, ev.CourseID); err != nil {
		return err
	}
	if ev.Kind == model.KindModuleViewed && ev.ObjectID > 0 {
		p[fieldCMID] = ev.ObjectID
	}
	if err := b.addAccess(ctx, p, user, ev.CourseID); err != nil {
		return err
	}
	b.addTracking(ctx, p, user.ID, ev.CourseID)
	b.addGroups(ctx, p, user.ID, ev.CourseID)
	return nil
}

// addAccess merges the course_user_info fields.
func (b *Builder) addAccess(ctx context.Context, p model.Payload, user model.User, courseID int64) error {
	if b.activity == nil {
		return nil
	}
	access, err := b.activity.CourseAccess(ctx, user.ID, courseID)
	if err != nil {
		return fmt.Errorf("%w: course access: %w", ErrProvider, err)
	}
	p[fieldFirstAccess] = nullable(access.FirstAccess)
	p[fieldLastAccess] = nullable(access.LastAccess)
	p[fieldLastLogin] = nullable(user.LastLogin)
	p[fieldOnline] = access.Online
	return nil
}

// addTracking embeds dedication aggregates. Missing data is not an error.
func (b *Builder) addTracking(ctx context.Context, p model.Payload, userID, courseID int64) {
	if b.tracking == nil {
		return
	}
	if d, err := b.tracking.Dedication(ctx, userID, courseID); err == nil {
		p[fieldDedication] = d.TotalSeconds
		p[fieldSessionCount] = d.Sessions
		p[fieldMeanSession] = grading.Round2(d.MeanSeconds)
	} else {
		b.logger.Debug(ctx, "dedication unavailable", logger.Int64("userid", userID), logger.Error(err))
	}
	if pct, err := b.tracking.CompletionPercentage(ctx, userID, courseID); err == nil {
		p[fieldCompletion] = grading.Round2(pct)
	} else {
		b.logger.Debug(ctx, "completion unavailable", logger.Int64("userid", userID), logger.Error(err))
	}
}

func (b *Builder) addGroups(ctx context.Context, p model.Payload, userID, courseID int64) {
	if b.groups == nil {
		return
	}
	names, err := b.groups.UserGroups(ctx, userID, courseID)
	if err != nil {
		b.logger.Debug(ctx, "groups unavailable", logger.Int64("userid", userID), logger.Error(err))
		return
	}
	if names == nil {
		names = []string{}
	}
	p[fieldGroups] = names
}

func (b *Builder) addGrades(ctx context.Context, p model.Payload, ev model.DomainEvent, user model.User) error {
	if err := b.addCourse(ctx, p, ev.CourseID); err != nil {
		return err
	}
	views, err := b.userGradeViews(ctx, user.ID, ev.CourseID)
	if err != nil {
		return err
	}
	p[fieldGrades] = views
	return nil
}

func (b *Builder) addStructure(ctx context.Context, p model.Payload, ev model.DomainEvent) error {
	if err := b.addCourse(ctx, p, ev.CourseID); err != nil {
		return err
	}
	views, err := b.itemViews(ctx, ev.CourseID)
	if err != nil {
		return err
	}
	p[fieldItemID] = ev.ObjectID
	p[fieldItems] = views
	return nil
}

func (b *Builder) userGradeViews(ctx context.Context, userID, courseID int64) ([]grading.View, error) {
	items, err := b.gradebook.GradeItems(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("%w: grade items: %w", ErrProvider, err)
	}
	grades, err := b.gradebook.UserGrades(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("%w: grades: %w", ErrProvider, err)
	}
	return grading.Views(items, grades), nil
}

func (b *Builder) itemViews(ctx context.Context, courseID int64) ([]grading.View, error) {
	items, err := b.gradebook.GradeItems(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("%w: grade items: %w", ErrProvider, err)
	}
	return grading.StructureViews(items), nil
}

// localEpoch shifts ts by the configured zone's UTC offset at that instant.
// Zero timestamps become null.
func (b *Builder) localEpoch(ts int64) any {
	if ts == 0 {
		return nil
	}
	if b.loc == nil {
		return ts
	}
	_, offset := time.Unix(ts, 0).In(b.loc).Zone()
	return ts + int64(offset)
}

func nullable(ts int64) any {
	if ts == 0 {
		return nil
	}
	return ts
}
