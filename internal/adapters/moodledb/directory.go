// Package moodledb reads users, courses, gradebooks and activity from the
// host LMS postgres schema. It implements every payload data provider.
package moodledb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
)

const (
	defaultPrefix          = "mdl_"
	defaultOnlineThreshold = 5 * time.Minute
	defaultSessionGap      = time.Hour
)

var prefixPattern = regexp.MustCompile(`^[a-z0-9_]*$`)

// Directory is a read-only view of the host database.
type Directory struct {
	db              *sql.DB
	prefix          string
	onlineThreshold time.Duration
	sessionGap      time.Duration
	now             func() time.Time
	log             logger.Logger
}

// New creates a Directory over db.
func New(db *sql.DB, opts ...Option) (*Directory, error) {
	d := &Directory{
		db:              db,
		prefix:          defaultPrefix,
		onlineThreshold: defaultOnlineThreshold,
		sessionGap:      defaultSessionGap,
		now:             time.Now,
		log:             logger.Get().Named("moodledb"),
	}
	for _, opt := range opts {
		opt(d)
	}
	// The prefix is interpolated into SQL text.
	if !prefixPattern.MatchString(d.prefix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, d.prefix)
	}
	return d, nil
}

func (d *Directory) table(name string) string { return d.prefix + name }

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("moodledb: %s: %w", what, err)
}

// UserByID returns a non-deleted user.
func (d *Directory) UserByID(ctx context.Context, id int64) (model.User, error) {
	q := fmt.Sprintf(`SELECT id, username, lastlogin FROM %s WHERE id = $1 AND deleted = 0`, d.table("user"))
	var u model.User
	if err := d.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Username, &u.LastLogin); err != nil {
		return model.User{}, notFound(err, "user")
	}
	return u, nil
}

// UserByUsername returns a non-deleted user.
func (d *Directory) UserByUsername(ctx context.Context, username string) (model.User, error) {
	q := fmt.Sprintf(`SELECT id, username, lastlogin FROM %s WHERE username = $1 AND deleted = 0`, d.table("user"))
	var u model.User
	if err := d.db.QueryRowContext(ctx, q, username).Scan(&u.ID, &u.Username, &u.LastLogin); err != nil {
		return model.User{}, notFound(err, "user")
	}
	return u, nil
}

// Course returns a course.
func (d *Directory) Course(ctx context.Context, id int64) (model.Course, error) {
	q := fmt.Sprintf(`SELECT id, shortname, fullname FROM %s WHERE id = $1`, d.table("course"))
	var c model.Course
	if err := d.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.ShortName, &c.FullName); err != nil {
		return model.Course{}, notFound(err, "course")
	}
	return c, nil
}

// GradeItems lists a course's gradebook columns. The effective coefficient
// is aggregationcoef2 when set, otherwise aggregationcoef.
func (d *Directory) GradeItems(ctx context.Context, courseID int64) ([]model.GradeItem, error) {
	q := fmt.Sprintf(`SELECT id, COALESCE(itemname, ''), itemtype, sortorder,
		aggregationcoef, aggregationcoef2, grademin, grademax
		FROM %s WHERE courseid = $1 ORDER BY sortorder, id`, d.table("grade_items"))
	rows, err := d.db.QueryContext(ctx, q, courseID)
	if err != nil {
		return nil, fmt.Errorf("moodledb: grade items: %w", err)
	}
	defer rows.Close()

	var items []model.GradeItem
	for rows.Next() {
		var (
			it          model.GradeItem
			coef, coef2 float64
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.ItemType, &it.SortOrder, &coef, &coef2, &it.GradeMin, &it.GradeMax); err != nil {
			return nil, fmt.Errorf("moodledb: grade items: %w", err)
		}
		it.AggregationCoef = coef
		if coef2 != 0 {
			it.AggregationCoef = coef2
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("moodledb: grade items: %w", err)
	}
	return items, nil
}

// UserGrades lists a user's grades in a course.
func (d *Directory) UserGrades(ctx context.Context, userID, courseID int64) ([]model.Grade, error) {
	q := fmt.Sprintf(`SELECT g.itemid, g.finalgrade, COALESCE(g.feedback, '')
		FROM %s g JOIN %s i ON i.id = g.itemid
		WHERE g.userid = $1 AND i.courseid = $2`, d.table("grade_grades"), d.table("grade_items"))
	rows, err := d.db.QueryContext(ctx, q, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("moodledb: grades: %w", err)
	}
	defer rows.Close()

	var grades []model.Grade
	for rows.Next() {
		var (
			g     model.Grade
			final sql.NullFloat64
		)
		if err := rows.Scan(&g.ItemID, &final, &g.Feedback); err != nil {
			return nil, fmt.Errorf("moodledb: grades: %w", err)
		}
		if final.Valid {
			v := final.Float64
			g.FinalGrade = &v
		}
		grades = append(grades, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("moodledb: grades: %w", err)
	}
	return grades, nil
}

// CourseAccess reports first access (earliest log entry), last access and
// whether the user has a recently touched session.
func (d *Directory) CourseAccess(ctx context.Context, userID, courseID int64) (model.CourseAccess, error) {
	var acc model.CourseAccess

	first := fmt.Sprintf(`SELECT COALESCE(MIN(timecreated), 0) FROM %s WHERE userid = $1 AND courseid = $2`,
		d.table("logstore_standard_log"))
	if err := d.db.QueryRowContext(ctx, first, userID, courseID).Scan(&acc.FirstAccess); err != nil {
		return model.CourseAccess{}, fmt.Errorf("moodledb: first access: %w", err)
	}

	last := fmt.Sprintf(`SELECT timeaccess FROM %s WHERE userid = $1 AND courseid = $2`, d.table("user_lastaccess"))
	if err := d.db.QueryRowContext(ctx, last, userID, courseID).Scan(&acc.LastAccess); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return model.CourseAccess{}, fmt.Errorf("moodledb: last access: %w", err)
		}
		acc.LastAccess = 0
	}

	online := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE userid = $1 AND timemodified > $2)`, d.table("sessions"))
	threshold := d.now().Add(-d.onlineThreshold).Unix()
	if err := d.db.QueryRowContext(ctx, online, userID, threshold).Scan(&acc.Online); err != nil {
		return model.CourseAccess{}, fmt.Errorf("moodledb: online: %w", err)
	}
	return acc, nil
}

// Dedication splits the user's course log timestamps into sessions.
func (d *Directory) Dedication(ctx context.Context, userID, courseID int64) (model.Dedication, error) {
	q := fmt.Sprintf(`SELECT timecreated FROM %s WHERE userid = $1 AND courseid = $2 ORDER BY timecreated`,
		d.table("logstore_standard_log"))
	rows, err := d.db.QueryContext(ctx, q, userID, courseID)
	if err != nil {
		return model.Dedication{}, fmt.Errorf("moodledb: dedication: %w", err)
	}
	defer rows.Close()

	var stamps []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return model.Dedication{}, fmt.Errorf("moodledb: dedication: %w", err)
		}
		stamps = append(stamps, ts)
	}
	if err := rows.Err(); err != nil {
		return model.Dedication{}, fmt.Errorf("moodledb: dedication: %w", err)
	}
	if len(stamps) == 0 {
		return model.Dedication{}, fmt.Errorf("dedication: %w", model.ErrNotFound)
	}
	return Sessions(stamps, int64(d.sessionGap/time.Second)), nil
}

// Sessions aggregates sorted Unix timestamps into sessions separated by
// more than gap seconds of inactivity.
func Sessions(stamps []int64, gap int64) model.Dedication {
	if len(stamps) == 0 {
		return model.Dedication{}
	}
	var ded model.Dedication
	start, prev := stamps[0], stamps[0]
	for _, ts := range stamps[1:] {
		if ts-prev > gap {
			ded.TotalSeconds += prev - start
			ded.Sessions++
			start = ts
		}
		prev = ts
	}
	ded.TotalSeconds += prev - start
	ded.Sessions++
	ded.MeanSeconds = float64(ded.TotalSeconds) / float64(ded.Sessions)
	return ded
}

// CompletionPercentage is completed over tracked activities, 0-100.
func (d *Directory) CompletionPercentage(ctx context.Context, userID, courseID int64) (float64, error) {
	q := fmt.Sprintf(`SELECT COUNT(*), COUNT(cmc.id)
		FROM %s cm
		LEFT JOIN %s cmc ON cmc.coursemoduleid = cm.id AND cmc.userid = $1 AND cmc.completionstate > 0
		WHERE cm.course = $2 AND cm.completion > 0 AND cm.deletioninprogress = 0`,
		d.table("course_modules"), d.table("course_modules_completion"))
	var tracked, completed int64
	if err := d.db.QueryRowContext(ctx, q, userID, courseID).Scan(&tracked, &completed); err != nil {
		return 0, fmt.Errorf("moodledb: completion: %w", err)
	}
	if tracked == 0 {
		return 0, fmt.Errorf("completion: %w", model.ErrNotFound)
	}
	return float64(completed) * 100 / float64(tracked), nil
}

// UserGroups lists the names of the course groups the user belongs to.
func (d *Directory) UserGroups(ctx context.Context, userID, courseID int64) ([]string, error) {
	q := fmt.Sprintf(`SELECT g.name FROM %s g JOIN %s m ON m.groupid = g.id
		WHERE m.userid = $1 AND g.courseid = $2 ORDER BY g.name`,
		d.table("groups"), d.table("groups_members"))
	rows, err := d.db.QueryContext(ctx, q, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("moodledb: groups: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("moodledb: groups: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("moodledb: groups: %w", err)
	}
	d.log.Debug(ctx, "groups resolved", logger.Int64("userid", userID), logger.Int("count", len(names)))
	return names, nil
}
