package moodledb_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/lmsbridge/internal/adapters/moodledb"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/internal/domain/payload"
	"github.com/okian/lmsbridge/pkg/logger"
)

var (
	_ payload.Users     = (*moodledb.Directory)(nil)
	_ payload.Courses   = (*moodledb.Directory)(nil)
	_ payload.Gradebook = (*moodledb.Directory)(nil)
	_ payload.Activity  = (*moodledb.Directory)(nil)
	_ payload.Tracking  = (*moodledb.Directory)(nil)
	_ payload.Groups    = (*moodledb.Directory)(nil)
)

func newDirectory(t *testing.T, opts ...moodledb.Option) (*moodledb.Directory, sqlmock.Sqlmock) {
	t.Helper()
	_ = logger.Init()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	d, err := moodledb.New(db, opts...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return d, mock
}

func TestUsersAndCourses(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a host database", t, func() {
		d, mock := newDirectory(t)

		convey.Convey("When the user exists", func() {
			mock.ExpectQuery(`SELECT id, username, lastlogin FROM mdl_user WHERE id = \$1 AND deleted = 0`).
				WithArgs(int64(7)).
				WillReturnRows(sqlmock.NewRows([]string{"id", "username", "lastlogin"}).AddRow(7, "ana", 1_700_000_000))

			u, err := d.UserByID(ctx, 7)

			convey.So(err, convey.ShouldBeNil)
			convey.So(u, convey.ShouldResemble, model.User{ID: 7, Username: "ana", LastLogin: 1_700_000_000})
			convey.So(mock.ExpectationsWereMet(), convey.ShouldBeNil)
		})

		convey.Convey("When the username is unknown", func() {
			mock.ExpectQuery(`FROM mdl_user WHERE username = \$1`).
				WithArgs("ghost").
				WillReturnError(sql.ErrNoRows)

			_, err := d.UserByUsername(ctx, "ghost")

			convey.So(errors.Is(err, model.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("When the course query fails", func() {
			mock.ExpectQuery(`FROM mdl_course WHERE id`).
				WithArgs(int64(3)).
				WillReturnError(errors.New("connection reset"))

			_, err := d.Course(ctx, 3)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, model.ErrNotFound), convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given a custom table prefix", t, func() {
		d, mock := newDirectory(t, moodledb.WithTablePrefix("lms_"))
		mock.ExpectQuery(`FROM lms_course WHERE id`).
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "shortname", "fullname"}).AddRow(2, "MATH", "Mathematics"))

		c, err := d.Course(ctx, 2)

		convey.So(err, convey.ShouldBeNil)
		convey.So(c.ShortName, convey.ShouldEqual, "MATH")
	})

	convey.Convey("Given a prefix that is not an identifier", t, func() {
		db, _, err := sqlmock.New()
		convey.So(err, convey.ShouldBeNil)
		defer db.Close()

		_, err = moodledb.New(db, moodledb.WithTablePrefix("mdl_; DROP TABLE"))

		convey.So(errors.Is(err, moodledb.ErrInvalidPrefix), convey.ShouldBeTrue)
	})
}

func TestGradebook(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a course gradebook", t, func() {
		d, mock := newDirectory(t)

		convey.Convey("When items use either coefficient column", func() {
			mock.ExpectQuery(`FROM mdl_grade_items WHERE courseid = \$1 ORDER BY sortorder, id`).
				WithArgs(int64(4)).
				WillReturnRows(sqlmock.NewRows([]string{"id", "itemname", "itemtype", "sortorder", "aggregationcoef", "aggregationcoef2", "grademin", "grademax"}).
					AddRow(1, "", "course", 1, 0.0, 0.0, 0.0, 100.0).
					AddRow(2, "Quiz", "mod", 2, 2.0, 0.0, 0.0, 10.0).
					AddRow(3, "Essay", "mod", 3, 1.0, 0.75, 0.0, 20.0))

			items, err := d.GradeItems(ctx, 4)

			convey.So(err, convey.ShouldBeNil)
			convey.So(items, convey.ShouldHaveLength, 3)
			convey.So(items[0].IsCourseTotal(), convey.ShouldBeTrue)
			convey.So(items[1].AggregationCoef, convey.ShouldEqual, 2.0)
			convey.So(items[2].AggregationCoef, convey.ShouldEqual, 0.75)
		})

		convey.Convey("When a grade is missing", func() {
			mock.ExpectQuery(`FROM mdl_grade_grades g JOIN mdl_grade_items i`).
				WithArgs(int64(9), int64(4)).
				WillReturnRows(sqlmock.NewRows([]string{"itemid", "finalgrade", "feedback"}).
					AddRow(2, 7.5, "good").
					AddRow(3, nil, ""))

			grades, err := d.UserGrades(ctx, 9, 4)

			convey.So(err, convey.ShouldBeNil)
			convey.So(grades, convey.ShouldHaveLength, 2)
			convey.So(*grades[0].FinalGrade, convey.ShouldEqual, 7.5)
			convey.So(grades[0].Feedback, convey.ShouldEqual, "good")
			convey.So(grades[1].FinalGrade, convey.ShouldBeNil)
		})
	})
}

func TestActivity(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_600, 0)

	convey.Convey("Given a user with course activity", t, func() {
		d, mock := newDirectory(t,
			moodledb.WithClock(func() time.Time { return now }),
			moodledb.WithOnlineThreshold(300*time.Second))

		convey.Convey("When access is requested", func() {
			mock.ExpectQuery(`SELECT COALESCE\(MIN\(timecreated\), 0\) FROM mdl_logstore_standard_log`).
				WithArgs(int64(5), int64(2)).
				WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(1_690_000_000))
			mock.ExpectQuery(`SELECT timeaccess FROM mdl_user_lastaccess`).
				WithArgs(int64(5), int64(2)).
				WillReturnError(sql.ErrNoRows)
			mock.ExpectQuery(`FROM mdl_sessions WHERE userid = \$1 AND timemodified > \$2`).
				WithArgs(int64(5), int64(1_700_000_300)).
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

			acc, err := d.CourseAccess(ctx, 5, 2)

			convey.So(err, convey.ShouldBeNil)
			convey.So(acc, convey.ShouldResemble, model.CourseAccess{FirstAccess: 1_690_000_000, LastAccess: 0, Online: true})
			convey.So(mock.ExpectationsWereMet(), convey.ShouldBeNil)
		})

		convey.Convey("When log entries span two sessions", func() {
			mock.ExpectQuery(`SELECT timecreated FROM mdl_logstore_standard_log`).
				WithArgs(int64(5), int64(2)).
				WillReturnRows(sqlmock.NewRows([]string{"timecreated"}).
					AddRow(1000).AddRow(1600).AddRow(2200).
					AddRow(10000).AddRow(10300))

			ded, err := d.Dedication(ctx, 5, 2)

			convey.So(err, convey.ShouldBeNil)
			convey.So(ded.Sessions, convey.ShouldEqual, 2)
			convey.So(ded.TotalSeconds, convey.ShouldEqual, 1500)
			convey.So(ded.MeanSeconds, convey.ShouldEqual, 750.0)
		})

		convey.Convey("When there is no log activity", func() {
			mock.ExpectQuery(`SELECT timecreated FROM mdl_logstore_standard_log`).
				WithArgs(int64(5), int64(2)).
				WillReturnRows(sqlmock.NewRows([]string{"timecreated"}))

			_, err := d.Dedication(ctx, 5, 2)

			convey.So(errors.Is(err, model.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("When three of four tracked activities are complete", func() {
			mock.ExpectQuery(`FROM mdl_course_modules cm`).
				WithArgs(int64(5), int64(2)).
				WillReturnRows(sqlmock.NewRows([]string{"tracked", "completed"}).AddRow(4, 3))

			pct, err := d.CompletionPercentage(ctx, 5, 2)

			convey.So(err, convey.ShouldBeNil)
			convey.So(pct, convey.ShouldEqual, 75.0)
		})

		convey.Convey("When the course tracks no completion", func() {
			mock.ExpectQuery(`FROM mdl_course_modules cm`).
				WithArgs(int64(5), int64(2)).
				WillReturnRows(sqlmock.NewRows([]string{"tracked", "completed"}).AddRow(0, 0))

			_, err := d.CompletionPercentage(ctx, 5, 2)

			convey.So(errors.Is(err, model.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("When the user is in groups", func() {
			mock.ExpectQuery(`FROM mdl_groups g JOIN mdl_groups_members m`).
				WithArgs(int64(5), int64(2)).
				WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Group A").AddRow("Group B"))

			groups, err := d.UserGroups(ctx, 5, 2)

			convey.So(err, convey.ShouldBeNil)
			convey.So(groups, convey.ShouldResemble, []string{"Group A", "Group B"})
		})
	})
}

func TestSessions(t *testing.T) {
	convey.Convey("Sessions splits on gaps larger than the threshold", t, func() {
		convey.So(moodledb.Sessions(nil, 60), convey.ShouldResemble, model.Dedication{})

		single := moodledb.Sessions([]int64{100}, 60)
		convey.So(single.Sessions, convey.ShouldEqual, 1)
		convey.So(single.TotalSeconds, convey.ShouldEqual, 0)

		exact := moodledb.Sessions([]int64{0, 60, 120}, 60)
		convey.So(exact.Sessions, convey.ShouldEqual, 1)
		convey.So(exact.TotalSeconds, convey.ShouldEqual, 120)

		split := moodledb.Sessions([]int64{0, 61}, 60)
		convey.So(split.Sessions, convey.ShouldEqual, 2)
		convey.So(split.MeanSeconds, convey.ShouldEqual, 0.0)
	})
}
