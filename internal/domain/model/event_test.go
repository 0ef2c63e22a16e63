package model_test

import (
	"errors"
	"testing"

	model "github.com/okian/lmsbridge/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestKind(t *testing.T) {
	convey.Convey("Given the supported kinds", t, func() {
		convey.Convey("When parsing each kind's string form", func() {
			convey.Convey("Then every kind round-trips", func() {
				for _, k := range model.Kinds() {
					parsed, err := model.ParseKind(string(k))
					convey.So(err, convey.ShouldBeNil)
					convey.So(parsed, convey.ShouldEqual, k)
				}
			})
		})

		convey.Convey("When parsing mixed case input", func() {
			k, err := model.ParseKind(" Grade_Updated ")

			convey.Convey("Then it is normalised", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(k, convey.ShouldEqual, model.KindGradeUpdated)
			})
		})

		convey.Convey("When parsing an unknown kind", func() {
			_, err := model.ParseKind("quiz_attempted")

			convey.Convey("Then ErrUnknownKind is returned", func() {
				convey.So(errors.Is(err, model.ErrUnknownKind), convey.ShouldBeTrue)
			})
		})

		convey.Convey("Then the classification helpers agree", func() {
			convey.So(model.KindGradeUpdated.IsGradeKind(), convey.ShouldBeTrue)
			convey.So(model.KindGradeItemDeleted.IsStructuralKind(), convey.ShouldBeTrue)
			convey.So(model.KindModuleViewed.IsViewKind(), convey.ShouldBeTrue)
			convey.So(model.KindUserLoggedIn.NeedsCourse(), convey.ShouldBeFalse)
			convey.So(model.KindCourseViewed.NeedsCourse(), convey.ShouldBeTrue)
		})
	})
}

func TestDomainEvent(t *testing.T) {
	convey.Convey("Given a grade event for a student graded by an instructor", t, func() {
		ev := model.DomainEvent{
			Kind:          model.KindGradeUpdated,
			ActorUserID:   2,
			CourseID:      10,
			ObjectID:      55,
			OccurredAt:    1_700_000_000,
			RelatedUserID: 42,
		}

		convey.Convey("Then the subject is the graded student", func() {
			convey.So(ev.Subject(), convey.ShouldEqual, 42)
		})

		convey.Convey("Then it validates", func() {
			convey.So(ev.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then its idempotency key is stable", func() {
			again := ev
			convey.So(ev.IdempotencyKey(), convey.ShouldEqual, again.IdempotencyKey())
			convey.So(len(ev.IdempotencyKey()), convey.ShouldEqual, 64)
		})

		convey.Convey("When the timestamp differs", func() {
			other := ev
			other.OccurredAt++

			convey.Convey("Then the key differs", func() {
				convey.So(other.IdempotencyKey(), convey.ShouldNotEqual, ev.IdempotencyKey())
			})
		})

		convey.Convey("When the course id is missing", func() {
			ev.CourseID = 0

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(ev.Validate(), model.ErrInvalidEvent), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a login event", t, func() {
		ev := model.DomainEvent{Kind: model.KindUserLoggedIn, ActorUserID: 7, OccurredAt: 1}

		convey.Convey("Then the subject is the actor and no course is needed", func() {
			convey.So(ev.Subject(), convey.ShouldEqual, 7)
			convey.So(ev.Validate(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a structural event without an item id", t, func() {
		ev := model.DomainEvent{Kind: model.KindGradeItemCreated, ActorUserID: 2, CourseID: 3}

		convey.Convey("Then validation fails", func() {
			convey.So(ev.Validate(), convey.ShouldNotBeNil)
		})
	})
}

func TestPayload(t *testing.T) {
	convey.Convey("Given a payload", t, func() {
		p := model.Payload{model.FieldAction: "user_loggedin", model.FieldIdempotencyKey: "abc"}

		convey.Convey("Then accessors read typed fields", func() {
			convey.So(p.Action(), convey.ShouldEqual, "user_loggedin")
			convey.So(p.IdempotencyKey(), convey.ShouldEqual, "abc")
		})

		convey.Convey("When cloned and modified", func() {
			c := p.Clone()
			c["token"] = "secret"

			convey.Convey("Then the original is untouched", func() {
				_, ok := p["token"]
				convey.So(ok, convey.ShouldBeFalse)
			})
		})
	})
}
