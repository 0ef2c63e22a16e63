package service_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/lmsbridge/internal/app"
	"github.com/okian/lmsbridge/internal/adapters/memdir"
	"github.com/okian/lmsbridge/internal/adapters/repository"
	"github.com/okian/lmsbridge/internal/config"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/internal/listener"
	"github.com/okian/lmsbridge/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const (
	studentID int64 = 2
	graderID  int64 = 3
	courseID  int64 = 7
)

// webhook records every POSTed body and answers with status.
type webhook struct {
	srv    *httptest.Server
	bodies chan map[string]any
	status atomic.Int32
}

func newWebhook(t *testing.T) *webhook {
	w := &webhook{bodies: make(chan map[string]any, 16)}
	w.status.Store(http.StatusOK)
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		w.bodies <- body
		rw.WriteHeader(int(w.status.Load()))
		_, _ = rw.Write([]byte(`{"message":{"status":"ok"}}`))
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func directory() *memdir.Directory {
	d := memdir.New()
	d.PutUser(model.User{ID: memdir.GuestUserID, Username: model.GuestUsername})
	d.PutUser(model.User{ID: studentID, Username: "ana", LastLogin: 1_700_000_000})
	d.PutUser(model.User{ID: graderID, Username: "prof"})
	d.PutCourse(model.Course{ID: courseID, ShortName: "HIST", FullName: "History"})
	d.PutGradeItem(courseID, model.GradeItem{ID: 10, ItemType: model.ItemTypeCourse, SortOrder: 1, GradeMax: 100})
	d.PutGradeItem(courseID, model.GradeItem{ID: 11, Name: "Essay", ItemType: "mod", SortOrder: 2, AggregationCoef: 2, GradeMax: 10})
	d.PutGradeItem(courseID, model.GradeItem{ID: 12, Name: "Exam", ItemType: "mod", SortOrder: 3, AggregationCoef: 3, GradeMax: 10})
	grade := 8.0
	d.PutGrade(studentID, courseID, model.Grade{ItemID: 11, FinalGrade: &grade})
	return d
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	cfg := config.New(context.Background())
	cfg.StorePath = filepath.Join(t.TempDir(), "bridge.sqlite")
	cfg.APIBaseURL = endpoint
	cfg.APIToken = "s3cret"
	cfg.WWWRoot = "https://campus.example.org"
	cfg.LocalTimezone = ""
	cfg.WorkerCount = 2
	cfg.PollIntervalMS = 20
	cfg.HTTPTimeoutMS = 2_000
	cfg.BackoffBaseMS = 60_000
	return cfg
}

func receive(ch <-chan map[string]any) map[string]any {
	select {
	case body := <-ch:
		return body
	case <-time.After(5 * time.Second):
		return nil
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service with default options", t, func() {
		svc := service.New()

		Convey("Then it is not started", func() {
			So(svc.GetStats()["started"], ShouldEqual, false)
			res := svc.Handle(context.Background(), model.DomainEvent{Kind: model.KindUserLoggedIn, ActorUserID: 2})
			So(res.Outcome, ShouldEqual, listener.OutcomeFailed)
			_, err := svc.Tasks(context.Background(), model.TaskPending, 10)
			So(err, ShouldEqual, service.ErrNotStarted)
		})
	})

	Convey("Given a service on the demo directory", t, func() {
		cfg := testConfig(t, "")
		cfg.DemoUsers = 3
		cfg.DemoCourses = 1
		svc := service.New(service.WithConfig(cfg))
		defer svc.Stop()

		err := svc.Start(context.Background())

		Convey("Then it starts with the configured workers", func() {
			So(err, ShouldBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["workerCount"], ShouldEqual, 2)
			So(stats["directory"], ShouldEqual, "demo")
		})

		Convey("Then a second Start is a no-op", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
		})
	})
}

func TestService_Delivery(t *testing.T) {
	Convey("Given a running service and a healthy webhook", t, func() {
		hook := newWebhook(t)
		cfg := testConfig(t, hook.srv.URL)
		svc := service.New(service.WithConfig(cfg), service.WithProviders(directory()))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		ctx := context.Background()

		Convey("When a grade is updated", func() {
			res := svc.Handle(ctx, model.DomainEvent{
				Kind: model.KindGradeUpdated, ActorUserID: graderID, RelatedUserID: studentID,
				CourseID: courseID, ObjectID: 11, OccurredAt: 1_700_000_100,
			})
			So(res.Outcome, ShouldEqual, listener.OutcomeEnqueued)
			body := receive(hook.bodies)

			Convey("Then the webhook gets the weighted breakdown and the token", func() {
				So(body, ShouldNotBeNil)
				So(body["token"], ShouldEqual, "s3cret")
				So(body["action"], ShouldEqual, "grade_updated")
				So(body["moodle_domain"], ShouldEqual, "campus.example.org")
				So(body["username"], ShouldEqual, "ana")
				So(body["idempotency_key"], ShouldNotBeEmpty)

				grades, _ := body["grades"].([]any)
				So(grades, ShouldHaveLength, 2)
				So(grades[0].(map[string]any)["weight"], ShouldEqual, 40.0)
				So(grades[1].(map[string]any)["weight"], ShouldEqual, 60.0)
			})

			Convey("And the task is removed once delivered", func() {
				So(eventually(func() bool { return svc.GetStats()["queueLength"] == 0 }), ShouldBeTrue)
				failures, err := svc.Failures(ctx, 10)
				So(err, ShouldBeNil)
				So(failures, ShouldBeEmpty)
			})
		})

		Convey("When a guest views the course", func() {
			res := svc.Handle(ctx, model.DomainEvent{Kind: model.KindCourseViewed, ActorUserID: memdir.GuestUserID, CourseID: courseID, OccurredAt: 1})

			Convey("Then nothing is queued or reported", func() {
				So(res.Outcome, ShouldEqual, listener.OutcomeDiscarded)
				So(svc.GetStats()["queueLength"], ShouldEqual, 0)
				failures, _ := svc.Failures(ctx, 10)
				So(failures, ShouldBeEmpty)
			})
		})

		Convey("When the same login is handled twice", func() {
			ev := model.DomainEvent{Kind: model.KindUserLoggedIn, ActorUserID: studentID, OccurredAt: 1_700_000_200}
			first := svc.Handle(ctx, ev)
			second := svc.Handle(ctx, ev)

			Convey("Then only one task is queued", func() {
				So(first.Outcome, ShouldEqual, listener.OutcomeEnqueued)
				So(second.Outcome, ShouldEqual, listener.OutcomeDuplicate)
				So(receive(hook.bodies), ShouldNotBeNil)
			})
		})
	})
}

func TestService_DeliveryFailure(t *testing.T) {
	Convey("Given a webhook answering 500", t, func() {
		hook := newWebhook(t)
		hook.status.Store(http.StatusInternalServerError)
		cfg := testConfig(t, hook.srv.URL)
		svc := service.New(service.WithConfig(cfg), service.WithProviders(directory()))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		ctx := context.Background()

		res := svc.Handle(ctx, model.DomainEvent{Kind: model.KindUserLoggedOut, ActorUserID: studentID, OccurredAt: 5})
		So(res.Outcome, ShouldEqual, listener.OutcomeEnqueued)
		So(receive(hook.bodies), ShouldNotBeNil)

		Convey("Then exactly one failure is recorded and the task waits for its retry", func() {
			So(eventually(func() bool {
				failures, _ := svc.Failures(ctx, 10)
				return len(failures) == 1
			}), ShouldBeTrue)
			failures, _ := svc.Failures(ctx, 10)
			So(failures[0].Message, ShouldContainSubstring, "HTTP 500")
			So(failures[0].ContextActor, ShouldEqual, model.SystemActor)

			So(eventually(func() bool {
				task, err := svc.Task(ctx, res.TaskID)
				return err == nil && task.Status == model.TaskPending && task.LastError != ""
			}), ShouldBeTrue)
			task, _ := svc.Task(ctx, res.TaskID)
			So(task.Attempts, ShouldEqual, 1)
			So(task.NextRunAt.After(time.Now().Add(30*time.Second)), ShouldBeTrue)
		})
	})
}

func TestService_Restart(t *testing.T) {
	Convey("Given a task persisted before the process stopped", t, func() {
		hook := newWebhook(t)
		cfg := testConfig(t, hook.srv.URL)

		store, err := repository.OpenSQLite(context.Background(), cfg.StorePath)
		So(err, ShouldBeNil)
		_, err = store.Enqueue(context.Background(), model.Payload{"action": "user_loggedin", "userid": 2})
		So(err, ShouldBeNil)
		So(store.Close(), ShouldBeNil)

		Convey("When the service starts on the same store", func() {
			svc := service.New(service.WithConfig(cfg), service.WithProviders(directory()))
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop()

			Convey("Then the task is delivered", func() {
				body := receive(hook.bodies)
				So(body, ShouldNotBeNil)
				So(body["action"], ShouldEqual, "user_loggedin")
				So(body["token"], ShouldEqual, "s3cret")
			})
		})
	})
}
