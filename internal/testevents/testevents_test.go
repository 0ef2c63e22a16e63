package testevents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/lmsbridge/internal/adapters/memdir"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
)

func testConfig(baseURL string) *Config {
	return &Config{
		BaseURL:      baseURL,
		NumEvents:    64,
		Users:        10,
		Courses:      3,
		Redeliver:    0.25,
		Workers:      4,
		Timeout:      5 * time.Second,
		DrainTimeout: 5 * time.Second,
		Seed:         7,
	}
}

func TestGenerateEvents(t *testing.T) {
	_ = logger.Init()

	Convey("Given a seeded demo population", t, func() {
		cfg := testConfig("")
		ctx := context.Background()

		Convey("Every generated event is valid and references seeded ids", func() {
			events, err := generateEvents(ctx, cfg, &Stats{})
			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, cfg.NumEvents)

			seen := map[model.Kind]bool{}
			for _, ev := range events {
				So(ev.Validate(), ShouldBeNil)
				seen[ev.Kind] = true

				subject := ev.Subject()
				So(subject, ShouldBeGreaterThanOrEqualTo, memdir.FirstUserID)
				So(subject, ShouldBeLessThan, memdir.FirstUserID+int64(cfg.Users))
				if ev.Kind.NeedsCourse() {
					So(ev.CourseID, ShouldBeGreaterThanOrEqualTo, memdir.FirstCourseID)
					So(ev.CourseID, ShouldBeLessThan, memdir.FirstCourseID+int64(cfg.Courses))
				}
				if ev.ObjectID != 0 {
					first := memdir.FirstItemID + (ev.CourseID-memdir.FirstCourseID)*memdir.ItemsPerCourse
					So(ev.ObjectID, ShouldBeGreaterThan, first)
					So(ev.ObjectID, ShouldBeLessThan, first+memdir.ItemsPerCourse)
				}
			}
			So(seen, ShouldHaveLength, len(model.Kinds()))
		})

		Convey("Equal seeds give equal events", func() {
			a, err := generateEvents(ctx, cfg, &Stats{})
			So(err, ShouldBeNil)
			b, err := generateEvents(ctx, cfg, &Stats{})
			So(err, ShouldBeNil)
			for i := range a {
				a[i].OccurredAt, b[i].OccurredAt = 0, 0
			}
			So(a, ShouldResemble, b)
		})

		Convey("An empty directory is rejected", func() {
			cfg.Users = 0
			_, err := generateEvents(ctx, cfg, &Stats{})
			So(err, ShouldEqual, ErrEmptyDirectory)
		})

		Convey("Redelivery picks a stable subset", func() {
			events, _ := generateEvents(ctx, cfg, &Stats{})
			So(redeliveries(events, 0, cfg.Seed), ShouldBeNil)
			first := redeliveries(events, 0.5, cfg.Seed)
			So(first, ShouldResemble, redeliveries(events, 0.5, cfg.Seed))
			So(len(first), ShouldBeLessThanOrEqualTo, len(events))
		})
	})
}

func TestClassify(t *testing.T) {
	Convey("Responses from /events are classified", t, func() {
		So(classify(http.StatusAccepted, nil), ShouldEqual, resultEnqueued)
		So(classify(http.StatusOK, []byte(`{"status":"duplicate"}`)), ShouldEqual, resultDuplicate)
		So(classify(http.StatusOK, []byte(`{"status":"discarded","reason":"guest"}`)), ShouldEqual, resultDiscarded)
		So(classify(http.StatusOK, []byte(`not json`)), ShouldEqual, resultFailed)
		So(classify(http.StatusBadRequest, nil), ShouldEqual, resultRejected)
		So(classify(http.StatusServiceUnavailable, nil), ShouldEqual, resultFailed)
	})
}

// fakeBridge acknowledges each idempotency key once and reports a queue
// that drains after a few polls.
type fakeBridge struct {
	mu        sync.Mutex
	seen      map[string]bool
	statPolls int
}

func (b *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/healthz":
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case "/events":
		var ev model.DomainEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Validate() != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		dup := b.seen[ev.IdempotencyKey()]
		b.seen[ev.IdempotencyKey()] = true
		b.mu.Unlock()
		if dup {
			_ = json.NewEncoder(w).Encode(AckResponse{Status: resultDuplicate})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(AckResponse{Status: resultEnqueued, TaskID: "t"})
	case "/stats":
		b.mu.Lock()
		b.statPolls++
		remaining := max(0, 2-b.statPolls)
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"queueLength": remaining})
	case "/failures":
		_, _ = w.Write([]byte(`[]`))
	default:
		http.NotFound(w, r)
	}
}

func TestRun(t *testing.T) {
	_ = logger.Init()

	Convey("Given a bridge that acknowledges and drains", t, func() {
		bridge := &fakeBridge{seen: map[string]bool{}}
		srv := httptest.NewServer(bridge)
		defer srv.Close()

		cfg := testConfig(srv.URL)
		cfg.OutputFile = filepath.Join(t.TempDir(), "out", "events.json")

		Convey("A run submits, redelivers, drains and saves the events", func() {
			So(Run(context.Background(), cfg), ShouldBeNil)

			bridge.mu.Lock()
			unique := len(bridge.seen)
			bridge.mu.Unlock()
			So(unique, ShouldEqual, cfg.NumEvents)

			data, err := os.ReadFile(cfg.OutputFile)
			So(err, ShouldBeNil)
			var saved []model.DomainEvent
			So(json.Unmarshal(data, &saved), ShouldBeNil)
			So(saved, ShouldHaveLength, cfg.NumEvents)
		})

		Convey("Tallies account for every submission", func() {
			stats := &Stats{}
			events, err := generateEvents(context.Background(), cfg, stats)
			So(err, ShouldBeNil)
			submitEvents(context.Background(), cfg, events, stats)
			submitEvents(context.Background(), cfg, events[:10], stats)

			So(stats.EventsSubmitted, ShouldEqual, cfg.NumEvents+10)
			So(stats.EventsEnqueued, ShouldEqual, cfg.NumEvents)
			So(stats.EventsDuplicate, ShouldEqual, 10)
			So(verifyResults(context.Background(), cfg, stats), ShouldBeNil)
		})
	})

	Convey("Given a bridge that never drains", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"queueLength": 3}`))
		}))
		defer srv.Close()

		cfg := testConfig(srv.URL)
		cfg.DrainTimeout = 1200 * time.Millisecond
		stats := &Stats{}

		Convey("waitForDrain gives up with the remaining count", func() {
			err := waitForDrain(context.Background(), cfg, stats)
			So(errors.Is(err, ErrNotDrained), ShouldBeTrue)
			So(stats.QueueDrained, ShouldBeFalse)
			So(stats.QueueRemaining, ShouldEqual, 3)
		})
	})
}
