package testevents

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/okian/lmsbridge/internal/adapters/memdir"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
)

// ErrEmptyDirectory is returned when no users or courses are available to
// reference.
var ErrEmptyDirectory = errors.New("testevents: users and courses must be positive")

// graderUserID is the actor on grade events. It is the first seeded
// student; the bridge only cares about the related user.
const graderUserID = memdir.FirstUserID

// generateEvents creates cfg.NumEvents events cycling through every kind,
// with ids drawn from the seeded demo directory. Equal seeds produce equal
// slices.
func generateEvents(ctx context.Context, cfg *Config, stats *Stats) ([]model.DomainEvent, error) {
	if cfg.Users < 1 || cfg.Courses < 1 {
		return nil, ErrEmptyDirectory
	}
	logger.Get().Info(ctx, "generating events", logger.Int("numEvents", cfg.NumEvents))

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)) //nolint:gosec // reproducible load, not security
	kinds := model.Kinds()
	base := time.Now().Unix()

	events := make([]model.DomainEvent, 0, cfg.NumEvents)
	for i := range cfg.NumEvents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kind := kinds[i%len(kinds)]
		events = append(events, generateSingleEvent(rng, cfg, kind, base+int64(i)))
	}

	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "generated events", logger.Int("count", len(events)))
	return events, nil
}

// generateSingleEvent fills in the identifiers the given kind requires.
func generateSingleEvent(rng *rand.Rand, cfg *Config, kind model.Kind, at int64) model.DomainEvent {
	userID := memdir.FirstUserID + rng.Int64N(int64(cfg.Users))
	c := rng.Int64N(int64(cfg.Courses))
	courseID := memdir.FirstCourseID + c

	ev := model.DomainEvent{Kind: kind, ActorUserID: userID, OccurredAt: at}
	switch {
	case kind.IsGradeKind():
		ev.ActorUserID = graderUserID
		ev.RelatedUserID = userID
		ev.CourseID = courseID
		ev.ObjectID = itemID(rng, c)
	case kind.IsStructuralKind():
		ev.CourseID = courseID
		ev.ObjectID = itemID(rng, c)
	case kind.NeedsCourse():
		ev.CourseID = courseID
	}
	return ev
}

// itemID picks one of the weighted items of the course at index c. The
// course total is skipped since the host never raises item events for it.
func itemID(rng *rand.Rand, c int64) int64 {
	first := memdir.FirstItemID + c*memdir.ItemsPerCourse
	return first + 1 + rng.Int64N(memdir.ItemsPerCourse-1)
}

// redeliveries picks a deterministic subset of events to post twice.
func redeliveries(events []model.DomainEvent, fraction float64, seed uint64) []model.DomainEvent {
	if fraction <= 0 || len(events) == 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed+1, seed)) //nolint:gosec // reproducible load, not security
	out := make([]model.DomainEvent, 0, int(float64(len(events))*fraction)+1)
	for _, ev := range events {
		if rng.Float64() < fraction {
			out = append(out, ev)
		}
	}
	return out
}
