package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lmsbridge/internal/adapters/repository"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
)

func newTestQueue(t *testing.T, path string, opts ...Option) (*DurableQueue, *repository.SQLiteStore) {
	t.Helper()
	_ = logger.Init()
	store, err := repository.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	q := NewDurableQueue(store, append([]Option{WithPollInterval(time.Hour)}, opts...)...)
	t.Cleanup(func() { _ = q.Close() })
	return q, store
}

func receive(t *testing.T, ctx context.Context, q *DurableQueue) model.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	return task
}

func TestDurableQueue_BasicOperations(t *testing.T) {
	q, _ := newTestQueue(t, filepath.Join(t.TempDir(), "q.sqlite"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	id, err := q.Enqueue(ctx, model.Payload{"action": "user_loggedin"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected a task id")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	task := receive(t, ctx, q)
	if task.ID != id || task.Status != model.TaskInFlight {
		t.Errorf("unexpected task %s/%s", task.ID, task.Status)
	}
}

func TestDurableQueue_EnqueueWakesIdleConsumer(t *testing.T) {
	q, _ := newTestQueue(t, filepath.Join(t.TempDir(), "q.sqlite"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan model.Task, 1)
	go func() {
		if task, err := q.Dequeue(ctx); err == nil {
			got <- task
		}
	}()
	// Let the consumer find the queue empty and go idle; the hour-long poll
	// interval means only the enqueue signal can wake it.
	time.Sleep(50 * time.Millisecond)

	id, err := q.Enqueue(ctx, model.Payload{"action": "course_viewed"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case task := <-got:
		if task.ID != id {
			t.Errorf("got %s, want %s", task.ID, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle consumer was not woken")
	}
}

func TestDurableQueue_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.sqlite")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = logger.Init()
	store, err := repository.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	q := NewDurableQueue(store)
	id, err := q.Enqueue(ctx, model.Payload{"action": "grade_updated"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_ = q.Close()
	_ = store.Close()

	restarted, _ := newTestQueue(t, path)
	if task := receive(t, ctx, restarted); task.ID != id {
		t.Errorf("got %s after restart, want %s", task.ID, id)
	}
}

func TestDurableQueue_ConcurrentConsumers(t *testing.T) {
	q, _ := newTestQueue(t, filepath.Join(t.TempDir(), "q.sqlite"), WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 30
	for i := 0; i < n; i++ {
		if _, err := q.Enqueue(ctx, model.Payload{"n": i}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[uuid.UUID]bool)
		wg   sync.WaitGroup
		got  = make(chan struct{}, n)
	)
	for c := 0; c < 3; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				if seen[task.ID] {
					t.Errorf("task %s delivered twice", task.ID)
				}
				seen[task.ID] = true
				mu.Unlock()
				got <- struct{}{}
			}
		}()
	}

	for i := 0; i < n; i++ {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d tasks consumed", i, n)
		}
	}
	cancel()
	wg.Wait()
}

func TestDurableQueue_Close(t *testing.T) {
	q, _ := newTestQueue(t, filepath.Join(t.TempDir(), "q.sqlite"))
	ctx := context.Background()

	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed from a blocked dequeue, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked dequeue not released by close")
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if _, err := q.Enqueue(ctx, model.Payload{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestDurableQueue_RequeueWakesConsumer(t *testing.T) {
	q, store := newTestQueue(t, filepath.Join(t.TempDir(), "q.sqlite"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := q.Enqueue(ctx, model.Payload{"action": "grade_updated"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task := receive(t, ctx, q)
	if err := store.Fail(ctx, task.ID, "HTTP 500"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := q.Requeue(ctx, id); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	again := receive(t, ctx, q)
	if again.ID != id {
		t.Errorf("expected requeued task %s, got %s", id, again.ID)
	}
	if again.Attempts != 1 {
		t.Errorf("expected a fresh attempt budget, got %d attempts", again.Attempts)
	}

	if err := q.Requeue(ctx, uuid.New()); !errors.Is(err, repository.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDurableQueue_SlowConsumerSeesEachTaskOnce(t *testing.T) {
	const (
		lease    = 200 * time.Millisecond
		delivery = 150 * time.Millisecond
	)
	q, store := newTestQueue(t, filepath.Join(t.TempDir(), "q.sqlite"),
		WithLease(lease), WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := q.Enqueue(ctx, model.Payload{"action": "user_loggedin"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	b, err := q.Enqueue(ctx, model.Payload{"action": "user_loggedout"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Each delivery fits inside the lease, so no task may be handed out twice
	// or have its attempt spent while it waits behind the previous one.
	seen := map[uuid.UUID]int{}
	for i := 0; i < 2; i++ {
		task := receive(t, ctx, q)
		seen[task.ID]++
		if task.Attempts != 1 {
			t.Errorf("task %s claimed with %d attempts, want 1", task.ID, task.Attempts)
		}
		time.Sleep(delivery)
		if err := store.Complete(ctx, task.ID); err != nil {
			t.Fatalf("complete %s: %v", task.ID, err)
		}
	}
	if seen[a] != 1 || seen[b] != 1 {
		t.Fatalf("expected a and b once each, got %v", seen)
	}

	waitCtx, done := context.WithTimeout(ctx, lease+100*time.Millisecond)
	defer done()
	if task, err := q.Dequeue(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected nothing left to deliver, got task %s err %v", task.ID, err)
	}
}

func TestDurableQueue_CancelledDequeueClaimsNothing(t *testing.T) {
	q, store := newTestQueue(t, filepath.Join(t.TempDir(), "q.sqlite"))

	id, err := q.Enqueue(context.Background(), model.Payload{"action": "course_viewed"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	task, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != model.TaskPending || task.Attempts != 0 {
		t.Errorf("expected untouched pending task, got %s with %d attempts", task.Status, task.Attempts)
	}
}
