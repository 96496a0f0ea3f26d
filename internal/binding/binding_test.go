package binding

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flamerun/flame/internal/cache"
	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/internal/scheduler"
	"github.com/flamerun/flame/internal/store"
	"github.com/flamerun/flame/pkg/flameapi"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log
}

type fakeNotifier struct {
	mu          sync.Mutex
	assignments map[string]Assignment
	refuse      map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{assignments: make(map[string]Assignment), refuse: make(map[string]bool)}
}

func (f *fakeNotifier) NotifyBind(executorID string, a Assignment) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse[executorID] {
		return false
	}
	f.assignments[executorID] = a
	return true
}

func (f *fakeNotifier) get(executorID string) (Assignment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[executorID]
	return a, ok
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	repo, err := store.OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "flame.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return cache.New(repo)
}

// Pairing is FIFO within an application to minimise bind latency variance
// (§4.I).
func TestCoordinatorPairsFIFOPerApplication(t *testing.T) {
	c := newTestCache(t)
	c.PutExecutor(&flameapi.Executor{ID: "e1", State: flameapi.ExecutorIdle})
	c.PutExecutor(&flameapi.Executor{ID: "e2", State: flameapi.ExecutorIdle})

	q := scheduler.NewBindQueue()
	q.Push(scheduler.BindRequest{SessionID: "s1", Application: "A"})
	q.Push(scheduler.BindRequest{SessionID: "s2", Application: "A"})

	notifier := newFakeNotifier()
	coord := New(q, c, notifier, testLogger(t), time.Hour)
	coord.Tick()

	a1, ok1 := notifier.get("e1")
	a2, ok2 := notifier.get("e2")
	if !ok1 || !ok2 {
		t.Fatalf("expected both executors assigned, got e1=%v e2=%v", ok1, ok2)
	}
	if a1.SessionID != "s1" || a2.SessionID != "s2" {
		t.Fatalf("expected FIFO pairing s1->e1, s2->e2, got %+v %+v", a1, a2)
	}

	e1, _ := c.GetExecutor("e1")
	if e1.State != flameapi.ExecutorBinding || e1.SessionID != "s1" {
		t.Fatalf("expected e1 transitioned to Binding for s1, got %+v", e1)
	}
}

func TestCoordinatorNoIdleExecutorsLeavesQueueIntact(t *testing.T) {
	c := newTestCache(t)
	q := scheduler.NewBindQueue()
	q.Push(scheduler.BindRequest{SessionID: "s1", Application: "A"})

	notifier := newFakeNotifier()
	coord := New(q, c, notifier, testLogger(t), time.Hour)
	coord.Tick()

	if q.Len("A") != 1 {
		t.Fatalf("expected request to remain queued with no idle executors, got len=%d", q.Len("A"))
	}
}

// An executor that vanishes between snapshot and delivery returns its
// request to the queue for the next tick to retry.
func TestCoordinatorRequeuesOnRefusedNotify(t *testing.T) {
	c := newTestCache(t)
	c.PutExecutor(&flameapi.Executor{ID: "e1", State: flameapi.ExecutorIdle})

	q := scheduler.NewBindQueue()
	q.Push(scheduler.BindRequest{SessionID: "s1", Application: "A"})

	notifier := newFakeNotifier()
	notifier.refuse["e1"] = true
	coord := New(q, c, notifier, testLogger(t), time.Hour)
	coord.Tick()

	if q.Len("A") != 1 {
		t.Fatalf("expected request requeued after refused notify, got len=%d", q.Len("A"))
	}
	if _, ok := notifier.get("e1"); ok {
		t.Fatalf("expected no assignment recorded for refused notify")
	}
}

func TestCoordinatorIdleExecutorsAreSharedAcrossApplications(t *testing.T) {
	c := newTestCache(t)
	c.PutExecutor(&flameapi.Executor{ID: "e1", State: flameapi.ExecutorIdle})

	q := scheduler.NewBindQueue()
	q.Push(scheduler.BindRequest{SessionID: "s1", Application: "B"})

	notifier := newFakeNotifier()
	coord := New(q, c, notifier, testLogger(t), time.Hour)
	coord.Tick()

	a, ok := notifier.get("e1")
	if !ok || a.Application != "B" {
		t.Fatalf("expected the shared idle executor to bind to application B, got %+v ok=%v", a, ok)
	}
}
