package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/pkg/flameapi"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "flame.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustRegisterApp(t *testing.T, s *Store, name string) {
	t.Helper()
	if _, err := s.RegisterApplication(context.Background(), name, flameapi.ApplicationSpec{
		Shim: flameapi.ShimHost, MaxInstances: 4,
	}); err != nil {
		t.Fatalf("register application %q: %v", name, err)
	}
}

func TestRegisterApplicationDuplicate(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	_, err := s.RegisterApplication(context.Background(), "A", flameapi.ApplicationSpec{Shim: flameapi.ShimHost})
	if !flerr.Is(err, flerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestUnregisterApplicationWithOpenSession(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	ctx := context.Background()
	if _, err := s.OpenSession(ctx, "s1", &flameapi.SessionSpec{Application: "A", Slots: 1}); err != nil {
		t.Fatalf("open_session: %v", err)
	}
	err := s.UnregisterApplication(ctx, "A")
	if !flerr.Is(err, flerr.InvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

// Scenario 2 — get-or-create (§8).
func TestOpenSessionGetOrCreate(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	ctx := context.Background()
	spec := &flameapi.SessionSpec{Application: "A", Slots: 1, MinInstances: 0, MaxInstances: intptr(10)}

	first, err := s.OpenSession(ctx, "sess-1", spec)
	if err != nil {
		t.Fatalf("first open_session: %v", err)
	}
	if first.State != flameapi.SessionOpen {
		t.Fatalf("expected Open, got %s", first.State)
	}

	second, err := s.OpenSession(ctx, "sess-1", spec)
	if err != nil {
		t.Fatalf("second open_session: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same session id, got %s vs %s", second.ID, first.ID)
	}

	mismatched := &flameapi.SessionSpec{Application: "A", Slots: 2, MinInstances: 0, MaxInstances: intptr(10)}
	_, err = s.OpenSession(ctx, "sess-1", mismatched)
	if !flerr.Is(err, flerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument on spec mismatch, got %v", err)
	}
}

func TestOpenSessionUnknownApplication(t *testing.T) {
	s := newTestStore(t)
	_, err := s.OpenSession(context.Background(), "s1", &flameapi.SessionSpec{Application: "missing", Slots: 1})
	if !flerr.Is(err, flerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestOpenSessionNoSpecNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.OpenSession(context.Background(), "missing", nil)
	if !flerr.Is(err, flerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestOpenSessionClosedIsInvalidState(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	ctx := context.Background()
	spec := &flameapi.SessionSpec{Application: "A", Slots: 1}
	if _, err := s.OpenSession(ctx, "s1", spec); err != nil {
		t.Fatalf("open_session: %v", err)
	}
	if _, err := s.CloseSession(ctx, "s1"); err != nil {
		t.Fatalf("close_session: %v", err)
	}
	_, err := s.OpenSession(ctx, "s1", spec)
	if !flerr.Is(err, flerr.InvalidState) {
		t.Fatalf("expected InvalidState for reopening closed session, got %v", err)
	}
}

// Scenario 5 — close with pending tasks (§8).
func TestCloseSessionFailsPendingTasks(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	ctx := context.Background()
	if _, err := s.OpenSession(ctx, "s1", &flameapi.SessionSpec{Application: "A", Slots: 1}); err != nil {
		t.Fatalf("open_session: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.CreateTask(ctx, "s1", []byte("in"), true); err != nil {
			t.Fatalf("create_task: %v", err)
		}
	}
	running, err := s.LaunchTask(ctx, "s1")
	if err != nil || running == nil {
		t.Fatalf("launch_task: %v %v", running, err)
	}

	sess, err := s.CloseSession(ctx, "s1")
	if err != nil {
		t.Fatalf("close_session: %v", err)
	}
	if sess.Counters.Pending != 0 {
		t.Errorf("expected 0 pending after close, got %d", sess.Counters.Pending)
	}
	if sess.Counters.Failed != 2 {
		t.Errorf("expected 2 failed (the non-running pending tasks), got %d", sess.Counters.Failed)
	}
	if sess.Counters.Running != 1 {
		t.Errorf("expected 1 still-running task left alone, got %d", sess.Counters.Running)
	}

	// close_session applied twice equals once (§8 idempotence law).
	again, err := s.CloseSession(ctx, "s1")
	if err != nil {
		t.Fatalf("second close_session: %v", err)
	}
	if again.State != flameapi.SessionClosed || again.Counters != sess.Counters {
		t.Fatalf("expected idempotent close, got %+v vs %+v", again, sess)
	}

	// No new task may be created post-close.
	if _, err := s.CreateTask(ctx, "s1", nil, false); !flerr.Is(err, flerr.InvalidState) {
		t.Fatalf("expected InvalidState creating task on closed session, got %v", err)
	}
}

func TestCreateTaskIDsAreMonotonicPerSession(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	ctx := context.Background()
	if _, err := s.OpenSession(ctx, "s1", &flameapi.SessionSpec{Application: "A", Slots: 1}); err != nil {
		t.Fatalf("open_session: %v", err)
	}
	for i := int64(1); i <= 5; i++ {
		task, err := s.CreateTask(ctx, "s1", []byte("x"), true)
		if err != nil {
			t.Fatalf("create_task %d: %v", i, err)
		}
		if task.ID != i {
			t.Fatalf("expected id %d, got %d", i, task.ID)
		}
		if task.State != flameapi.TaskPending {
			t.Fatalf("expected Pending, got %s", task.State)
		}
	}
}

func TestTaskInputAbsentVsEmpty(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	ctx := context.Background()
	if _, err := s.OpenSession(ctx, "s1", &flameapi.SessionSpec{Application: "A", Slots: 1}); err != nil {
		t.Fatalf("open_session: %v", err)
	}

	absent, err := s.CreateTask(ctx, "s1", nil, false)
	if err != nil {
		t.Fatalf("create_task absent: %v", err)
	}
	if absent.InputSet {
		t.Fatalf("expected input not set")
	}

	present, err := s.CreateTask(ctx, "s1", []byte{}, true)
	if err != nil {
		t.Fatalf("create_task empty: %v", err)
	}
	if !present.InputSet || present.Input == nil {
		t.Fatalf("expected present-but-empty input to survive round-trip, got %+v", present)
	}

	reloadedAbsent, err := s.GetTask(ctx, "s1", absent.ID)
	if err != nil {
		t.Fatalf("get_task absent: %v", err)
	}
	if reloadedAbsent.InputSet {
		t.Fatalf("expected absent input to stay unset after round-trip")
	}

	reloadedPresent, err := s.GetTask(ctx, "s1", present.ID)
	if err != nil {
		t.Fatalf("get_task present: %v", err)
	}
	if !reloadedPresent.InputSet || reloadedPresent.Input == nil {
		t.Fatalf("expected present-but-empty input to round-trip, got %+v", reloadedPresent)
	}
}

// §8: launch_task performs the at-most-once Pending -> Running transition.
func TestLaunchTaskAtMostOnce(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	ctx := context.Background()
	if _, err := s.OpenSession(ctx, "s1", &flameapi.SessionSpec{Application: "A", Slots: 1}); err != nil {
		t.Fatalf("open_session: %v", err)
	}
	if _, err := s.CreateTask(ctx, "s1", []byte("1"), true); err != nil {
		t.Fatalf("create_task: %v", err)
	}

	task, err := s.LaunchTask(ctx, "s1")
	if err != nil || task == nil {
		t.Fatalf("first launch_task: %v %v", task, err)
	}
	if task.State != flameapi.TaskRunning {
		t.Fatalf("expected Running, got %s", task.State)
	}

	again, err := s.LaunchTask(ctx, "s1")
	if err != nil {
		t.Fatalf("second launch_task: %v", err)
	}
	if again != nil {
		t.Fatalf("expected no pending task left, got %+v", again)
	}
}

func TestUpdateTaskStateLegalTransitionsAndIdempotence(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	ctx := context.Background()
	if _, err := s.OpenSession(ctx, "s1", &flameapi.SessionSpec{Application: "A", Slots: 1}); err != nil {
		t.Fatalf("open_session: %v", err)
	}
	if _, err := s.CreateTask(ctx, "s1", []byte("1"), true); err != nil {
		t.Fatalf("create_task: %v", err)
	}
	task, err := s.LaunchTask(ctx, "s1")
	if err != nil || task == nil {
		t.Fatalf("launch_task: %v %v", task, err)
	}

	// Illegal transition: Running -> Pending.
	_, err = s.UpdateTaskState(ctx, "s1", task.ID, flameapi.TaskPending, nil, false)
	if !flerr.Is(err, flerr.InvalidState) {
		t.Fatalf("expected InvalidState for illegal transition, got %v", err)
	}

	done, err := s.UpdateTaskState(ctx, "s1", task.ID, flameapi.TaskSucceed, []byte("out"), true)
	if err != nil {
		t.Fatalf("complete_task: %v", err)
	}
	if done.State != flameapi.TaskSucceed || done.CompletionTime == nil {
		t.Fatalf("expected Succeed with completion time, got %+v", done)
	}

	// Replaying complete_task with the same output is a no-op (§8).
	replay, err := s.UpdateTaskState(ctx, "s1", task.ID, flameapi.TaskSucceed, []byte("out"), true)
	if err != nil {
		t.Fatalf("replay complete_task: %v", err)
	}
	if replay.State != flameapi.TaskSucceed {
		t.Fatalf("expected replay to stay Succeed, got %s", replay.State)
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get_session: %v", err)
	}
	if sess.Counters.Succeed != 1 || sess.Counters.Pending != 0 || sess.Counters.Running != 0 {
		t.Fatalf("expected counters {succeed:1}, got %+v", sess.Counters)
	}
}

func TestListSessionsFilter(t *testing.T) {
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	mustRegisterApp(t, s, "B")
	ctx := context.Background()
	if _, err := s.OpenSession(ctx, "s1", &flameapi.SessionSpec{Application: "A", Slots: 1}); err != nil {
		t.Fatalf("open_session s1: %v", err)
	}
	if _, err := s.OpenSession(ctx, "s2", &flameapi.SessionSpec{Application: "B", Slots: 1}); err != nil {
		t.Fatalf("open_session s2: %v", err)
	}
	if _, err := s.CloseSession(ctx, "s2"); err != nil {
		t.Fatalf("close_session s2: %v", err)
	}

	onlyA, err := s.ListSessions(ctx, flameapi.SessionFilter{Application: "A"})
	if err != nil {
		t.Fatalf("list_sessions: %v", err)
	}
	if len(onlyA) != 1 || onlyA[0].ID != "s1" {
		t.Fatalf("expected only s1 for application A, got %+v", onlyA)
	}

	open, err := s.ListSessions(ctx, flameapi.SessionFilter{States: []flameapi.SessionState{flameapi.SessionOpen}})
	if err != nil {
		t.Fatalf("list_sessions open: %v", err)
	}
	if len(open) != 1 || open[0].ID != "s1" {
		t.Fatalf("expected only s1 open, got %+v", open)
	}
}

func TestMaxInstancesZeroOnSessionBlocksNothingAtStoreLevel(t *testing.T) {
	// max_instances=0 forbidding allocation is a scheduler-level boundary
	// (§8); the store must still round-trip the value faithfully.
	s := newTestStore(t)
	mustRegisterApp(t, s, "A")
	ctx := context.Background()
	zero := 0
	sess, err := s.OpenSession(ctx, "s1", &flameapi.SessionSpec{Application: "A", Slots: 1, MaxInstances: &zero})
	if err != nil {
		t.Fatalf("open_session: %v", err)
	}
	if sess.MaxInstances == nil || *sess.MaxInstances != 0 {
		t.Fatalf("expected max_instances 0 to round-trip, got %+v", sess.MaxInstances)
	}
}

func TestRecordAndListEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.RecordEvent(ctx, "s1", "", "bind_request", "granted 1 executor"); err != nil {
		t.Fatalf("record_event: %v", err)
	}
	if err := s.RecordEvent(ctx, "s1", "e1", "bind_assignment", "e1 -> s1"); err != nil {
		t.Fatalf("record_event with parent: %v", err)
	}
	events, err := s.ListEvents(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("list_events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for owner s1, got %d", len(events))
	}
}

func intptr(v int) *int { return &v }
