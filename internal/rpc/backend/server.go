// Package backend implements the Backend API of §4.F over the backendproto
// gRPC contract: the executor-facing surface that drives register/bind/
// launch/complete against the State Cache, Persistence Engine, and
// Scheduler.
package backend

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flamerun/flame/internal/binding"
	"github.com/flamerun/flame/internal/cache"
	"github.com/flamerun/flame/internal/constants"
	"github.com/flamerun/flame/internal/events"
	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/internal/rpc/backendproto"
	"github.com/flamerun/flame/internal/scheduler"
	"github.com/flamerun/flame/internal/store"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Server implements backendproto.Server and binding.Notifier: it is both the
// RPC surface executors drive and the delivery point the Binding Coordinator
// uses to hand a waiting bind_executor call its pairing.
type Server struct {
	repo      store.Repository
	cache     *cache.Cache
	recorder  *events.Recorder
	scheduler *scheduler.Scheduler
	log       *logger.Logger
	bindWait  time.Duration

	mu            sync.Mutex
	assigned      map[string]binding.Assignment
	waiting       map[string]chan binding.Assignment
	inFlight      map[string]int64 // executorID -> task id awaiting complete_task
	lastCompleted map[string]int64 // executorID -> most recently completed task id, for replay detection
}

// New builds a Backend server. bindWait is the configured bind_wait_ms; the
// effective per-call deadline is the smaller of it and constants.BindTimeout.
func New(repo store.Repository, c *cache.Cache, recorder *events.Recorder, sched *scheduler.Scheduler, log *logger.Logger, bindWait time.Duration) *Server {
	return &Server{
		repo:          repo,
		cache:         c,
		recorder:      recorder,
		scheduler:     sched,
		log:           log.WithFields(zap.String("component", "backend")),
		bindWait:      bindWait,
		assigned:      make(map[string]binding.Assignment),
		waiting:       make(map[string]chan binding.Assignment),
		inFlight:      make(map[string]int64),
		lastCompleted: make(map[string]int64),
	}
}

// NotifyBind delivers an assignment to executorID, either waking a blocked
// BindExecutor call or, if none is in flight yet, storing it so the
// executor's next call picks it up immediately (§4.I).
func (s *Server) NotifyBind(executorID string, a binding.Assignment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiting[executorID]; ok {
		delete(s.waiting, executorID)
		select {
		case ch <- a:
		default:
		}
		return true
	}
	s.assigned[executorID] = a
	return true
}

func (s *Server) RegisterExecutor(ctx context.Context, req *backendproto.RegisterExecutorRequest) (*backendproto.Empty, error) {
	s.cache.PutExecutor(&flameapi.Executor{
		ID:           req.ID,
		Slots:        req.Spec.Slots,
		State:        flameapi.ExecutorIdle,
		RegisteredAt: time.Now(),
	})
	s.recordEvent(events.Owner(events.OwnerExecutor, req.ID), events.ExecutorRegistered, "executor registered")
	return &backendproto.Empty{}, nil
}

func (s *Server) UnregisterExecutor(ctx context.Context, req *backendproto.ExecutorID) (*backendproto.Empty, error) {
	s.cache.RemoveExecutor(req.ID)
	s.mu.Lock()
	delete(s.assigned, req.ID)
	delete(s.waiting, req.ID)
	delete(s.inFlight, req.ID)
	delete(s.lastCompleted, req.ID)
	s.mu.Unlock()
	s.recordEvent(events.Owner(events.OwnerExecutor, req.ID), events.ExecutorUnregistered, "executor unregistered")
	return &backendproto.Empty{}, nil
}

// BindExecutor blocks until the Binding Coordinator pairs this executor with
// a session, or the effective bind timeout elapses, whichever is first
// (§4.F, §4.I).
func (s *Server) BindExecutor(ctx context.Context, req *backendproto.ExecutorID) (*flameapi.BindExecutorResult, error) {
	if _, err := s.cache.GetExecutor(req.ID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if a, ok := s.assigned[req.ID]; ok {
		delete(s.assigned, req.ID)
		s.mu.Unlock()
		return s.buildBindResult(ctx, req.ID, a)
	}
	ch := make(chan binding.Assignment, 1)
	s.waiting[req.ID] = ch
	s.mu.Unlock()

	deadline := s.bindWait
	if deadline <= 0 || deadline > constants.BindTimeout {
		deadline = constants.BindTimeout
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case a := <-ch:
		return s.buildBindResult(ctx, req.ID, a)
	case <-timer.C:
		s.mu.Lock()
		delete(s.waiting, req.ID)
		s.mu.Unlock()
		return nil, flerr.New(flerr.Unavailable, "bind_executor: no assignment before deadline")
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiting, req.ID)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (s *Server) buildBindResult(ctx context.Context, executorID string, a binding.Assignment) (*flameapi.BindExecutorResult, error) {
	app, err := s.cache.GetApplication(ctx, a.Application)
	if err != nil {
		return nil, err
	}
	session, err := s.cache.GetSession(ctx, a.SessionID)
	if err != nil {
		return nil, err
	}
	s.recordEvent(events.Owner(events.OwnerExecutor, executorID), events.ExecutorBindRequest, "bind assignment delivered")
	return &flameapi.BindExecutorResult{Application: app, Session: session}, nil
}

func (s *Server) BindExecutorCompleted(ctx context.Context, req *backendproto.ExecutorID) (*backendproto.Empty, error) {
	ex, err := s.cache.GetExecutor(req.ID)
	if err != nil {
		return nil, err
	}
	updated := *ex
	updated.State = flameapi.ExecutorBound
	s.cache.PutExecutor(&updated)
	s.recordEvent(events.Owner(events.OwnerExecutor, req.ID), events.ExecutorBound, "executor bound")
	return &backendproto.Empty{}, nil
}

// UnbindExecutor marks the executor Unbinding and clears any standing
// preempt flag for its session: once the Executor State Machine has
// observed preempted and started releasing, a second unbind is unnecessary
// (§4.D step 4, §4.G rule 2).
func (s *Server) UnbindExecutor(ctx context.Context, req *backendproto.ExecutorID) (*backendproto.Empty, error) {
	ex, err := s.cache.GetExecutor(req.ID)
	if err != nil {
		return nil, err
	}
	updated := *ex
	updated.State = flameapi.ExecutorUnbinding
	s.cache.PutExecutor(&updated)
	if s.scheduler != nil && ex.SessionID != "" {
		s.scheduler.Preempt.Clear(ex.SessionID)
	}
	s.recordEvent(events.Owner(events.OwnerExecutor, req.ID), events.ExecutorUnbinding, "executor unbinding")
	return &backendproto.Empty{}, nil
}

func (s *Server) UnbindExecutorCompleted(ctx context.Context, req *backendproto.ExecutorID) (*backendproto.Empty, error) {
	ex, err := s.cache.GetExecutor(req.ID)
	if err != nil {
		return nil, err
	}
	updated := *ex
	updated.State = flameapi.ExecutorIdle
	updated.Application = ""
	updated.SessionID = ""
	s.cache.PutExecutor(&updated)
	s.mu.Lock()
	delete(s.inFlight, req.ID)
	s.mu.Unlock()
	s.recordEvent(events.Owner(events.OwnerExecutor, req.ID), events.ExecutorIdle, "executor idle")
	if s.scheduler != nil {
		s.scheduler.Nudge()
	}
	return &backendproto.Empty{}, nil
}

// LaunchTask performs the at-most-once dispatch of §4.F against the bound
// executor's session and reports whether the Scheduler wants this binding
// released once the executor next has no work (§4.G Bound -> Unbinding).
func (s *Server) LaunchTask(ctx context.Context, req *backendproto.ExecutorID) (*flameapi.LaunchTaskResult, error) {
	ex, err := s.cache.GetExecutor(req.ID)
	if err != nil {
		return nil, err
	}
	if ex.State != flameapi.ExecutorBound {
		return nil, flerr.InvalidStatef("executor %q is not Bound", req.ID)
	}
	return s.launchFor(ctx, req.ID, ex.SessionID)
}

func (s *Server) launchFor(ctx context.Context, executorID, sessionID string) (*flameapi.LaunchTaskResult, error) {
	task, err := s.repo.LaunchTask(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	preempted := s.scheduler != nil && s.scheduler.Preempt.Marked(sessionID)

	s.mu.Lock()
	if task != nil {
		s.inFlight[executorID] = task.ID
	} else {
		delete(s.inFlight, executorID)
	}
	s.mu.Unlock()

	if task != nil {
		s.recordEvent(events.TaskOwner(sessionID, task.ID), events.TaskRunning, "task launched")
	}
	return &flameapi.LaunchTaskResult{Task: task, Preempted: preempted}, nil
}

// CompleteTask records the in-flight task's terminal state and, as an
// optimisation, returns the executor's next task in the same round trip
// (§4.F). A duplicated call for a task this executor already completed is
// treated as a no-op replay rather than an error (§4.F ordering/retries,
// §8 idempotence law), since the underlying store transition is itself
// idempotent but the in-flight tracking here would otherwise have already
// forgotten the task id by the time a retry arrives.
func (s *Server) CompleteTask(ctx context.Context, req *flameapi.CompleteTaskRequest) (*flameapi.LaunchTaskResult, error) {
	ex, err := s.cache.GetExecutor(req.ExecutorID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	taskID, ok := s.inFlight[req.ExecutorID]
	if ok {
		delete(s.inFlight, req.ExecutorID)
	} else {
		taskID, ok = s.lastCompleted[req.ExecutorID]
	}
	s.mu.Unlock()
	if !ok {
		return nil, flerr.InvalidStatef("executor %q has no in-flight task", req.ExecutorID)
	}

	if req.Failed {
		if _, err := s.repo.UpdateTaskState(ctx, ex.SessionID, taskID, flameapi.TaskFailed, nil, false); err != nil {
			return nil, err
		}
		s.recordEvent(events.TaskOwner(ex.SessionID, taskID), events.TaskFailed, req.FailureMessage)
	} else {
		if _, err := s.repo.UpdateTaskState(ctx, ex.SessionID, taskID, flameapi.TaskSucceed, req.Output, req.OutputSet); err != nil {
			return nil, err
		}
		s.recordEvent(events.TaskOwner(ex.SessionID, taskID), events.TaskSucceeded, "task succeeded")
	}

	s.mu.Lock()
	s.lastCompleted[req.ExecutorID] = taskID
	s.mu.Unlock()

	if ex.State != flameapi.ExecutorBound {
		return &flameapi.LaunchTaskResult{}, nil
	}
	return s.launchFor(ctx, req.ExecutorID, ex.SessionID)
}

func (s *Server) recordEvent(owner, code, message string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(owner, "", code, message)
}
