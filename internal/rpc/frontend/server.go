// Package frontend implements the Frontend API of §4.E over the
// frontendproto gRPC contract, backed by the State Cache for reads/writes
// on hot sessions and the Persistence Engine for everything else.
package frontend

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flamerun/flame/internal/cache"
	"github.com/flamerun/flame/internal/constants"
	"github.com/flamerun/flame/internal/events"
	"github.com/flamerun/flame/internal/events/bus"
	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/internal/rpc/frontendproto"
	"github.com/flamerun/flame/internal/scheduler"
	"github.com/flamerun/flame/internal/store"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Server implements frontendproto.Server.
type Server struct {
	repo      store.Repository
	cache     *cache.Cache
	recorder  *events.Recorder
	scheduler *scheduler.Scheduler
	log       *logger.Logger

	watchers *watchHub
}

// New builds a Frontend server. When eventBus is non-nil, the server
// subscribes to task lifecycle events on it so that watch_task streams also
// observe the Running/Succeed/Failed transitions driven by the Backend API's
// separate Server instance (§4.E, §4.F), not just the task's creation.
func New(repo store.Repository, c *cache.Cache, recorder *events.Recorder, sched *scheduler.Scheduler, log *logger.Logger, eventBus bus.EventBus) *Server {
	s := &Server{
		repo:      repo,
		cache:     c,
		recorder:  recorder,
		scheduler: sched,
		log:       log.WithFields(zap.String("component", "frontend")),
		watchers:  newWatchHub(),
	}
	if eventBus != nil {
		if _, err := eventBus.Subscribe(events.Owner(events.OwnerTask, ">"), s.onTaskEvent); err != nil {
			s.log.Warn("subscribe to task events failed; watch_task will only see creation snapshots", zap.Error(err))
		}
	}
	return s
}

// onTaskEvent re-fetches the task named by a task-scoped bus event and
// forwards it to any watch_task streams subscribed to it. Task creation is
// already delivered synchronously from CreateTask, so this only needs to
// cover state transitions driven elsewhere (the Backend API's launch_task
// and complete_task).
func (s *Server) onTaskEvent(ctx context.Context, event *bus.Event) error {
	if event.Type == events.TaskCreated {
		return nil
	}
	sessionID, taskID, ok := events.ParseTaskOwner(event.Source)
	if !ok {
		return nil
	}
	task, err := s.repo.GetTask(ctx, sessionID, taskID)
	if err != nil {
		return nil
	}
	s.watchers.notify(sessionID, taskID, task)
	return nil
}

func (s *Server) RegisterApplication(ctx context.Context, req *flameapi.RegisterApplicationRequest) (*flameapi.Application, error) {
	app, err := s.repo.RegisterApplication(ctx, req.Name, req.Spec)
	if err != nil {
		return nil, err
	}
	s.cache.PutApplication(app)
	s.recordEvent(events.Owner(events.OwnerApplication, app.Name), events.ApplicationRegistered, "application registered")
	return app, nil
}

// UnregisterApplication rejects applications with open sessions with
// InvalidState; the check is performed atomically inside
// store.UnregisterApplication's transaction (§4.A, §4.E).
func (s *Server) UnregisterApplication(ctx context.Context, req *flameapi.ApplicationNameRequest) (*frontendproto.Empty, error) {
	if err := s.repo.UnregisterApplication(ctx, req.Name); err != nil {
		return nil, err
	}
	s.cache.RemoveApplication(req.Name)
	s.recordEvent(events.Owner(events.OwnerApplication, req.Name), events.ApplicationUnregistered, "application unregistered")
	return &frontendproto.Empty{}, nil
}

func (s *Server) UpdateApplication(ctx context.Context, req *flameapi.UpdateApplicationRequest) (*flameapi.Application, error) {
	app, err := s.repo.UpdateApplication(ctx, req.Name, req.Spec)
	if err != nil {
		return nil, err
	}
	s.cache.PutApplication(app)
	return app, nil
}

func (s *Server) ListApplications(ctx context.Context, _ *frontendproto.Empty) (*flameapi.ListApplicationsResult, error) {
	apps, err := s.repo.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	return &flameapi.ListApplicationsResult{Applications: apps}, nil
}

func (s *Server) CreateSession(ctx context.Context, req *flameapi.CreateSessionRequest) (*flameapi.Session, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	session, err := s.repo.OpenSession(ctx, id, &req.Spec)
	if err != nil {
		return nil, err
	}
	s.cache.PutSession(session)
	s.recordEvent(events.Owner(events.OwnerSession, session.ID), events.SessionOpened, "session created")
	if s.scheduler != nil {
		s.scheduler.Nudge()
	}
	return session, nil
}

func (s *Server) OpenSession(ctx context.Context, req *flameapi.OpenSessionRequest) (*flameapi.Session, error) {
	session, err := s.repo.OpenSession(ctx, req.ID, req.Spec)
	if err != nil {
		return nil, err
	}
	s.cache.PutSession(session)
	if req.Spec != nil {
		s.recordEvent(events.Owner(events.OwnerSession, session.ID), events.SessionOpened, "session opened")
		if s.scheduler != nil {
			s.scheduler.Nudge()
		}
	}
	return session, nil
}

func (s *Server) CloseSession(ctx context.Context, req *flameapi.SessionIDRequest) (*flameapi.Session, error) {
	session, err := s.repo.CloseSession(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	s.cache.PutSession(session)
	s.recordEvent(events.Owner(events.OwnerSession, session.ID), events.SessionClosed, "session closed")
	if s.scheduler != nil {
		s.scheduler.Nudge()
	}
	s.watchers.closeSession(session.ID)
	return session, nil
}

func (s *Server) GetSession(ctx context.Context, req *flameapi.SessionIDRequest) (*flameapi.Session, error) {
	return s.cache.GetSession(ctx, req.ID)
}

func (s *Server) ListSessions(ctx context.Context, req *flameapi.ListSessionsRequest) (*flameapi.ListSessionsResult, error) {
	sessions, err := s.repo.ListSessions(ctx, req.Filter)
	if err != nil {
		return nil, err
	}
	return &flameapi.ListSessionsResult{Sessions: sessions}, nil
}

func (s *Server) CreateTask(ctx context.Context, req *flameapi.CreateTaskRequest) (*flameapi.Task, error) {
	task, err := s.repo.CreateTask(ctx, req.SessionID, req.Input, req.InputSet)
	if err != nil {
		return nil, err
	}
	s.recordEvent(events.TaskOwner(req.SessionID, task.ID), events.TaskCreated, "task created")
	if s.scheduler != nil {
		s.scheduler.Nudge()
	}
	s.watchers.notify(req.SessionID, task.ID, task)
	return task, nil
}

func (s *Server) GetTask(ctx context.Context, req *flameapi.TaskIDRequest) (*flameapi.Task, error) {
	return s.repo.GetTask(ctx, req.SessionID, req.TaskID)
}

// WatchTask streams task snapshots until the task reaches a terminal state
// or its session closes (§4.E watch semantics). The lazy sequence starts
// with the task's current snapshot so a late subscriber still observes at
// least one state.
func (s *Server) WatchTask(req *flameapi.TaskIDRequest, stream frontendproto.WatchTaskServer) error {
	ctx := stream.Context()
	task, err := s.repo.GetTask(ctx, req.SessionID, req.TaskID)
	if err != nil {
		return err
	}
	if err := stream.Send(task); err != nil {
		return err
	}
	if isTerminal(task.State) {
		return nil
	}

	sub := s.watchers.subscribe(req.SessionID, req.TaskID)
	defer s.watchers.unsubscribe(req.SessionID, req.TaskID, sub)

	idle := time.NewTicker(constants.WatchTaskIdle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
			if err := stream.Send(task); err != nil {
				return err
			}
		case snapshot, ok := <-sub:
			if !ok {
				return nil
			}
			task = snapshot
			if err := stream.Send(task); err != nil {
				return err
			}
			if isTerminal(task.State) {
				return nil
			}
		}
	}
}

func isTerminal(state flameapi.TaskState) bool {
	return state == flameapi.TaskSucceed || state == flameapi.TaskFailed
}

func (s *Server) recordEvent(owner, code, message string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(owner, "", code, message)
}
