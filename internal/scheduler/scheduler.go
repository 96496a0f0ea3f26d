// Package scheduler implements the Scheduler of §4.D: a single cooperative
// tick loop that allocates executor capacity across open sessions.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flamerun/flame/internal/cache"
	"github.com/flamerun/flame/internal/events"
	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Config holds the tick cadence and starvation threshold (§6 configuration
// list: tick_interval_ms; §4.D starvation/liveness).
type Config struct {
	TickInterval    time.Duration
	StarvationAfter time.Duration
	Policy          Policy
}

// DefaultConfig matches the "order of 100ms" cadence named in §4.D.
func DefaultConfig() Config {
	return Config{
		TickInterval:    200 * time.Millisecond,
		StarvationAfter: 5 * time.Second,
		Policy:          Proportional,
	}
}

// Scheduler runs the single logical tick loop of §4.D. Ticks are never
// re-entered: a tick in progress absorbs any nudges that arrive during it,
// coalescing them into the next pass.
type Scheduler struct {
	cache     *cache.Cache
	recorder  *events.Recorder
	log       *logger.Logger
	cfg       Config

	Queue    *BindQueue
	Preempt  *PreemptSet

	nudge chan struct{}
	stop  chan struct{}
	done  chan struct{}

	mu          sync.Mutex
	running     bool
	starvedSince map[string]time.Time
}

// New constructs a Scheduler. Call Start to begin ticking.
func New(c *cache.Cache, recorder *events.Recorder, log *logger.Logger, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Policy == nil {
		cfg.Policy = Proportional
	}
	return &Scheduler{
		cache:        c,
		recorder:     recorder,
		log:          log.WithFields(zap.String("component", "scheduler")),
		cfg:          cfg,
		Queue:        NewBindQueue(),
		Preempt:      NewPreemptSet(),
		nudge:        make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		starvedSince: make(map[string]time.Time),
	}
}

// Start launches the tick loop goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop halts the tick loop and waits for the current tick, if any, to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

// Nudge requests an out-of-cycle tick, coalesced with any other pending
// nudge. Called on task-creation, session-open, session-close, executor
// register/unregister edges (§4.D tick cadence).
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.nudge:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass (§4.D steps 1-5). It never holds a
// session's own lock during cross-session computation — it works entirely
// off the cache's point-in-time snapshots.
func (s *Scheduler) Tick(ctx context.Context) {
	sessions := s.cache.OpenSessions()
	if len(sessions) == 0 {
		return
	}
	executors := s.cache.Executors()

	byApp := groupSessionsByApplication(sessions)
	boundCount, idleCount := tallyExecutors(executors)

	var preemptSessions []string
	for app, appSessions := range byApp {
		capApp := s.applicationCapacity(ctx, app, appSessions, boundCount, idleCount)
		demands := buildDemands(appSessions)
		grants := s.cfg.Policy(demands, capApp)

		for _, d := range demands {
			current := boundCount[d.Session.ID]
			desired := grants[d.Session.ID]
			switch {
			case desired > current:
				for i := 0; i < desired-current; i++ {
					s.Queue.Push(BindRequest{SessionID: d.Session.ID, Application: app})
				}
				s.recordEvent(d.Session.ID, events.SchedulerBindRequested, "scheduler granted additional capacity")
			case desired < current:
				preemptSessions = append(preemptSessions, d.Session.ID)
				s.recordEvent(d.Session.ID, events.SchedulerPreempted, "scheduler reclaiming surplus capacity")
			}
			s.trackStarvation(d.Session, grants[d.Session.ID])
		}
	}
	s.Preempt.Replace(preemptSessions)
}

// applicationCapacity computes cap = min(application.max_instances, total
// idle+bound executors available to A) per §4.D step 3. Idle executors are
// a shared pool available to any application; bound executors count only
// toward the application they're currently serving.
func (s *Scheduler) applicationCapacity(ctx context.Context, app string, sessions []*flameapi.Session, bound map[string]int, idle int) int {
	boundToApp := 0
	for _, sess := range sessions {
		boundToApp += bound[sess.ID]
	}
	available := boundToApp + idle

	appDef, err := s.cache.GetApplication(ctx, app)
	if err != nil {
		s.log.Warn("scheduler: application lookup failed", zap.String("application", app), zap.Error(err))
		return available
	}
	if appDef.Spec.MaxInstances > 0 && appDef.Spec.MaxInstances < available {
		return appDef.Spec.MaxInstances
	}
	return available
}

func (s *Scheduler) trackStarvation(session *flameapi.Session, granted int) {
	if session.MinInstances == 0 || granted >= session.MinInstances {
		s.mu.Lock()
		delete(s.starvedSince, session.ID)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	start, tracked := s.starvedSince[session.ID]
	if !tracked {
		s.starvedSince[session.ID] = time.Now()
		s.mu.Unlock()
		return
	}
	starving := time.Since(start) > s.cfg.StarvationAfter
	s.mu.Unlock()

	if starving {
		s.recordEvent(session.ID, events.SchedulerStarvation, "session below min_instances beyond starvation threshold")
	}
}

func (s *Scheduler) recordEvent(sessionID, code, message string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(events.Owner(events.OwnerSession, sessionID), "", code, message)
}

func groupSessionsByApplication(sessions []*flameapi.Session) map[string][]*flameapi.Session {
	byApp := make(map[string][]*flameapi.Session)
	for _, s := range sessions {
		byApp[s.Application] = append(byApp[s.Application], s)
	}
	for _, list := range byApp {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].CreationTime.Before(list[j].CreationTime)
		})
	}
	return byApp
}

// tallyExecutors returns, per session id, the count of executors currently
// Binding or Bound to it, and the total count of Idle executors.
func tallyExecutors(executors []*flameapi.Executor) (bound map[string]int, idle int) {
	bound = make(map[string]int)
	for _, ex := range executors {
		switch ex.State {
		case flameapi.ExecutorIdle:
			idle++
		case flameapi.ExecutorBinding, flameapi.ExecutorBound:
			if ex.SessionID != "" {
				bound[ex.SessionID]++
			}
		}
	}
	return bound, idle
}

func buildDemands(sessions []*flameapi.Session) []Demand {
	demands := make([]Demand, 0, len(sessions))
	for _, s := range sessions {
		want := s.Counters.Pending + s.Counters.Running
		if s.MaxInstances != nil && *s.MaxInstances < want {
			want = *s.MaxInstances
		}
		if s.MaxInstances != nil && *s.MaxInstances == 0 {
			want = 0
		}
		demands = append(demands, Demand{Session: s, Want: want})
	}
	return demands
}
