// Package binding implements the Binding Coordinator of §4.I: it drains the
// Scheduler's per-application bind queue against the pool of Idle executors
// and publishes each pairing to the Backend API so a blocked bind_executor
// RPC can return.
package binding

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/flamerun/flame/internal/cache"
	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/internal/scheduler"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Assignment is one pairing of an idle executor to a session/application,
// handed to the Backend API for delivery to the waiting bind_executor call.
type Assignment struct {
	SessionID   string
	Application string
}

// Notifier is implemented by the Backend API server: it owns the per-
// executor wait state that a blocked bind_executor RPC observes.
type Notifier interface {
	NotifyBind(executorID string, assignment Assignment) bool
}

// Coordinator pairs queued bind requests with idle executors on a fixed
// cadence, mirroring the Scheduler's own tick-loop shape (internal/scheduler
// scheduler.go) rather than reacting per-request.
type Coordinator struct {
	queue    *scheduler.BindQueue
	cache    *cache.Cache
	notifier Notifier
	log      *logger.Logger
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a Coordinator. interval <= 0 selects a 100ms default, tight
// enough that bind latency stays well under the Scheduler's own tick.
func New(queue *scheduler.BindQueue, c *cache.Cache, notifier Notifier, log *logger.Logger, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Coordinator{
		queue:    queue,
		cache:    c,
		notifier: notifier,
		log:      log.WithFields(zap.String("component", "binding")),
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the pairing loop until ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	go c.loop(ctx)
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Stop halts the pairing loop and waits for it to exit.
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.done
}

// Tick performs one pairing pass: for every application with a pending bind
// request, assign idle executors FIFO until either runs dry. Idle executors
// are a shared pool, not partitioned by application, since an executor only
// learns which application it serves at bind time (§4.D, §4.I).
func (c *Coordinator) Tick() {
	idle := c.idleExecutors()
	if len(idle) == 0 {
		return
	}

	for _, app := range c.queue.Applications() {
		for len(idle) > 0 {
			req, ok := c.queue.Pop(app)
			if !ok {
				break
			}
			ex := idle[0]
			idle = idle[1:]

			if !c.notifier.NotifyBind(ex.ID, Assignment{SessionID: req.SessionID, Application: app}) {
				// Executor vanished between snapshot and delivery; return
				// the request so the next tick retries against a fresh
				// idle set.
				c.queue.Push(req)
				continue
			}
			updated := *ex
			updated.State = flameapi.ExecutorBinding
			updated.Application = app
			updated.SessionID = req.SessionID
			c.cache.PutExecutor(&updated)
		}
	}
}

func (c *Coordinator) idleExecutors() []*flameapi.Executor {
	all := c.cache.Executors()
	idle := make([]*flameapi.Executor, 0, len(all))
	for _, ex := range all {
		if ex.State == flameapi.ExecutorIdle {
			idle = append(idle, ex)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].ID < idle[j].ID })
	return idle
}
