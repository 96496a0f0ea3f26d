// Package flametest wires the control plane — store, cache, event
// recorder, scheduler, binding coordinator, the Backend server, and real
// Executor State Machines over the wire codec — the same way
// cmd/flame-server and cmd/flame-executor do, and drives it through §8
// scenarios 1, 2 and 5. The Frontend server is not wired; sessions and
// tasks are created directly against the store.
package flametest

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/flamerun/flame/internal/binding"
	"github.com/flamerun/flame/internal/cache"
	"github.com/flamerun/flame/internal/events"
	"github.com/flamerun/flame/internal/events/bus"
	"github.com/flamerun/flame/internal/executor"
	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/internal/rpc/backend"
	"github.com/flamerun/flame/internal/rpc/backendproto"
	"github.com/flamerun/flame/internal/scheduler"
	"github.com/flamerun/flame/internal/shim"
	"github.com/flamerun/flame/internal/store"
	"github.com/flamerun/flame/pkg/flameapi"
)

// harness bundles one in-process control plane: the same components and
// wiring order as cmd/flame-server, minus the admin HTTP surface, plus a
// bufconn-dialed Backend client any number of executor.Machine instances
// can register against (§2 control flow).
type harness struct {
	t     *testing.T
	repo  store.Repository
	cache *cache.Cache
	sched *scheduler.Scheduler
	coord *binding.Coordinator
	be    *backend.Server

	client *backendproto.Client

	cancel context.CancelFunc
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "warn", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo, err := store.OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "flame.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	log := testLogger(t)
	c := cache.New(repo)
	eventBus := bus.NewMemoryEventBus(log)
	recorder := events.NewRecorder(repo, eventBus, log, 256)
	t.Cleanup(recorder.Close)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickInterval = 25 * time.Millisecond
	schedCfg.StarvationAfter = 150 * time.Millisecond
	sched := scheduler.New(c, recorder, log, schedCfg)
	sched.Start(ctx)
	t.Cleanup(sched.Stop)

	be := backend.New(repo, c, recorder, sched, log, 3*time.Second)
	coord := binding.New(sched.Queue, c, be, log, 15*time.Millisecond)
	coord.Start(ctx)
	t.Cleanup(coord.Stop)

	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	gs.RegisterService(&backendproto.ServiceDesc, be)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	client, err := backendproto.NewClient(ctx, "passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial backend: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return &harness{t: t, repo: repo, cache: c, sched: sched, coord: coord, be: be, client: client, cancel: cancel}
}

// echoShim answers on_task_invoke by prefixing the task's input, giving
// scenario assertions a deterministic, non-empty output to check.
type echoShim struct{}

func (echoShim) OnSessionEnter(context.Context, flameapi.SessionContext) error { return nil }

func (echoShim) OnTaskInvoke(_ context.Context, taskCtx flameapi.TaskContext) (flameapi.TaskOutput, error) {
	return flameapi.TaskOutput{Output: append([]byte("done:"), taskCtx.Input...), OutputSet: true}, nil
}

func (echoShim) OnSessionLeave(context.Context) error { return nil }

func (echoShim) Close() error { return nil }

// slowShim blocks on_task_invoke until release is closed, letting a test
// hold an executor mid-task so it can assert that close_session leaves the
// Running task alone (§8 scenario 5).
type slowShim struct {
	started chan struct{}
	release chan struct{}
}

func newSlowShim() *slowShim {
	return &slowShim{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (s *slowShim) OnSessionEnter(context.Context, flameapi.SessionContext) error { return nil }

func (s *slowShim) OnTaskInvoke(ctx context.Context, taskCtx flameapi.TaskContext) (flameapi.TaskOutput, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return flameapi.TaskOutput{}, ctx.Err()
	}
	return flameapi.TaskOutput{Output: append([]byte("done:"), taskCtx.Input...), OutputSet: true}, nil
}

func (s *slowShim) OnSessionLeave(context.Context) error { return nil }

func (s *slowShim) Close() error { return nil }

// runExecutor starts one Executor State Machine using factory to build the
// Host shim it presents for every bind, and returns a cancel func.
func (h *harness) runExecutor(id string, factory shim.Factory) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	registry := shim.Registry{flameapi.ShimHost: factory}
	m := executor.New(id, flameapi.ExecutorSpec{Slots: 1}, h.client, registry, testLogger(h.t))
	go m.Run(ctx)
	return cancel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
