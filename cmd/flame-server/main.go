// Command flame-server runs the Flame control plane: Persistence Engine,
// State Cache, Event Recorder, Scheduler, Binding Coordinator, and the
// Frontend/Backend gRPC-framed services, plus an admin HTTP surface for
// health and metrics.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/flamerun/flame/internal/binding"
	"github.com/flamerun/flame/internal/cache"
	"github.com/flamerun/flame/internal/config"
	"github.com/flamerun/flame/internal/events"
	"github.com/flamerun/flame/internal/httpmw"
	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/internal/rpc/backend"
	"github.com/flamerun/flame/internal/rpc/backendproto"
	"github.com/flamerun/flame/internal/rpc/frontend"
	"github.com/flamerun/flame/internal/rpc/frontendproto"
	"github.com/flamerun/flame/internal/scheduler"
	"github.com/flamerun/flame/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()

	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		return fmt.Errorf("provide event bus: %w", err)
	}
	defer busCleanup()

	recorder := events.NewRecorder(repo, providedBus.Bus, log, 1024)
	defer recorder.Close()

	c := cache.New(repo)
	if err := c.Warm(ctx); err != nil {
		return fmt.Errorf("warm state cache: %w", err)
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickInterval = cfg.Scheduler.TickInterval()
	schedCfg.StarvationAfter = cfg.Scheduler.StarvationThreshold()
	sched := scheduler.New(c, recorder, log, schedCfg)
	sched.Start(ctx)
	defer sched.Stop()

	backendServer := backend.New(repo, c, recorder, sched, log, cfg.Scheduler.BindWait())
	coordinator := binding.New(sched.Queue, c, backendServer, log, 0)
	coordinator.Start(ctx)
	defer coordinator.Stop()

	frontendServer := frontend.New(repo, c, recorder, sched, log, providedBus.Bus)

	grp := newGroup(ctx)
	grp.Go(func() error { return serveFrontend(ctx, cfg.RPC.FrontendAddr, frontendServer) })
	grp.Go(func() error { return serveBackend(ctx, cfg.RPC.BackendAddr, backendServer) })
	grp.Go(func() error { return serveAdmin(ctx, cfg, log, repo) })

	return grp.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return store.OpenPostgresStore(ctx, cfg.Storage.DSN(), cfg.Storage.MaxConns, cfg.Storage.MinConns)
	default:
		return store.OpenSQLiteStore(ctx, cfg.Storage.Path)
	}
}

func serveFrontend(ctx context.Context, addr string, srv frontendproto.Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen frontend: %w", err)
	}
	s := grpc.NewServer()
	s.RegisterService(&frontendproto.ServiceDesc, srv)
	return serveGRPC(ctx, s, lis)
}

func serveBackend(ctx context.Context, addr string, srv backendproto.Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen backend: %w", err)
	}
	s := grpc.NewServer()
	s.RegisterService(&backendproto.ServiceDesc, srv)
	return serveGRPC(ctx, s, lis)
}

func serveGRPC(ctx context.Context, s *grpc.Server, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()
	select {
	case <-ctx.Done():
		s.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// serveAdmin runs the ambient health/metrics HTTP surface, grounded in the
// teacher's gin-based admin mux.
func serveAdmin(ctx context.Context, cfg *config.Config, log *logger.Logger, repo *store.Store) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), httpmw.RequestLogger(log, "admin"))
	r.GET("/healthz", func(c *gin.Context) {
		if err := repo.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// group runs a small set of long-lived goroutines and returns the first
// non-nil error, cancelling the shared context so the others unwind too.
type group struct {
	ctx    context.Context
	cancel context.CancelFunc
	errCh  chan error
	n      int
}

func newGroup(ctx context.Context) *group {
	ctx, cancel := context.WithCancel(ctx)
	return &group{ctx: ctx, cancel: cancel, errCh: make(chan error)}
}

func (g *group) Go(fn func() error) {
	g.n++
	go func() {
		err := fn()
		if err != nil {
			g.cancel()
		}
		g.errCh <- err
	}()
}

func (g *group) Wait() error {
	defer g.cancel()
	var first error
	for i := 0; i < g.n; i++ {
		if err := <-g.errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}
