// Command flame-executor runs a single Executor State Machine (§4.G): it
// registers against the Backend API, waits to be bound to a session, and
// drives whichever Shim variant the assigned Application requires.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flamerun/flame/internal/config"
	"github.com/flamerun/flame/internal/executor"
	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/internal/rpc/backendproto"
	"github.com/flamerun/flame/internal/shim"
	"github.com/flamerun/flame/internal/shim/grpcshim"
	"github.com/flamerun/flame/internal/shim/host"
	"github.com/flamerun/flame/internal/shim/logshim"
	"github.com/flamerun/flame/internal/shim/shell"
	"github.com/flamerun/flame/internal/shim/stdio"
	"github.com/flamerun/flame/internal/shim/wasm"
	"github.com/flamerun/flame/pkg/flameapi"
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

	id := os.Getenv("FLAME_EXECUTOR_ID")
	if id == "" {
		return fmt.Errorf("FLAME_EXECUTOR_ID is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := backendproto.NewClient(ctx, cfg.RPC.BackendAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial backend: %w", err)
	}
	defer client.Close()

	registry := shim.NewRegistry(
		wrap(host.New),
		wrap(grpcshim.New),
		wrap(stdio.New),
		wrap(wasm.New),
		wrap(logshim.New(log)),
		wrap(shell.New),
	)

	spec := flameapi.ExecutorSpec{Slots: cfg.Default.Slot}
	machine := executor.New(id, spec, client, registry, log)
	return machine.Run(ctx)
}

// wrap adapts a variant's concrete New function to shim.Factory: the
// conversion from *T to shim.Client happens implicitly on return.
func wrap[T shim.Client](fn func(context.Context, string, flameapi.ApplicationSpec) (T, error)) shim.Factory {
	return func(ctx context.Context, executorID string, spec flameapi.ApplicationSpec) (shim.Client, error) {
		return fn(ctx, executorID, spec)
	}
}
