// Package shim defines the Shim Client contract of §4.H: a uniform
// three-call interface the Executor State Machine drives, polymorphic over
// the transport that actually reaches an Application's user code.
package shim

import (
	"context"

	"github.com/flamerun/flame/pkg/flameapi"
)

// Client is the capability set every shim variant provides. Retries are not
// performed here; the Executor State Machine owns that decision (§4.H).
type Client interface {
	// OnSessionEnter starts serving sessionCtx. A ShimRefused error means
	// the shim is reachable but declined; ShimTransport means it could not
	// be reached at all.
	OnSessionEnter(ctx context.Context, sessionCtx flameapi.SessionContext) error

	// OnTaskInvoke runs one task to completion and returns its output. A
	// UserError carries the shim's raw output bytes as payload (§7).
	OnTaskInvoke(ctx context.Context, taskCtx flameapi.TaskContext) (flameapi.TaskOutput, error)

	// OnSessionLeave tears down the current session binding.
	OnSessionLeave(ctx context.Context) error

	// Close releases any transport resources (connections, processes).
	Close() error
}

// Factory builds a Client for one Application instance. What it reads from
// spec is transport-specific: Host/Stdio/Shell run spec.Command, Grpc dials
// spec.URL.
type Factory func(ctx context.Context, executorID string, spec flameapi.ApplicationSpec) (Client, error)

// Registry maps ShimKind to the Factory that constructs it, so the Executor
// State Machine can remain ignorant of the concrete transport (§4.H).
type Registry map[flameapi.ShimKind]Factory

// NewRegistry wires the six shim variants named in §3/§4.H.1.
func NewRegistry(host, grpcF, stdio, wasm, log, shell Factory) Registry {
	return Registry{
		flameapi.ShimHost:  host,
		flameapi.ShimGrpc:  grpcF,
		flameapi.ShimStdio: stdio,
		flameapi.ShimWasm:  wasm,
		flameapi.ShimLog:   log,
		flameapi.ShimShell: shell,
	}
}

// Build dispatches to the Factory registered for spec.Shim.
func (r Registry) Build(ctx context.Context, executorID string, spec flameapi.ApplicationSpec) (Client, error) {
	factory, ok := r[spec.Shim]
	if !ok {
		return nil, unsupportedKind(spec.Shim)
	}
	return factory(ctx, executorID, spec)
}
