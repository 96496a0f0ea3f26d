// Package wasm is the Wasm shim variant placeholder of §4.H.1. No WASM
// runtime library was present in the retrieved example pack, so this
// variant is intentionally unimplemented: every call fails with
// ShimTransport rather than silently behaving like a different variant.
package wasm

import (
	"context"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Shim is the unimplemented Wasm variant.
type Shim struct{}

// New always returns a Shim; failures surface on first use rather than at
// construction, matching how a real runtime would report a load failure.
func New(_ context.Context, _ string, _ flameapi.ApplicationSpec) (*Shim, error) {
	return &Shim{}, nil
}

var errNoRuntime = flerr.New(flerr.ShimTransport, "wasm: no WASM runtime configured")

func (s *Shim) OnSessionEnter(context.Context, flameapi.SessionContext) error { return errNoRuntime }

func (s *Shim) OnTaskInvoke(context.Context, flameapi.TaskContext) (flameapi.TaskOutput, error) {
	return flameapi.TaskOutput{}, errNoRuntime
}

func (s *Shim) OnSessionLeave(context.Context) error { return errNoRuntime }

func (s *Shim) Close() error { return nil }
