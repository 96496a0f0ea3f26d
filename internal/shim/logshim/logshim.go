// Package logshim implements the Log shim variant of §4.H: a no-op worker
// for logging-only workloads that simply echoes a task's input back as its
// output, grounded on the events/bus no-op subscription pattern (subscribe
// without acting, just observe) generalized to a no-op task execution.
package logshim

import (
	"context"

	"go.uber.org/zap"

	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Shim is the Log variant: it never fails and never spawns a process.
type Shim struct {
	log *logger.Logger
}

// New constructs a Log shim. executorID is only used for log correlation.
func New(log *logger.Logger) func(context.Context, string, flameapi.ApplicationSpec) (*Shim, error) {
	return func(_ context.Context, executorID string, spec flameapi.ApplicationSpec) (*Shim, error) {
		return &Shim{log: log.WithFields(zap.String("executor_id", executorID), zap.String("application", spec.Description))}, nil
	}
}

func (s *Shim) OnSessionEnter(_ context.Context, sessionCtx flameapi.SessionContext) error {
	s.log.Info("logshim: session entered", zap.String("session_id", sessionCtx.SessionID))
	return nil
}

func (s *Shim) OnTaskInvoke(_ context.Context, taskCtx flameapi.TaskContext) (flameapi.TaskOutput, error) {
	s.log.Info("logshim: task invoked", zap.Int64("task_id", taskCtx.TaskID), zap.String("session_id", taskCtx.SessionID))
	return flameapi.TaskOutput{Output: taskCtx.Input, OutputSet: true}, nil
}

func (s *Shim) OnSessionLeave(context.Context) error {
	s.log.Info("logshim: session left")
	return nil
}

func (s *Shim) Close() error { return nil }
