// Package shell implements the Shell shim variant of §4.H: a one-shot
// process spawned per task, capturing stdout as the task's output. This is
// the spawn-per-task sibling of stdio's long-lived subprocess (§4.H.1).
package shell

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Shim runs spec.Command fresh for every on_task_invoke. on_session_enter
// and on_session_leave are no-ops: there is no persistent process to
// initialize or tear down.
type Shim struct {
	spec flameapi.ApplicationSpec
}

// New captures the Application spec used to build each task's command.
func New(_ context.Context, _ string, spec flameapi.ApplicationSpec) (*Shim, error) {
	return &Shim{spec: spec}, nil
}

func (s *Shim) OnSessionEnter(context.Context, flameapi.SessionContext) error { return nil }

func (s *Shim) OnTaskInvoke(ctx context.Context, taskCtx flameapi.TaskContext) (flameapi.TaskOutput, error) {
	cmd := exec.CommandContext(ctx, s.spec.Command, s.spec.Arguments...)
	cmd.Dir = s.spec.WorkingDirectory
	cmd.Env = os.Environ()
	for k, v := range s.spec.Environments {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if taskCtx.InputSet {
		cmd.Stdin = bytes.NewReader(taskCtx.Input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return flameapi.TaskOutput{}, flerr.WithPayload(stderr.Bytes(), "shell: %s: %v", s.spec.Command, err)
	}
	return flameapi.TaskOutput{Output: stdout.Bytes(), OutputSet: true}, nil
}

func (s *Shim) OnSessionLeave(context.Context) error { return nil }

func (s *Shim) Close() error { return nil }
