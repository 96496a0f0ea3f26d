// Package executor implements the client-side Executor State Machine of
// §4.G: the loop a worker process runs against the Backend API and a Shim
// Client, from registration through repeated bind/launch/complete cycles to
// eventual release.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flamerun/flame/internal/constants"
	"github.com/flamerun/flame/internal/logger"
	"github.com/flamerun/flame/internal/rpc/backendproto"
	"github.com/flamerun/flame/internal/shim"
	"github.com/flamerun/flame/pkg/flameapi"
)

// State mirrors the Executor State Machine's states (§4.G); Void is terminal
// and causes Run to return.
type State string

const (
	StateIdle      State = "Idle"
	StateBinding   State = "Binding"
	StateBound     State = "Bound"
	StateUnbinding State = "Unbinding"
	StateVoid      State = "Void"
)

// Machine drives one executor process through its lifecycle. It is not
// safe for concurrent use; an executor process runs exactly one.
type Machine struct {
	id      string
	spec    flameapi.ExecutorSpec
	client  *backendproto.Client
	shims   shim.Registry
	log     *logger.Logger

	state      State
	activeShim shim.Client
	lastApp    string
}

// New builds a Machine for executorID, backed by client for the Backend API
// and shims to construct whatever transport an assigned Application needs.
func New(id string, spec flameapi.ExecutorSpec, client *backendproto.Client, shims shim.Registry, log *logger.Logger) *Machine {
	return &Machine{
		id:     id,
		spec:   spec,
		client: client,
		shims:  shims,
		log:    log.WithFields(zap.String("component", "executor"), zap.String("executorId", id)),
		state:  StateIdle,
	}
}

// Run drives the state machine until ctx is cancelled or it transitions to
// Void. Rule 1 of §4.G (no new transition while a shim call is outstanding)
// holds because this loop is single-threaded: it never starts a second shim
// call before the previous one returns.
func (m *Machine) Run(ctx context.Context) error {
	if _, err := m.client.RegisterExecutor(ctx, &backendproto.RegisterExecutorRequest{ID: m.id, Spec: m.spec}); err != nil {
		return err
	}
	defer m.client.UnregisterExecutor(context.Background(), m.id)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch m.state {
		case StateIdle:
			if err := m.bind(ctx); err != nil {
				m.log.WithError(err).Warn("bind_executor failed, retrying")
				continue
			}
		case StateBound:
			if err := m.serve(ctx); err != nil {
				m.log.WithError(err).Warn("serving session ended with error")
			}
		case StateUnbinding:
			m.release(ctx)
		case StateVoid:
			return nil
		}
	}
}

// bind blocks in bind_executor, then runs on_session_enter; a shim failure
// here is rule 4 (Binding -> Void) (§4.G).
func (m *Machine) bind(ctx context.Context) error {
	m.state = StateBinding
	result, err := m.client.BindExecutor(ctx, m.id)
	if err != nil {
		m.state = StateIdle
		return err
	}

	cl, err := m.shims.Build(ctx, m.id, result.Application.Spec)
	if err != nil {
		m.state = StateVoid
		return err
	}
	if err := cl.OnSessionEnter(ctx, flameapi.SessionContext{
		SessionID:   result.Session.ID,
		Application: result.Application.Name,
		Spec:        result.Application.Spec,
		CommonData:  result.Session.CommonData,
	}); err != nil {
		cl.Close()
		m.state = StateVoid
		return err
	}

	if _, err := m.client.BindExecutorCompleted(ctx, m.id); err != nil {
		cl.Close()
		m.state = StateVoid
		return err
	}

	m.activeShim = cl
	m.lastApp = result.Application.Name
	m.state = StateBound
	return nil
}

// serve repeatedly launches and completes tasks until launch_task reports
// no work and a preempt is pending, or the session closes (observed the
// same way, since a closed session drops out of the Scheduler's demand and
// is preempted like any other released capacity) (§4.G, §4.D step 4).
func (m *Machine) serve(ctx context.Context) error {
	for {
		result, err := m.client.LaunchTask(ctx, m.id)
		if err != nil {
			m.state = StateUnbinding
			return err
		}

		if result.Task == nil {
			if result.Preempted {
				m.state = StateUnbinding
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(constants.LaunchPollInterval):
			}
			continue
		}

		next, err := m.runTask(ctx, result.Task)
		for err == nil && next != nil && next.Task != nil {
			next, err = m.runTask(ctx, next.Task)
		}
		if err != nil {
			m.log.WithError(err).Warn("complete_task failed")
			m.state = StateUnbinding
			return err
		}
		if next != nil && next.Preempted {
			m.state = StateUnbinding
			return nil
		}
	}
}

// runTask invokes the shim for one task (rule 2: a preempt request arriving
// mid-task is never acted on until on_task_invoke returns) and reports it
// via complete_task, returning the optional chained launch_task result.
func (m *Machine) runTask(ctx context.Context, task *flameapi.Task) (*flameapi.LaunchTaskResult, error) {
	out, err := m.activeShim.OnTaskInvoke(ctx, flameapi.TaskContext{
		TaskID:    task.ID,
		SessionID: task.SessionID,
		Input:     task.Input,
		InputSet:  task.InputSet,
	})
	req := &flameapi.CompleteTaskRequest{ExecutorID: m.id}
	if err != nil {
		req.Failed = true
		req.FailureMessage = err.Error()
	} else {
		req.Output = out.Output
		req.OutputSet = out.OutputSet
	}
	return m.client.CompleteTask(ctx, req)
}

// release runs on_session_leave and returns the executor to Idle, honouring
// rule 4 on shim failure.
func (m *Machine) release(ctx context.Context) {
	if _, err := m.client.UnbindExecutor(ctx, m.id); err != nil {
		m.log.WithError(err).Warn("unbind_executor failed")
	}

	leaveCtx, cancel := context.WithTimeout(ctx, constants.UnbindGrace)
	err := m.activeShim.OnSessionLeave(leaveCtx)
	cancel()
	m.activeShim.Close()
	m.activeShim = nil

	if err != nil {
		m.log.WithError(err).Warn("on_session_leave failed")
		m.state = StateVoid
		return
	}

	if _, err := m.client.UnbindExecutorCompleted(ctx, m.id); err != nil {
		m.log.WithError(err).Warn("unbind_executor_completed failed")
	}
	m.state = StateIdle
}
