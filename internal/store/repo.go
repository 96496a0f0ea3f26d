package store

import (
	"context"

	"github.com/flamerun/flame/pkg/flameapi"
)

// Repository is the Persistence Engine contract of §4.A: a transactional
// interface sufficient to keep durable state consistent. Every mutation is
// atomic; failures are returned as *flerr.Error with the kinds of §7.
type Repository interface {
	RegisterApplication(ctx context.Context, name string, spec flameapi.ApplicationSpec) (*flameapi.Application, error)
	UnregisterApplication(ctx context.Context, name string) error
	UpdateApplication(ctx context.Context, name string, spec flameapi.ApplicationSpec) (*flameapi.Application, error)
	GetApplication(ctx context.Context, name string) (*flameapi.Application, error)
	ListApplications(ctx context.Context) ([]*flameapi.Application, error)
	SetApplicationState(ctx context.Context, name string, state flameapi.ApplicationState) error

	// OpenSession implements the single-transaction get-or-create of §4.A:
	// spec == nil means "get only" (NotFound if absent); spec != nil means
	// get-or-create, validating identity fields on an existing row.
	OpenSession(ctx context.Context, id string, spec *flameapi.SessionSpec) (*flameapi.Session, error)
	CloseSession(ctx context.Context, id string) (*flameapi.Session, error)
	GetSession(ctx context.Context, id string) (*flameapi.Session, error)
	ListSessions(ctx context.Context, filter flameapi.SessionFilter) ([]*flameapi.Session, error)

	CreateTask(ctx context.Context, sessionID string, input []byte, inputSet bool) (*flameapi.Task, error)
	GetTask(ctx context.Context, sessionID string, id int64) (*flameapi.Task, error)
	ListTasks(ctx context.Context, sessionID string, filter flameapi.TaskFilter) ([]*flameapi.Task, error)

	// UpdateTaskState applies a legal Task transition and, in the same
	// transaction, updates the owning session's counters (§4.A contract).
	UpdateTaskState(ctx context.Context, sessionID string, id int64, newState flameapi.TaskState, output []byte, outputSet bool) (*flameapi.Task, error)

	// LaunchTask performs the conditional Pending -> Running transition that
	// guarantees at-most-once dispatch (§4.F launch_task, §9).
	LaunchTask(ctx context.Context, sessionID string) (*flameapi.Task, error)

	RecordEvent(ctx context.Context, owner, parent, code, message string) error
	ListEvents(ctx context.Context, owner string, limit int) ([]*flameapi.Event, error)

	// Ping verifies the underlying connection(s) are reachable; used by the
	// ambient admin health surface, not by any §4 control-plane operation.
	Ping(ctx context.Context) error
	Close() error
}
