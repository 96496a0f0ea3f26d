// Package flameapi defines the wire and domain types shared by the
// Frontend, Backend, and Shim services (§6): Application, Session, Task,
// Executor, and Event, plus their spec/status sub-messages.
package flameapi

import "time"

// ShimKind selects the transport the Executor State Machine uses to drive
// an Application's user code (§4.H).
type ShimKind string

const (
	ShimHost  ShimKind = "Host"
	ShimGrpc  ShimKind = "Grpc"
	ShimStdio ShimKind = "Stdio"
	ShimWasm  ShimKind = "Wasm"
	ShimLog   ShimKind = "Log"
	ShimShell ShimKind = "Shell"
)

// ApplicationState is the admin-toggled enable/disable switch (§3).
type ApplicationState string

const (
	ApplicationEnabled  ApplicationState = "Enabled"
	ApplicationDisabled ApplicationState = "Disabled"
)

// SessionState is the lifecycle of a Session (§3).
type SessionState string

const (
	SessionOpen   SessionState = "Open"
	SessionClosed SessionState = "Closed"
)

// TaskState is the lifecycle of a Task (§3). Transitions are
// Pending -> Running -> {Succeed, Failed}, plus Pending -> Failed on
// session close.
type TaskState string

const (
	TaskPending TaskState = "Pending"
	TaskRunning TaskState = "Running"
	TaskSucceed TaskState = "Succeed"
	TaskFailed  TaskState = "Failed"
)

// ExecutorState is the Executor State Machine's state (§4.G).
type ExecutorState string

const (
	ExecutorIdle      ExecutorState = "Idle"
	ExecutorBinding   ExecutorState = "Binding"
	ExecutorBound     ExecutorState = "Bound"
	ExecutorUnbinding ExecutorState = "Unbinding"
	ExecutorVoid      ExecutorState = "Void"
)

// ApplicationSpec is the immutable portion of an Application: everything an
// admin supplies at registration, mutable only via update_application.
type ApplicationSpec struct {
	Shim              ShimKind          `json:"shim"`
	Image             string            `json:"image,omitempty"`
	URL               string            `json:"url,omitempty"`
	Command           string            `json:"command,omitempty"`
	Arguments         []string          `json:"arguments,omitempty"`
	Environments      map[string]string `json:"environments,omitempty"`
	WorkingDirectory  string            `json:"workingDirectory,omitempty"`
	Description       string            `json:"description,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	Schema            string            `json:"schema,omitempty"`
	MaxInstances      int               `json:"maxInstances"`
	DelayReleaseMs    int64             `json:"delayReleaseMs"`
}

// Application is a deployable unit definition (§3).
type Application struct {
	Name         string           `json:"name"`
	Spec         ApplicationSpec  `json:"spec"`
	State        ApplicationState `json:"state"`
	CreationTime time.Time        `json:"creationTime"`
}

// SessionSpec carries the get-or-create/create payload (§4.A open_session,
// §6 SessionSpec message).
type SessionSpec struct {
	Application  string `json:"application"`
	Slots        int    `json:"slots"`
	CommonData   []byte `json:"commonData,omitempty"`
	MinInstances int    `json:"minInstances"`
	MaxInstances *int   `json:"maxInstances,omitempty"`
}

// SessionCounters is the histogram of task states owned by a session (§3).
type SessionCounters struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Succeed int `json:"succeed"`
	Failed  int `json:"failed"`
}

// Sum returns the total number of tasks the counters account for.
func (c SessionCounters) Sum() int {
	return c.Pending + c.Running + c.Succeed + c.Failed
}

// Session is a long-lived group of tasks sharing an application and common
// data (§3).
type Session struct {
	ID             string          `json:"id"`
	Application    string          `json:"application"`
	Slots          int             `json:"slots"`
	CommonData     []byte          `json:"commonData,omitempty"`
	MinInstances   int             `json:"minInstances"`
	MaxInstances   *int            `json:"maxInstances,omitempty"`
	Counters       SessionCounters `json:"counters"`
	State          SessionState    `json:"state"`
	CreationTime   time.Time       `json:"creationTime"`
	CompletionTime *time.Time      `json:"completionTime,omitempty"`
}

// Matches reports whether an open_session spec matches this session's
// identity fields, per the §4.A get-or-create contract. common_data is
// deliberately excluded from comparison.
func (s *Session) Matches(spec SessionSpec) bool {
	if s.Application != spec.Application || s.Slots != spec.Slots || s.MinInstances != spec.MinInstances {
		return false
	}
	switch {
	case s.MaxInstances == nil && spec.MaxInstances == nil:
		return true
	case s.MaxInstances == nil || spec.MaxInstances == nil:
		return false
	default:
		return *s.MaxInstances == *spec.MaxInstances
	}
}

// Task is one unit of work within a session (§3). Input/Output distinguish
// a nil slice (absent) from a non-nil empty slice (present-but-empty).
type Task struct {
	ID             int64      `json:"id"`
	SessionID      string     `json:"sessionId"`
	Input          []byte     `json:"input,omitempty"`
	InputSet       bool       `json:"-"`
	Output         []byte     `json:"output,omitempty"`
	OutputSet      bool       `json:"-"`
	State          TaskState  `json:"state"`
	CreationTime   time.Time  `json:"creationTime"`
	CompletionTime *time.Time `json:"completionTime,omitempty"`
}

// Executor is a worker process hosting one application instance at a time
// (§3). Existence is process-scoped; it has no durable row.
type Executor struct {
	ID          string        `json:"id"`
	Slots       int           `json:"slots"`
	State       ExecutorState `json:"state"`
	Application string        `json:"application,omitempty"`
	SessionID   string        `json:"sessionId,omitempty"`
	RegisteredAt time.Time    `json:"registeredAt"`
}

// SessionContext is what a shim's on_session_enter receives: enough of the
// Application and Session to start serving (§6 Shim service).
type SessionContext struct {
	SessionID  string          `json:"sessionId"`
	Application string         `json:"application"`
	Spec       ApplicationSpec `json:"spec"`
	CommonData []byte          `json:"commonData,omitempty"`
}

// TaskContext is what a shim's on_task_invoke receives (§6 Shim service).
// Input distinguishes absent from present-but-empty the same way Task does.
type TaskContext struct {
	TaskID    int64  `json:"taskId"`
	SessionID string `json:"sessionId"`
	Input     []byte `json:"input,omitempty"`
	InputSet  bool   `json:"-"`
}

// TaskOutput is a shim's on_task_invoke response: either output bytes on
// success, or a UserError-carrying failure the caller maps to flerr.
type TaskOutput struct {
	Output    []byte `json:"output,omitempty"`
	OutputSet bool   `json:"-"`
}

// RegisterApplicationRequest is register_application's input (§4.E).
type RegisterApplicationRequest struct {
	Name string          `json:"name"`
	Spec ApplicationSpec `json:"spec"`
}

// UpdateApplicationRequest is update_application's input (§4.E).
type UpdateApplicationRequest struct {
	Name string          `json:"name"`
	Spec ApplicationSpec `json:"spec"`
}

// ApplicationNameRequest wraps a bare application name, used by
// unregister_application (§4.E).
type ApplicationNameRequest struct {
	Name string `json:"name"`
}

// ListApplicationsResult is list_applications' reply (§4.E).
type ListApplicationsResult struct {
	Applications []*Application `json:"applications"`
}

// CreateSessionRequest is create_session's input: an optional client-chosen
// id plus the session spec (§4.E).
type CreateSessionRequest struct {
	ID   string      `json:"id,omitempty"`
	Spec SessionSpec `json:"spec"`
}

// OpenSessionRequest is open_session's input: Spec is nil for a get-only
// lookup (§4.A, §4.E).
type OpenSessionRequest struct {
	ID   string       `json:"id"`
	Spec *SessionSpec `json:"spec,omitempty"`
}

// SessionIDRequest wraps a bare session id, used by close_session and
// get_session (§4.E).
type SessionIDRequest struct {
	ID string `json:"id"`
}

// ListSessionsRequest is list_sessions' input (§4.E).
type ListSessionsRequest struct {
	Filter SessionFilter `json:"filter"`
}

// ListSessionsResult is list_sessions' reply (§4.E).
type ListSessionsResult struct {
	Sessions []*Session `json:"sessions"`
}

// CreateTaskRequest is create_task's input (§4.E). Input distinguishes
// absent from present-but-empty the same way Task does.
type CreateTaskRequest struct {
	SessionID string `json:"sessionId"`
	Input     []byte `json:"input,omitempty"`
	InputSet  bool   `json:"-"`
}

// TaskIDRequest is get_task's and watch_task's input (§4.E).
type TaskIDRequest struct {
	SessionID string `json:"sessionId"`
	TaskID    int64  `json:"taskId"`
}

// ListTasksRequest is list_tasks' input (§4.E).
type ListTasksRequest struct {
	SessionID string     `json:"sessionId"`
	Filter    TaskFilter `json:"filter"`
}

// ListTasksResult is list_tasks' reply (§4.E).
type ListTasksResult struct {
	Tasks []*Task `json:"tasks"`
}

// ExecutorSpec is what register_executor supplies (§4.F).
type ExecutorSpec struct {
	Slots int `json:"slots"`
}

// BindExecutorResult is bind_executor's success reply: the Application and
// Session context the executor should now serve (§4.F).
type BindExecutorResult struct {
	Application *Application `json:"application"`
	Session     *Session     `json:"session"`
}

// LaunchTaskResult is launch_task's reply. Task is nil when there is no
// Pending work; Preempted signals the scheduler wants this executor's
// binding released once it has no more work, per the Bound -> Unbinding
// transition of §4.G.
type LaunchTaskResult struct {
	Task      *Task `json:"task,omitempty"`
	Preempted bool  `json:"preempted"`
}

// CompleteTaskRequest is complete_task's input (§4.F): either a successful
// output or a failure message, never both.
type CompleteTaskRequest struct {
	ExecutorID     string `json:"executorId"`
	Failed         bool   `json:"failed"`
	Output         []byte `json:"output,omitempty"`
	OutputSet      bool   `json:"-"`
	FailureMessage string `json:"failureMessage,omitempty"`
}

// Event is an append-only observability record (§3).
type Event struct {
	Owner        string    `json:"owner"`
	Parent       string    `json:"parent,omitempty"`
	Code         string    `json:"code"`
	Message      string    `json:"message,omitempty"`
	CreationTime time.Time `json:"creationTime"`
}

// TaskFilter narrows list_tasks results.
type TaskFilter struct {
	States []TaskState
}

// SessionFilter narrows list_sessions results.
type SessionFilter struct {
	Application string
	States      []SessionState
}

// Match reports whether a session satisfies the filter.
func (f SessionFilter) Match(s *Session) bool {
	if f.Application != "" && s.Application != f.Application {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, st := range f.States {
		if st == s.State {
			return true
		}
	}
	return false
}

// Match reports whether a task satisfies the filter.
func (f TaskFilter) Match(t *Task) bool {
	if len(f.States) == 0 {
		return true
	}
	for _, st := range f.States {
		if st == t.State {
			return true
		}
	}
	return false
}
