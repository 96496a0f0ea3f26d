// Package events provides the Flame control plane's Event Recorder: event
// codes, the owner/parent addressing scheme of §3's Event entity, and the
// pluggable bus (internal/events/bus) the recorder publishes onto.
package events

import (
	"strconv"
	"strings"
)

// Event codes for sessions.
const (
	SessionOpened    = "session.opened"
	SessionClosed    = "session.closed"
	SessionStarved   = "session.starved"
	SessionPreempted = "session.preempted"
)

// Event codes for tasks.
const (
	TaskCreated   = "task.created"
	TaskRunning   = "task.running"
	TaskSucceeded = "task.succeeded"
	TaskFailed    = "task.failed"
)

// Event codes for executors, recorded against the Executor State Machine's
// transitions (§4.G).
const (
	ExecutorRegistered   = "executor.registered"
	ExecutorBindRequest  = "executor.bind_request"
	ExecutorBound        = "executor.bound"
	ExecutorUnbinding    = "executor.unbinding"
	ExecutorIdle         = "executor.idle"
	ExecutorVoid         = "executor.void"
	ExecutorUnregistered = "executor.unregistered"
)

// Event codes for application lifecycle (§4.E register/update/unregister).
const (
	ApplicationRegistered   = "application.registered"
	ApplicationUpdated      = "application.updated"
	ApplicationUnregistered = "application.unregistered"
)

// Event codes for scheduler decisions (§4.D step 5).
const (
	SchedulerBindRequested = "scheduler.bind_requested"
	SchedulerPreempted     = "scheduler.preempted"
	SchedulerStarvation    = "scheduler.starvation"
)

// Event codes for the recorder's own backpressure accounting (§4.C).
const (
	RecorderDropped = "recorder.dropped"
)

// OwnerKind namespaces the Event.Owner field so events from sessions,
// executors, and applications don't collide on id alone.
type OwnerKind string

const (
	OwnerSession     OwnerKind = "session"
	OwnerTask        OwnerKind = "task"
	OwnerExecutor    OwnerKind = "executor"
	OwnerApplication OwnerKind = "application"
	OwnerScheduler   OwnerKind = "scheduler"
)

// Owner builds the "<kind>:<id>" owner string used as the events table's
// owner column and as the event bus subject prefix.
func Owner(kind OwnerKind, id string) string {
	return string(kind) + ":" + id
}

// TaskOwner builds the owner id for a task-scoped event, combining the
// session and task id so both the events table and bus subscribers (§4.E
// watch_task) can address exactly one task.
func TaskOwner(sessionID string, taskID int64) string {
	return Owner(OwnerTask, sessionID+"/"+strconv.FormatInt(taskID, 10))
}

// ParseTaskOwner recovers the session and task id encoded by TaskOwner. It
// reports ok=false for owner strings that aren't task-scoped.
func ParseTaskOwner(owner string) (sessionID string, taskID int64, ok bool) {
	prefix := string(OwnerTask) + ":"
	if !strings.HasPrefix(owner, prefix) {
		return "", 0, false
	}
	rest := owner[len(prefix):]
	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(rest[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return rest[:idx], id, true
}
