// Package constants provides control-plane-wide timeouts.
package constants

import "time"

const (
	// ShimCallTimeout is a bound for a single on_session_enter/
	// on_task_invoke/on_session_leave round trip to a shim. No shim call
	// applies it: on_session_leave is bounded by UnbindGrace, and the other
	// calls run under the executor's own context.
	ShimCallTimeout = 2 * time.Minute

	// BindTimeout caps how long a bind_executor RPC may block. The Backend
	// API waits for the smaller of this and the configured bind_wait_ms
	// (config.SchedulerConfig.BindWaitMs) and then returns Unavailable.
	BindTimeout = 30 * time.Second

	// UnbindGrace bounds how long the Executor State Machine waits for a
	// shim to acknowledge on_session_leave before forcing Void.
	UnbindGrace = 15 * time.Second

	// EventFlushInterval is how often the Event Recorder's async writer
	// reports accumulated drops as a recorder.dropped event. Recorded events
	// themselves are written as soon as the writer dequeues them.
	EventFlushInterval = 500 * time.Millisecond

	// WatchTaskIdle bounds how long a watch_task stream may sit with no new
	// status before the server sends a keepalive frame.
	WatchTaskIdle = 20 * time.Second

	// LaunchPollInterval is how long the Executor State Machine waits
	// before re-calling launch_task after an empty, non-preempted reply.
	LaunchPollInterval = 500 * time.Millisecond

	// DelayReleaseMax is not read anywhere: the Executor State Machine has
	// no delay_release idle timer (§4.G rule 3) and always passes through
	// Idle between one binding and the next.
	DelayReleaseMax = 10 * time.Second
)
