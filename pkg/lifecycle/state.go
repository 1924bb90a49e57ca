// Package lifecycle manages the process lifecycle of a service: a state
// machine with validated transitions, ordered start and stop hooks, health
// reporting and graceful shutdown.
//
// # Service Lifecycle
//
// Every service follows a lifecycle managed by a finite state machine. The
// [State] type represents the service's current position in it, and all
// transitions are validated against the [validTransitions] matrix.
//
// The lifecycle flow for a healthy service is:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may transition to Failed on error, and both
// terminal states (Stopped, Failed) may transition back to Starting for
// restart.
//
// # Thread Safety
//
// State management in [Service] is protected by a [sync.RWMutex]. All
// state reads and writes are safe for concurrent use, including
// [Service.Start], [Service.Stop], [Service.State] and [Service.Info].
//
// # OpenTelemetry Integration
//
// Lifecycle operations create spans. The tracer scope is
// "github.com/https756/spring-client-credentials-flow/pkg/lifecycle".
package lifecycle

// State represents the lifecycle state of a service.
//
// The zero value ("") is not a valid state; services are initialized with
// [StateUnknown] at construction time.
type State string

const (
	// StateUnknown is the state of a newly built service.
	StateUnknown State = "unknown"

	// StateStarting is set at the beginning of [Service.Start], before the
	// start hooks run.
	StateStarting State = "starting"

	// StateRunning indicates the start hooks succeeded. It is the only
	// state in which [Service.Health] can report healthy.
	StateRunning State = "running"

	// StateStopping is set at the beginning of [Service.Stop], before the
	// stop hooks run, giving listeners time to drain in-flight requests.
	StateStopping State = "stopping"

	// StateStopped indicates a clean shutdown. A stopped service may be
	// started again.
	StateStopped State = "stopped"

	// StateFailed indicates a hook failed. A failed service may be started
	// again.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether the state is one of the recognized lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is [StateStopped] or [StateFailed].
func (s State) IsTerminal() bool {
	switch s {
	case StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// validTransitions defines the allowed state transitions.
//
// Transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Failed, Stopping
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting              (restart)
//	Failed   → Starting              (recovery restart)
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether the state machine allows moving from
// from to to. Same-state transitions are always rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}
