package types

// State represents the controller lifecycle state.
//
// States follow a defined progression:
//
//	StateInit → StateStarting → StateRunning → StateStopping → StateStopped
//
// StateStopped is terminal.
type State int

const (
	// StateInit is the initial state before Start.
	StateInit State = iota

	// StateStarting indicates the controller is registering presence and
	// syncing partitions.
	StateStarting

	// StateRunning indicates the control loop is active.
	StateRunning

	// StateStopping indicates graceful shutdown is in progress.
	StateStopping

	// StateStopped indicates the controller has shut down.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// LeaseState is the state of one lease from the point of view of this host.
//
// Normal progression:
//
//	LeaseUnowned → LeaseAcquiring → LeaseOwnedRunning → LeaseReleasing → LeaseReleased
//
// LeaseReleased loops back to LeaseUnowned once another owner is observed.
// LeaseExpired is reached from LeaseOwnedRunning when the store rejects a
// write after this host failed to renew, and from LeaseReleasing when a
// processor does not stop in time and the lease is abandoned. LeaseReleasing
// falls back to LeaseUnowned when the lease is taken over while its processor
// stops.
type LeaseState int

const (
	// LeaseUnowned means this host does not hold the lease.
	LeaseUnowned LeaseState = iota

	// LeaseAcquiring means an acquire call is in flight.
	LeaseAcquiring

	// LeaseOwnedRunning means this host holds the lease and its processor runs.
	LeaseOwnedRunning

	// LeaseReleasing means the processor was asked to stop before release.
	LeaseReleasing

	// LeaseReleased means this host cleared its ownership.
	LeaseReleased

	// LeaseExpired means this host's ownership lapsed without a release.
	LeaseExpired
)

// String returns the string representation of the lease state.
func (s LeaseState) String() string {
	switch s {
	case LeaseUnowned:
		return "Unowned"
	case LeaseAcquiring:
		return "Acquiring"
	case LeaseOwnedRunning:
		return "OwnedRunning"
	case LeaseReleasing:
		return "Releasing"
	case LeaseReleased:
		return "Released"
	case LeaseExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

var validLeaseTransitions = map[LeaseState][]LeaseState{
	LeaseUnowned:      {LeaseAcquiring},
	LeaseAcquiring:    {LeaseOwnedRunning, LeaseUnowned},
	LeaseOwnedRunning: {LeaseReleasing, LeaseExpired, LeaseUnowned},
	LeaseReleasing:    {LeaseReleased, LeaseExpired, LeaseUnowned},
	LeaseReleased:     {LeaseUnowned, LeaseAcquiring},
	LeaseExpired:      {LeaseUnowned, LeaseAcquiring},
}

// CanTransitionTo reports whether moving from s to next is a valid transition.
func (s LeaseState) CanTransitionTo(next LeaseState) bool {
	for _, allowed := range validLeaseTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
