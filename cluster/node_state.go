package cluster

import "sync/atomic"

type nodeState int32

const (
	nodeStateActive nodeState = iota
	nodeStateInactive
)

func (s nodeState) String() string {
	switch s {
	case nodeStateActive:
		return "active"
	case nodeStateInactive:
		return "inactive"
	}
	return "unknown"
}

// nodeLifecycle only ever moves from active to inactive.  Inactive is
// absorbing: there is no operation that leaves it.
type nodeLifecycle struct {
	state atomic.Int32
}

func (l *nodeLifecycle) State() nodeState {
	return nodeState(l.state.Load())
}

func (l *nodeLifecycle) IsActive() bool {
	return l.State() == nodeStateActive
}

// deactivate reports whether this call performed the transition.
func (l *nodeLifecycle) deactivate() bool {
	return l.state.CompareAndSwap(int32(nodeStateActive), int32(nodeStateInactive))
}
