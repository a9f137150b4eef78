package cluster

import "sync/atomic"

const unknownGeneration = -1

// generation tracks one server side generation counter.  Observe records
// what the server reported and flags a change; the new value only becomes
// current once Commit is called after the dependent state was fetched.
type generation struct {
	value   atomic.Int64
	pending atomic.Int64
	changed atomic.Bool
}

func newGeneration() *generation {
	g := &generation{}
	g.value.Store(unknownGeneration)
	g.pending.Store(unknownGeneration)
	return g
}

func (g *generation) Observe(v int64) {
	g.pending.Store(v)
	if g.value.Load() != v {
		g.changed.Store(true)
	}
}

func (g *generation) Commit() {
	g.value.Store(g.pending.Load())
	g.changed.Store(false)
}

func (g *generation) Changed() bool {
	return g.changed.Load()
}

func (g *generation) ResetChanged() {
	g.changed.Store(false)
}

// Invalidate forgets the current value so the next Observe is always seen as
// a change.
func (g *generation) Invalidate() {
	g.value.Store(unknownGeneration)
	g.changed.Store(false)
}

func (g *generation) Value() int64 {
	return g.value.Load()
}
