// Package guard provides the single cross-cutting reentrancy token
// shared by the peer coordinator and the playlist coordinator: while
// a remote message is being applied, the local publish path stays off
// the transport, so an applied envelope never echoes back out.
package guard

import "sync/atomic"

// Remote is the shared "currently applying a remote message" token.
// While is only ever entered from an Instance's single event-loop
// goroutine; Active may additionally be read from deferred-seek
// goroutines, so the flag is atomic.
type Remote struct {
	active atomic.Bool
}

// New returns an inactive Remote guard.
func New() *Remote { return &Remote{} }

// Active reports whether a remote message is currently being applied.
func (r *Remote) Active() bool { return r.active.Load() }

// While runs fn with the guard held, restoring the previous value
// afterward so nested remote applications don't unguard early.
func (r *Remote) While(fn func()) {
	prev := r.active.Swap(true)
	defer r.active.Store(prev)
	fn()
}
