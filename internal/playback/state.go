package playback

import "sync"

// StateError mirrors PlaybackState.error: a short machine-readable code
// plus a human message.
type StateError struct {
	Code    string
	Message string
}

// State is the authoritative in-memory record of playback for one
// Instance. It is a value type; Engine hands out copies on every Event
// so subscribers never observe a state any other goroutine is
// concurrently mutating.
type State struct {
	IsPlaying     bool
	CurrentTime   float64
	Duration      float64
	CurrentSrc    string
	Volume        float64
	Muted         bool
	IsBuffering   bool
	BufferedAhead float64
	Error         *StateError
}

// Patch is a partial State; nil/zero fields are left untouched by
// updateState/setSyncState. Pointer fields distinguish "not present"
// from "set to zero".
type Patch struct {
	IsPlaying     *bool
	CurrentTime   *float64
	Duration      *float64
	CurrentSrc    *string
	Volume        *float64
	Muted         *bool
	IsBuffering   *bool
	BufferedAhead *float64
	Error         **StateError
}

func (p Patch) apply(s *State) {
	if p.IsPlaying != nil {
		s.IsPlaying = *p.IsPlaying
	}
	if p.CurrentTime != nil {
		s.CurrentTime = *p.CurrentTime
	}
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.CurrentSrc != nil {
		s.CurrentSrc = *p.CurrentSrc
	}
	if p.Volume != nil {
		s.Volume = *p.Volume
	}
	if p.Muted != nil {
		s.Muted = *p.Muted
	}
	if p.IsBuffering != nil {
		s.IsBuffering = *p.IsBuffering
	}
	if p.BufferedAhead != nil {
		s.BufferedAhead = *p.BufferedAhead
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
}

// Engine is the pure state mutator plus typed event bus. It holds no
// reference to an output capability; that binding lives in
// internal/output.
type Engine struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
}

// NewEngine returns an Engine with a fresh, idle State.
func NewEngine() *Engine {
	return &Engine{state: State{Volume: 1}, listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns a release function safe
// to call more than once.
func (e *Engine) Subscribe(l Listener) Unsubscribe {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) emitLocked(ev Event) {
	ev.State = e.state
	ls := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	e.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
	e.mu.Lock()
}

// emit sends ev, then — unless ev.Type is already EventStateChange —
// follows it with a state_change carrying the same snapshot, so a
// subscriber listening only to state_change still sees every
// transition.
func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	e.emitLocked(ev)
	if ev.Type != EventStateChange {
		e.emitLocked(Event{Type: EventStateChange})
	}
	e.mu.Unlock()
}

// Play sets CurrentSrc (resetting CurrentTime/Duration when it
// changes), marks playing, and emits play then state_change.
func (e *Engine) Play(src *string) {
	e.mu.Lock()
	if src != nil && *src != e.state.CurrentSrc {
		e.state.CurrentSrc = *src
		e.state.CurrentTime = 0
		e.state.Duration = 0
	}
	e.state.IsPlaying = true
	playSrc := e.state.CurrentSrc
	e.mu.Unlock()

	e.emit(Event{Type: EventPlay, PlaySrc: playSrc})
}

// Pause marks playback paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.state.IsPlaying = false
	e.mu.Unlock()
	e.emit(Event{Type: EventPause})
}

// Stop marks playback stopped and rewinds to zero.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.state.IsPlaying = false
	e.state.CurrentTime = 0
	e.mu.Unlock()
	e.emit(Event{Type: EventStop})
}

// Seek records a new position and emits seek then state_change.
func (e *Engine) Seek(t float64) {
	e.mu.Lock()
	e.state.CurrentTime = t
	e.mu.Unlock()
	e.emit(Event{Type: EventSeek, SeekTime: t})
}

// UpdateState applies an arbitrary partial merge and emits only
// state_change.
func (e *Engine) UpdateState(p Patch) {
	e.mu.Lock()
	p.apply(&e.state)
	e.mu.Unlock()
	e.emit(Event{Type: EventStateChange})
}

// SetSyncState is UpdateState for remote-originated patches: it must
// never cause the OutputAdapter to act, which is guaranteed simply by
// emitting only state_change — the same mechanism as UpdateState. It
// exists as a separate method so call sites document intent and so a
// future reentrancy guard has a single choke point to hook.
func (e *Engine) SetSyncState(p Patch) {
	e.UpdateState(p)
}

// StopSilently marks playback stopped without broadcasting a stop
// event — only state_change fires. Used when a leader relinquishes
// audio during a handoff and must not feed its own pause back into the
// broadcast loop.
func (e *Engine) StopSilently() {
	e.mu.Lock()
	e.state.IsPlaying = false
	e.mu.Unlock()
	e.emit(Event{Type: EventStateChange})
}

// Ended marks playback stopped because the source finished, and emits
// ended then state_change — distinct from Stop, which is a user/sync
// request rather than a natural end.
func (e *Engine) Ended() {
	e.mu.Lock()
	e.state.IsPlaying = false
	e.mu.Unlock()
	e.emit(Event{Type: EventEnded})
}

// SetBuffering is edge-triggered: it only emits when the value
// actually changes.
func (e *Engine) SetBuffering(b bool) {
	e.mu.Lock()
	if e.state.IsBuffering == b {
		e.mu.Unlock()
		return
	}
	e.state.IsBuffering = b
	e.mu.Unlock()
	e.emit(Event{Type: EventBuffering, Buffering: b})
}

// SetBufferProgress records how many seconds of contiguous buffer lie
// ahead of the current position. It emits buffer_progress but
// deliberately not state_change, to avoid flooding subscribers during
// a fast-filling buffer.
func (e *Engine) SetBufferProgress(secondsAhead float64) {
	e.mu.Lock()
	e.state.BufferedAhead = secondsAhead
	e.emitLocked(Event{Type: EventBufferProgress, BufferAhead: secondsAhead})
	e.mu.Unlock()
}

// SetError records a playback error and emits error then state_change.
// A successful activation elsewhere clears Error back to nil.
func (e *Engine) SetError(code, message string) {
	e.mu.Lock()
	stateErr := &StateError{Code: code, Message: message}
	e.state.Error = stateErr
	e.mu.Unlock()
	e.emit(Event{Type: EventError, Err: &stateErrWrap{stateErr}})
}

// ClearError clears any recorded error; called after a successful
// activation per the PlaybackState invariant (error=none after any
// successful activation).
func (e *Engine) ClearError() {
	e.mu.Lock()
	e.state.Error = nil
	e.mu.Unlock()
}

// stateErrWrap adapts StateError to the error interface for Event.Err.
type stateErrWrap struct{ e *StateError }

func (w *stateErrWrap) Error() string {
	if w == nil || w.e == nil {
		return ""
	}
	return w.e.Code + ": " + w.e.Message
}
