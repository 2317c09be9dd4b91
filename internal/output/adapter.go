// Package output binds a playback.Engine to an abstract audio-output
// Capability, translating Engine intents into device calls and device
// edge events back into Engine state.
package output

import (
	"errors"
	"math"
	"sync"
	"time"

	"playmesh/internal/playback"
)

// Cause is an explicit reason token attached to every Adapter
// command, so the capability-event handler can tell a user-initiated
// transition from a sync-driven or silent one.
type Cause int

const (
	CauseUser Cause = iota
	CauseSync
	CauseSilent
)

const catchUpThreshold = 0.5 // seconds; one-shot leader-handoff catch-up
const seekWhenReadyAttempts = 10
const seekWhenReadyDelay = 100 * time.Millisecond

// Adapter is the Driver component: it owns the Capability, mirrors
// Capability edge events into the Engine, and exposes the
// intent-to-device methods PlaybackSync and Instance call.
type Adapter struct {
	mu          sync.Mutex
	engine      *playback.Engine
	cap         Capability
	unsubCap    func()
	activeCause Cause
	seekGen     int
}

// NewAdapter wires engine to cap and subscribes to the capability's
// edge events for the lifetime of the Adapter.
func NewAdapter(engine *playback.Engine, cap Capability) *Adapter {
	a := &Adapter{engine: engine, cap: cap}
	a.unsubCap = cap.Subscribe(a.handleCapEvent)
	return a
}

// Close releases the capability subscription.
func (a *Adapter) Close() {
	if a.unsubCap != nil {
		a.unsubCap()
	}
}

// Play implements the Engine→Output Play binding: assign a changed
// source, tolerate a transient abort, clear any recorded error, and
// invoke the device's deferred activation.
func (a *Adapter) Play(src *string, cause Cause) {
	a.mu.Lock()
	a.activeCause = cause
	if src != nil && *src != a.cap.Src() {
		a.cap.SetSrc(*src)
	}
	a.mu.Unlock()

	a.engine.ClearError()
	a.engine.Play(src)
	a.cap.Play()
}

// Pause invokes the device's pause.
func (a *Adapter) Pause(cause Cause) {
	a.mu.Lock()
	a.activeCause = cause
	a.mu.Unlock()
	a.cap.Pause()
}

// Stop pauses the device and, if metadata is available, rewinds it to
// zero.
func (a *Adapter) Stop(cause Cause) {
	a.mu.Lock()
	a.activeCause = cause
	a.mu.Unlock()
	a.cap.Pause()
	if a.cap.ReadyState() >= ReadyMetadata {
		a.cap.Seek(0)
	}
}

// Seek forwards to the device only if t is finite, non-negative, and
// the device has at least current-data readiness; otherwise it is
// dropped silently.
func (a *Adapter) Seek(t float64, cause Cause) {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return
	}
	a.mu.Lock()
	a.activeCause = cause
	a.mu.Unlock()
	if a.cap.ReadyState() >= ReadyCurrentData {
		a.engine.Seek(t)
		a.cap.Seek(t)
	}
}

// SeekWhenReady retries Seek with small delays until the device
// reaches current-data readiness or the attempt cap is reached; used
// after a source change when a follower must align to the leader's
// position.
func (a *Adapter) SeekWhenReady(t float64, cause Cause) {
	a.mu.Lock()
	a.seekGen++
	gen := a.seekGen
	a.mu.Unlock()

	go func() {
		for i := 0; i < seekWhenReadyAttempts; i++ {
			a.mu.Lock()
			stale := gen != a.seekGen
			a.mu.Unlock()
			if stale {
				return
			}
			if a.cap.ReadyState() >= ReadyCurrentData {
				a.Seek(t, cause)
				return
			}
			time.Sleep(seekWhenReadyDelay)
		}
	}()
}

// PauseSilently marks the in-flight pause as CauseSilent, requests a
// device pause, and calls StopSilently on the Engine directly so no
// pause event broadcasts — used when a leader relinquishes audio
// during a handoff. The cause token stays armed until the device's
// own pause callback consumes it, however late that callback arrives.
func (a *Adapter) PauseSilently() {
	a.mu.Lock()
	a.activeCause = CauseSilent
	a.mu.Unlock()

	a.cap.Pause()
	a.engine.StopSilently()
}

func (a *Adapter) handleCapEvent(ev CapEvent) {
	switch ev.Type {
	case CapTimeUpdate:
		a.engine.UpdateState(playback.Patch{
			CurrentTime: &ev.CurrentTime,
			Duration:    &ev.Duration,
		})
	case CapPlaying:
		a.engine.ClearError()
		isPlaying := true
		a.engine.UpdateState(playback.Patch{IsPlaying: &isPlaying})
		a.catchUpIfNeeded()
	case CapPause:
		a.mu.Lock()
		silent := a.activeCause == CauseSilent
		if silent {
			// Consumed: the next pause callback is an ordinary one.
			a.activeCause = CauseUser
		}
		a.mu.Unlock()
		if silent {
			return
		}
		a.engine.Pause()
	case CapError:
		if errors.Is(ev.Err, ErrActivationAborted) {
			return
		}
		a.engine.SetError("media_source_error", errString(ev.Err))
	case CapEnded:
		a.engine.Ended()
	case CapWaiting, CapLoadStart:
		a.engine.SetBuffering(true)
	case CapCanPlay, CapCanPlayThrough:
		a.engine.SetBuffering(false)
	case CapProgress:
		a.engine.SetBufferProgress(ev.BufferedAhead)
	}
}

// catchUpIfNeeded implements the one-shot catch-up: after an
// activation resolves, if the device's position differs from the
// Engine's currentTime by more than 0.5s and currentTime>0 (a follower
// just became leader and the device started from 0), align the device
// to the Engine's authoritative position.
func (a *Adapter) catchUpIfNeeded() {
	want := a.engine.Snapshot().CurrentTime
	if want <= 0 {
		return
	}
	got := a.cap.CurrentTime()
	if math.Abs(got-want) > catchUpThreshold {
		a.cap.Seek(want)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
