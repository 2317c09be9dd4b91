package output

import (
	"errors"
	"testing"
	"time"

	"playmesh/internal/playback"
)

func f64p(v float64) *float64 { return &v }

// TestPauseSilentlyEmitsNoPauseEvent: a silent pause must stop
// playback without surfacing a pause event that peers could observe
// and echo.
func TestPauseSilentlyEmitsNoPauseEvent(t *testing.T) {
	e := playback.NewEngine()
	cap := NewSimulatedOutput()
	defer cap.Close()
	a := NewAdapter(e, cap)
	defer a.Close()

	src := "song.mp3"
	a.Play(&src, CauseUser)

	var pauses int
	e.Subscribe(func(ev playback.Event) {
		if ev.Type == playback.EventPause {
			pauses++
		}
	})

	a.PauseSilently()

	if pauses != 0 {
		t.Fatalf("silent pause surfaced %d pause events", pauses)
	}
	if e.Snapshot().IsPlaying {
		t.Fatal("silent pause should still stop playback")
	}

	// The cause token is one-shot: a later, unrelated device pause
	// must surface normally.
	a.handleCapEvent(CapEvent{Type: CapPause})
	if pauses != 1 {
		t.Fatalf("a pause after the silent one should surface, got %d events", pauses)
	}
}

// TestSilentCauseSurvivesLateCallback: a device whose pause callback
// arrives long after the silent pause request must still be
// suppressed — the token is consumed by the callback, not by a clock.
func TestSilentCauseSurvivesLateCallback(t *testing.T) {
	e := playback.NewEngine()
	cap := newManualOutput()
	a := NewAdapter(e, cap)
	defer a.Close()

	var pauses int
	e.Subscribe(func(ev playback.Event) {
		if ev.Type == playback.EventPause {
			pauses++
		}
	})

	a.PauseSilently()
	time.Sleep(80 * time.Millisecond)
	cap.firePause()

	if pauses != 0 {
		t.Fatalf("late pause callback was not suppressed, got %d events", pauses)
	}
}

// manualOutput is a Capability whose edge callbacks fire only when the
// test says so, standing in for a device with asynchronous callbacks.
type manualOutput struct {
	listener CapListener
}

func newManualOutput() *manualOutput { return &manualOutput{} }

func (m *manualOutput) firePause() {
	if m.listener != nil {
		m.listener(CapEvent{Type: CapPause})
	}
}

func (m *manualOutput) SetSrc(string)          {}
func (m *manualOutput) Src() string            { return "" }
func (m *manualOutput) Play()                  {}
func (m *manualOutput) Pause()                 {}
func (m *manualOutput) Seek(float64) bool      { return true }
func (m *manualOutput) SetVolume(float64)      {}
func (m *manualOutput) Volume() float64        { return 1 }
func (m *manualOutput) SetMuted(bool)          {}
func (m *manualOutput) Muted() bool            { return false }
func (m *manualOutput) CurrentTime() float64   { return 0 }
func (m *manualOutput) Duration() float64      { return 0 }
func (m *manualOutput) ReadyState() ReadyState { return ReadyEnoughData }

func (m *manualOutput) Subscribe(l CapListener) func() {
	m.listener = l
	return func() { m.listener = nil }
}

// TestActivationCatchUpSeeksDevice: when an activation resolves with
// the device far behind the engine's authoritative position (a
// follower just became leader), the device is aligned once.
func TestActivationCatchUpSeeksDevice(t *testing.T) {
	e := playback.NewEngine()
	cap := NewSimulatedOutput()
	defer cap.Close()
	a := NewAdapter(e, cap)
	defer a.Close()

	src := "song.mp3"
	cap.SetSrc(src)
	e.UpdateState(playback.Patch{CurrentSrc: &src, CurrentTime: f64p(100)})

	a.Play(&src, CauseUser)

	if got := cap.CurrentTime(); got < 99 {
		t.Fatalf("device should have caught up to the engine position, got %v", got)
	}
}

// TestTransientAbortIsSwallowed: an aborted activation must not
// populate PlaybackState.error, while a genuine source failure must.
func TestTransientAbortIsSwallowed(t *testing.T) {
	e := playback.NewEngine()
	cap := NewSimulatedOutput()
	defer cap.Close()
	a := NewAdapter(e, cap)
	defer a.Close()

	a.handleCapEvent(CapEvent{Type: CapError, Err: ErrActivationAborted})
	if e.Snapshot().Error != nil {
		t.Fatal("an aborted activation should be swallowed")
	}

	a.handleCapEvent(CapEvent{Type: CapError, Err: errors.New("decode failed")})
	if e.Snapshot().Error == nil {
		t.Fatal("a genuine source failure should populate the error")
	}
}

// TestSeekRejectsInvalidValues: non-finite and negative positions are
// dropped without touching the device.
func TestSeekRejectsInvalidValues(t *testing.T) {
	e := playback.NewEngine()
	cap := NewSimulatedOutput()
	defer cap.Close()
	a := NewAdapter(e, cap)
	defer a.Close()

	cap.Seek(42)
	a.Seek(-5, CauseUser)
	if got := cap.CurrentTime(); got != 42 {
		t.Fatalf("negative seek should be dropped, device moved to %v", got)
	}
}
