package playback

import "testing"

// TestEveryEventFollowedByStateChange: every non-state_change event
// must be immediately followed by exactly one state_change.
func TestEveryEventFollowedByStateChange(t *testing.T) {
	e := NewEngine()
	var seen []EventType
	e.Subscribe(func(ev Event) { seen = append(seen, ev.Type) })

	src := "song.mp3"
	e.Play(&src)
	e.Seek(42)
	e.Pause()
	e.Stop()
	e.SetBuffering(true)
	e.SetError("media_source_error", "boom")
	e.Ended()

	for i, typ := range seen {
		if typ == EventStateChange {
			continue
		}
		if i+1 >= len(seen) || seen[i+1] != EventStateChange {
			t.Fatalf("event %v at index %d was not immediately followed by state_change; sequence: %v", typ, i, seen)
		}
	}
}

func TestPlaySrcChangeResetsTimeAndDuration(t *testing.T) {
	e := NewEngine()
	e.UpdateState(Patch{CurrentTime: f64p(90), Duration: f64p(200)})

	other := "other.mp3"
	e.Play(&other)

	s := e.Snapshot()
	if s.CurrentTime != 0 || s.Duration != 0 {
		t.Fatalf("changing src should reset time/duration, got %+v", s)
	}
	if !s.IsPlaying || s.CurrentSrc != "other.mp3" {
		t.Fatalf("unexpected state after Play: %+v", s)
	}
}

func TestPlaySameSrcKeepsPosition(t *testing.T) {
	e := NewEngine()
	src := "song.mp3"
	e.Play(&src)
	e.UpdateState(Patch{CurrentTime: f64p(75)})

	e.Play(&src)
	if e.Snapshot().CurrentTime != 75 {
		t.Fatalf("re-playing the same src should not reset position")
	}
}

func TestSetSyncStateNeverEmitsActionEvents(t *testing.T) {
	e := NewEngine()
	var types []EventType
	e.Subscribe(func(ev Event) { types = append(types, ev.Type) })

	playing := true
	e.SetSyncState(Patch{IsPlaying: &playing, CurrentTime: f64p(12)})

	for _, typ := range types {
		if typ != EventStateChange {
			t.Fatalf("SetSyncState must only ever emit state_change, got %v", typ)
		}
	}
}

func TestStopResetsCurrentTime(t *testing.T) {
	e := NewEngine()
	src := "a.mp3"
	e.Play(&src)
	e.UpdateState(Patch{CurrentTime: f64p(55)})
	e.Stop()
	s := e.Snapshot()
	if s.IsPlaying || s.CurrentTime != 0 {
		t.Fatalf("Stop should pause and rewind, got %+v", s)
	}
}

func TestSetBufferingIsEdgeTriggered(t *testing.T) {
	e := NewEngine()
	var n int
	e.Subscribe(func(ev Event) {
		if ev.Type == EventBuffering {
			n++
		}
	})
	e.SetBuffering(true)
	e.SetBuffering(true)
	e.SetBuffering(false)
	if n != 2 {
		t.Fatalf("SetBuffering should only emit on actual transitions, got %d emissions", n)
	}
}

func TestSetBufferProgressNeverEmitsStateChange(t *testing.T) {
	e := NewEngine()
	var stateChanges int
	e.Subscribe(func(ev Event) {
		if ev.Type == EventStateChange {
			stateChanges++
		}
	})
	e.SetBufferProgress(3.5)
	if stateChanges != 0 {
		t.Fatalf("SetBufferProgress must not flood state_change, got %d", stateChanges)
	}
}

func TestClearErrorResetsRecordedError(t *testing.T) {
	e := NewEngine()
	e.SetError("media_source_error", "boom")
	if e.Snapshot().Error == nil {
		t.Fatal("expected error to be recorded")
	}
	e.ClearError()
	if e.Snapshot().Error != nil {
		t.Fatal("ClearError should clear PlaybackState.error")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEngine()
	var n int
	unsub := e.Subscribe(func(Event) { n++ })
	unsub()
	unsub() // idempotent
	e.Pause()
	if n != 0 {
		t.Fatalf("unsubscribed listener still received %d events", n)
	}
}

func f64p(v float64) *float64 { return &v }
