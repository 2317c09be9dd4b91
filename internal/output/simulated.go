package output

import (
	"sync"
	"time"
)

// SimulatedOutput is an in-memory Capability driven by a wall-clock
// timer: position = stored position + elapsed time since the last
// update. It lets Adapter and PlaybackSync be exercised by tests and
// demos without a real audio device.
type SimulatedOutput struct {
	mu         sync.Mutex
	src        string
	playing    bool
	position   float64
	updatedAt  time.Time
	duration   float64
	volume     float64
	muted      bool
	ready      ReadyState
	listeners  map[int]CapListener
	nextID     int
	stopTicker chan struct{}
}

// NewSimulatedOutput returns a ready, idle SimulatedOutput.
func NewSimulatedOutput() *SimulatedOutput {
	o := &SimulatedOutput{
		volume:    1,
		ready:     ReadyEnoughData,
		updatedAt: time.Now(),
		listeners: make(map[int]CapListener),
	}
	o.stopTicker = make(chan struct{})
	go o.tick()
	return o
}

// Close stops the background position-advance goroutine.
func (o *SimulatedOutput) Close() {
	close(o.stopTicker)
}

func (o *SimulatedOutput) tick() {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-o.stopTicker:
			return
		case <-t.C:
			o.advance()
		}
	}
}

func (o *SimulatedOutput) advance() {
	o.mu.Lock()
	if !o.playing {
		o.mu.Unlock()
		return
	}
	now := time.Now()
	o.position += now.Sub(o.updatedAt).Seconds()
	o.updatedAt = now
	ended := o.duration > 0 && o.position >= o.duration
	if ended {
		o.position = o.duration
		o.playing = false
	}
	cur, dur := o.position, o.duration
	ls := o.snapshotListeners()
	o.mu.Unlock()

	for _, l := range ls {
		l(CapEvent{Type: CapTimeUpdate, CurrentTime: cur, Duration: dur})
	}
	if ended {
		for _, l := range ls {
			l(CapEvent{Type: CapEnded})
		}
	}
}

func (o *SimulatedOutput) snapshotListeners() []CapListener {
	ls := make([]CapListener, 0, len(o.listeners))
	for _, l := range o.listeners {
		ls = append(ls, l)
	}
	return ls
}

func (o *SimulatedOutput) SetSrc(src string) {
	o.mu.Lock()
	o.src = src
	o.position = 0
	o.duration = 0
	o.updatedAt = time.Now()
	o.mu.Unlock()
}

func (o *SimulatedOutput) Src() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.src
}

// Play activates playback. A SimulatedOutput never aborts, so
// CapPlaying fires immediately (synchronously from the caller's
// goroutine, matching a same-tick microtask resolution closely enough
// for tests).
func (o *SimulatedOutput) Play() {
	o.mu.Lock()
	o.playing = true
	o.updatedAt = time.Now()
	if o.duration == 0 {
		o.duration = 180 // synthetic default duration for tests/demos
	}
	ls := o.snapshotListeners()
	o.mu.Unlock()
	for _, l := range ls {
		l(CapEvent{Type: CapPlaying})
	}
}

func (o *SimulatedOutput) Pause() {
	o.mu.Lock()
	if o.playing {
		now := time.Now()
		o.position += now.Sub(o.updatedAt).Seconds()
		o.updatedAt = now
	}
	o.playing = false
	ls := o.snapshotListeners()
	o.mu.Unlock()
	for _, l := range ls {
		l(CapEvent{Type: CapPause})
	}
}

func (o *SimulatedOutput) Seek(t float64) bool {
	o.mu.Lock()
	if o.ready < ReadyCurrentData {
		o.mu.Unlock()
		return false
	}
	o.position = t
	o.updatedAt = time.Now()
	cur, dur := o.position, o.duration
	ls := o.snapshotListeners()
	o.mu.Unlock()
	for _, l := range ls {
		l(CapEvent{Type: CapTimeUpdate, CurrentTime: cur, Duration: dur})
	}
	return true
}

func (o *SimulatedOutput) SetVolume(v float64) {
	o.mu.Lock()
	o.volume = v
	o.mu.Unlock()
}

func (o *SimulatedOutput) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

func (o *SimulatedOutput) SetMuted(m bool) {
	o.mu.Lock()
	o.muted = m
	o.mu.Unlock()
}

func (o *SimulatedOutput) Muted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

func (o *SimulatedOutput) CurrentTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.playing {
		return o.position + time.Since(o.updatedAt).Seconds()
	}
	return o.position
}

func (o *SimulatedOutput) Duration() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duration
}

func (o *SimulatedOutput) ReadyState() ReadyState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

func (o *SimulatedOutput) Subscribe(l CapListener) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = l
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}
