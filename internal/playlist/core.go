// Package playlist implements the ordered in-memory queue with
// navigation, shuffle, and repeat, and the replication wrapper that
// broadcasts local mutations to peers. Core knows nothing about the
// transport; Coordinator layers that on top.
package playlist

import (
	"math/rand"
	"sync"
)

// RepeatMode is one of none/all/one.
type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatAll
	RepeatOne
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "none"
	}
}

// Track is one playlist entry. Identity is ID; duplicates are
// rejected.
type Track struct {
	ID       string
	Src      string
	Title    string
	Artist   string
	Album    string
	CoverArt string
	Duration float64
	Metadata map[string]string
}

// State is an immutable snapshot of PlaylistState for event payloads
// and replication.
type State struct {
	Tracks         []Track
	CurrentIndex   int
	RepeatMode     RepeatMode
	ShuffleEnabled bool
	Queue          []Track
	QueueMap       []int
}

// EventType enumerates PlaylistCore's emitted events.
type EventType int

const (
	EventStateChange EventType = iota
	EventTrackChanged
	EventPlaylistEnded
)

// Event carries a PlaylistCore transition.
type Event struct {
	Type          EventType
	State         State
	PreviousIndex int
	PreviousTrack *Track
	CurrentTrack  *Track
}

// Listener receives every PlaylistCore event.
type Listener func(Event)

// Core is the pure in-memory queue. It has no knowledge of
// replication; Coordinator wraps it for that.
type Core struct {
	mu         sync.Mutex
	tracks     []Track
	queueMap   []int // queueMap[i] = index into tracks for queue position i
	currentIdx int
	repeat     RepeatMode
	shuffle    bool
	listeners  map[int]Listener
	nextID     int
}

// NewCore returns an empty Core with currentIndex=-1.
func NewCore() *Core {
	return &Core{currentIdx: -1, listeners: make(map[int]Listener)}
}

// Subscribe registers l for every Core event.
func (c *Core) Subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Core) emitLocked(ev Event) {
	ev.State = c.snapshotLocked()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
	c.mu.Lock()
}

func (c *Core) snapshotLocked() State {
	queue := make([]Track, len(c.queueMap))
	for i, idx := range c.queueMap {
		queue[i] = c.tracks[idx]
	}
	return State{
		Tracks:         append([]Track(nil), c.tracks...),
		CurrentIndex:   c.currentIdx,
		RepeatMode:     c.repeat,
		ShuffleEnabled: c.shuffle,
		Queue:          queue,
		QueueMap:       append([]int(nil), c.queueMap...),
	}
}

// Snapshot returns the current PlaylistState.
func (c *Core) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Core) indexOfID(id string) int {
	for i, t := range c.tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Add appends track at the end, or inserts at pos when given.
// Duplicate ids (by Track.ID) are rejected silently — never an error,
// never a panic. It returns false when the id already exists.
func (c *Core) Add(track Track, pos *int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOfID(track.ID) >= 0 {
		return false
	}
	i := len(c.tracks)
	if pos != nil && *pos < len(c.tracks) {
		i = *pos
		if i < 0 {
			i = 0
		}
	}
	if i == len(c.tracks) {
		c.tracks = append(c.tracks, track)
	} else {
		c.tracks = append(c.tracks, Track{})
		copy(c.tracks[i+1:], c.tracks[i:])
		c.tracks[i] = track
	}
	c.insertQueueLocked(i)
	c.emitLocked(Event{Type: EventStateChange})
	return true
}

// AddMany appends every track that is not already present.
func (c *Core) AddMany(tracks []Track) {
	for _, t := range tracks {
		c.Add(t, nil)
	}
}

// Remove deletes the track with the given id, if present. If it was
// the current track, currentIndex is clamped to the last valid
// position without going below -1.
func (c *Core) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOfID(id)
	if idx < 0 {
		return
	}
	currentTrack := c.trackAtLocked(c.currentIdx)
	removingCurrent := currentTrack != nil && currentTrack.ID == id

	c.tracks = append(c.tracks[:idx], c.tracks[idx+1:]...)
	c.removeQueueLocked(idx)

	switch {
	case len(c.tracks) == 0:
		c.currentIdx = -1
	case removingCurrent:
		if c.currentIdx >= len(c.queueMap) {
			c.currentIdx = len(c.queueMap) - 1
		}
	case currentTrack != nil:
		for i, qidx := range c.queueMap {
			if c.tracks[qidx].ID == currentTrack.ID {
				c.currentIdx = i
				break
			}
		}
	}
	c.emitLocked(Event{Type: EventStateChange})
}

// Clear empties the playlist.
func (c *Core) Clear() {
	c.mu.Lock()
	c.tracks = nil
	c.queueMap = nil
	c.currentIdx = -1
	c.emitLocked(Event{Type: EventStateChange})
	c.mu.Unlock()
}

// Move repositions the queue entry at from to to.
func (c *Core) Move(from, to int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if from < 0 || from >= len(c.queueMap) || to < 0 || to >= len(c.queueMap) || from == to {
		return
	}
	v := c.queueMap[from]
	c.queueMap = append(c.queueMap[:from], c.queueMap[from+1:]...)
	c.queueMap = append(c.queueMap[:to], append([]int{v}, c.queueMap[to:]...)...)

	switch {
	case c.currentIdx == from:
		c.currentIdx = to
	case from < c.currentIdx && to >= c.currentIdx:
		c.currentIdx--
	case from > c.currentIdx && to <= c.currentIdx:
		c.currentIdx++
	}
	c.emitLocked(Event{Type: EventStateChange})
}

// JumpTo moves currentIndex to queueIndex if in bounds, emitting
// TrackChanged.
func (c *Core) JumpTo(queueIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if queueIndex < 0 || queueIndex >= len(c.queueMap) {
		return false
	}
	c.setCurrentLocked(queueIndex)
	return true
}

func (c *Core) trackAtLocked(queueIdx int) *Track {
	if queueIdx < 0 || queueIdx >= len(c.queueMap) {
		return nil
	}
	t := c.tracks[c.queueMap[queueIdx]]
	return &t
}

func (c *Core) setCurrentLocked(queueIdx int) {
	prevIdx := c.currentIdx
	prevTrack := c.trackAtLocked(prevIdx)
	c.currentIdx = queueIdx
	curTrack := c.trackAtLocked(queueIdx)
	c.emitLocked(Event{
		Type:          EventTrackChanged,
		PreviousIndex: prevIdx,
		PreviousTrack: prevTrack,
		CurrentTrack:  curTrack,
	})
}

// Next advances per the repeat mode: repeat=one returns the current
// track; repeat=none past the end emits PlaylistEnded and returns
// nil; repeat=all wraps.
func (c *Core) Next() *Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queueMap) == 0 {
		return nil
	}
	if c.repeat == RepeatOne {
		return c.trackAtLocked(c.currentIdx)
	}
	next := c.currentIdx + 1
	if next >= len(c.queueMap) {
		if c.repeat == RepeatAll {
			next = 0
		} else {
			c.emitLocked(Event{Type: EventPlaylistEnded})
			return nil
		}
	}
	c.setCurrentLocked(next)
	return c.trackAtLocked(next)
}

// Prev steps backward; repeat=none stays at 0, repeat=all wraps,
// repeat=one returns the current track.
func (c *Core) Prev() *Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queueMap) == 0 {
		return nil
	}
	if c.repeat == RepeatOne {
		return c.trackAtLocked(c.currentIdx)
	}
	prev := c.currentIdx - 1
	if prev < 0 {
		if c.repeat == RepeatAll {
			prev = len(c.queueMap) - 1
		} else {
			prev = 0
		}
	}
	c.setCurrentLocked(prev)
	return c.trackAtLocked(prev)
}

// SetRepeat sets the repeat mode.
func (c *Core) SetRepeat(mode RepeatMode) {
	c.mu.Lock()
	c.repeat = mode
	c.emitLocked(Event{Type: EventStateChange})
	c.mu.Unlock()
}

// ToggleRepeat cycles none -> all -> one -> none.
func (c *Core) ToggleRepeat() {
	c.mu.Lock()
	c.repeat = (c.repeat + 1) % 3
	c.emitLocked(Event{Type: EventStateChange})
	c.mu.Unlock()
}

// SetShuffle enables or disables shuffle. Enabling twice is a no-op;
// disabling after enabling restores queue==tracks. The current track
// survives either transition: its id is located in the new queue and
// currentIdx follows it.
func (c *Core) SetShuffle(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled == c.shuffle {
		return
	}
	c.shuffle = enabled
	currentTrackID := ""
	if t := c.trackAtLocked(c.currentIdx); t != nil {
		currentTrackID = t.ID
	}

	if enabled {
		c.queueMap = fisherYatesShuffle(len(c.tracks))
	} else {
		c.queueMap = identityPermutation(len(c.tracks))
	}

	if currentTrackID != "" {
		for i, idx := range c.queueMap {
			if c.tracks[idx].ID == currentTrackID {
				c.currentIdx = i
				break
			}
		}
	}
	c.emitLocked(Event{Type: EventStateChange})
}

// SetState bulk-replaces the playlist, used when applying a remote
// PLAYLIST_STATE_UPDATE envelope.
func (c *Core) SetState(s State) {
	c.mu.Lock()
	c.tracks = append([]Track(nil), s.Tracks...)
	if s.QueueMap != nil {
		c.queueMap = append([]int(nil), s.QueueMap...)
	} else {
		c.queueMap = identityPermutation(len(c.tracks))
	}
	c.currentIdx = s.CurrentIndex
	c.repeat = s.RepeatMode
	c.shuffle = s.ShuffleEnabled
	c.emitLocked(Event{Type: EventStateChange})
	c.mu.Unlock()
}

// insertQueueLocked updates queueMap after a track was spliced into
// c.tracks at trackIdx. Under shuffle the existing permutation is
// translated through the same index shift the splice applied (every
// retained entry >= trackIdx moves up one) and the new track queues
// last, rather than reshuffling the whole queue on every add.
func (c *Core) insertQueueLocked(trackIdx int) {
	if !c.shuffle {
		c.queueMap = identityPermutation(len(c.tracks))
		return
	}
	for i, v := range c.queueMap {
		if v >= trackIdx {
			c.queueMap[i] = v + 1
		}
	}
	c.queueMap = append(c.queueMap, trackIdx)
}

// removeQueueLocked updates queueMap after the track at trackIdx was
// spliced out of c.tracks: its queue entry is dropped and every
// retained entry > trackIdx moves down one, so each remaining queue
// position keeps pointing at the same physical track.
func (c *Core) removeQueueLocked(trackIdx int) {
	if !c.shuffle {
		c.queueMap = identityPermutation(len(c.tracks))
		return
	}
	mapped := c.queueMap[:0]
	for _, v := range c.queueMap {
		switch {
		case v == trackIdx:
		case v > trackIdx:
			mapped = append(mapped, v-1)
		default:
			mapped = append(mapped, v)
		}
	}
	c.queueMap = mapped
}

func identityPermutation(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

func fisherYatesShuffle(n int) []int {
	p := identityPermutation(n)
	for i := n - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}
