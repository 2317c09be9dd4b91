package playlist

import (
	"playmesh/internal/guard"
	"playmesh/internal/proto"
	"playmesh/internal/transport"
)

// Coordinator wraps Core with broadcast semantics: local mutations
// are replicated over the transport; remote mutations are applied to
// Core without re-broadcasting them. It exclusively owns its Core.
type Coordinator struct {
	core   *Core
	bus    transport.Bus
	selfID string
	remote *guard.Remote

	// OnAutoAdvance is called with the track Next() produced, if any,
	// when auto-advance fires on an Ended event from PlaybackState —
	// Instance wires this to its own play(src).
	OnAutoAdvance func(track Track)
	autoAdvance   bool
	replicate     bool
}

// New constructs a Coordinator over a fresh Core, bound to bus for
// replication. remote is the reentrancy guard shared with the peer
// coordinator so an applied remote envelope never re-broadcasts.
func New(bus transport.Bus, selfID string, remote *guard.Remote, autoAdvance, replicate bool) *Coordinator {
	return &Coordinator{
		core:        NewCore(),
		bus:         bus,
		selfID:      selfID,
		remote:      remote,
		autoAdvance: autoAdvance,
		replicate:   replicate,
	}
}

// Core exposes the underlying PlaylistCore for read-only access
// (Snapshot, Subscribe) by callers that don't need to mutate it.
func (c *Coordinator) Core() *Core { return c.core }

// SetAutoAdvance toggles whether an Ended notification calls Next()
// and plays the result.
func (c *Coordinator) SetAutoAdvance(enabled bool) { c.autoAdvance = enabled }

// SetReplicate toggles whether local mutations broadcast to peers.
func (c *Coordinator) SetReplicate(enabled bool) { c.replicate = enabled }

func (c *Coordinator) broadcast(env proto.Envelope) {
	if !c.replicate || c.remote.Active() {
		return
	}
	env.SenderID = c.selfID
	env.SentAtMillis = proto.NowMillis()
	_ = c.bus.Broadcast(env)
}

func stateToProto(s State) (tracks []proto.Track, queueMap []int, currentIndex int, repeatMode string, shuffle bool) {
	tracks = make([]proto.Track, len(s.Tracks))
	for i, t := range s.Tracks {
		tracks[i] = proto.Track{
			ID: t.ID, Src: t.Src, Title: t.Title, Artist: t.Artist,
			Album: t.Album, CoverArt: t.CoverArt, Duration: t.Duration,
			Metadata: t.Metadata,
		}
	}
	return tracks, s.QueueMap, s.CurrentIndex, s.RepeatMode.String(), s.ShuffleEnabled
}

func protoToTracks(in []proto.Track) []Track {
	out := make([]Track, len(in))
	for i, t := range in {
		out[i] = Track{
			ID: t.ID, Src: t.Src, Title: t.Title, Artist: t.Artist,
			Album: t.Album, CoverArt: t.CoverArt, Duration: t.Duration,
			Metadata: t.Metadata,
		}
	}
	return out
}

func repeatFromString(s string) RepeatMode {
	switch s {
	case "all":
		return RepeatAll
	case "one":
		return RepeatOne
	default:
		return RepeatNone
	}
}

func (c *Coordinator) broadcastState(typ string) {
	tracks, queueMap, currentIndex, repeatMode, shuffle := stateToProto(c.core.Snapshot())
	c.broadcast(proto.Envelope{
		Type: typ,
		Payload: proto.Payload{
			Tracks:         tracks,
			QueueMap:       queueMap,
			CurrentIndex:   &currentIndex,
			RepeatMode:     repeatMode,
			ShuffleEnabled: &shuffle,
		},
	})
}

// Add inserts track locally and replicates a PLAYLIST_ADD envelope
// carrying the full snapshot. An insert can shift positions on both
// sides, so the full state is the minimal-ambiguity envelope here.
func (c *Coordinator) Add(track Track, pos *int) bool {
	ok := c.core.Add(track, pos)
	if ok {
		c.broadcastState(proto.TypePlaylistAdd)
	}
	return ok
}

// AddMany inserts every track locally, replicating one envelope per
// insert (matching Core.AddMany's own per-track loop).
func (c *Coordinator) AddMany(tracks []Track) {
	for _, t := range tracks {
		c.Add(t, nil)
	}
}

// Remove deletes id locally and replicates a PLAYLIST_REMOVE envelope
// carrying just the id.
func (c *Coordinator) Remove(id string) {
	c.core.Remove(id)
	c.broadcast(proto.Envelope{Type: proto.TypePlaylistRemove, Payload: proto.Payload{TrackID: id}})
}

// Clear empties the playlist locally and replicates PLAYLIST_CLEAR.
func (c *Coordinator) Clear() {
	c.core.Clear()
	c.broadcast(proto.Envelope{Type: proto.TypePlaylistClear})
}

// Move repositions locally and replicates PLAYLIST_MOVE with the
// {from,to} delta.
func (c *Coordinator) Move(from, to int) {
	c.core.Move(from, to)
	c.broadcast(proto.Envelope{Type: proto.TypePlaylistMove, Payload: proto.Payload{From: &from, To: &to}})
}

// JumpTo moves the current index locally and replicates PLAYLIST_JUMP
// with the target {index}.
func (c *Coordinator) JumpTo(queueIndex int) bool {
	ok := c.core.JumpTo(queueIndex)
	if ok {
		c.broadcast(proto.Envelope{Type: proto.TypePlaylistJump, Payload: proto.Payload{Index: &queueIndex}})
	}
	return ok
}

// Next advances locally and replicates PLAYLIST_NEXT. If Next()
// produced a track and auto-advance is off, this is still a plain
// user-driven skip — callers who want auto-advance-to-play semantics
// use the Ended-event path below instead.
func (c *Coordinator) Next() *Track {
	t := c.core.Next()
	c.broadcast(proto.Envelope{Type: proto.TypePlaylistNext})
	return t
}

// Prev steps back locally and replicates PLAYLIST_PREV.
func (c *Coordinator) Prev() *Track {
	t := c.core.Prev()
	c.broadcast(proto.Envelope{Type: proto.TypePlaylistPrev})
	return t
}

// SetShuffle toggles shuffle locally and replicates the full state
// (the new queueMap is not derivable from a boolean alone on the
// receiving end without re-running Fisher-Yates there, which would
// diverge from the sender's permutation).
func (c *Coordinator) SetShuffle(enabled bool) {
	c.core.SetShuffle(enabled)
	c.broadcastState(proto.TypePlaylistShuffle)
}

// SetRepeat sets repeat mode locally and replicates PLAYLIST_REPEAT.
func (c *Coordinator) SetRepeat(mode RepeatMode) {
	c.core.SetRepeat(mode)
	c.broadcast(proto.Envelope{Type: proto.TypePlaylistRepeat, Payload: proto.Payload{RepeatMode: mode.String()}})
}

// ToggleRepeat cycles repeat mode locally and replicates the result.
func (c *Coordinator) ToggleRepeat() {
	c.core.ToggleRepeat()
	c.broadcast(proto.Envelope{Type: proto.TypePlaylistRepeat, Payload: proto.Payload{RepeatMode: c.core.Snapshot().RepeatMode.String()}})
}

// OnEnded is wired to PlaybackState's Ended event by Instance. When
// auto-advance is on, it calls Next() (replicating it like any other
// local mutation) and, if a track resulted, invokes OnAutoAdvance so
// Instance can start playing it.
func (c *Coordinator) OnEnded() {
	if !c.autoAdvance {
		return
	}
	t := c.Next()
	if t != nil && c.OnAutoAdvance != nil {
		c.OnAutoAdvance(*t)
	}
}

// ApplyRemote applies an incoming PLAYLIST_* envelope to Core without
// re-broadcasting. The caller is expected to have already filtered to
// PLAYLIST_* types and to be holding the remote guard via While.
func (c *Coordinator) ApplyRemote(env proto.Envelope) {
	switch env.Type {
	case proto.TypePlaylistAdd, proto.TypePlaylistState, proto.TypePlaylistShuffle:
		s := State{
			Tracks:         protoToTracks(env.Payload.Tracks),
			QueueMap:       env.Payload.QueueMap,
			RepeatMode:     repeatFromString(env.Payload.RepeatMode),
			ShuffleEnabled: env.Payload.ShuffleEnabled != nil && *env.Payload.ShuffleEnabled,
		}
		if env.Payload.CurrentIndex != nil {
			s.CurrentIndex = *env.Payload.CurrentIndex
		} else {
			s.CurrentIndex = -1
		}
		c.core.SetState(s)
	case proto.TypePlaylistRemove:
		c.core.Remove(env.Payload.TrackID)
	case proto.TypePlaylistClear:
		c.core.Clear()
	case proto.TypePlaylistMove:
		if env.Payload.From != nil && env.Payload.To != nil {
			c.core.Move(*env.Payload.From, *env.Payload.To)
		}
	case proto.TypePlaylistJump:
		if env.Payload.Index != nil {
			c.core.JumpTo(*env.Payload.Index)
		}
	case proto.TypePlaylistNext:
		c.core.Next()
	case proto.TypePlaylistPrev:
		c.core.Prev()
	case proto.TypePlaylistRepeat:
		c.core.SetRepeat(repeatFromString(env.Payload.RepeatMode))
	}
}
