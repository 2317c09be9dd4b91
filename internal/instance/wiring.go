package instance

import (
	"playmesh/internal/playback"
	"playmesh/internal/playlist"
	"playmesh/internal/proto"
)

// onEngineEvent fans out every PlaybackState event to the unified
// Instance event stream, updates any bound MediaControl, drives
// playlist auto-advance on Ended, and replicates the event over the
// transport when singlePlayback is false or this peer is leader, and
// it was not itself the application of an incoming remote message.
func (i *Instance) onEngineEvent(ev playback.Event) {
	switch ev.Type {
	case playback.EventPlay:
		i.emit(Event{Type: EventPlay, Playback: ev.State})
	case playback.EventPause:
		i.emit(Event{Type: EventPause, Playback: ev.State})
	case playback.EventStop:
		i.emit(Event{Type: EventStop, Playback: ev.State})
	case playback.EventSeek:
		i.emit(Event{Type: EventSeek, Playback: ev.State})
	case playback.EventEnded:
		i.emit(Event{Type: EventEnded, Playback: ev.State})
		i.playlist.OnEnded()
	case playback.EventError:
		i.emit(Event{Type: EventError, Playback: ev.State, Err: ev.Err})
	case playback.EventBuffering:
		i.emit(Event{Type: EventBuffering, Playback: ev.State})
	case playback.EventBufferProgress:
		i.emit(Event{Type: EventBufferProgress, Playback: ev.State})
	case playback.EventStateChange:
		i.emit(Event{Type: EventTimeUpdate, Playback: ev.State})
	}

	i.updateMediaControl(ev.State)

	// Replicate local transitions: every peer does so when each plays
	// its own audio; under singlePlayback only the leader's transitions
	// are authoritative, and followers shadow them.
	if !i.remote.Active() && (!i.config().Sync.SinglePlayback || i.coord.IsLeader()) {
		if env, ok := envelopeForEngineEvent(ev); ok {
			i.coord.BroadcastLocal(env)
		}
	}
}

// envelopeForEngineEvent maps a local PlaybackState event onto its
// replicated wire form. Buffering/error/state_change-only transitions
// are not independently replicated — STATE_UPDATE heartbeats carry
// position/duration/source, which is what followers need.
func envelopeForEngineEvent(ev playback.Event) (proto.Envelope, bool) {
	switch ev.Type {
	case playback.EventPlay:
		src := ev.State.CurrentSrc
		dur := ev.State.Duration
		cur := ev.State.CurrentTime
		return proto.Envelope{Type: proto.TypePlay, Payload: proto.Payload{
			CurrentSrc: &src, Duration: &dur, CurrentTime: &cur,
		}}, true
	case playback.EventPause:
		return proto.Envelope{Type: proto.TypePause}, true
	case playback.EventStop:
		return proto.Envelope{Type: proto.TypeStop}, true
	case playback.EventSeek:
		t := ev.SeekTime
		return proto.Envelope{Type: proto.TypeStateUpdate, Payload: proto.Payload{CurrentTime: &t}}, true
	default:
		return proto.Envelope{}, false
	}
}

// onPlaylistEvent fans out Core transitions to the unified stream and
// pushes fresh track metadata into any bound MediaControl.
func (i *Instance) onPlaylistEvent(ev playlist.Event) {
	switch ev.Type {
	case playlist.EventTrackChanged:
		i.emit(Event{
			Type:          EventTrackChange,
			PreviousTrack: ev.PreviousTrack,
			CurrentTrack:  ev.CurrentTrack,
		})
		if i.mediaControl != nil && i.mcBound && ev.CurrentTrack != nil {
			t := ev.CurrentTrack
			i.mediaControl.SetMetadata(t.Title, t.Artist, t.Album, t.CoverArt)
		}
	case playlist.EventPlaylistEnded:
		i.emit(Event{Type: EventPlaylistEnded})
	case playlist.EventStateChange:
		i.emit(Event{Type: EventPlaylistChanged})
	}
}

// onLeadershipChange emits leaderChange, binds/releases MediaControl,
// and on demotion while playing under singlePlayback, pauses silently
// so the lost-leadership transition does not re-enter the broadcast
// loop.
func (i *Instance) onLeadershipChange(isLeader bool) {
	i.emit(Event{Type: EventLeaderChange, IsLeader: isLeader, Playback: i.engine.Snapshot()})

	if isLeader {
		if i.mediaControl != nil && !i.mcBound {
			i.bindMediaControl(i.mediaControl)
			i.mcBound = true
		}
		return
	}

	if i.mediaControl != nil && i.mcBound {
		i.mediaControl.Release()
		i.mcBound = false
	}
	if i.config().Sync.SinglePlayback && i.engine.Snapshot().IsPlaying {
		i.adapter.PauseSilently()
	}
}

func (i *Instance) updateMediaControl(s playback.State) {
	if i.mediaControl == nil || !i.mcBound {
		return
	}
	state := "none"
	switch {
	case s.IsPlaying:
		state = "playing"
	case s.CurrentSrc != "":
		state = "paused"
	}
	i.mediaControl.SetPlaybackState(state)
	i.mediaControl.SetPosition(s.CurrentTime, s.Duration, 1)
}
