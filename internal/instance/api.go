package instance

import (
	"playmesh/internal/output"
	"playmesh/internal/playback"
	"playmesh/internal/proto"
)

// Play dispatches a user play(src?) call. src may be nil to resume
// the current source.
func (i *Instance) Play(src *string) {
	i.post(func() { i.dispatch("play", src, nil) })
}

// Pause dispatches a user pause() call.
func (i *Instance) Pause() {
	i.post(func() { i.dispatch("pause", nil, nil) })
}

// Seek dispatches a user seek(t) call.
func (i *Instance) Seek(t float64) {
	i.post(func() { i.dispatch("seek", nil, &t) })
}

// Stop drives the output adapter directly; stop is never claimed or
// remote-commanded (only play/pause/seek are), so it always runs
// immediately against the local adapter and replicates when
// singlePlayback is false.
func (i *Instance) Stop() {
	i.post(func() {
		i.adapter.Stop(output.CauseUser)
		if !i.config().Sync.SinglePlayback {
			i.coord.BroadcastLocal(proto.Envelope{Type: proto.TypeStop})
		}
	})
}

// SetVolume, Mute, Unmute, ToggleMute act on the local engine only;
// volume and mute are per-device concerns and never replicate.
func (i *Instance) SetVolume(v float64) {
	i.post(func() {
		// Only the Engine's copy is updated, for snapshot consumers
		// (observer, media-control); the Capability's own volume and
		// muted settings are not changed by these calls.
		i.engine.UpdateState(playback.Patch{Volume: &v})
	})
}

func (i *Instance) Mute() {
	i.post(func() {
		muted := true
		i.engine.UpdateState(playback.Patch{Muted: &muted})
	})
}

func (i *Instance) Unmute() {
	i.post(func() {
		muted := false
		i.engine.UpdateState(playback.Patch{Muted: &muted})
	})
}

func (i *Instance) ToggleMute() {
	i.post(func() {
		muted := !i.engine.Snapshot().Muted
		i.engine.UpdateState(playback.Patch{Muted: &muted})
	})
}

// BecomeLeader runs the claim handshake with no buffered action — an
// explicit promotion request.
func (i *Instance) BecomeLeader() {
	i.post(func() { i.coord.BecomeLeader() })
}

// dispatch picks the execution path for a user play/pause/seek:
// direct when every peer plays its own audio or this peer is already
// leader, remote-command when a leader elsewhere should execute it,
// and claim-then-execute otherwise. action is one of
// "play"/"pause"/"seek"; src and seekTime are populated only for
// their respective actions.
func (i *Instance) dispatch(action string, src *string, seekTime *float64) {
	cfg := i.config().Sync
	act := proto.Action{Action: action, Src: src, SeekTime: seekTime}

	if !cfg.SinglePlayback {
		// executeAction drives the adapter, which re-emits through
		// PlaybackState; onEngineEvent's state-change hook (wiring.go)
		// is what actually broadcasts the resulting PLAY/PAUSE/
		// STATE_UPDATE envelope. Seek needs no separate broadcast
		// here either: Adapter.Seek calls Engine.Seek, and the hook
		// maps the resulting seek event to a STATE_UPDATE.
		i.executeAction(act)
		return
	}

	if i.coord.IsLeader() {
		i.executeAction(act)
		return
	}

	if cfg.AllowRemoteControl {
		if !cfg.AutoClaimLeadershipIfNone {
			i.applyShadow(act)
			i.coord.SendRemoteCommand(act)
			return
		}
		i.coord.CheckForActiveLeader(func(found bool) {
			i.post(func() {
				if found {
					i.coord.SendRemoteCommand(act)
				} else {
					i.coord.Claim(act)
				}
			})
		})
		return
	}

	i.coord.Claim(act)
}

// applyShadow updates local shadow state for a remote-command
// dispatch so the follower's own display reflects the command
// optimistically while the leader's copy is authoritative.
func (i *Instance) applyShadow(act proto.Action) {
	switch act.Action {
	case "play":
		playing := true
		patch := playback.Patch{IsPlaying: &playing}
		if act.Src != nil {
			patch.CurrentSrc = act.Src
		}
		i.engine.SetSyncState(patch)
	case "pause":
		playing := false
		i.engine.SetSyncState(playback.Patch{IsPlaying: &playing})
	case "seek":
		if act.SeekTime != nil {
			i.engine.SetSyncState(playback.Patch{CurrentTime: act.SeekTime})
		}
	}
}

// executeAction applies a claimed or directly-dispatched action to the
// OutputAdapter. It is the Coordinator.Callbacks.ExecuteAction entry
// point (called on promotion) and is also used directly when
// singlePlayback is false or the local peer is already leader.
func (i *Instance) executeAction(act proto.Action) {
	switch act.Action {
	case "play":
		i.adapter.Play(act.Src, output.CauseUser)
	case "pause":
		i.adapter.Pause(output.CauseUser)
	case "seek":
		if act.SeekTime != nil {
			i.adapter.Seek(*act.SeekTime, output.CauseUser)
		}
	}
}

// onRemoteCommand applies an envelope a follower addressed to this
// leader. Leadership stays where it is; the sender remains a
// follower.
func (i *Instance) onRemoteCommand(env proto.Envelope) {
	if env.Payload.Action == nil {
		return
	}
	i.executeAction(*env.Payload.Action)
}

