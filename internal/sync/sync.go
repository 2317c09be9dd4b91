// Package sync applies remote playback envelopes to the local
// engine/adapter per the SyncConfig matrix, in either
// follower-as-shadow (singlePlayback=true, never touches the device)
// or follower-as-player (singlePlayback=false, commands the device)
// mode.
package sync

import (
	"playmesh/internal/config"
	"playmesh/internal/latency"
	"playmesh/internal/output"
	"playmesh/internal/playback"
	"playmesh/internal/proto"
)

// PlaybackSync binds an Engine and an Adapter under a SyncConfig. A
// follower-as-shadow Sync never touches adapter; a follower-as-player
// Sync drives it directly.
type PlaybackSync struct {
	cfg     config.SyncConfig
	engine  *playback.Engine
	adapter *output.Adapter
}

// New constructs a PlaybackSync. adapter may be nil in shadow-only
// tests that never exercise the follower-as-player path.
func New(cfg config.SyncConfig, engine *playback.Engine, adapter *output.Adapter) *PlaybackSync {
	return &PlaybackSync{cfg: cfg, engine: engine, adapter: adapter}
}

// SetConfig swaps the SyncConfig used for future envelopes.
func (s *PlaybackSync) SetConfig(cfg config.SyncConfig) { s.cfg = cfg }

// Apply dispatches env per the SyncConfig filter. Callers are
// expected to have already excluded self-originated and
// leadership-handshake envelopes.
func (s *PlaybackSync) Apply(env proto.Envelope) {
	delay := latency.DelaySeconds(proto.NowMillis(), env.SentAtMillis)

	switch env.Type {
	case proto.TypePlay:
		if !s.cfg.SyncPlay {
			return
		}
		s.applyPlay(env, delay)
	case proto.TypePause:
		if !s.cfg.SyncPause {
			return
		}
		s.applyPause()
	case proto.TypeStop:
		if !s.cfg.SyncPause {
			return
		}
		s.applyStop()
	case proto.TypeStateUpdate:
		if !s.cfg.SyncSeek && !s.cfg.SyncTrackChange {
			return
		}
		s.applyStateUpdate(env, delay)
	}
}

func (s *PlaybackSync) trackChanging(newSrc string) bool {
	return newSrc != "" && newSrc != s.engine.Snapshot().CurrentSrc
}

func (s *PlaybackSync) applyPlay(env proto.Envelope, delay float64) {
	newSrc := ""
	if env.Payload.CurrentSrc != nil {
		newSrc = *env.Payload.CurrentSrc
	}
	changing := s.trackChanging(newSrc)

	if s.cfg.SinglePlayback {
		playing := false
		patch := playback.Patch{IsPlaying: &playing}
		if s.cfg.SyncTrackChange && newSrc != "" {
			patch.CurrentSrc = &newSrc
			if env.Payload.Duration != nil {
				patch.Duration = env.Payload.Duration
			}
		}
		if s.cfg.SyncSeek && env.Payload.CurrentTime != nil {
			adjusted := latency.AdjustedTime(*env.Payload.CurrentTime, true, delay, 0)
			patch.CurrentTime = &adjusted
		}
		s.engine.SetSyncState(patch)
		return
	}

	if s.adapter == nil {
		return
	}

	switch {
	case changing && s.cfg.SyncTrackChange:
		s.adapter.Play(&newSrc, output.CauseSync)
		if env.Payload.CurrentTime != nil {
			adjusted := latency.AdjustedTime(*env.Payload.CurrentTime, true, delay, 0)
			s.adapter.SeekWhenReady(adjusted, output.CauseSync)
		}
	case changing && !s.cfg.SyncTrackChange:
		// Track-change is ignored, but the current source is re-synced
		// for time/play to stay consistent with the leader's activity.
		s.reAlignCurrent(env, delay)
		s.adapter.Play(nil, output.CauseSync)
	default:
		s.reAlignCurrent(env, delay)
		s.adapter.Play(nil, output.CauseSync)
	}
}

func (s *PlaybackSync) reAlignCurrent(env proto.Envelope, delay float64) {
	if !s.cfg.SyncSeek || env.Payload.CurrentTime == nil {
		return
	}
	adjusted := latency.AdjustedTime(*env.Payload.CurrentTime, true, delay, 0)
	local := s.engine.Snapshot().CurrentTime
	if latency.Diff(local, *env.Payload.CurrentTime, true, delay) > latency.DriftThreshold {
		s.adapter.Seek(adjusted, output.CauseSync)
	}
}

func (s *PlaybackSync) applyPause() {
	if s.cfg.SinglePlayback {
		playing := false
		s.engine.SetSyncState(playback.Patch{IsPlaying: &playing})
		return
	}
	if s.adapter != nil {
		s.adapter.Pause(output.CauseSync)
	}
}

func (s *PlaybackSync) applyStop() {
	if s.cfg.SinglePlayback {
		playing, zero := false, 0.0
		s.engine.SetSyncState(playback.Patch{IsPlaying: &playing, CurrentTime: &zero})
		return
	}
	if s.adapter != nil {
		s.adapter.Stop(output.CauseSync)
	}
}

func (s *PlaybackSync) applyStateUpdate(env proto.Envelope, delay float64) {
	newSrc := ""
	if env.Payload.CurrentSrc != nil {
		newSrc = *env.Payload.CurrentSrc
	}
	changing := s.trackChanging(newSrc)

	if s.cfg.SinglePlayback {
		patch := playback.Patch{}
		if changing {
			if s.cfg.SyncTrackChange {
				patch.CurrentSrc = &newSrc
				if env.Payload.Duration != nil {
					patch.Duration = env.Payload.Duration
				}
			} else {
				return
			}
		}
		if s.cfg.SyncSeek && env.Payload.CurrentTime != nil {
			adjusted := latency.AdjustedTime(*env.Payload.CurrentTime, env.Payload.IsPlaying != nil && *env.Payload.IsPlaying, delay, 0)
			patch.CurrentTime = &adjusted
		}
		// isPlaying is deliberately never copied into shadow state: a
		// follower's PlaybackState.isPlaying stays false so the
		// adapter is never activated on a follower.
		s.engine.SetSyncState(patch)
		return
	}

	if s.adapter == nil {
		return
	}

	if s.cfg.SyncSeek && env.Payload.CurrentTime != nil {
		remotePlaying := env.Payload.IsPlaying != nil && *env.Payload.IsPlaying
		adjusted := latency.AdjustedTime(*env.Payload.CurrentTime, remotePlaying, delay, 0)
		local := s.engine.Snapshot().CurrentTime
		if latency.Diff(local, *env.Payload.CurrentTime, remotePlaying, delay) > latency.DriftThreshold {
			s.adapter.Seek(adjusted, output.CauseSync)
		}
	}

	if env.Payload.IsPlaying != nil {
		if *env.Payload.IsPlaying {
			var srcPtr *string
			if changing && s.cfg.SyncTrackChange {
				srcPtr = &newSrc
			}
			s.adapter.Play(srcPtr, output.CauseSync)
		} else {
			s.adapter.Pause(output.CauseSync)
		}
	}
}
