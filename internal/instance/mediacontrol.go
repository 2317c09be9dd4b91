package instance

// MediaControl is the OS-level media-control integration: an external
// collaborator that consumes track metadata, coarse playback state,
// and periodic position, and exposes transport callbacks back into
// the Instance. Only the current leader binds one; on demotion the
// binding is released so two peers never fight over the OS media
// keys.
type MediaControl interface {
	SetMetadata(title, artist, album, artwork string)
	SetPlaybackState(state string) // "playing" | "paused" | "none"
	SetPosition(position, duration, rate float64)

	OnPlay(fn func())
	OnPause(fn func())
	OnStop(fn func())
	OnNext(fn func())
	OnPrev(fn func())
	OnSeekBackward(fn func(offsetSeconds float64))
	OnSeekForward(fn func(offsetSeconds float64))
	OnSeekTo(fn func(t float64))

	// Release unbinds every callback registered above. Called on
	// demotion or destroy.
	Release()
}

// bindMediaControl wires mc's transport callbacks to i's public API.
// It pushes nothing at bind time; playback state, position and track
// metadata reach mc on the next engine or playlist event. It is only
// ever called while i is leader.
func (i *Instance) bindMediaControl(mc MediaControl) {
	mc.OnPlay(func() { i.Play(nil) })
	mc.OnPause(func() { i.Pause() })
	mc.OnStop(func() { i.Stop() })
	mc.OnNext(func() {
		if i.playlist != nil {
			if t := i.playlist.Next(); t != nil {
				i.Play(&t.Src)
			}
		}
	})
	mc.OnPrev(func() {
		if i.playlist != nil {
			if t := i.playlist.Prev(); t != nil {
				i.Play(&t.Src)
			}
		}
	})
	mc.OnSeekBackward(func(offset float64) {
		if offset <= 0 {
			offset = 10
		}
		i.Seek(i.engine.Snapshot().CurrentTime - offset)
	})
	mc.OnSeekForward(func(offset float64) {
		if offset <= 0 {
			offset = 10
		}
		i.Seek(i.engine.Snapshot().CurrentTime + offset)
	})
	mc.OnSeekTo(func(t float64) { i.Seek(t) })
}
