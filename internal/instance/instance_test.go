package instance

import (
	"sync"
	"testing"
	"time"

	"playmesh/internal/config"
	"playmesh/internal/output"
	"playmesh/internal/playlist"
	"playmesh/internal/proto"
	"playmesh/internal/transport/localbus"
)

func singlePlaybackCfg(channel string) config.Config {
	cfg := config.Default()
	cfg.ChannelName = channel
	cfg.Sync.SinglePlayback = true
	cfg.Sync.LeadershipHandshakeTimeoutMs = 40
	cfg.Sync.SyncIntervalMs = 0
	cfg.Playlist.AutoAdvance = true
	return cfg
}

// multiDevicePlaybackCfg: every peer drives its own device
// (singlePlayback=false), so local actions replicate via
// onEngineEvent's state-change hook rather than the leader/heartbeat
// path.
func multiDevicePlaybackCfg(channel string) config.Config {
	cfg := singlePlaybackCfg(channel)
	cfg.Sync.SinglePlayback = false
	return cfg
}

func newTestInstance(channel string) *Instance {
	bus := localbus.New(channel)
	return New(Options{Config: singlePlaybackCfg(channel), Bus: bus, Capability: output.NewSimulatedOutput()})
}

func newMultiDeviceInstance(channel string) *Instance {
	bus := localbus.New(channel)
	return New(Options{Config: multiDevicePlaybackCfg(channel), Bus: bus, Capability: output.NewSimulatedOutput()})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true")
	}
}

// TestLeadershipTransferOnPlay: a lone peer calling Play()
// self-promotes and executes the buffered action.
func TestLeadershipTransferOnPlay(t *testing.T) {
	inst := newTestInstance("e2e-leadership")
	defer inst.Destroy()

	src := "song.mp3"
	inst.Play(&src)

	waitFor(t, 500*time.Millisecond, inst.IsLeader)
	waitFor(t, 200*time.Millisecond, func() bool { return inst.Engine().Snapshot().IsPlaying })
}

// TestMultiDevicePlaybackMirrorsAcrossPeers: with
// singlePlayback=false, a local Play() both drives the caller's own
// device and replicates via the state-change hook so a second peer's
// device starts the same track.
func TestMultiDevicePlaybackMirrorsAcrossPeers(t *testing.T) {
	const channel = "e2e-multidevice"
	a := newMultiDeviceInstance(channel)
	defer a.Destroy()
	b := newMultiDeviceInstance(channel)
	defer b.Destroy()

	src := "song.mp3"
	a.Play(&src)

	waitFor(t, 500*time.Millisecond, func() bool { return a.Engine().Snapshot().IsPlaying })
	waitFor(t, 500*time.Millisecond, func() bool {
		return b.Engine().Snapshot().CurrentSrc == "song.mp3" && b.Engine().Snapshot().IsPlaying
	})
}

// TestSeekReplication: with syncSeek=true, singlePlayback=false, a
// seek on A reaches B's position within the 300ms drift threshold.
func TestSeekReplication(t *testing.T) {
	const channel = "e2e-seek"
	a := newMultiDeviceInstance(channel)
	defer a.Destroy()
	b := newMultiDeviceInstance(channel)
	defer b.Destroy()

	src := "song.mp3"
	a.Play(&src)
	waitFor(t, 500*time.Millisecond, func() bool { return b.Engine().Snapshot().CurrentSrc == "song.mp3" })

	a.Seek(120)
	waitFor(t, 500*time.Millisecond, func() bool {
		return b.Engine().Snapshot().CurrentTime > 119
	})
}

// TestLeadershipTransferOnPause: A is leader and playing; a pause on
// B claims leadership, demotes A, and silences A's output without a
// pause broadcast from A that would re-toggle B.
func TestLeadershipTransferOnPause(t *testing.T) {
	const channel = "e2e-transfer"
	cfg := singlePlaybackCfg(channel)
	cfg.Sync.AllowRemoteControl = false

	a := New(Options{Config: cfg, Bus: localbus.New(channel), Capability: output.NewSimulatedOutput()})
	defer a.Destroy()
	b := New(Options{Config: cfg, Bus: localbus.New(channel), Capability: output.NewSimulatedOutput()})
	defer b.Destroy()

	// A listening-only peer on the same channel counts PAUSE envelopes
	// sent by A.
	var spyMu sync.Mutex
	pausesFromA := 0
	spy := localbus.New(channel)
	defer spy.Close()
	spy.Subscribe(func(env proto.Envelope) {
		if env.Type == proto.TypePause && env.SenderID == a.selfID {
			spyMu.Lock()
			pausesFromA++
			spyMu.Unlock()
		}
	})

	src := "song.mp3"
	a.Play(&src)
	waitFor(t, 500*time.Millisecond, a.IsLeader)
	waitFor(t, 200*time.Millisecond, func() bool { return a.Engine().Snapshot().IsPlaying })

	b.Pause()

	waitFor(t, 500*time.Millisecond, b.IsLeader)
	waitFor(t, 500*time.Millisecond, func() bool { return !a.IsLeader() })
	waitFor(t, 500*time.Millisecond, func() bool { return !a.Engine().Snapshot().IsPlaying })
	if b.Engine().Snapshot().IsPlaying {
		t.Fatal("both peers should be paused after the transfer")
	}
	spyMu.Lock()
	defer spyMu.Unlock()
	if pausesFromA != 0 {
		t.Fatalf("A's silenced output must not broadcast a pause, saw %d", pausesFromA)
	}
}

// TestRemoteCommandAppliesOnLeader: a follower's pause() call, under
// allowRemoteControl with autoClaimLeadershipIfNone=false, is
// forwarded to the leader instead of claiming leadership locally.
func TestRemoteCommandAppliesOnLeader(t *testing.T) {
	const channel = "e2e-remote"
	leader := newTestInstance(channel)
	defer leader.Destroy()

	followerCfg := singlePlaybackCfg(channel)
	followerCfg.Sync.AutoClaimLeadershipIfNone = false
	followerBus := localbus.New(channel)
	follower := New(Options{Config: followerCfg, Bus: followerBus, Capability: output.NewSimulatedOutput()})
	defer follower.Destroy()

	src := "song.mp3"
	leader.Play(&src)
	waitFor(t, 500*time.Millisecond, leader.IsLeader)

	follower.Pause()

	waitFor(t, 500*time.Millisecond, func() bool { return !leader.Engine().Snapshot().IsPlaying })
	if follower.IsLeader() {
		t.Fatal("a remote-control follower must not claim leadership for a command")
	}
}

// TestPlaylistAutoAdvancePlaysNextTrack: an Ended event advances the
// playlist and plays the next track.
func TestPlaylistAutoAdvancePlaysNextTrack(t *testing.T) {
	inst := newTestInstance("e2e-autoadvance")
	defer inst.Destroy()

	inst.Playlist().AddMany([]playlist.Track{{ID: "a", Src: "a.mp3"}, {ID: "b", Src: "b.mp3"}})
	inst.Playlist().JumpTo(0)

	src := "a.mp3"
	inst.Play(&src)
	waitFor(t, 500*time.Millisecond, inst.IsLeader)

	inst.post(func() { inst.engine.Ended() })

	waitFor(t, 500*time.Millisecond, func() bool {
		return inst.Engine().Snapshot().CurrentSrc == "b.mp3"
	})
}

// TestBootstrapSyncRequestReceivesHeartbeat: a newly constructed
// follower's startup SYNC_REQUEST draws a STATE_UPDATE from the
// existing leader.
func TestBootstrapSyncRequestReceivesHeartbeat(t *testing.T) {
	const channel = "e2e-bootstrap"
	leader := newTestInstance(channel)
	defer leader.Destroy()

	src := "song.mp3"
	leader.Play(&src)
	waitFor(t, 500*time.Millisecond, leader.IsLeader)

	follower := newTestInstance(channel)
	defer follower.Destroy()

	waitFor(t, 500*time.Millisecond, func() bool {
		return follower.Engine().Snapshot().CurrentSrc == "song.mp3"
	})
}
