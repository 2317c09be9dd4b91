// Package instance is the composition root: it wires the playback
// engine, output adapter, peer coordinator, playback sync, and
// playlist coordinator behind a single public API and a unified typed
// event stream, applying configuration and choosing the correct
// dispatch path (direct / claim-then-execute / remote-command) for
// every user action.
package instance

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"playmesh/internal/config"
	"playmesh/internal/coordinator"
	"playmesh/internal/guard"
	"playmesh/internal/output"
	"playmesh/internal/playback"
	"playmesh/internal/playlist"
	"playmesh/internal/proto"
	psync "playmesh/internal/sync"
	"playmesh/internal/transport"
)

var log = logging.Logger("instance")

// Options configures a fresh Instance. Bus and Capability are
// injected by the caller (cmd/playmesh chooses meshbus vs. localbus
// and passes a SimulatedOutput Capability); Instance never constructs a
// concrete transport or device itself.
type Options struct {
	SelfID     string
	Config     config.Config
	Bus        transport.Bus
	Capability output.Capability

	// MediaControl is optional; when set, it is bound only while this
	// Instance is leader and released on demotion/destroy.
	MediaControl MediaControl
}

// Instance is one peer: the public surface of the module.
type Instance struct {
	selfID string
	remote *guard.Remote

	engine   *playback.Engine
	adapter  *output.Adapter
	coord    *coordinator.Coordinator
	sync     *psync.PlaybackSync
	playlist *playlist.Coordinator

	mediaControl MediaControl
	mcBound      bool

	mu        sync.Mutex
	cfg       config.Config
	listeners map[int]Listener
	nextID    int

	loopCh chan func()
	stopCh chan struct{}

	heartbeat *time.Ticker
}

// New constructs an Instance and starts its event loop. The caller
// must eventually call Destroy.
func New(opt Options) *Instance {
	selfID := opt.SelfID
	if selfID == "" {
		selfID = coordinator.NewPeerID()
	}

	i := &Instance{
		selfID:       selfID,
		remote:       guard.New(),
		engine:       playback.NewEngine(),
		cfg:          opt.Config,
		listeners:    make(map[int]Listener),
		loopCh:       make(chan func(), 64),
		stopCh:       make(chan struct{}),
		mediaControl: opt.MediaControl,
	}
	i.adapter = output.NewAdapter(i.engine, opt.Capability)
	i.playlist = playlist.New(opt.Bus, selfID, i.remote, opt.Config.Playlist.AutoAdvance, opt.Config.Playlist.Replicate)
	i.playlist.OnAutoAdvance = func(t playlist.Track) { i.post(func() { i.Play(&t.Src) }) }
	applyPlaylistDefaults(i.playlist.Core(), opt.Config.Playlist)
	i.sync = psync.New(opt.Config.Sync, i.engine, i.adapter)

	i.coord = coordinator.New(opt.Bus, selfID, opt.Config.Sync, i.remote, i.post, coordinator.Callbacks{
		OnLeadershipChange: i.onLeadershipChange,
		ExecuteAction:      i.executeAction,
		OnHeartbeat:        i.sync.Apply,
		OnPlaylistEnvelope: i.playlist.ApplyRemote,
		OnRemoteCommand:    i.onRemoteCommand,
		OnSyncRequest:      i.broadcastHeartbeat,
	})

	i.engine.Subscribe(i.onEngineEvent)
	i.playlist.Core().Subscribe(i.onPlaylistEvent)

	go i.loop()

	if opt.Config.Sync.SyncIntervalMs > 0 {
		i.heartbeat = time.NewTicker(time.Duration(opt.Config.Sync.SyncIntervalMs) * time.Millisecond)
		go i.heartbeatLoop()
	}

	// Bootstrap: a fresh instance requests state from any current
	// leader.
	i.post(func() {
		_ = opt.Bus.Broadcast(proto.Envelope{Type: proto.TypeSyncRequest, SenderID: selfID, SentAtMillis: proto.NowMillis()})
	})

	return i
}

// post schedules fn to run on the Instance's single event-loop
// goroutine. Transport callbacks, timers, and the public API all
// funnel through here, so coordinator state and the remote guard only
// ever see one writer.
func (i *Instance) post(fn func()) {
	select {
	case i.loopCh <- fn:
	case <-i.stopCh:
	}
}

func (i *Instance) loop() {
	for {
		select {
		case fn := <-i.loopCh:
			fn()
		case <-i.stopCh:
			return
		}
	}
}

func (i *Instance) heartbeatLoop() {
	for {
		select {
		case <-i.heartbeat.C:
			i.post(func() {
				if i.coord.IsLeader() && i.engine.Snapshot().IsPlaying {
					i.broadcastHeartbeat()
				}
			})
		case <-i.stopCh:
			return
		}
	}
}

func (i *Instance) broadcastHeartbeat() {
	s := i.engine.Snapshot()
	playing, cur, dur, src := s.IsPlaying, s.CurrentTime, s.Duration, s.CurrentSrc
	i.coord.BroadcastHeartbeat(proto.Payload{
		IsPlaying:   &playing,
		CurrentTime: &cur,
		Duration:    &dur,
		CurrentSrc:  &src,
	})
}

// SetConfig hot-swaps the SyncConfig/Playlist config used by future
// handshakes and replication decisions; in-flight leadership state is
// left untouched.
func (i *Instance) SetConfig(cfg config.Config) {
	i.post(func() {
		i.mu.Lock()
		i.cfg = cfg
		i.mu.Unlock()
		i.coord.SetConfig(cfg.Sync)
		i.sync.SetConfig(cfg.Sync)
		i.playlist.SetAutoAdvance(cfg.Playlist.AutoAdvance)
		i.playlist.SetReplicate(cfg.Playlist.Replicate)
	})
}

// applyPlaylistDefaults seeds the playlist's repeat/shuffle state from
// configuration before any tracks exist, without broadcasting.
func applyPlaylistDefaults(core *playlist.Core, cfg config.Playlist) {
	switch cfg.DefaultRepeat {
	case "all":
		core.SetRepeat(playlist.RepeatAll)
	case "one":
		core.SetRepeat(playlist.RepeatOne)
	}
	if cfg.DefaultShuffle {
		core.SetShuffle(true)
	}
}

func (i *Instance) config() config.Config {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cfg
}

// Playlist exposes the PlaylistCoordinator for callers that want
// direct playlist control (add/remove/shuffle/...).
func (i *Instance) Playlist() *playlist.Coordinator { return i.playlist }

// Engine exposes the PlaybackState engine read-only access (Snapshot,
// Subscribe) for callers like internal/debugapi that report live
// status without duplicating it on Instance.
func (i *Instance) Engine() *playback.Engine { return i.engine }

// IsLeader reports the current role.
func (i *Instance) IsLeader() bool { return i.coord.IsLeader() }

// Subscribe registers l for every unified Event. Returns a release
// function safe to call more than once.
func (i *Instance) Subscribe(l Listener) Unsubscribe {
	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.listeners[id] = l
	i.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.listeners, id)
			i.mu.Unlock()
		})
	}
}

func (i *Instance) emit(ev Event) {
	i.mu.Lock()
	ls := make([]Listener, 0, len(i.listeners))
	for _, l := range i.listeners {
		ls = append(ls, l)
	}
	i.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// Destroy releases every owned resource: the event loop, heartbeat
// ticker, coordinator bus subscription, output adapter, and any bound
// MediaControl. There is no fatal-error path anywhere in the module;
// a caller may simply construct a new Instance afterward.
func (i *Instance) Destroy() {
	if i.heartbeat != nil {
		i.heartbeat.Stop()
	}
	close(i.stopCh)
	i.coord.Close()
	i.adapter.Close()
	if i.mcBound && i.mediaControl != nil {
		i.mediaControl.Release()
	}
}
