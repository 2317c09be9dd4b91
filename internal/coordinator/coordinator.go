// Package coordinator implements leader discovery and election, the
// claim/ack handshake, leader-loss detection, and remote-command
// routing for a group of peers on one broadcast channel.
//
// A Coordinator never runs its own goroutine-safe locking: every
// method (including timer and transport callbacks, which go through
// post before touching any field) executes on the single Instance
// event-loop goroutine.
package coordinator

import (
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"playmesh/internal/config"
	"playmesh/internal/guard"
	"playmesh/internal/proto"
	"playmesh/internal/transport"
)

var log = logging.Logger("coordinator")

// Callbacks connects the Coordinator to the rest of an Instance
// without a direct package dependency.
type Callbacks struct {
	// OnLeadershipChange fires on every promotion/demotion.
	OnLeadershipChange func(isLeader bool)
	// ExecuteAction runs a claimed or directly-dispatched action (the
	// buffered play/pause/seek) once the local peer is leader.
	ExecuteAction func(proto.Action)
	// OnHeartbeat delivers non-leadership STATE_UPDATE envelopes (and
	// PLAY/PAUSE/STOP) to PlaybackSync.
	OnHeartbeat func(proto.Envelope)
	// OnPlaylistEnvelope delivers PLAYLIST_* envelopes to PlaylistCoordinator.
	OnPlaylistEnvelope func(proto.Envelope)
	// OnRemoteCommand delivers envelopes with IsRemoteCommand=true to
	// the local leader's action executor.
	OnRemoteCommand func(proto.Envelope)
	// OnSyncRequest fires when a SYNC_REQUEST arrives and the local
	// peer is leader; the Instance responds with BroadcastHeartbeat
	// carrying its live PlaybackState.
	OnSyncRequest func()
}

// Coordinator tracks this peer's leadership role and routes every
// envelope arriving on the bus to the right consumer.
type Coordinator struct {
	bus    transport.Bus
	unsub  func()
	selfID string
	cfg    config.SyncConfig
	cb     Callbacks
	remote *guard.Remote
	// post schedules fn to run on the Instance event-loop goroutine;
	// every callback arriving on a foreign goroutine (bus delivery,
	// timers) must go through it before touching Coordinator state.
	post func(func())

	isLeader          bool
	isClaiming        bool
	pendingAction     *proto.Action
	claimSentAtMillis int64
	handshakeTimer    *time.Timer

	lastLeaderHeardAt time.Time

	probeCallback func(bool)
	probeTimer    *time.Timer
}

// New constructs a Coordinator bound to bus and subscribes
// immediately. selfID identifies this peer's outgoing envelopes.
func New(bus transport.Bus, selfID string, cfg config.SyncConfig, remote *guard.Remote, post func(func()), cb Callbacks) *Coordinator {
	c := &Coordinator{
		bus:    bus,
		selfID: selfID,
		cfg:    cfg,
		cb:     cb,
		remote: remote,
		post:   post,
	}
	c.unsub = bus.Subscribe(func(env proto.Envelope) {
		post(func() { c.handleEnvelope(env) })
	})
	return c
}

// Close releases the bus subscription and any pending timers.
func (c *Coordinator) Close() {
	if c.unsub != nil {
		c.unsub()
	}
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}
	if c.probeTimer != nil {
		c.probeTimer.Stop()
	}
}

// SetConfig swaps the SyncConfig used for future handshakes.
// In-flight leadership state is untouched.
func (c *Coordinator) SetConfig(cfg config.SyncConfig) { c.cfg = cfg }

// IsLeader reports the current role.
func (c *Coordinator) IsLeader() bool { return c.isLeader }

func (c *Coordinator) broadcast(env proto.Envelope) {
	env.SenderID = c.selfID
	env.SentAtMillis = proto.NowMillis()
	if err := c.bus.Broadcast(env); err != nil {
		log.Warnw("broadcast failed", "type", env.Type, "err", err)
	}
}

// Claim runs the leadership handshake for action: broadcast a
// LEADERSHIP_CLAIM, buffer the action, and self-promote if no
// competing claim wins before the handshake timeout. It is the entry
// point for both an explicit BecomeLeader call and the
// claim-then-execute dispatch path.
func (c *Coordinator) Claim(action proto.Action) {
	if !c.cfg.SinglePlayback && c.isLeader {
		c.cb.ExecuteAction(action)
		return
	}
	if c.isClaiming {
		c.pendingAction = &action
		return
	}
	if c.isLeader {
		c.cb.ExecuteAction(action)
		return
	}

	c.isClaiming = true
	c.pendingAction = &action
	c.claimSentAtMillis = proto.NowMillis()

	payload := proto.Payload{IsLeader: true, Action: &action}
	c.broadcast(proto.Envelope{Type: proto.TypeLeadershipClaim, Payload: payload})

	timeout := time.Duration(c.cfg.LeadershipHandshakeTimeoutMs) * time.Millisecond
	c.handshakeTimer = time.AfterFunc(timeout, func() {
		c.post(c.onHandshakeTimeout)
	})
}

// BecomeLeader is Claim with no buffered action — a bare promotion
// request.
func (c *Coordinator) BecomeLeader() {
	c.Claim(proto.Action{})
}

func (c *Coordinator) onHandshakeTimeout() {
	if !c.isClaiming {
		return
	}
	c.promote()
	action := c.pendingAction
	c.pendingAction = nil
	if action != nil && action.Action != "" {
		c.cb.ExecuteAction(*action)
	}
}

func (c *Coordinator) promote() {
	if c.isLeader {
		return
	}
	c.isLeader = true
	c.isClaiming = false
	c.handshakeTimer = nil
	c.lastLeaderHeardAt = time.Now()
	if c.cb.OnLeadershipChange != nil {
		c.cb.OnLeadershipChange(true)
	}
}

func (c *Coordinator) demote() {
	if !c.isLeader {
		return
	}
	c.isLeader = false
	if c.cb.OnLeadershipChange != nil {
		c.cb.OnLeadershipChange(false)
	}
}

// CheckForActiveLeader implements the leader-liveness probe: it calls
// cb(true) immediately if local is leader or a leader was heard from
// within the last 3s; otherwise it broadcasts SYNC_REQUEST and arms a
// ~200ms probe timer.
func (c *Coordinator) CheckForActiveLeader(cb func(bool)) {
	if c.isLeader {
		cb(true)
		return
	}
	if !c.lastLeaderHeardAt.IsZero() && time.Since(c.lastLeaderHeardAt) < 3*time.Second {
		cb(true)
		return
	}

	c.probeCallback = cb
	c.broadcast(proto.Envelope{Type: proto.TypeSyncRequest})
	c.probeTimer = time.AfterFunc(200*time.Millisecond, func() {
		c.post(c.onProbeTimeout)
	})
}

func (c *Coordinator) onProbeTimeout() {
	if c.probeCallback == nil {
		return
	}
	cb := c.probeCallback
	c.probeCallback = nil
	cb(false)
}

func (c *Coordinator) resolveProbe(found bool) {
	if c.probeCallback == nil {
		return
	}
	if c.probeTimer != nil {
		c.probeTimer.Stop()
		c.probeTimer = nil
	}
	cb := c.probeCallback
	c.probeCallback = nil
	cb(found)
}

// SendRemoteCommand broadcasts action addressed to the current
// leader; whichever peer is leader executes it without transferring
// leadership to the sender.
func (c *Coordinator) SendRemoteCommand(action proto.Action) {
	c.broadcast(proto.Envelope{
		Type: envelopeTypeForAction(action.Action),
		Payload: proto.Payload{
			IsRemoteCommand: true,
			IsLeader:        false,
			Action:          &action,
		},
	})
}

// BroadcastHeartbeat sends an authoritative STATE_UPDATE; called by
// Instance on its heartbeat ticker while leader and playing, and in
// response to a SYNC_REQUEST.
func (c *Coordinator) BroadcastHeartbeat(payload proto.Payload) {
	payload.IsLeader = c.isLeader
	c.broadcast(proto.Envelope{Type: proto.TypeStateUpdate, Payload: payload})
}

// BroadcastLocal forwards a locally-originated, non-leadership
// envelope (PLAY/PAUSE/STOP/STATE_UPDATE) unless a remote message is
// currently being applied — the anti-loop guard.
func (c *Coordinator) BroadcastLocal(env proto.Envelope) {
	if c.remote.Active() {
		return
	}
	if !env.Payload.IsLeader && env.Type != proto.TypeSyncRequest {
		env.Payload.IsLeader = c.isLeader
	}
	c.broadcast(env)
}

func (c *Coordinator) handleEnvelope(env proto.Envelope) {
	if env.SenderID == c.selfID {
		return
	}

	switch env.Type {
	case proto.TypeLeadershipClaim:
		c.handleClaim(env)
		return
	case proto.TypeLeadershipAck:
		return
	case proto.TypeSyncRequest:
		c.handleSyncRequest()
		return
	}

	if env.Payload.IsLeader {
		c.lastLeaderHeardAt = time.Now()
		if env.Type != proto.TypeLeadershipClaim && !env.Payload.IsRemoteCommand {
			c.demote()
		}
	}

	c.remote.While(func() {
		switch {
		case isPlaylistEnvelope(env.Type):
			if c.cb.OnPlaylistEnvelope != nil {
				c.cb.OnPlaylistEnvelope(env)
			}
		case env.Payload.IsRemoteCommand && c.isLeader:
			if c.cb.OnRemoteCommand != nil {
				c.cb.OnRemoteCommand(env)
			}
		default:
			if c.cb.OnHeartbeat != nil {
				c.cb.OnHeartbeat(env)
			}
		}
	})

	if env.Type == proto.TypeStateUpdate && env.Payload.IsLeader {
		c.resolveProbe(true)
	}
}

// handleClaim resolves concurrent LEADERSHIP_CLAIM envelopes by the
// larger (sentAtMillis, senderId) tuple rather than pure
// last-claim-wins, so simultaneous claims converge deterministically.
func (c *Coordinator) handleClaim(env proto.Envelope) {
	if !c.isClaiming {
		return
	}
	if !claimWins(env.SentAtMillis, env.SenderID, c.claimSentAtMillis, c.selfID) {
		// Our outstanding claim is the winner; the remote peer is
		// expected to yield on its copy of this same message.
		return
	}
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}
	c.isClaiming = false
	c.pendingAction = nil
	c.broadcast(proto.Envelope{Type: proto.TypeLeadershipAck})
}

// claimWins reports whether (aMillis,aSender) should win over
// (bMillis,bSender) under the (sentAtMillis, senderId) tie-break.
func claimWins(aMillis int64, aSender string, bMillis int64, bSender string) bool {
	if aMillis != bMillis {
		return aMillis > bMillis
	}
	return aSender > bSender
}

func (c *Coordinator) handleSyncRequest() {
	if !c.isLeader {
		return
	}
	if c.cb.OnSyncRequest != nil {
		c.cb.OnSyncRequest()
	}
}

func isPlaylistEnvelope(t string) bool {
	switch t {
	case proto.TypePlaylistAdd, proto.TypePlaylistRemove, proto.TypePlaylistClear,
		proto.TypePlaylistMove, proto.TypePlaylistJump, proto.TypePlaylistNext,
		proto.TypePlaylistPrev, proto.TypePlaylistShuffle, proto.TypePlaylistRepeat,
		proto.TypePlaylistState:
		return true
	default:
		return false
	}
}

func envelopeTypeForAction(action string) string {
	switch action {
	case "play":
		return proto.TypePlay
	case "pause":
		return proto.TypePause
	case "stop":
		return proto.TypeStop
	default:
		return proto.TypeStateUpdate
	}
}

// NewPeerID generates an opaque random peer identity, scoped to one
// Instance and never persisted.
func NewPeerID() string { return uuid.NewString() }
