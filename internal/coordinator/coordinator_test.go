package coordinator

import (
	"sync"
	"testing"
	"time"

	"playmesh/internal/config"
	"playmesh/internal/guard"
	"playmesh/internal/proto"
	"playmesh/internal/transport/localbus"
)

// loop is a minimal stand-in for Instance's single-goroutine event
// loop, so Coordinator's deliberately unsynchronized fields are only
// ever touched from one goroutine.
type loop struct {
	ch chan func()
}

func newLoop() *loop {
	l := &loop{ch: make(chan func(), 64)}
	go func() {
		for fn := range l.ch {
			fn()
		}
	}()
	return l
}

func (l *loop) post(fn func()) { l.ch <- fn }

func baseCfg() config.SyncConfig {
	return config.SyncConfig{
		SyncPlay: true, SyncPause: true, SyncSeek: true, SyncTrackChange: true,
		SinglePlayback:               true,
		AllowRemoteControl:           true,
		AutoClaimLeadershipIfNone:    true,
		SyncIntervalMs:               0,
		LeadershipHandshakeTimeoutMs: 40,
	}
}

type harness struct {
	mu       sync.Mutex
	loop     *loop
	coord    *Coordinator
	isLeader bool
	executed []proto.Action
}

func newHarness(bus *localbus.Bus, selfID string, cfg config.SyncConfig) *harness {
	h := &harness{loop: newLoop()}
	h.coord = New(bus, selfID, cfg, guard.New(), h.loop.post, Callbacks{
		OnLeadershipChange: func(isLeader bool) {
			h.mu.Lock()
			h.isLeader = isLeader
			h.mu.Unlock()
		},
		ExecuteAction: func(a proto.Action) {
			h.mu.Lock()
			h.executed = append(h.executed, a)
			h.mu.Unlock()
		},
	})
	return h
}

func (h *harness) leader() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isLeader
}

// TestHandshakeSelfPromotesAfterTimeout: a lone peer claiming
// leadership self-promotes after the handshake timeout with no
// competing claim.
func TestHandshakeSelfPromotesAfterTimeout(t *testing.T) {
	bus := localbus.New("ch-a")
	defer bus.Close()

	h := newHarness(bus, "peer-1", baseCfg())
	h.loop.post(func() { h.coord.Claim(proto.Action{Action: "play"}) })

	deadline := time.Now().Add(500 * time.Millisecond)
	for !h.leader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !h.leader() {
		t.Fatal("expected self-promotion after handshake timeout")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.executed) != 1 || h.executed[0].Action != "play" {
		t.Fatalf("expected the buffered play action to execute on promotion, got %v", h.executed)
	}
}

// TestConcurrentClaimsConvergeToOneLeader: with two competing claims,
// exactly one peer ends up leader after quiescence.
func TestConcurrentClaimsConvergeToOneLeader(t *testing.T) {
	bus1 := localbus.New("ch-b")
	defer bus1.Close()
	bus2 := localbus.New("ch-b")
	defer bus2.Close()

	cfg := baseCfg()
	h1 := newHarness(bus1, "peer-1", cfg)
	h2 := newHarness(bus2, "peer-2", cfg)

	h1.loop.post(func() { h1.coord.Claim(proto.Action{Action: "play"}) })
	h2.loop.post(func() { h2.coord.Claim(proto.Action{Action: "play"}) })

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if h1.leader() != h2.leader() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if h1.leader() == h2.leader() {
		t.Fatalf("expected exactly one leader after quiescence, got peer-1=%v peer-2=%v", h1.leader(), h2.leader())
	}
}

// TestLeaderLivenessProbeTimesOutWithNoLeader: a follower with no
// leader in sight probes the channel and times out to false.
func TestLeaderLivenessProbeTimesOutWithNoLeader(t *testing.T) {
	bus := localbus.New("ch-c")
	defer bus.Close()
	h := newHarness(bus, "lonely", baseCfg())

	done := make(chan bool, 1)
	h.loop.post(func() { h.coord.CheckForActiveLeader(func(found bool) { done <- found }) })

	select {
	case found := <-done:
		if found {
			t.Fatal("expected no leader to be found")
		}
	case <-time.After(time.Second):
		t.Fatal("probe callback never fired")
	}
}

// TestDemotesOnRemoteLeaderHeartbeat: a local leader demotes when a
// remote authoritative STATE_UPDATE arrives.
func TestDemotesOnRemoteLeaderHeartbeat(t *testing.T) {
	busA := localbus.New("ch-d")
	defer busA.Close()
	busB := localbus.New("ch-d")
	defer busB.Close()

	h := newHarness(busA, "peer-a", baseCfg())
	promoted := make(chan struct{})
	h.loop.post(func() { h.coord.promote(); close(promoted) })
	<-promoted
	if !h.leader() {
		t.Fatal("expected promote() to set leader")
	}

	playing := true
	_ = busB.Broadcast(proto.Envelope{
		Type:     proto.TypeStateUpdate,
		SenderID: "peer-b",
		Payload:  proto.Payload{IsLeader: true, IsPlaying: &playing},
	})

	deadline := time.Now().Add(200 * time.Millisecond)
	for h.leader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.leader() {
		t.Fatal("expected demotion on a remote leader's authoritative heartbeat")
	}
}
