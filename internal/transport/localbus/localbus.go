// Package localbus implements transport.Bus as an in-process fan-out,
// used by tests and single-binary demos that simulate several peers
// as goroutines instead of requiring a live libp2p mesh.
package localbus

import (
	"sync"

	"playmesh/internal/proto"
	"playmesh/internal/transport"
)

// registry groups every Bus that shares a channel name so Broadcast
// on one reaches Subscribe callbacks on all the others (and itself —
// callers filter their own echoes by senderId, same as on the mesh
// transport).
type registry struct {
	mu   sync.Mutex
	byCh map[string][]*Bus
}

var global = &registry{byCh: make(map[string][]*Bus)}

// Bus is one peer's handle onto a named in-process channel.
type Bus struct {
	channel string
	mu      sync.Mutex
	subs    map[int]transport.Handler
	nextID  int
	closed  bool
}

// New returns a Bus joined to channel. Multiple Buses created with
// the same channel name within the process see each other's
// broadcasts.
func New(channel string) *Bus {
	b := &Bus{channel: channel, subs: make(map[int]transport.Handler)}
	global.mu.Lock()
	global.byCh[channel] = append(global.byCh[channel], b)
	global.mu.Unlock()
	return b
}

func (b *Bus) Broadcast(env proto.Envelope) error {
	global.mu.Lock()
	peers := append([]*Bus(nil), global.byCh[b.channel]...)
	global.mu.Unlock()

	for _, peer := range peers {
		peer.deliver(env)
	}
	return nil
}

func (b *Bus) deliver(env proto.Envelope) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	hs := make([]transport.Handler, 0, len(b.subs))
	for _, h := range b.subs {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(env)
	}
}

func (b *Bus) Subscribe(h transport.Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = nil
	b.mu.Unlock()

	global.mu.Lock()
	defer global.mu.Unlock()
	peers := global.byCh[b.channel]
	for i, p := range peers {
		if p == b {
			global.byCh[b.channel] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	return nil
}

var _ transport.Bus = (*Bus)(nil)
