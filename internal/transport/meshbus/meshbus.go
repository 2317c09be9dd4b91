// Package meshbus implements transport.Bus on top of libp2p
// gossipsub: the channel name maps 1:1 onto a pubsub topic, Broadcast
// publishes to it, and peers are discovered on the LAN via mDNS.
package meshbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"playmesh/internal/proto"
	"playmesh/internal/transport"
)

var log = logging.Logger("meshbus")

func init() {
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("pubsub", "warn")
}

const mdnsTag = "playmesh-peer-discovery"

// Bus is a libp2p-pubsub-backed transport.Bus. One Bus owns one host;
// construct a fresh one per Instance.
type Bus struct {
	host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[int]transport.Handler
	nextID int
}

type discoveryNotifee struct {
	h host.Host
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// New starts a libp2p host listening on listenPort, joins the gossipsub
// topic "playmesh/<channel>", and enables LAN peer discovery via mDNS.
func New(ctx context.Context, listenPort int, channel string) (*Bus, error) {
	listenAddr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort))
	if err != nil {
		return nil, fmt.Errorf("build listen addr: %w", err)
	}
	h, err := libp2p.New(libp2p.ListenAddrs(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}
	log.Infow("mesh host started", "peerId", h.ID(), "addrs", h.Addrs())

	md := mdns.NewMdnsService(h, mdnsTag, &discoveryNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("start mdns discovery: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("start gossipsub: %w", err)
	}

	topic, err := ps.Join("playmesh/" + channel)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("join topic %q: %w", channel, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("subscribe topic %q: %w", channel, err)
	}

	busCtx, cancel := context.WithCancel(ctx)
	b := &Bus{
		host:   h,
		ps:     ps,
		topic:  topic,
		sub:    sub,
		ctx:    busCtx,
		cancel: cancel,
		subs:   make(map[int]transport.Handler),
	}
	go b.readLoop()
	return b, nil
}

func (b *Bus) readLoop() {
	for {
		m, err := b.sub.Next(b.ctx)
		if err != nil {
			return
		}
		var env proto.Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			log.Debugw("dropping malformed envelope", "err", err)
			continue
		}
		if env.Type == "" {
			continue
		}
		b.dispatch(env)
	}
}

func (b *Bus) dispatch(env proto.Envelope) {
	b.mu.Lock()
	hs := make([]transport.Handler, 0, len(b.subs))
	for _, h := range b.subs {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
}

func (b *Bus) Broadcast(env proto.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.topic.Publish(b.ctx, data); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
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
	b.cancel()
	b.sub.Cancel()
	b.topic.Close()
	return b.host.Close()
}

var _ transport.Bus = (*Bus)(nil)
