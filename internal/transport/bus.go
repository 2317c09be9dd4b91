// Package transport abstracts the broadcast channel peers coordinate
// over: an unordered, broadcast-to-all bus scoped by channel name.
package transport

import "playmesh/internal/proto"

// Handler receives every Envelope broadcast on a channel, including
// from the local sender — callers that need to ignore their own
// echoes compare proto.Envelope.SenderID.
type Handler func(proto.Envelope)

// Bus is the transport contract the coordinators depend on.
// Implementations must deliver at-most-once, with no ordering
// guarantee across peers, and must silently drop messages to a peer
// that is temporarily detached; SYNC_REQUEST on (re)join is the
// recovery path.
type Bus interface {
	// Broadcast sends env to every subscriber on the channel, the
	// sender's own subscribers included (see Handler).
	Broadcast(env proto.Envelope) error
	// Subscribe registers h for every envelope delivered on the
	// channel and returns an unsubscribe function.
	Subscribe(h Handler) (unsubscribe func())
	// Close releases any resources the Bus holds (topics, streams,
	// connections).
	Close() error
}
